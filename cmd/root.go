package cmd

import (
	"fmt"
	"os"

	"github.com/bz888/kubechat/internal/api"
	"github.com/bz888/kubechat/internal/config"
	"github.com/bz888/kubechat/internal/logger"
	"github.com/bz888/kubechat/internal/session"
	"github.com/bz888/kubechat/internal/ui"
	"github.com/spf13/cobra"
)

var cfg = config.FromEnv()

var rootCmd = &cobra.Command{
	Use:   "kubechat",
	Short: "Terminal chat client for the Kubernetes command assistant",
	Long: `kubechat sends questions to the chat backend and renders its answers,
streaming them as they arrive. Suggested commands are only run on the
selected cluster after you confirm them with /yes.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	persistent := rootCmd.PersistentFlags()
	persistent.BoolVar(&cfg.Dev, "dev", cfg.Dev, "Development mode")
	persistent.StringVar(&cfg.LogPath, "log-path", cfg.LogPath, "Directory to save the log file in")

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Chat backend address")
	flags.StringVar(&cfg.UserID, "user", cfg.UserID, "User id sent to the login endpoint")
	flags.StringVar(&cfg.Cluster, "cluster", cfg.Cluster, "Initial target cluster")
	flags.StringVar(&cfg.Kubeconfig, "kubeconfig", cfg.Kubeconfig, "Kubeconfig whose contexts are offered as clusters")
	flags.BoolVar(&cfg.Stream, "stream", cfg.Stream, "Ask the backend to stream answers")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	view := ui.New(cfg.Dev)
	logger.InitLogger(cfg.Dev, cfg.LogPath, view.DebugConsole())
	localLogger := logger.NewLogger("main")
	defer localLogger.Close()

	client, err := api.NewClientFromURL(cfg.ServerURL, api.ClientConfig{UserID: cfg.UserID})
	if err != nil {
		return err
	}

	var clusters []string
	cluster := cfg.Cluster
	if cfg.Kubeconfig != "" {
		names, current, err := config.LoadClusters(cfg.Kubeconfig)
		if err != nil {
			localLogger.Error("Failed to load clusters: ", err)
		} else {
			clusters = names
			localLogger.Info("Loaded clusters: ", names)
			if !cmd.Flags().Changed("cluster") && current != "" {
				cluster = current
			}
		}
	}

	sess := session.New(client, cluster, session.WithStream(cfg.Stream))
	localLogger.Info("Session started: ", sess.ID, " against ", client.GetChatURL())

	if err := view.Run(sess, clusters); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}

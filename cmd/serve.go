package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/bz888/kubechat/internal/api/server"
	"github.com/bz888/kubechat/internal/api/server/client"
	"github.com/bz888/kubechat/internal/logger"
	"github.com/spf13/cobra"
)

var serveConfig = server.Config{Addr: server.DefaultAddr}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local scripted chat backend",
	Long: `serve starts a stand-in for the chat backend on the same protocol the
client speaks. It suggests kubectl commands from a fixed rule set and only
pretends to run them, which is enough to try the client without a cluster.
With --ollama-url it answers from an Ollama model instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.InitLogger(cfg.Dev, cfg.LogPath, nil)
		localLogger := logger.NewLogger("serve")
		defer localLogger.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		assistant, err := server.NewAssistant(serveConfig)
		if err != nil {
			return err
		}
		if checker, ok := assistant.(interface{ CheckModel(context.Context) error }); ok {
			if err := checker.CheckModel(ctx); err != nil {
				localLogger.Warn("Ollama check failed: ", err)
			} else {
				localLogger.Info("Using Ollama model ", serveConfig.Model, " at ", serveConfig.OllamaURL)
			}
		}

		return server.NewWithAssistant(serveConfig, assistant).Run(ctx)
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&serveConfig.Addr, "addr", serveConfig.Addr, "Address to listen on")
	flags.DurationVar(&serveConfig.ChunkDelay, "chunk-delay", 40*time.Millisecond, "Pause between scripted chunks")
	flags.StringVar(&serveConfig.OllamaURL, "ollama-url", "", "Answer with an Ollama server at this address instead of the scripted assistant")
	flags.StringVar(&serveConfig.Model, "model", client.DefaultOllamaModel, "Ollama model to use")
	rootCmd.AddCommand(serveCmd)
}

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServerURL = "http://localhost:5000"
	DefaultUserID    = "test_user"
	DefaultCluster   = "default"
)

// Config carries everything the client needs at start-up. Values come from
// the environment (and a .env file) and may be overridden by flags.
type Config struct {
	Dev        bool
	LogPath    string
	ServerURL  string
	UserID     string
	Cluster    string
	Kubeconfig string
	Stream     bool
}

// FromEnv loads .env, if present, and builds a Config from KUBECHAT_*
// variables. CHATBOT_KUBECONFIG_PATH names the kubeconfig the cluster list
// is read from.
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		Dev:        envBool("KUBECHAT_DEV", false),
		LogPath:    os.Getenv("KUBECHAT_LOG_PATH"),
		ServerURL:  envString("KUBECHAT_SERVER", DefaultServerURL),
		UserID:     envString("KUBECHAT_USER", DefaultUserID),
		Cluster:    envString("KUBECHAT_CLUSTER", DefaultCluster),
		Kubeconfig: os.Getenv("CHATBOT_KUBECONFIG_PATH"),
		Stream:     envBool("KUBECHAT_STREAM", true),
	}
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

type kubeconfig struct {
	CurrentContext string `yaml:"current-context"`
	Contexts       []struct {
		Name string `yaml:"name"`
	} `yaml:"contexts"`
}

// LoadClusters lists the context names in a kubeconfig file, sorted, along
// with its current-context.
func LoadClusters(path string) ([]string, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("kubeconfig path not set")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read kubeconfig: %w", err)
	}

	var kc kubeconfig
	if err := yaml.Unmarshal(data, &kc); err != nil {
		return nil, "", fmt.Errorf("parse kubeconfig %s: %w", path, err)
	}

	names := make([]string, 0, len(kc.Contexts))
	for _, ctx := range kc.Contexts {
		if ctx.Name != "" {
			names = append(names, ctx.Name)
		}
	}
	sort.Strings(names)
	return names, kc.CurrentContext, nil
}

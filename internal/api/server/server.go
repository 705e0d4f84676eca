// Package server runs a local stand-in for the chat backend. It speaks the
// same /login, /chat, /confirm and /regenerate protocol, answering from a
// scripted assistant or an Ollama model, and never executes commands.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bz888/kubechat/internal/api/server/client"
	"github.com/bz888/kubechat/internal/api/server/handlers"
	"github.com/bz888/kubechat/internal/logger"
)

const DefaultAddr = ":5000"

type Config struct {
	Addr       string
	ChunkDelay time.Duration
	// OllamaURL selects an Ollama backed assistant. Empty means scripted.
	OllamaURL string
	Model     string
}

type Server struct {
	http        *http.Server
	localLogger *logger.Logger
}

func New(config Config) (*Server, error) {
	assistant, err := NewAssistant(config)
	if err != nil {
		return nil, err
	}
	return NewWithAssistant(config, assistant), nil
}

func NewWithAssistant(config Config, assistant handlers.Assistant) *Server {
	return NewWithHandler(config, handlers.NewHandler(assistant, handlers.DryRunExecutor{}))
}

// NewAssistant builds the assistant config asks for.
func NewAssistant(config Config) (handlers.Assistant, error) {
	if config.OllamaURL == "" {
		return &handlers.ScriptedAssistant{ChunkDelay: config.ChunkDelay}, nil
	}
	ollama, err := client.NewOllamaClient(config.OllamaURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	return handlers.NewOllamaAssistant(ollama, config.Model), nil
}

func NewWithHandler(config Config, handler *handlers.Handler) *Server {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	mux := http.NewServeMux()
	registerRoutes(mux, handler)
	return &Server{
		http: &http.Server{
			Addr:              config.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		localLogger: logger.NewLogger("Server"),
	}
}

func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.localLogger.Info("Server started on http://localhost" + s.http.Addr + "/")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.localLogger.Info("Shutting down")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

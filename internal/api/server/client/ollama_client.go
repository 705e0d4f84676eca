package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bz888/kubechat/internal/logger"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "mistral:instruct"
)

// OllamaClient represents a client for the Ollama API
type OllamaClient struct {
	Client
}

type OllamaClientInterface interface {
	GetModels(ctx context.Context) ([]OllamaModel, error)
	Chat(ctx context.Context, req *OllamaChatRequest, fn func([]byte) error) error
}

var ollamaConfig = ClientConfig{
	Scheme:     "http",
	Host:       "localhost:11434",
	ModelsPath: "/api/tags",
	ChatPath:   "/api/chat",
}

// NewOllamaClient creates a client for the Ollama server at rawURL, or the
// local default when rawURL is empty.
func NewOllamaClient(rawURL string) (*OllamaClient, error) {
	config := ollamaConfig
	if rawURL != "" {
		u, err := parseBase(rawURL)
		if err != nil {
			return nil, err
		}
		config.Scheme = u.Scheme
		config.Host = u.Host
	}
	return &OllamaClient{
		Client: *NewClient(config),
	}, nil
}

type OllamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []OllamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	// Format "json" constrains the reply to a JSON document.
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type OllamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type OllamaMessageResponse struct {
	Model     string        `json:"model"`
	CreatedAt string        `json:"created_at"`
	Message   OllamaMessage `json:"message"`
	Done      bool          `json:"done"`
	Error     string        `json:"error,omitempty"`
	EvalCount int           `json:"eval_count"`
}

type ModelsResponse struct {
	Models []OllamaModel `json:"models"`
}

type OllamaModel struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

type Families []string

// ModelDetails Details represents the details of a model.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          Families `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

func (c *OllamaClient) GetModels(ctx context.Context) ([]OllamaModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.GetModelsURL(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("failed to fetch data: " + resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var response ModelsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, err
	}
	return response.Models, nil
}

// Chat posts req and calls fn with every newline-delimited JSON object of
// the reply. A non-streamed reply is a single object.
func (c *OllamaClient) Chat(ctx context.Context, req *OllamaChatRequest, fn func([]byte) error) error {
	return c.stream(ctx, req, fn)
}

func (c *OllamaClient) stream(ctx context.Context, data *OllamaChatRequest, fn func([]byte) error) error {
	localLogger := logger.NewLogger("ollama stream chat")
	bts, err := json.Marshal(data)
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.GetChatURL(), bytes.NewBuffer(bts))
	if err != nil {
		localLogger.Error("Failed to request on ollama chat: ", err)
		return err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/x-ndjson")
	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return fmt.Errorf("ollama chat: %s: %s", response.Status, bytes.TrimSpace(body))
	}

	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// UnmarshalJSON handles the custom unmarshalling for Families.
func (f *Families) UnmarshalJSON(data []byte) error {
	// If the JSON data is "null", return an empty Families slice.
	if string(data) == "null" {
		*f = Families{}
		return nil
	}

	var families []string
	if err := json.Unmarshal(data, &families); err != nil {
		return err
	}
	*f = Families(families)
	return nil
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/bz888/kubechat/internal/api/server/client"
	"github.com/bz888/kubechat/internal/logger"
)

const unexpectedModelReply = "Sorry, I received an unexpected response from my AI brain. Please try rephrasing your request."

var fencePattern = regexp.MustCompile("```(?:json)?")

// OllamaAssistant asks an Ollama model. Answer requests a JSON verdict
// (command or prose) and Stream a conversational answer.
type OllamaAssistant struct {
	client client.OllamaClientInterface
	model  string
}

func NewOllamaAssistant(c client.OllamaClientInterface, model string) *OllamaAssistant {
	if model == "" {
		model = client.DefaultOllamaModel
	}
	return &OllamaAssistant{client: c, model: model}
}

type modelVerdict struct {
	Type        string `json:"type"`
	Command     string `json:"command"`
	Explanation string `json:"explanation"`
	Answer      string `json:"answer"`
}

func (a *OllamaAssistant) Answer(ctx context.Context, p Prompt) (Answer, error) {
	localLogger := logger.NewLogger("ollama assistant")
	req := &client.OllamaChatRequest{
		Model: a.model,
		Messages: []client.OllamaMessage{
			{Role: client.RoleSystem, Content: verdictInstructions(p.Exclude)},
			{Role: client.RoleUser, Content: fmt.Sprintf("%s (on cluster: %s)", p.Query, p.Cluster)},
		},
		Format:  "json",
		Options: map[string]any{"temperature": 0.1},
	}

	var content strings.Builder
	err := a.client.Chat(ctx, req, func(bts []byte) error {
		resp, err := decodeOllamaLine(bts)
		if err != nil {
			return err
		}
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return Answer{}, err
	}

	raw := strings.TrimSpace(fencePattern.ReplaceAllString(content.String(), ""))
	var verdict modelVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		localLogger.Error("Model reply is not JSON: ", raw)
		return Answer{Text: unexpectedModelReply}, nil
	}

	switch {
	case verdict.Type == "command" && verdict.Command != "":
		if slices.Contains(p.Exclude, verdict.Command) {
			return Answer{}, nil
		}
		return Answer{Command: verdict.Command, Explanation: verdict.Explanation}, nil
	case verdict.Answer != "":
		return Answer{Text: verdict.Answer}, nil
	default:
		localLogger.Warn("Model reply missing keys: ", raw)
		return Answer{Text: unexpectedModelReply}, nil
	}
}

func (a *OllamaAssistant) Stream(ctx context.Context, p Prompt, fn func(chunk string) error) error {
	req := &client.OllamaChatRequest{
		Model: a.model,
		Messages: []client.OllamaMessage{
			{Role: client.RoleSystem, Content: "You are a helpful Kubernetes assistant. Answer the user's question directly and conversationally."},
			{Role: client.RoleUser, Content: fmt.Sprintf("%s (on cluster: %s)", p.Query, p.Cluster)},
		},
		Stream:  true,
		Options: map[string]any{"temperature": 0.1},
	}

	return a.client.Chat(ctx, req, func(bts []byte) error {
		resp, err := decodeOllamaLine(bts)
		if err != nil {
			return err
		}
		if resp.Message.Content == "" {
			return nil
		}
		return fn(resp.Message.Content)
	})
}

// CheckModel reports whether the configured model is installed.
func (a *OllamaAssistant) CheckModel(ctx context.Context) error {
	models, err := a.client.GetModels(ctx)
	if err != nil {
		return fmt.Errorf("list ollama models: %w", err)
	}
	for _, m := range models {
		if m.Name == a.model {
			return nil
		}
	}
	return fmt.Errorf("model %s is not installed", a.model)
}

func decodeOllamaLine(bts []byte) (client.OllamaMessageResponse, error) {
	var resp client.OllamaMessageResponse
	if err := json.Unmarshal(bts, &resp); err != nil {
		return resp, fmt.Errorf("decode ollama reply: %w", err)
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("ollama: %s", resp.Error)
	}
	return resp, nil
}

func verdictInstructions(exclude []string) string {
	var b strings.Builder
	b.WriteString("You are an expert Kubernetes assistant. Reply with one JSON object and nothing else.\n")
	b.WriteString(`For a general question reply {"type": "question", "answer": "<answer>"}.` + "\n")
	b.WriteString(`For a request to act on the cluster reply {"type": "command", "command": "<the simplest kubectl command>", "explanation": "<one sentence>"}.` + "\n")
	if len(exclude) > 0 {
		b.WriteString("Do not suggest any of these commands again: ")
		b.WriteString(strings.Join(exclude, "; "))
		b.WriteString("\n")
	}
	return b.String()
}

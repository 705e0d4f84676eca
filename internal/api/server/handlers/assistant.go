package handlers

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Prompt is what the assistant is asked for one turn.
type Prompt struct {
	Query   string
	Cluster string
	// Exclude lists commands already suggested for this query.
	Exclude []string
}

// Answer is either a suggested command or a prose answer.
type Answer struct {
	Command     string
	Explanation string
	Text        string
}

func (a Answer) IsCommand() bool {
	return a.Command != ""
}

type Assistant interface {
	Answer(ctx context.Context, p Prompt) (Answer, error)
	Stream(ctx context.Context, p Prompt, fn func(chunk string) error) error
}

type Executor interface {
	Execute(ctx context.Context, command, cluster string) (string, error)
}

type rule struct {
	keywords    []string
	commands    []string
	explanation string
}

var commandVerbs = []string{"show", "list", "get", "display", "describe", "top"}

var rules = []rule{
	{[]string{"pod"}, []string{"kubectl get pods", "kubectl get pods -o wide", "kubectl get pods --all-namespaces"}, "Lists the pods in the current namespace."},
	{[]string{"deployment", "deploy"}, []string{"kubectl get deployments", "kubectl get deployments -o wide"}, "Lists the deployments and their ready replicas."},
	{[]string{"service", "svc"}, []string{"kubectl get services", "kubectl get svc -o wide"}, "Lists the services and their cluster IPs."},
	{[]string{"node"}, []string{"kubectl get nodes", "kubectl top nodes"}, "Shows the nodes in the cluster."},
	{[]string{"namespace"}, []string{"kubectl get namespaces"}, "Lists the namespaces."},
	{[]string{"event"}, []string{"kubectl get events --sort-by=.metadata.creationTimestamp"}, "Shows recent cluster events, oldest first."},
}

var topics = []struct {
	name string
	text string
}{
	{"deployment", "A deployment manages a replicated set of pods and rolls out changes to them declaratively."},
	{"service", "A service gives a stable address to a set of pods selected by labels."},
	{"namespace", "A namespace partitions cluster resources between teams or environments."},
	{"node", "A node is a worker machine that runs pods, managed by the control plane."},
	{"pod", "A pod is the smallest deployable unit in Kubernetes. It wraps one or more containers that share networking and storage."},
}

// ScriptedAssistant answers from a fixed rule set. It stands in for a model
// backed assistant when running the backend locally.
type ScriptedAssistant struct {
	ChunkDelay time.Duration
}

func (a *ScriptedAssistant) Answer(ctx context.Context, p Prompt) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}
	query := strings.ToLower(p.Query)

	if hasAny(query, commandVerbs) {
		for _, r := range rules {
			if !hasAny(query, r.keywords) {
				continue
			}
			for _, cmd := range r.commands {
				if !slices.Contains(p.Exclude, cmd) {
					return Answer{Command: cmd, Explanation: r.explanation}, nil
				}
			}
			return Answer{}, nil
		}
	}

	for _, topic := range topics {
		if strings.Contains(query, topic.name) {
			return Answer{Text: topic.text}, nil
		}
	}
	return Answer{Text: fmt.Sprintf(
		"I can explain Kubernetes resources or suggest `kubectl` commands for cluster %s. Try \"show pods\" or \"what is a deployment\".",
		p.Cluster)}, nil
}

// Stream delivers the prose answer word by word.
func (a *ScriptedAssistant) Stream(ctx context.Context, p Prompt, fn func(chunk string) error) error {
	answer, err := a.Answer(ctx, p)
	if err != nil {
		return err
	}
	for _, word := range strings.SplitAfter(answer.Text, " ") {
		if a.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.ChunkDelay):
			}
		}
		if err := fn(word); err != nil {
			return err
		}
	}
	return nil
}

// DryRunExecutor reports the command instead of running it.
type DryRunExecutor struct{}

func (DryRunExecutor) Execute(ctx context.Context, command, cluster string) (string, error) {
	return fmt.Sprintf("(dry run on %s) %s", cluster, command), nil
}

func hasAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

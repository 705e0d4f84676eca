// Package session holds the client-side state of one chat session: its id,
// the selected cluster, a command awaiting confirmation and the history of
// executed commands. Each Session allows one outstanding turn at a time.
package session

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/bz888/kubechat/internal/api"
	"github.com/bz888/kubechat/internal/api/stream"
	"github.com/bz888/kubechat/internal/logger"
	"github.com/google/uuid"
)

const (
	DefaultCluster = "default"
	historyLimit   = 10
)

var (
	ErrTurnInFlight = errors.New("a turn is already in progress")
	ErrNoPending    = errors.New("no command is awaiting confirmation")
	ErrEmptyQuery   = errors.New("empty query")
)

var commandPattern = regexp.MustCompile("`([^`]+)`")

// Backend is the subset of the chat backend a Session drives.
type Backend interface {
	Chat(ctx context.Context, turn api.ChatTurn) (*stream.Result, error)
	Confirm(ctx context.Context, sessionID string, yes bool) (stream.StructuredReply, error)
	Regenerate(ctx context.Context, sessionID, cluster, originalQuery string) (stream.StructuredReply, error)
}

type Session struct {
	ID string

	backend     Backend
	wantsStream bool
	log         *logger.Logger

	mu       sync.Mutex
	cluster  string
	pending  *stream.StructuredReply
	history  []string
	inFlight bool
}

type Option func(*Session)

// WithStream controls whether turns ask the backend for an event-stream.
func WithStream(enabled bool) Option {
	return func(s *Session) {
		s.wantsStream = enabled
	}
}

func New(backend Backend, cluster string, opts ...Option) *Session {
	if cluster == "" {
		cluster = DefaultCluster
	}
	s := &Session{
		ID:          "local-session-" + uuid.NewString(),
		backend:     backend,
		wantsStream: true,
		cluster:     cluster,
		log:         logger.NewLogger("session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Cluster() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cluster
}

func (s *Session) SetCluster(cluster string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cluster = cluster
}

// Pending returns the reply awaiting confirmation, if any.
func (s *Session) Pending() (stream.StructuredReply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return stream.StructuredReply{}, false
	}
	return *s.pending, true
}

// History returns executed commands, newest first.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

// Busy reports whether a turn is outstanding.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Send submits query as a new turn and delivers the response to sink.
func (s *Session) Send(ctx context.Context, query string, sink stream.Sink) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrEmptyQuery
	}
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	turn := api.ChatTurn{
		Query:       query,
		SessionID:   s.ID,
		Cluster:     s.Cluster(),
		WantsStream: s.wantsStream,
	}

	res, err := s.backend.Chat(ctx, turn)
	if err != nil {
		s.log.Error("Chat failed: ", err)
		sink.OnError(stream.KindOf(err), err)
		return err
	}
	if res.Reply != nil && res.Reply.Kind == stream.KindPendingConfirmation {
		s.setPending(*res.Reply)
	}
	return stream.Deliver(ctx, res, sink)
}

// Confirm answers the pending command. An executed command is added to the
// history.
func (s *Session) Confirm(ctx context.Context, yes bool, sink stream.Sink) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	pending, ok := s.Pending()
	if !ok {
		return ErrNoPending
	}

	reply, err := s.backend.Confirm(ctx, s.ID, yes)
	if err != nil {
		s.log.Error("Confirm failed: ", err)
		sink.OnError(stream.KindOf(err), err)
		return err
	}

	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()

	if reply.Kind == stream.KindExecuted {
		command := pending.Command
		if command == "" {
			command = ExtractCommand(pending.Text)
		}
		if command == "" {
			command = ExtractCommand(reply.Text)
		}
		if command != "" {
			s.addHistory(command)
		}
	}
	sink.OnStructuredReply(reply)
	return nil
}

// Regenerate asks for a different suggestion for the pending command's
// original query. The pending command is replaced or, when the backend has
// no alternative, dropped.
func (s *Session) Regenerate(ctx context.Context, sink stream.Sink) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	pending, ok := s.Pending()
	if !ok {
		return ErrNoPending
	}

	reply, err := s.backend.Regenerate(ctx, s.ID, s.Cluster(), pending.OriginalQuery)
	if err != nil {
		s.log.Error("Regenerate failed: ", err)
		sink.OnError(stream.KindOf(err), err)
		return err
	}

	s.mu.Lock()
	if reply.Kind == stream.KindPendingConfirmation {
		r := reply
		s.pending = &r
	} else {
		s.pending = nil
	}
	s.mu.Unlock()

	sink.OnStructuredReply(reply)
	return nil
}

// ExtractCommand returns the first backtick-quoted span of text.
func ExtractCommand(text string) string {
	m := commandPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrTurnInFlight
	}
	s.inFlight = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *Session) setPending(reply stream.StructuredReply) {
	s.mu.Lock()
	s.pending = &reply
	s.mu.Unlock()
}

func (s *Session) addHistory(command string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]string{command}, s.history...)
	if len(s.history) > historyLimit {
		s.history = s.history[:historyLimit]
	}
}

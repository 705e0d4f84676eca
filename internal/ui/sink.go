package ui

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bz888/kubechat/internal/api/stream"
	"github.com/bz888/kubechat/internal/logger"
	"github.com/rivo/tview"
)

const (
	userHeader      = "[red::]You:[-]\n"
	botHeader       = "[green::]Bot:[-]\n"
	typingIndicator = "[::d]🤖 is typing...[::-]\n"
)

var codePattern = regexp.MustCompile("`([^`]+)`")

// formatMessage escapes backend text for tview and highlights `code` spans.
func formatMessage(content string) string {
	return codePattern.ReplaceAllString(tview.Escape(content), "[yellow::b]$1[-::-]")
}

func renderUser(content string) string {
	return "\n" + userHeader + tview.Escape(content) + "\n\n"
}

func renderBot(content string) string {
	return botHeader + formatMessage(content) + "\n\n"
}

func renderReply(reply stream.StructuredReply) string {
	var b strings.Builder
	b.WriteString(botHeader)
	switch reply.Kind {
	case stream.KindPendingConfirmation:
		b.WriteString(formatMessage(reply.Text))
		b.WriteString("\n[::d]/yes to run it, /no to cancel, /regenerate for another suggestion[::-]")
	case stream.KindExecuted:
		b.WriteString("[aqua]")
		b.WriteString(formatMessage(reply.Text))
		b.WriteString("[-]")
	default:
		if reply.Action == stream.ActionError {
			b.WriteString("[red]" + formatMessage(reply.Text) + "[-]")
		} else {
			b.WriteString(formatMessage(reply.Text))
		}
	}
	b.WriteString("\n\n")
	return b.String()
}

func renderHistory(history []string) string {
	if len(history) == 0 {
		return renderBot("No commands executed yet.")
	}
	var b strings.Builder
	b.WriteString(botHeader)
	b.WriteString("Recently executed commands:\n")
	for i, cmd := range history {
		fmt.Fprintf(&b, "%d. %s\n", i+1, formatMessage("`"+cmd+"`"))
	}
	b.WriteString("\n")
	return b.String()
}

func renderHelp() string {
	var b strings.Builder
	b.WriteString(botHeader)
	b.WriteString("Here are some commands you can use:\n")
	b.WriteString("- /help: Display this help message\n")
	b.WriteString("- /bye: Exit the application\n")
	b.WriteString("- /debug: Toggle the debug console\n")
	b.WriteString("- /clusters: Choose the target cluster\n")
	b.WriteString("- /cluster <name>: Switch to a cluster by name\n")
	b.WriteString("- /history: Show the last executed commands\n")
	b.WriteString("- /yes, /no: Answer a suggested command\n")
	b.WriteString("- /regenerate: Ask for a different suggestion\n")
	b.WriteString("- Ctrl-X: Stop the current answer\n\n")
	return b.String()
}

// textSurface is the part of *tview.TextView the sink writes through.
type textSurface interface {
	GetText(stripAllTags bool) string
	SetText(text string) *tview.TextView
	ScrollToEnd() *tview.TextView
}

// chatSink renders one turn. Callbacks arrive on the turn's goroutine and
// are queued onto the UI goroutine in order, so ui state below is only touched
// there. full is only touched by the turn's goroutine.
type chatSink struct {
	queue   func(func())
	view    textSurface
	log     *logger.Logger
	full    strings.Builder
	base    string
	started bool
	typing  bool
}

func newChatSink(app *tview.Application, view *tview.TextView, log *logger.Logger) *chatSink {
	return &chatSink{
		queue: func(f func()) {
			app.QueueUpdateDraw(f)
		},
		view:   view,
		log:    log,
		typing: true,
	}
}

func (s *chatSink) OnStructuredReply(reply stream.StructuredReply) {
	s.log.Info("Structured reply: ", reply.Kind)
	s.queue(func() {
		s.appendText(renderReply(reply))
	})
}

func (s *chatSink) OnDelta(chunk string) {
	s.full.WriteString(chunk)
	text := s.full.String()
	s.queue(func() {
		if !s.started {
			s.clearTyping()
			s.base = s.view.GetText(false) + botHeader
			s.started = true
		}
		s.view.SetText(s.base + formatMessage(text))
		s.view.ScrollToEnd()
	})
}

func (s *chatSink) OnStreamComplete(text string) {
	s.log.Info("Stream complete: ", len(text), " bytes")
	s.queue(func() {
		if !s.started {
			s.appendText(renderBot("(empty response)"))
			return
		}
		s.appendText("\n\n")
	})
}

func (s *chatSink) OnError(kind stream.ErrorKind, err error) {
	if kind == stream.KindEventParse {
		s.log.Warn("Skipped malformed event: ", err)
		return
	}
	s.log.Error("Turn failed (", kind, "): ", err)
	s.queue(func() {
		if s.started {
			s.appendText("\n[red::i](response incomplete: " + tview.Escape(err.Error()) + ")[-::-]\n\n")
			return
		}
		s.appendText(botHeader + "[red]Error: " + tview.Escape(describeError(kind, err)) + "[-]\n\n")
	})
}

func describeError(kind stream.ErrorKind, err error) string {
	switch kind {
	case stream.KindUnexpectedContentType:
		return "the server sent a response this client cannot read (" + err.Error() + ")"
	case stream.KindTransport:
		return "could not connect to the server (" + err.Error() + ")"
	default:
		return err.Error()
	}
}

func (s *chatSink) appendText(text string) {
	s.clearTyping()
	s.view.SetText(s.view.GetText(false) + text)
	s.view.ScrollToEnd()
}

func (s *chatSink) clearTyping() {
	if !s.typing {
		return
	}
	s.typing = false
	current := s.view.GetText(false)
	if strings.HasSuffix(current, typingIndicator) {
		s.view.SetText(strings.TrimSuffix(current, typingIndicator))
	}
}

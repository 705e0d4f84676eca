package stream

import (
	"encoding/json"
	"io"
)

// ReplyKind classifies a single-shot backend answer.
type ReplyKind int

const (
	KindPlain ReplyKind = iota
	KindPendingConfirmation
	KindExecuted
)

// Backend action values carried in the "action" field.
const (
	ActionPendingConfirmation = "pending_confirmation"
	ActionExecuted            = "executed"
	ActionGeneral             = "general"
	ActionCancelled           = "cancelled"
	ActionError               = "error"
)

func (k ReplyKind) String() string {
	switch k {
	case KindPendingConfirmation:
		return "pendingConfirmation"
	case KindExecuted:
		return "executed"
	default:
		return "plain"
	}
}

// StructuredReply is a complete, non-incremental answer decoded from one JSON document.
type StructuredReply struct {
	Kind ReplyKind
	// Action is the raw backend action, kept so callers can tell
	// "error" and "cancelled" apart from an ordinary plain answer.
	Action        string
	Text          string
	OriginalQuery string
	Command       string
	Cluster       string
}

// replyPayload is the wire shape of a structured reply.
type replyPayload struct {
	Action        string `json:"action"`
	Response      string `json:"response"`
	OriginalQuery string `json:"original_query,omitempty"`
	Command       string `json:"command,omitempty"`
	Cluster       string `json:"cluster,omitempty"`
	Error         string `json:"error,omitempty"`
}

func kindForAction(action string) ReplyKind {
	switch action {
	case ActionPendingConfirmation:
		return KindPendingConfirmation
	case ActionExecuted:
		return KindExecuted
	default:
		return KindPlain
	}
}

// ParseReply decodes one JSON document into a StructuredReply. Read failures
// are reported as *TransportError, undecodable documents as *EventParseError.
func ParseReply(r io.Reader) (StructuredReply, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return StructuredReply{}, &TransportError{Err: err}
	}

	var payload replyPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return StructuredReply{}, &EventParseError{Raw: string(body), Err: err}
	}

	reply := StructuredReply{
		Kind:    kindForAction(payload.Action),
		Action:  payload.Action,
		Text:    payload.Response,
		Command: payload.Command,
		Cluster: payload.Cluster,
	}
	if reply.Kind == KindPendingConfirmation {
		reply.OriginalQuery = payload.OriginalQuery
	}
	if reply.Text == "" && payload.Error != "" {
		reply.Text = payload.Error
		if reply.Action == "" {
			reply.Action = ActionError
		}
	}
	return reply, nil
}

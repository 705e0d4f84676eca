package handlers

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	UserID string `json:"user_id"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Cluster   string `json:"cluster"`
	Stream    bool   `json:"stream"`
}

type ConfirmRequest struct {
	Confirm   string `json:"confirm"`
	SessionID string `json:"session_id"`
}

type RegenerateRequest struct {
	OriginalQuery string `json:"original_query"`
	SessionID     string `json:"session_id"`
	Cluster       string `json:"cluster"`
}

// ReplyResponse is every non-streamed answer the backend sends.
type ReplyResponse struct {
	Response      string `json:"response"`
	Action        string `json:"action"`
	Command       string `json:"command,omitempty"`
	Cluster       string `json:"cluster,omitempty"`
	OriginalQuery string `json:"original_query,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// ChunkEvent is the payload of one event-stream data field.
type ChunkEvent struct {
	Chunk string `json:"chunk"`
}

type pendingCommand struct {
	Command       string
	Cluster       string
	OriginalQuery string
}

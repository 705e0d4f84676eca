package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bz888/kubechat/internal/api/stream"
	"github.com/bz888/kubechat/internal/logger"
	"github.com/google/uuid"
)

const (
	defaultSessionID = "local-session"
	defaultCluster   = "default"
	tokenLifetime    = 24 * time.Hour
)

type Handler struct {
	assistant Assistant
	executor  Executor
	now       func() time.Time

	mu      sync.Mutex
	tokens  map[string]tokenEntry
	pending map[string]pendingCommand
}

type tokenEntry struct {
	userID  string
	expires time.Time
}

func NewHandler(assistant Assistant, executor Executor) *Handler {
	return &Handler{
		assistant: assistant,
		executor:  executor,
		now:       time.Now,
		tokens:    make(map[string]tokenEntry),
		pending:   make(map[string]pendingCommand),
	}
}

func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	localLogger := logger.NewLogger("LoginHandler")
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	defer r.Body.Close()

	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "User ID required"})
		return
	}

	token := uuid.NewString()
	h.mu.Lock()
	h.tokens[token] = tokenEntry{userID: req.UserID, expires: h.now().Add(tokenLifetime)}
	h.mu.Unlock()

	localLogger.Info("User logged in: ", req.UserID)
	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// RequireAuth rejects requests without a live bearer token from /login.
func (h *Handler) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Authorization token required"})
			return
		}

		h.mu.Lock()
		entry, ok := h.tokens[token]
		if ok && h.now().After(entry.expires) {
			delete(h.tokens, token)
			ok = false
		}
		h.mu.Unlock()

		if !ok {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid or expired token"})
			return
		}
		next(w, r)
	}
}

func (h *Handler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	localLogger := logger.NewLogger("ChatHandler")
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	defer r.Body.Close()

	query := strings.TrimSpace(req.Message)
	sessionID := orDefault(req.SessionID, defaultSessionID)
	cluster := orDefault(req.Cluster, defaultCluster)

	if query == "" {
		writeJSON(w, http.StatusOK, ReplyResponse{Response: "Please enter a message.", Action: stream.ActionGeneral})
		return
	}

	prompt := Prompt{Query: query, Cluster: cluster}
	answer, err := h.assistant.Answer(r.Context(), prompt)
	if err != nil {
		localLogger.Error("Assistant failed: ", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to process request: " + err.Error()})
		return
	}

	if answer.IsCommand() {
		writeJSON(w, http.StatusOK, h.suggest(sessionID, cluster, query, answer))
		return
	}

	if req.Stream {
		h.streamAnswer(w, r, prompt)
		return
	}
	writeJSON(w, http.StatusOK, ReplyResponse{Response: answer.Text, Action: stream.ActionGeneral})
}

func (h *Handler) RegenerateHandler(w http.ResponseWriter, r *http.Request) {
	localLogger := logger.NewLogger("RegenerateHandler")
	var req RegenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	defer r.Body.Close()

	query := strings.TrimSpace(req.OriginalQuery)
	if query == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Original query is required."})
		return
	}
	sessionID := orDefault(req.SessionID, defaultSessionID)
	cluster := orDefault(req.Cluster, defaultCluster)

	prompt := Prompt{Query: query, Cluster: cluster}
	h.mu.Lock()
	if prev, ok := h.pending[sessionID]; ok {
		prompt.Exclude = append(prompt.Exclude, prev.Command)
	}
	h.mu.Unlock()

	answer, err := h.assistant.Answer(r.Context(), prompt)
	if err != nil {
		localLogger.Error("Assistant failed: ", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to process request: " + err.Error()})
		return
	}
	if !answer.IsCommand() {
		writeJSON(w, http.StatusOK, ReplyResponse{Response: "I couldn't find another command for that request.", Action: stream.ActionGeneral})
		return
	}
	writeJSON(w, http.StatusOK, h.suggest(sessionID, cluster, query, answer))
}

func (h *Handler) ConfirmHandler(w http.ResponseWriter, r *http.Request) {
	localLogger := logger.NewLogger("ConfirmHandler")
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	defer r.Body.Close()

	sessionID := orDefault(req.SessionID, defaultSessionID)
	h.mu.Lock()
	pending, ok := h.pending[sessionID]
	h.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, ReplyResponse{Response: "Error: No pending command found.", Action: stream.ActionError})
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Confirm)) {
	case "yes":
		result, err := h.executor.Execute(r.Context(), pending.Command, pending.Cluster)
		if err != nil {
			localLogger.Error("Execution failed: ", err)
			result = fmt.Sprintf("Error executing command: %s", err)
		}
		h.clearPending(sessionID)
		localLogger.Info("Executed ", pending.Command, " on ", pending.Cluster)
		writeJSON(w, http.StatusOK, ReplyResponse{Response: result, Action: stream.ActionExecuted})
	case "no":
		h.clearPending(sessionID)
		writeJSON(w, http.StatusOK, ReplyResponse{Response: "Command not executed. What would you like to do next?", Action: stream.ActionCancelled})
	default:
		writeJSON(w, http.StatusOK, ReplyResponse{Response: "Invalid input. Please respond with 'Yes' or 'No'.", Action: stream.ActionError})
	}
}

func (h *Handler) suggest(sessionID, cluster, query string, answer Answer) ReplyResponse {
	h.mu.Lock()
	h.pending[sessionID] = pendingCommand{Command: answer.Command, Cluster: cluster, OriginalQuery: query}
	h.mu.Unlock()

	return ReplyResponse{
		Response: fmt.Sprintf("Suggested command: `%s`\nExplanation: %s\n(Cluster: %s)\n\nDo you want to execute this command?",
			answer.Command, answer.Explanation, cluster),
		Action:        stream.ActionPendingConfirmation,
		Command:       answer.Command,
		Cluster:       cluster,
		OriginalQuery: query,
	}
}

func (h *Handler) clearPending(sessionID string) {
	h.mu.Lock()
	delete(h.pending, sessionID)
	h.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", stream.ContentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.NewLogger("writeJSON").Error("Failed to encode response: ", err)
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

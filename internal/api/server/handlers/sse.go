package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bz888/kubechat/internal/api/stream"
	"github.com/bz888/kubechat/internal/logger"
)

func (h *Handler) streamAnswer(w http.ResponseWriter, r *http.Request, prompt Prompt) {
	localLogger := logger.NewLogger("stream handler")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", stream.ContentTypeEventStream)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	respCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		err := h.assistant.Stream(r.Context(), prompt, func(chunk string) error {
			select {
			case respCh <- chunk:
				return nil
			case <-r.Context().Done():
				return r.Context().Err()
			}
		})
		if err != nil {
			errCh <- err
		}
	}()

	sent := 0
	for {
		select {
		case <-r.Context().Done():
			localLogger.Warn("Client went away after ", sent, " chunks")
			return
		case message, ok := <-respCh:
			if !ok {
				select {
				case err := <-errCh:
					// The status line is already sent. Aborting the chunked body
					// is what tells the client the answer is incomplete.
					localLogger.Error("Stream failed after ", sent, " chunks: ", err)
					panic(http.ErrAbortHandler)
				default:
					localLogger.Info("Stream finished: ", sent, " chunks")
				}
				return
			}
			data, err := json.Marshal(ChunkEvent{Chunk: message})
			if err != nil {
				localLogger.Error("Failed to encode chunk: ", err)
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				localLogger.Error("Failed to write chunk: ", err)
				return
			}
			flusher.Flush()
			sent++
		}
	}
}

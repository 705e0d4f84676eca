package stream

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

// chunkReader hands out one chunk per Read, then err (io.EOF when nil).
type chunkReader struct {
	chunks [][]byte
	err    error
	reads  int
	closed bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	r.reads++
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	return nil
}

func newResponse(contentType string, body io.ReadCloser) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       body,
	}
}

func chunksOf(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

type sinkError struct {
	kind ErrorKind
	err  error
}

type recorder struct {
	replies   []StructuredReply
	deltas    []string
	completes []string
	errors    []sinkError
}

func (r *recorder) OnStructuredReply(reply StructuredReply) { r.replies = append(r.replies, reply) }
func (r *recorder) OnDelta(chunk string)                    { r.deltas = append(r.deltas, chunk) }
func (r *recorder) OnStreamComplete(text string)            { r.completes = append(r.completes, text) }
func (r *recorder) OnError(kind ErrorKind, err error) {
	r.errors = append(r.errors, sinkError{kind: kind, err: err})
}

func (r *recorder) errorKinds() []ErrorKind {
	kinds := make([]ErrorKind, len(r.errors))
	for i, e := range r.errors {
		kinds[i] = e.kind
	}
	return kinds
}

func dispatchChunks(t *testing.T, contentType string, chunks [][]byte, opts ...Option) (*recorder, error) {
	t.Helper()
	rec := &recorder{}
	body := &chunkReader{chunks: chunks}
	err := Dispatch(context.Background(), newResponse(contentType, body), rec, opts...)
	return rec, err
}

func sseEvent(payload string) string {
	return "data: " + payload + "\n\n"
}

func joinEvents(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString(sseEvent(p))
	}
	return b.String()
}

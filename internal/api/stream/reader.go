package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/bz888/kubechat/internal/logger"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	ContentTypeJSON        = "application/json"
	ContentTypeEventStream = "text/event-stream"

	// DefaultMaxEventSize bounds a single buffered event record.
	DefaultMaxEventSize = 1 << 20

	defaultReadSize = 4 * 1024
)

var (
	lfBoundary   = []byte("\n\n")
	crlfBoundary = []byte("\r\n\r\n")
)

// Delta is one incremental fragment of an in-progress answer.
type Delta struct {
	Chunk string
}

// Result holds exactly one of Reply or Stream.
type Result struct {
	Reply  *StructuredReply
	Stream *Stream
}

type options struct {
	maxEventSize int
	readSize     int
	onParseError []func(*EventParseError)
}

type Option func(*options)

func WithMaxEventSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEventSize = n
		}
	}
}

// WithReadSize sets how many bytes are requested from the body per read.
func WithReadSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readSize = n
		}
	}
}

// WithParseErrorHandler registers fn to be told about every skipped event.
func WithParseErrorHandler(fn func(*EventParseError)) Option {
	return func(o *options) {
		if fn != nil {
			o.onParseError = append(o.onParseError, fn)
		}
	}
}

// Open inspects the declared content type of resp and returns either the
// decoded structured reply or a live Stream. The body is never inspected to
// make that decision.
func Open(ctx context.Context, resp *http.Response, opts ...Option) (*Result, error) {
	if resp == nil || resp.Body == nil {
		return nil, &TransportError{Err: errors.New("no response body")}
	}

	o := options{maxEventSize: DefaultMaxEventSize, readSize: defaultReadSize}
	for _, opt := range opts {
		opt(&o)
	}

	contentType := resp.Header.Get("Content-Type")
	mt := mediaType(contentType)

	switch {
	case mt == ContentTypeJSON || strings.HasSuffix(mt, "+json"):
		stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
		defer stop()
		defer resp.Body.Close()

		reply, err := ParseReply(resp.Body)
		if err != nil {
			var transportErr *TransportError
			if errors.As(err, &transportErr) && ctx.Err() != nil {
				return nil, &TransportError{Err: ctx.Err(), Canceled: true}
			}
			return nil, err
		}
		return &Result{Reply: &reply}, nil

	case mt == ContentTypeEventStream:
		if err := ctx.Err(); err != nil {
			resp.Body.Close()
			return nil, &TransportError{Err: err, Canceled: true}
		}
		return &Result{Stream: newStream(resp.Body, o)}, nil

	default:
		resp.Body.Close()
		return nil, &UnexpectedContentTypeError{ContentType: contentType}
	}
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
		mt = strings.ToLower(strings.TrimSpace(mt))
	}
	return mt
}

// Stream reassembles an event-stream body into deltas. It is owned by a
// single read loop: Next, Close and the accessors must not be called
// concurrently. Cancel the context passed to Next to stop a blocked read.
type Stream struct {
	body    io.ReadCloser
	src     io.Reader
	readBuf []byte

	// pending holds decoded text that has not yet reached an event boundary.
	pending    []byte
	discarding bool
	queue      []Delta
	text       strings.Builder

	state   State
	eof     bool
	readErr error
	err     error
	skipped int

	opts      options
	log       *logger.Logger
	closeOnce sync.Once
}

func newStream(body io.ReadCloser, o options) *Stream {
	s := &Stream{
		body:    body,
		src:     transform.NewReader(body, unicode.UTF8BOM.NewDecoder()),
		readBuf: make([]byte, o.readSize),
		state:   StateAwaitingDispatch,
		opts:    o,
		log:     logger.NewLogger("stream"),
	}
	s.transition(EventContentTypeResolved)
	return s
}

func (s *Stream) State() State {
	return s.state
}

// Text returns the concatenation of every delta returned so far. It is final
// once State reports StateDone.
func (s *Stream) Text() string {
	return s.text.String()
}

// Skipped reports how many malformed events were dropped.
func (s *Stream) Skipped() int {
	return s.skipped
}

// Err returns the error that terminated the stream, or nil after a clean end.
func (s *Stream) Err() error {
	return s.err
}

// Next returns the next delta. It returns io.EOF once the body is exhausted,
// and a *TransportError if the connection fails or ctx is canceled.
func (s *Stream) Next(ctx context.Context) (Delta, error) {
	if s.state == StateDone {
		if s.err != nil {
			return Delta{}, s.err
		}
		return Delta{}, io.EOF
	}

	stop := context.AfterFunc(ctx, s.closeBody)
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return Delta{}, s.fail(&TransportError{Err: err, Canceled: true})
		}

		if len(s.queue) > 0 {
			d := s.queue[0]
			s.queue = s.queue[1:]
			s.text.WriteString(d.Chunk)
			s.transition(EventChunkReceived)
			return d, nil
		}

		if s.readErr != nil {
			return Delta{}, s.fail(&TransportError{Err: s.readErr})
		}

		if s.eof {
			s.transition(EventTransportEnded)
			s.closeBody()
			return Delta{}, io.EOF
		}

		n, err := s.src.Read(s.readBuf)
		if n > 0 {
			s.feed(s.readBuf[:n])
		}
		if err == io.EOF {
			s.flush()
			s.eof = true
		} else if err != nil {
			s.readErr = err
		}
	}
}

// Close releases the body. Deltas already returned stay valid.
func (s *Stream) Close() error {
	if s.state != StateDone {
		s.fail(&TransportError{Err: ErrStreamClosed, Canceled: true})
	}
	s.closeBody()
	return nil
}

func (s *Stream) closeBody() {
	s.closeOnce.Do(func() {
		if err := s.body.Close(); err != nil {
			s.log.Warn("close stream body: ", err)
		}
	})
}

func (s *Stream) fail(err error) error {
	s.err = err
	s.queue = nil
	s.pending = nil
	s.transition(EventTransportFailed)
	s.closeBody()
	return err
}

func (s *Stream) transition(ev Event) {
	next, err := Transition(s.state, ev)
	if err != nil {
		s.log.Warn(err)
		return
	}
	s.state = next
}

func (s *Stream) feed(p []byte) {
	s.pending = append(s.pending, p...)

	start := 0
	for {
		idx, width := boundary(s.pending[start:])
		if idx < 0 {
			break
		}
		record := s.pending[start : start+idx]
		if s.discarding {
			s.discarding = false
		} else {
			s.handleRecord(record)
		}
		start += idx + width
	}
	s.pending = append(s.pending[:0], s.pending[start:]...)

	if len(s.pending) > s.opts.maxEventSize {
		if !s.discarding {
			raw := s.pending[:min(len(s.pending), 64)]
			s.reportParse(&EventParseError{Raw: string(raw), Err: errOversized})
		}
		s.discarding = true
		// Keep enough of the tail to recognise a boundary split across reads.
		tail := s.pending[max(0, len(s.pending)-len(crlfBoundary)+1):]
		s.pending = append(s.pending[:0], tail...)
	}
}

// flush parses a final record that the server did not terminate with a
// blank line.
func (s *Stream) flush() {
	if !s.discarding && len(bytes.TrimSpace(s.pending)) > 0 {
		s.handleRecord(s.pending)
	}
	s.pending = nil
	s.discarding = false
}

func boundary(b []byte) (int, int) {
	lf := bytes.Index(b, lfBoundary)
	crlf := bytes.Index(b, crlfBoundary)
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, len(crlfBoundary)
	case lf >= 0:
		return lf, len(lfBoundary)
	default:
		return -1, 0
	}
}

type chunkEvent struct {
	Chunk json.RawMessage `json:"chunk"`
}

// chunkText renders a chunk value as text. Strings pass through, numbers
// and true are printed, and the falsy values (null, false, 0, "") yield
// nothing. Objects and arrays are rejected.
func chunkText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var text string
		err := json.Unmarshal(raw, &text)
		return text, err
	case 'n', 'f':
		return "", nil
	case 't':
		return "true", nil
	case '{', '[':
		return "", errChunkType
	}

	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return "", err
	}
	if f == 0 {
		return "", nil
	}
	if math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

func (s *Stream) handleRecord(record []byte) {
	var data []string
	meaningful := false

	for _, line := range strings.Split(string(record), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		meaningful = true

		field, value, _ := strings.Cut(line, ":")
		if field == "data" {
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}

	if !meaningful {
		return
	}
	if len(data) == 0 {
		s.reportParse(&EventParseError{Raw: string(record), Err: errMissingData})
		return
	}

	payload := strings.Join(data, "\n")
	var ev chunkEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		s.reportParse(&EventParseError{Raw: payload, Err: err})
		return
	}
	text, err := chunkText(ev.Chunk)
	if err != nil {
		s.reportParse(&EventParseError{Raw: payload, Err: err})
		return
	}
	if text == "" {
		return
	}
	s.queue = append(s.queue, Delta{Chunk: text})
}

func (s *Stream) reportParse(e *EventParseError) {
	s.skipped++
	s.log.Warn("skipping event: ", e)
	for _, fn := range s.opts.onParseError {
		fn(e)
	}
}

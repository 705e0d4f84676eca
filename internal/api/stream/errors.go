package stream

import (
	"errors"
	"fmt"
)

// ErrorKind tells a Sink which class of failure it is being told about.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindEventParse
	KindUnexpectedContentType
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindEventParse:
		return "event parse"
	case KindUnexpectedContentType:
		return "unexpected content type"
	default:
		return "unknown"
	}
}

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("stream closed")

// TransportError means the connection failed before the response completed.
// It is fatal to the turn.
type TransportError struct {
	Err      error
	Canceled bool
}

func (e *TransportError) Error() string {
	if e.Canceled {
		return fmt.Sprintf("transport canceled: %v", e.Err)
	}
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// EventParseError describes one record that could not be understood.
// Inside a stream it is never fatal.
type EventParseError struct {
	Raw string
	Err error
}

func (e *EventParseError) Error() string {
	return fmt.Sprintf("malformed event %q: %v", truncate(e.Raw, 80), e.Err)
}

func (e *EventParseError) Unwrap() error {
	return e.Err
}

// UnexpectedContentTypeError is returned when a response is neither JSON nor
// an event-stream.
type UnexpectedContentTypeError struct {
	ContentType string
}

func (e *UnexpectedContentTypeError) Error() string {
	return fmt.Sprintf("unexpected content type %q", e.ContentType)
}

var (
	errMissingData = errors.New("missing data field")
	errOversized   = errors.New("event exceeds size limit")
	errChunkType   = errors.New("chunk is not a text value")
)

// KindOf maps an error to the ErrorKind a Sink should receive.
func KindOf(err error) ErrorKind {
	var parseErr *EventParseError
	var ctErr *UnexpectedContentTypeError
	switch {
	case errors.As(err, &parseErr):
		return KindEventParse
	case errors.As(err, &ctErr):
		return KindUnexpectedContentType
	default:
		return KindTransport
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// Sink receives the observable output of one turn.
type Sink interface {
	OnStructuredReply(reply StructuredReply)
	OnDelta(chunk string)
	OnStreamComplete(text string)
	OnError(kind ErrorKind, err error)
}

// SinkFuncs adapts plain functions to a Sink. Nil fields are ignored.
type SinkFuncs struct {
	StructuredReply func(StructuredReply)
	Delta           func(string)
	Complete        func(string)
	Error           func(ErrorKind, error)
}

func (f SinkFuncs) OnStructuredReply(reply StructuredReply) {
	if f.StructuredReply != nil {
		f.StructuredReply(reply)
	}
}

func (f SinkFuncs) OnDelta(chunk string) {
	if f.Delta != nil {
		f.Delta(chunk)
	}
}

func (f SinkFuncs) OnStreamComplete(text string) {
	if f.Complete != nil {
		f.Complete(text)
	}
}

func (f SinkFuncs) OnError(kind ErrorKind, err error) {
	if f.Error != nil {
		f.Error(kind, err)
	}
}

// Dispatch opens resp and drives sink to completion. It returns the fatal
// error, if any. Malformed events are reported to the sink without stopping.
func Dispatch(ctx context.Context, resp *http.Response, sink Sink, opts ...Option) error {
	res, err := Open(ctx, resp, opts...)
	if err != nil {
		sink.OnError(KindOf(err), err)
		return err
	}
	return Deliver(ctx, res, sink)
}

// Deliver drives sink from an already opened Result.
func Deliver(ctx context.Context, res *Result, sink Sink) error {
	if res == nil || (res.Reply == nil && res.Stream == nil) {
		err := &TransportError{Err: errors.New("no result")}
		sink.OnError(KindTransport, err)
		return err
	}
	if res.Reply != nil {
		sink.OnStructuredReply(*res.Reply)
		return nil
	}

	st := res.Stream
	defer st.Close()
	st.opts.onParseError = append(st.opts.onParseError, func(e *EventParseError) {
		sink.OnError(KindEventParse, e)
	})

	for {
		d, err := st.Next(ctx)
		if err == io.EOF {
			sink.OnStreamComplete(st.Text())
			return nil
		}
		if err != nil {
			sink.OnError(KindOf(err), err)
			return err
		}
		sink.OnDelta(d.Chunk)
	}
}

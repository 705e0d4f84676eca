package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDispatchStreamExample(t *testing.T) {
	rec, err := dispatchChunks(t, "text/event-stream",
		chunksOf("data: {\"chunk\":\"Hello\"}\n\ndata: {\"chunk\":\" world\"}\n\n"))

	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", " world"}, rec.deltas)
	assert.Equal(t, []string{"Hello world"}, rec.completes)
	assert.Empty(t, rec.replies)
	assert.Empty(t, rec.errors)
}

func TestDispatchStructuredPendingConfirmation(t *testing.T) {
	body := `{"action":"pending_confirmation","response":"Run ` + "`kubectl get pods`" + `?","original_query":"show pods"}`
	rec, err := dispatchChunks(t, "application/json", chunksOf(body))

	require.NoError(t, err)
	require.Len(t, rec.replies, 1)
	reply := rec.replies[0]
	assert.Equal(t, KindPendingConfirmation, reply.Kind)
	assert.Contains(t, reply.Text, "`kubectl get pods`")
	assert.Equal(t, "show pods", reply.OriginalQuery)
	assert.Empty(t, rec.deltas)
	assert.Empty(t, rec.completes)
}

func TestDispatchStructuredKinds(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		kind   ReplyKind
		action string
		text   string
	}{
		{"executed", `{"action":"executed","response":"pod/a Running"}`, KindExecuted, ActionExecuted, "pod/a Running"},
		{"general", `{"action":"general","response":"hi"}`, KindPlain, ActionGeneral, "hi"},
		{"cancelled", `{"action":"cancelled","response":"Command not executed."}`, KindPlain, ActionCancelled, "Command not executed."},
		{"missing action", `{"response":"bare"}`, KindPlain, "", "bare"},
		{"unknown action", `{"action":"shrug","response":"?"}`, KindPlain, "shrug", "?"},
		{"error body", `{"error":"Original query is required."}`, KindPlain, ActionError, "Original query is required."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := dispatchChunks(t, "application/json; charset=utf-8", chunksOf(tt.body))
			require.NoError(t, err)
			require.Len(t, rec.replies, 1)
			assert.Equal(t, tt.kind, rec.replies[0].Kind)
			assert.Equal(t, tt.action, rec.replies[0].Action)
			assert.Equal(t, tt.text, rec.replies[0].Text)
			assert.Empty(t, rec.replies[0].OriginalQuery)
			assert.Empty(t, rec.deltas)
			assert.Empty(t, rec.completes)
		})
	}
}

func TestDispatchIsDecidedByContentTypeOnly(t *testing.T) {
	t.Run("json header with event-stream body", func(t *testing.T) {
		rec, err := dispatchChunks(t, "application/json", chunksOf(sseEvent(`{"chunk":"x"}`)))

		var parseErr *EventParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, []ErrorKind{KindEventParse}, rec.errorKinds())
		assert.Empty(t, rec.deltas)
		assert.Empty(t, rec.completes)
	})

	t.Run("event-stream header with json body", func(t *testing.T) {
		rec, err := dispatchChunks(t, "text/event-stream; charset=utf-8", chunksOf(`{"action":"executed","response":"x"}`))

		require.NoError(t, err)
		assert.Empty(t, rec.replies)
		assert.Equal(t, []string{""}, rec.completes)
		assert.Equal(t, []ErrorKind{KindEventParse}, rec.errorKinds())
	})
}

func TestUnexpectedContentType(t *testing.T) {
	body := &chunkReader{chunks: chunksOf("<html></html>")}
	rec := &recorder{}

	err := Dispatch(context.Background(), newResponse("text/html", body), rec)

	var ctErr *UnexpectedContentTypeError
	require.ErrorAs(t, err, &ctErr)
	assert.Equal(t, "text/html", ctErr.ContentType)
	assert.Equal(t, []ErrorKind{KindUnexpectedContentType}, rec.errorKinds())
	assert.Zero(t, body.reads, "body must not be read")
	assert.True(t, body.closed)
	assert.Empty(t, rec.deltas)
	assert.Empty(t, rec.replies)
}

func TestSplitAtEveryByteBoundary(t *testing.T) {
	input := joinEvents(`{"chunk":"héllo "}`, `{"chunk":"wörld 🌍"}`, `{"note":"no chunk"}`, `{"chunk":" ✓"}`)
	want := "héllo wörld 🌍 ✓"
	raw := []byte(input)

	for i := 1; i < len(raw); i++ {
		rec, err := dispatchChunks(t, "text/event-stream", [][]byte{raw[:i], raw[i:]})
		require.NoError(t, err, "split at %d", i)
		require.Equal(t, []string{want}, rec.completes, "split at %d", i)
		assert.Equal(t, want, strings.Join(rec.deltas, ""), "split at %d", i)
		assert.Empty(t, rec.errors, "split at %d", i)
	}
}

func TestOneByteReads(t *testing.T) {
	input := joinEvents(`{"chunk":"ü"}`, `{"chunk":"ber"}`)
	var chunks [][]byte
	for _, b := range []byte(input) {
		chunks = append(chunks, []byte{b})
	}

	rec, err := dispatchChunks(t, "text/event-stream", chunks)

	require.NoError(t, err)
	assert.Equal(t, []string{"ü", "ber"}, rec.deltas)
	assert.Equal(t, []string{"über"}, rec.completes)
}

func TestRandomSplitsPreserveOrderAndConcatenation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abcxyz éß漢字🙂\n\"\\`")

	for round := 0; round < 200; round++ {
		var fragments []string
		var payloads []string
		for i := 0; i < 1+rng.Intn(8); i++ {
			runes := make([]rune, 1+rng.Intn(12))
			for j := range runes {
				runes[j] = alphabet[rng.Intn(len(alphabet))]
			}
			fragment := string(runes)
			encoded, err := json.Marshal(map[string]string{"chunk": fragment})
			require.NoError(t, err)
			fragments = append(fragments, fragment)
			payloads = append(payloads, string(encoded))
		}

		raw := []byte(joinEvents(payloads...))
		var chunks [][]byte
		for len(raw) > 0 {
			n := 1 + rng.Intn(len(raw))
			chunks = append(chunks, raw[:n])
			raw = raw[n:]
		}

		rec, err := dispatchChunks(t, "text/event-stream", chunks)
		require.NoError(t, err)
		require.Equal(t, fragments, rec.deltas)
		require.Equal(t, []string{strings.Join(fragments, "")}, rec.completes)
	}
}

func TestMalformedEventIsSkipped(t *testing.T) {
	input := sseEvent(`{"chunk":"a"}`) + sseEvent(`{not json`) + sseEvent(`{"chunk":"b"}`)

	rec, err := dispatchChunks(t, "text/event-stream", chunksOf(input))

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, rec.deltas)
	assert.Equal(t, []string{"ab"}, rec.completes)
	require.Equal(t, []ErrorKind{KindEventParse}, rec.errorKinds())
	var parseErr *EventParseError
	require.ErrorAs(t, rec.errors[0].err, &parseErr)
	assert.Equal(t, "{not json", parseErr.Raw)
}

func TestEventWithoutChunkIsNoop(t *testing.T) {
	input := sseEvent(`{"status":"thinking"}`) + sseEvent(`{"chunk":""}`) + sseEvent(`null`) + sseEvent(`{"chunk":"ok"}`)

	rec, err := dispatchChunks(t, "text/event-stream", chunksOf(input))

	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, rec.deltas)
	assert.Equal(t, []string{"ok"}, rec.completes)
	assert.Empty(t, rec.errors)
}

func TestScalarChunksAreRenderedAsText(t *testing.T) {
	input := sseEvent(`{"chunk":42}`) + sseEvent(`{"chunk":" and "}`) + sseEvent(`{"chunk":2.5}`) +
		sseEvent(`{"chunk":true}`) + sseEvent(`{"chunk":0}`) + sseEvent(`{"chunk":false}`) +
		sseEvent(`{"chunk":null}`) + sseEvent(`{"chunk":1e21}`)

	rec, err := dispatchChunks(t, "text/event-stream", chunksOf(input))

	require.NoError(t, err)
	assert.Equal(t, []string{"42", " and ", "2.5", "true", "1e+21"}, rec.deltas)
	assert.Equal(t, []string{"42 and 2.5true1e+21"}, rec.completes)
	assert.Empty(t, rec.errors)
}

func TestStructuredChunkIsSkipped(t *testing.T) {
	input := sseEvent(`{"chunk":{"text":"x"}}`) + sseEvent(`{"chunk":["x"]}`) + sseEvent(`{"chunk":"ok"}`)

	rec, err := dispatchChunks(t, "text/event-stream", chunksOf(input))

	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, rec.deltas)
	assert.Equal(t, []ErrorKind{KindEventParse, KindEventParse}, rec.errorKinds())
	assert.ErrorIs(t, rec.errors[0].err, errChunkType)
}

func TestRecordsWithoutDataField(t *testing.T) {
	input := ": keep-alive\n\n" + "event: ping\n\n" + "data:{\"chunk\":\"x\"}\n\n"

	rec, err := dispatchChunks(t, "text/event-stream", chunksOf(input))

	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, rec.deltas)
	require.Equal(t, []ErrorKind{KindEventParse}, rec.errorKinds())
	assert.ErrorIs(t, rec.errors[0].err, errMissingData)
}

func TestMultiLineDataAndCRLF(t *testing.T) {
	input := "id: 1\r\ndata: {\"chunk\":\r\ndata: \"a\"}\r\n\r\n" + "data: {\"chunk\":\"b\"}\n\n"

	rec, err := dispatchChunks(t, "text/event-stream", chunksOf(input))

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, rec.deltas)
	assert.Empty(t, rec.errors)
}

func TestTrailingEventWithoutDelimiter(t *testing.T) {
	rec, err := dispatchChunks(t, "text/event-stream", chunksOf(sseEvent(`{"chunk":"a"}`), `data: {"chunk":"b"}`))

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, rec.deltas)
	assert.Equal(t, []string{"ab"}, rec.completes)
}

func TestOversizedEventIsDiscarded(t *testing.T) {
	big := sseEvent(`{"chunk":"` + strings.Repeat("z", 200) + `"}`)
	input := big + sseEvent(`{"chunk":"small"}`)

	var chunks [][]byte
	raw := []byte(input)
	for len(raw) > 0 {
		n := min(16, len(raw))
		chunks = append(chunks, raw[:n])
		raw = raw[n:]
	}

	rec, err := dispatchChunks(t, "text/event-stream", chunks, WithMaxEventSize(64))

	require.NoError(t, err)
	assert.Equal(t, []string{"small"}, rec.deltas)
	require.Equal(t, []ErrorKind{KindEventParse}, rec.errorKinds())
	assert.ErrorIs(t, rec.errors[0].err, errOversized)
}

func TestInvalidUTF8IsReplaced(t *testing.T) {
	input := []byte("data: {\"chunk\":\"a\xffb\"}\n\n")

	rec, err := dispatchChunks(t, "text/event-stream", [][]byte{input})

	require.NoError(t, err)
	assert.Equal(t, []string{"a�b"}, rec.deltas)
}

func TestTransportFailureKeepsEmittedDeltas(t *testing.T) {
	body := &chunkReader{
		chunks: chunksOf(sseEvent(`{"chunk":"partial"}`), `data: {"chu`),
		err:    io.ErrUnexpectedEOF,
	}
	rec := &recorder{}

	err := Dispatch(context.Background(), newResponse("text/event-stream", body), rec)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.False(t, transportErr.Canceled)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, []string{"partial"}, rec.deltas)
	assert.Empty(t, rec.completes, "no completion after a transport failure")
	assert.Equal(t, []ErrorKind{KindTransport}, rec.errorKinds())
	assert.True(t, body.closed)
}

func TestStreamHandle(t *testing.T) {
	body := &chunkReader{chunks: chunksOf(joinEvents(`{"chunk":"1"}`, `{"chunk":"2"}`))}
	res, err := Open(context.Background(), newResponse("text/event-stream", body))
	require.NoError(t, err)
	require.Nil(t, res.Reply)
	require.NotNil(t, res.Stream)

	st := res.Stream
	assert.Equal(t, StateStreaming, st.State())

	d, err := st.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", d.Chunk)
	assert.Equal(t, "1", st.Text())

	d, err = st.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2", d.Chunk)

	_, err = st.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, StateDone, st.State())
	assert.Equal(t, "12", st.Text())
	assert.NoError(t, st.Err())
	assert.True(t, body.closed)

	_, err = st.Next(context.Background())
	assert.Equal(t, io.EOF, err, "EOF is sticky")
}

func TestParseErrorHandlerOption(t *testing.T) {
	var seen []string
	body := &chunkReader{chunks: chunksOf(sseEvent(`oops`))}
	res, err := Open(context.Background(), newResponse("text/event-stream", body),
		WithParseErrorHandler(func(e *EventParseError) { seen = append(seen, e.Raw) }),
		WithReadSize(3))
	require.NoError(t, err)

	_, err = res.Stream.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, []string{"oops"}, seen)
	assert.Equal(t, 1, res.Stream.Skipped())
}

func TestCloseBeforeEnd(t *testing.T) {
	body := &chunkReader{chunks: chunksOf(joinEvents(`{"chunk":"1"}`, `{"chunk":"2"}`))}
	res, err := Open(context.Background(), newResponse("text/event-stream", body))
	require.NoError(t, err)

	_, err = res.Stream.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Stream.Close())

	_, err = res.Stream.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Equal(t, "1", res.Stream.Text())
	assert.True(t, body.closed)
}

func TestCancellationStopsReadLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deltas := make(chan string, 4)
	var completed bool
	var errKinds []ErrorKind
	sink := SinkFuncs{
		Delta:    func(s string) { deltas <- s },
		Complete: func(string) { completed = true },
		Error:    func(k ErrorKind, _ error) { errKinds = append(errKinds, k) },
	}

	done := make(chan error, 1)
	go func() {
		done <- Dispatch(ctx, newResponse("text/event-stream", pr), sink)
	}()

	_, err := pw.Write([]byte(sseEvent(`{"chunk":"first"}`)))
	require.NoError(t, err)
	assert.Equal(t, "first", <-deltas)

	cancel()
	err = <-done

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.True(t, transportErr.Canceled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, completed)
	assert.Equal(t, []ErrorKind{KindTransport}, errKinds)

	_, err = pw.Write([]byte(sseEvent(`{"chunk":"late"}`)))
	assert.ErrorIs(t, err, io.ErrClosedPipe, "body is released on cancel")
	assert.Empty(t, deltas)
}

func TestOpenWithCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	body := &chunkReader{chunks: chunksOf(sseEvent(`{"chunk":"x"}`))}

	_, err := Open(ctx, newResponse("text/event-stream", body))

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.True(t, transportErr.Canceled)
	assert.True(t, body.closed)
}

func TestOpenNilResponse(t *testing.T) {
	_, err := Open(context.Background(), nil)
	assert.Equal(t, KindTransport, KindOf(err))
}

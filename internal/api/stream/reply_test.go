package stream

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplyCarriesCommandDetails(t *testing.T) {
	body := `{"response":"Suggested command: ` + "`kubectl get ns`" + `","action":"pending_confirmation",
		"command":"kubectl get ns","cluster":"prod","original_query":"list namespaces"}`

	reply, err := ParseReply(strings.NewReader(body))

	require.NoError(t, err)
	assert.Equal(t, KindPendingConfirmation, reply.Kind)
	assert.Equal(t, "kubectl get ns", reply.Command)
	assert.Equal(t, "prod", reply.Cluster)
	assert.Equal(t, "list namespaces", reply.OriginalQuery)
	assert.Equal(t, "pendingConfirmation", reply.Kind.String())
}

func TestParseReplyErrors(t *testing.T) {
	_, err := ParseReply(strings.NewReader(`{"action":`))
	var parseErr *EventParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, KindEventParse, KindOf(err))

	_, err = ParseReply(iotest.ErrReader(errors.New("reset by peer")))
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestEventParseErrorTruncatesRaw(t *testing.T) {
	err := &EventParseError{Raw: strings.Repeat("x", 200), Err: errMissingData}
	assert.Less(t, len(err.Error()), 150)
	assert.Contains(t, err.Error(), "missing data field")
}

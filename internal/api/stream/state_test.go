package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from    State
		event   Event
		to      State
		invalid bool
	}{
		{StateAwaitingDispatch, EventContentTypeResolved, StateStreaming, false},
		{StateAwaitingDispatch, EventTransportEnded, StateDone, false},
		{StateAwaitingDispatch, EventTransportFailed, StateDone, false},
		{StateAwaitingDispatch, EventChunkReceived, StateAwaitingDispatch, true},
		{StateStreaming, EventChunkReceived, StateStreaming, false},
		{StateStreaming, EventTransportEnded, StateDone, false},
		{StateStreaming, EventTransportFailed, StateDone, false},
		{StateStreaming, EventContentTypeResolved, StateStreaming, true},
		{StateDone, EventChunkReceived, StateDone, true},
		{StateDone, EventTransportEnded, StateDone, true},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.event.String(), func(t *testing.T) {
			got, err := Transition(tt.from, tt.event)
			assert.Equal(t, tt.to, got)
			if tt.invalid {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

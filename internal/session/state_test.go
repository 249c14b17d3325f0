package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNext_Transitions(t *testing.T) {
	tests := []struct {
		from State
		ev   Event
		to   State
		ok   bool
	}{
		{Disconnected, EventConnect, Connecting, true},
		{Connecting, EventTCPConnected, BindPending, true},
		{Connecting, EventTCPFailed, Disconnected, true},
		{BindPending, EventBindOK, Bound, true},
		{BindPending, EventBindFailed, Disconnected, true},
		{Bound, EventTraffic, Bound, true},
		{Bound, EventTimeout, Disconnected, true},
		{Bound, EventConnectionLost, Disconnected, true},
		{Bound, EventClose, Closing, true},
		{Closing, EventClosed, Disconnected, true},

		{Disconnected, EventBindOK, Disconnected, false},
		{Connecting, EventBindOK, Connecting, false},
		{Closing, EventConnect, Closing, false},
		{Bound, EventConnect, Bound, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.ev.String(), func(t *testing.T) {
			to, ok := Next(tt.from, tt.ev)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.to, to)
			}
		})
	}
}

func TestNext_OnlyBindOKEntersBound(t *testing.T) {
	for from, evs := range transitions {
		for ev, to := range evs {
			if to == Bound && from != Bound {
				assert.Equal(t, EventBindOK, ev, "from %s", from)
			}
		}
	}
}

func TestBackoff_NonDecreasingAndCapped(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2})

	prev := time.Duration(0)
	for i := 0; i < 50; i++ {
		d := b.Next()
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 2*time.Second)
		prev = d
	}
	assert.Equal(t, 2*time.Second, prev)
	assert.Equal(t, 50, b.Attempts())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
}

func TestBackoff_ExhaustJumpsToMax(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: time.Second, Max: time.Minute, Multiplier: 2})
	assert.Equal(t, time.Minute, b.Exhaust())
	assert.Equal(t, 1, b.Attempts())
}

func TestBackoff_Stable(t *testing.T) {
	b := NewBackoff(BackoffConfig{StabilityWindow: time.Second})
	assert.False(t, b.Stable(999*time.Millisecond))
	assert.True(t, b.Stable(time.Second))
}

func TestSequencer_WrapsAndSkipsBusy(t *testing.T) {
	var q sequencer
	assert.Equal(t, uint32(1), q.next(nil))
	assert.Equal(t, uint32(2), q.next(nil))

	q.last = 0x7FFFFFFE
	assert.Equal(t, uint32(0x7FFFFFFF), q.next(nil))
	assert.Equal(t, uint32(1), q.next(nil))

	busy := map[uint32]bool{2: true, 3: true}
	assert.Equal(t, uint32(4), q.next(func(n uint32) bool { return busy[n] }))

	q.reset()
	assert.Equal(t, uint32(1), q.next(nil))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, RejectThrottled, Classify(0x58))
	assert.Equal(t, RejectThrottled, Classify(0x14))
	assert.Equal(t, RejectInvalidDestination, Classify(0x0B))
	assert.Equal(t, RejectInvalidSource, Classify(0x0A))
	assert.Equal(t, RejectUnknown, Classify(0x08))

	assert.True(t, (&GatewayRejection{Kind: RejectThrottled}).Retryable())
	assert.True(t, (&GatewayRejection{Kind: RejectUnknown}).Retryable())
	assert.False(t, (&GatewayRejection{Kind: RejectInvalidDestination}).Retryable())
	assert.False(t, (&GatewayRejection{Kind: RejectInvalidSource}).Retryable())
}

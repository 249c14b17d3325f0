package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/smpp-transport/internal/smsc"
	"github.com/nimasrn/smpp-transport/pkg/smpp/pdu"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSMSC(t *testing.T) *smsc.Server {
	t.Helper()
	nop := zerolog.Nop()
	srv := smsc.New(smsc.Config{
		Addr:         "127.0.0.1:0",
		SystemID:     "esme",
		Password:     "secret",
		DeliveryRate: 1,
		MinDelay:     10 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		PackedGSM7:   true,
		Logger:       &nop,
	})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func startSession(t *testing.T, srv *smsc.Server, opts ...Option) *Session {
	t.Helper()
	s := New(Config{
		Addr:            srv.Addr(),
		SystemID:        "esme",
		Password:        "secret",
		BindMode:        BindTransceiver,
		EnquireInterval: time.Second,
		EnquireTimeout:  200 * time.Millisecond,
		SubmitTimeout:   time.Second,
		BindTimeout:     time.Second,
		Backoff: BackoffConfig{
			Initial:         10 * time.Millisecond,
			Max:             50 * time.Millisecond,
			Multiplier:      2,
			StabilityWindow: time.Hour,
		},
	}, opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func waitBound(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitBound(ctx))
}

func testMessage() *pdu.ShortMessage {
	return &pdu.ShortMessage{
		SourceAddr:         "ACME",
		SourceAddrTON:      pdu.TONAlphanumeric,
		DestinationAddr:    "15551234567",
		DestAddrTON:        pdu.TONInternational,
		DestAddrNPI:        pdu.NPIISDN,
		RegisteredDelivery: pdu.RegisteredDeliveryFinal,
		ShortMessage:       []byte("hello"),
	}
}

func TestSession_BindAndSubmit(t *testing.T) {
	srv := startSMSC(t)
	s := startSession(t, srv)
	waitBound(t, s)

	res, err := s.Submit(context.Background(), testMessage())
	require.NoError(t, err)
	assert.NotEmpty(t, res.MessageID)
	assert.Equal(t, uint32(2), res.Sequence)

	msg, ok := srv.Message(res.MessageID)
	require.True(t, ok)
	assert.Equal(t, "15551234567", msg.DestinationAddr)
	assert.Equal(t, 0, s.InFlight())
}

func TestSession_BindCarriesAddressing(t *testing.T) {
	srv := startSMSC(t)
	s := New(Config{
		Addr:       srv.Addr(),
		SystemID:   "esme",
		Password:   "secret",
		SystemType: "VMS",
		AddrTON:    pdu.TONInternational,
		AddrNPI:    pdu.NPIISDN,
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background()) //nolint
	waitBound(t, s)

	b := srv.LastBind()
	assert.Equal(t, "esme", b.SystemID)
	assert.Equal(t, "VMS", b.SystemType)
	assert.Equal(t, pdu.TONInternational, b.AddrTON)
	assert.Equal(t, pdu.NPIISDN, b.AddrNPI)
}

func TestSession_SubmitWhenNotBound(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:1"})
	_, err := s.Submit(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrNotBound)
	assert.True(t, IsTransport(err))
}

func TestSession_GatewayRejections(t *testing.T) {
	srv := startSMSC(t)
	s := startSession(t, srv)
	waitBound(t, s)

	srv.ThrottleNext(1)
	_, err := s.Submit(context.Background(), testMessage())
	var rej *GatewayRejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, RejectThrottled, rej.Kind)
	assert.True(t, rej.Retryable())

	srv.RejectNext(pdu.StatusInvDstAdr, 1)
	_, err = s.Submit(context.Background(), testMessage())
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, RejectInvalidDestination, rej.Kind)
	assert.False(t, rej.Retryable())
	assert.False(t, IsTransport(err))

	// The session stays bound through rejections.
	assert.True(t, s.IsBound())
	_, err = s.Submit(context.Background(), testMessage())
	assert.NoError(t, err)
}

func TestSession_ReconnectsAfterDrop(t *testing.T) {
	srv := startSMSC(t)
	s := startSession(t, srv)
	waitBound(t, s)

	srv.DropNextSubmits(1)
	_, err := s.Submit(context.Background(), testMessage())
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, ErrConnectionLost)

	require.Eventually(t, func() bool { return s.Reconnects() >= 1 && s.IsBound() }, 2*time.Second, 10*time.Millisecond)

	res, err := s.Submit(context.Background(), testMessage())
	require.NoError(t, err)
	// Sequence numbers restart on every connection: bind took 1.
	assert.Equal(t, uint32(2), res.Sequence)
}

func TestSession_ConcurrentSubmitsCorrelateBySequence(t *testing.T) {
	srv := startSMSC(t)
	srv.SetReceiptsEnabled(false)
	s := startSession(t, srv)
	waitBound(t, s)

	const n = 60
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sm := testMessage()
			sm.DestinationAddr = fmt.Sprintf("1555000%04d", i)
			res, err := s.Submit(context.Background(), sm)
			if err != nil {
				errs <- err
				return
			}
			msg, ok := srv.Message(res.MessageID)
			if !ok {
				errs <- fmt.Errorf("unknown message id %s", res.MessageID)
				return
			}
			if msg.DestinationAddr != sm.DestinationAddr {
				errs <- fmt.Errorf("seq %d: got %s, want %s", res.Sequence, msg.DestinationAddr, sm.DestinationAddr)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, srv.Messages(), n)
	assert.Equal(t, 0, s.InFlight())
}

func TestSession_DropWithTwoUnansweredSubmits(t *testing.T) {
	srv := startSMSC(t)
	srv.SetReceiptsEnabled(false)
	s := startSession(t, srv)
	waitBound(t, s)

	srv.HoldNextSubmits(2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Submit(context.Background(), testMessage())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, IsTransport(err), err.Error())
		assert.ErrorIs(t, err, ErrConnectionLost)
	}
	assert.Equal(t, 0, s.InFlight())
	assert.Empty(t, srv.Messages())

	require.Eventually(t, func() bool { return s.Reconnects() >= 1 && s.IsBound() }, 2*time.Second, 10*time.Millisecond)

	for range errs {
		_, err := s.Submit(context.Background(), testMessage())
		require.NoError(t, err)
	}
	assert.Len(t, srv.Messages(), 2)
}

func TestSession_KeepaliveTimeoutDropsConnection(t *testing.T) {
	srv := startSMSC(t)

	var mu sync.Mutex
	var seen []State
	s := New(Config{
		Addr:            srv.Addr(),
		SystemID:        "esme",
		Password:        "secret",
		EnquireInterval: 50 * time.Millisecond,
		EnquireTimeout:  50 * time.Millisecond,
		Backoff:         BackoffConfig{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond},
	}, WithStateListener(func(from, to State) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background()) //nolint
	waitBound(t, s)

	srv.IgnoreEnquireLink(true)
	require.Eventually(t, func() bool { return s.Reconnects() >= 1 }, 2*time.Second, 10*time.Millisecond)

	srv.IgnoreEnquireLink(false)
	waitBound(t, s)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == Bound
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, Disconnected)
}

func TestSession_BindRejectedBacksOff(t *testing.T) {
	srv := startSMSC(t)
	srv.RejectBinds(pdu.StatusInvPaswd)
	s := startSession(t, srv)

	time.Sleep(150 * time.Millisecond)
	assert.False(t, s.IsBound())
	assert.GreaterOrEqual(t, s.Reconnects(), 1)
	assert.Equal(t, int64(0), srv.Stats().Binds)

	srv.RejectBinds(pdu.StatusOK)
	waitBound(t, s)
}

func TestSession_DeliverHandlerReceivesReceipt(t *testing.T) {
	srv := startSMSC(t)

	got := make(chan string, 1)
	s := startSession(t, srv, WithDeliverHandler(func(ctx context.Context, sm *pdu.ShortMessage, opts pdu.Options) error {
		if sm.IsDeliveryReceipt() {
			id, _ := opts.CString(pdu.TagReceiptedMessageID)
			got <- id
		}
		return nil
	}))
	waitBound(t, s)

	res, err := s.Submit(context.Background(), testMessage())
	require.NoError(t, err)

	select {
	case id := <-got:
		assert.Equal(t, res.MessageID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("receipt not delivered")
	}
}

func TestSession_StopUnbinds(t *testing.T) {
	srv := startSMSC(t)
	s := startSession(t, srv)
	waitBound(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, Disconnected, s.State())

	require.Eventually(t, func() bool { return srv.Stats().Connections == 0 }, time.Second, 10*time.Millisecond)

	_, err := s.Submit(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrNotBound)
}

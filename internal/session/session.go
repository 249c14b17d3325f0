package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/smpp-transport/pkg/logger"
	"github.com/nimasrn/smpp-transport/pkg/prom"
	"github.com/nimasrn/smpp-transport/pkg/smpp/pdu"
)

type BindMode string

const (
	BindTransmitter BindMode = "transmitter"
	BindTransceiver BindMode = "transceiver"
)

type Config struct {
	Addr       string
	SystemID   string
	Password   string
	SystemType string
	BindMode   BindMode
	AddrTON    uint8
	AddrNPI    uint8

	EnquireInterval time.Duration
	EnquireTimeout  time.Duration
	SubmitTimeout   time.Duration
	BindTimeout     time.Duration
	DialTimeout     time.Duration
	WriteTimeout    time.Duration
	Backoff         BackoffConfig
}

func (c *Config) setDefaults() {
	if c.BindMode == "" {
		c.BindMode = BindTransceiver
	}
	if c.EnquireInterval <= 0 {
		c.EnquireInterval = 30 * time.Second
	}
	if c.EnquireTimeout <= 0 {
		c.EnquireTimeout = 10 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 10 * time.Second
	}
	if c.BindTimeout <= 0 {
		c.BindTimeout = 10 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// DeliverHandler receives every deliver_sm. A returned error answers the gateway
// with a temporary failure so it redelivers later.
type DeliverHandler func(ctx context.Context, sm *pdu.ShortMessage, opts pdu.Options) error

type StateListener func(from, to State)

type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

type Option func(*Session)

func WithDeliverHandler(h DeliverHandler) Option {
	return func(s *Session) { s.onDeliver = h }
}

func WithStateListener(l StateListener) Option {
	return func(s *Session) { s.listeners = append(s.listeners, l) }
}

func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dial = d }
}

type SubmitResult struct {
	MessageID string
	Sequence  uint32
}

type pending struct {
	link *link
	cmd  pdu.CommandID
	ch   chan *pdu.PDU
}

// Session owns one SMPP connection at a time and keeps it bound, reconnecting
// with backoff whenever it is lost.
type Session struct {
	cfg       Config
	dial      Dialer
	onDeliver DeliverHandler
	listeners []StateListener
	backoff   *Backoff

	mu         sync.Mutex
	state      State
	boundCh    chan struct{}
	link       *link
	seq        sequencer
	pending    map[uint32]*pending
	reconnects int
	started    bool
	stopping   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, opts ...Option) *Session {
	cfg.setDefaults()
	s := &Session{
		cfg:     cfg,
		backoff: NewBackoff(cfg.Backoff),
		boundCh: make(chan struct{}),
		pending: make(map[uint32]*pending),
	}
	s.dial = (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsBound() bool {
	return s.State() == Bound
}

func (s *Session) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// InFlight is the number of requests still waiting for a response.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// WaitBound blocks until the session is bound or ctx is done.
func (s *Session) WaitBound(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.state == Bound {
			s.mu.Unlock()
			return nil
		}
		ch := s.boundCh
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	prom.SetSessionState(Disconnected.String())
	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop lets in-flight requests finish, unbinds and closes the connection.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	wasBound := s.state == Bound
	s.mu.Unlock()

	if wasBound {
		s.drain(ctx)
	}

	// No reconnect may start once the context is gone.
	s.cancel()
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if s.fire(EventClose) && wasBound && l != nil {
		if _, err := s.roundTrip(ctx, l, pdu.Unbind, nil, s.cfg.EnquireTimeout); err != nil {
			logger.Warn("[session] unbind failed", "error", err)
		}
	}

	if l != nil {
		l.close(ErrClosed)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.fire(EventClosed)
	logger.Info("[session] stopped")
	return nil
}

func (s *Session) drain(ctx context.Context) {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for s.InFlight() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Submit sends one submit_sm and waits for its response. Once written, the request
// is awaited until the response or the submit timeout, whichever comes first.
func (s *Session) Submit(ctx context.Context, sm *pdu.ShortMessage, opts ...pdu.TLV) (SubmitResult, error) {
	s.mu.Lock()
	l, st := s.link, s.state
	s.mu.Unlock()
	if st != Bound || l == nil {
		return SubmitResult{}, ErrNotBound
	}

	start := time.Now()
	resp, err := s.roundTrip(ctx, l, pdu.SubmitSM, sm, s.cfg.SubmitTimeout, opts...)
	if err != nil {
		if errors.Is(err, ErrResponseTimeout) {
			l.close(err)
		}
		if IsTransport(err) {
			prom.IncSubmitResult("transport_error")
		}
		return SubmitResult{}, err
	}
	prom.ObserveSubmitLatency(time.Since(start))

	res := SubmitResult{Sequence: resp.Sequence}
	mr, ok := resp.Body.(*pdu.MessageResp)
	if resp.Status != pdu.StatusOK || !ok {
		status := resp.Status
		if status == pdu.StatusOK {
			status = pdu.StatusUnknownErr
		}
		rej := newRejection(pdu.SubmitSM, status)
		prom.IncSubmitResult(rej.Kind.String())
		return res, rej
	}
	prom.IncSubmitResult("ok")
	res.MessageID = mr.MessageID
	return res, nil
}

func (s *Session) fire(ev Event) bool {
	s.mu.Lock()
	from := s.state
	to, ok := Next(from, ev)
	if !ok {
		s.mu.Unlock()
		logger.Debug("[session] event ignored", "state", from.String(), "event", ev.String())
		return false
	}
	s.state = to
	if to == Bound && from != Bound {
		close(s.boundCh)
	} else if from == Bound && to != Bound {
		s.boundCh = make(chan struct{})
	}
	listeners := s.listeners
	s.mu.Unlock()

	if from != to {
		logger.Info("[session] state changed", "from", from.String(), "to", to.String(), "event", ev.String())
		prom.SetSessionState(to.String())
		for _, fn := range listeners {
			fn(from, to)
		}
	}
	return true
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		delay := s.connect()
		if s.ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		s.reconnects++
		s.mu.Unlock()
		prom.IncSessionReconnect()
		logger.Info("[session] reconnect scheduled", "delay", delay.String(), "failures", s.backoff.Attempts())

		t := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// connect runs one connection from dial to teardown and returns the wait before the next one.
func (s *Session) connect() time.Duration {
	s.fire(EventConnect)
	conn, err := s.dial(s.ctx, "tcp", s.cfg.Addr)
	if err != nil {
		s.fire(EventTCPFailed)
		logger.Warn("[session] dial failed", "addr", s.cfg.Addr, "error", err)
		return s.backoff.Next()
	}

	l := newLink(conn)
	s.mu.Lock()
	s.link = l
	s.seq.reset()
	s.mu.Unlock()
	defer s.teardown(l)

	s.fire(EventTCPConnected)
	l.wg.Add(2)
	go s.readLoop(l)
	go s.writeLoop(l)

	if err := s.bind(l); err != nil {
		s.fire(EventBindFailed)
		var rej *GatewayRejection
		if errors.As(err, &rej) && isCredentialFailure(rej.Status) {
			logger.Error("[session] bind rejected", "system_id", s.cfg.SystemID, "status", rej.Status.String())
			return s.backoff.Exhaust()
		}
		logger.Warn("[session] bind failed", "error", err)
		return s.backoff.Next()
	}
	boundAt := time.Now()
	s.fire(EventBindOK)

	l.wg.Add(1)
	go s.keepalive(l)

	<-l.done
	up := time.Since(boundAt)
	if errors.Is(l.err, ErrResponseTimeout) {
		s.fire(EventTimeout)
	} else {
		s.fire(EventConnectionLost)
	}
	if !errors.Is(l.err, ErrClosed) {
		logger.Warn("[session] connection lost", "error", l.err, "uptime", up.String())
	}
	if s.backoff.Stable(up) {
		s.backoff.Reset()
	}
	return s.backoff.Next()
}

func (s *Session) teardown(l *link) {
	l.close(&TransportError{Op: "close", Err: ErrConnectionLost})
	l.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == l {
		s.link = nil
	}
	for seq, p := range s.pending {
		if p.link == l {
			delete(s.pending, seq)
		}
	}
}

func (s *Session) bind(l *link) error {
	id := pdu.BindTransmitter
	if s.cfg.BindMode == BindTransceiver {
		id = pdu.BindTransceiver
	}
	body := &pdu.Bind{
		SystemID:         s.cfg.SystemID,
		Password:         s.cfg.Password,
		SystemType:       s.cfg.SystemType,
		InterfaceVersion: pdu.InterfaceVersion34,
		AddrTON:          s.cfg.AddrTON,
		AddrNPI:          s.cfg.AddrNPI,
	}

	resp, err := s.roundTrip(s.ctx, l, id, body, s.cfg.BindTimeout)
	if err != nil {
		return err
	}
	if resp.Status != pdu.StatusOK {
		return newRejection(id, resp.Status)
	}
	if resp.CommandID != id.Response() {
		return &TransportError{Op: id.String(), Err: fmt.Errorf("unexpected %s", resp.CommandID)}
	}
	if br, ok := resp.Body.(*pdu.BindResp); ok {
		logger.Info("[session] bound", "mode", string(s.cfg.BindMode), "smsc", br.SystemID)
	}
	return nil
}

// roundTrip allocates a sequence number, queues the request for the writer and
// waits for the matching response.
func (s *Session) roundTrip(ctx context.Context, l *link, id pdu.CommandID, body pdu.Body, timeout time.Duration, opts ...pdu.TLV) (*pdu.PDU, error) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return nil, &TransportError{Op: id.String(), Err: ErrConnectionLost}
	}
	seq := s.seq.next(func(n uint32) bool {
		_, busy := s.pending[n]
		return busy
	})
	p := &pending{link: l, cmd: id, ch: make(chan *pdu.PDU, 1)}
	s.pending[seq] = p
	s.mu.Unlock()

	raw, err := pdu.Encode(id, pdu.StatusOK, seq, body, opts...)
	if err != nil {
		s.forget(seq, p)
		return nil, err
	}
	if err := l.send(ctx, raw); err != nil {
		s.forget(seq, p)
		return nil, err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case resp := <-p.ch:
		return resp, nil
	case <-l.done:
		s.forget(seq, p)
		select {
		case resp := <-p.ch:
			return resp, nil
		default:
		}
		return nil, &TransportError{Op: id.String(), Err: ErrConnectionLost}
	case <-t.C:
		s.forget(seq, p)
		return nil, &TransportError{Op: id.String(), Err: ErrResponseTimeout}
	}
}

func (s *Session) forget(seq uint32, p *pending) {
	s.mu.Lock()
	if s.pending[seq] == p {
		delete(s.pending, seq)
	}
	s.mu.Unlock()
}

func (s *Session) resolve(l *link, resp *pdu.PDU) {
	s.mu.Lock()
	p, ok := s.pending[resp.Sequence]
	if ok && p.link == l {
		delete(s.pending, resp.Sequence)
	} else {
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		logger.Warn("[session] response without request", "command", resp.CommandID.String(), "sequence", resp.Sequence)
		return
	}
	if resp.CommandID != pdu.GenericNack && resp.CommandID != p.cmd.Response() {
		logger.Warn("[session] response does not match request", "want", p.cmd.Response().String(), "got", resp.CommandID.String())
	}
	p.ch <- resp
}

func (s *Session) readLoop(l *link) {
	defer l.wg.Done()
	r := pdu.NewReader(l.conn)
	for {
		p, err := r.Read()
		if err != nil {
			var me *pdu.MalformedError
			if errors.As(err, &me) && me.CommandID != 0 && !me.CommandID.Known() {
				logger.Warn("[session] unknown command", "command", me.CommandID.String(), "sequence", me.Sequence)
				s.reply(l, &pdu.PDU{CommandID: pdu.GenericNack, Status: pdu.StatusInvCmdID, Sequence: me.Sequence})
				continue
			}
			l.close(&TransportError{Op: "read", Err: err})
			return
		}
		l.touch()
		s.dispatch(l, p)
	}
}

func (s *Session) dispatch(l *link, p *pdu.PDU) {
	switch {
	case p.CommandID == pdu.GenericNack || p.CommandID.IsResponse():
		s.resolve(l, p)
	case p.CommandID == pdu.EnquireLink:
		s.reply(l, p.Response(pdu.StatusOK, nil))
	case p.CommandID == pdu.DeliverSM:
		l.wg.Add(1)
		go s.handleDeliver(l, p)
	case p.CommandID == pdu.Unbind:
		s.reply(l, p.Response(pdu.StatusOK, nil))
		l.close(&TransportError{Op: "unbind", Err: ErrPeerUnbind})
	default:
		s.reply(l, &pdu.PDU{CommandID: pdu.GenericNack, Status: pdu.StatusInvCmdID, Sequence: p.Sequence})
	}
}

func (s *Session) handleDeliver(l *link, p *pdu.PDU) {
	defer l.wg.Done()
	status := pdu.StatusOK
	if sm, ok := p.Body.(*pdu.ShortMessage); ok && s.onDeliver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SubmitTimeout)
		defer cancel()
		if err := s.onDeliver(ctx, sm, p.Options); err != nil {
			logger.Error("[session] deliver_sm handler failed", "sequence", p.Sequence, "error", err)
			status = pdu.StatusRxTAppn
		}
	}
	s.reply(l, p.Response(status, nil))
}

func (s *Session) reply(l *link, p *pdu.PDU) {
	raw, err := p.Marshal()
	if err != nil {
		logger.Error("[session] encode reply failed", "command", p.CommandID.String(), "error", err)
		return
	}
	if err := l.send(context.Background(), raw); err != nil {
		logger.Debug("[session] reply dropped", "command", p.CommandID.String(), "error", err)
	}
}

func (s *Session) writeLoop(l *link) {
	defer l.wg.Done()
	for {
		select {
		case raw := <-l.out:
			_ = l.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if _, err := l.conn.Write(raw); err != nil {
				l.close(&TransportError{Op: "write", Err: err})
				return
			}
			l.touch()
		case <-l.done:
			return
		}
	}
}

// keepalive sends enquire_link once the link has been idle for EnquireInterval.
// A missing response drops the connection.
func (s *Session) keepalive(l *link) {
	defer l.wg.Done()
	tick := s.cfg.EnquireInterval / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
		}
		if l.idle() < s.cfg.EnquireInterval {
			continue
		}
		if _, err := s.roundTrip(s.ctx, l, pdu.EnquireLink, nil, s.cfg.EnquireTimeout); err != nil {
			logger.Warn("[session] enquire_link failed", "error", err)
			l.close(&TransportError{Op: "enquire_link", Err: err})
			return
		}
	}
}

// link is the per connection state. Everything on it dies together when done closes.
type link struct {
	conn net.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
	err  error
	wg   sync.WaitGroup
	last atomic.Int64
}

func newLink(conn net.Conn) *link {
	l := &link{
		conn: conn,
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
	l.touch()
	return l
}

func (l *link) touch() {
	l.last.Store(time.Now().UnixNano())
}

func (l *link) idle() time.Duration {
	return time.Since(time.Unix(0, l.last.Load()))
}

func (l *link) close(err error) {
	l.once.Do(func() {
		l.err = err
		close(l.done)
		_ = l.conn.Close()
	})
}

func (l *link) send(ctx context.Context, raw []byte) error {
	select {
	case l.out <- raw:
		return nil
	case <-l.done:
		return &TransportError{Op: "write", Err: ErrConnectionLost}
	case <-ctx.Done():
		return ctx.Err()
	}
}

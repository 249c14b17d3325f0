package smsc

import (
	"errors"
	"math/rand"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/smpp-transport/internal/segmenter"
	"github.com/nimasrn/smpp-transport/pkg/smpp/pdu"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Addr     string
	SystemID string
	Password string

	// DeliveryRate is the share of messages whose receipt says DELIVRD.
	DeliveryRate float64
	MinDelay     time.Duration
	MaxDelay     time.Duration
	PackedGSM7   bool
	Logger       *zerolog.Logger
}

// Message is one accepted submit_sm.
type Message struct {
	ID              string    `json:"id"`
	ServiceType     string    `json:"service_type"`
	SourceAddr      string    `json:"source_addr"`
	SourceTON       uint8     `json:"source_ton"`
	SourceNPI       uint8     `json:"source_npi"`
	DestinationAddr string    `json:"destination_addr"`
	DestTON         uint8     `json:"dest_ton"`
	DestNPI         uint8     `json:"dest_npi"`
	DataCoding      uint8     `json:"data_coding"`
	ESMClass        uint8     `json:"esm_class"`
	ConcatRef       uint8     `json:"concat_ref"`
	PartIndex       int       `json:"part_index"`
	PartCount       int       `json:"part_count"`
	Text            string    `json:"text"`
	Registered      bool      `json:"registered_delivery"`
	Stat            string    `json:"stat"`
	SubmittedAt     time.Time `json:"submitted_at"`
	DoneAt          time.Time `json:"done_at,omitempty"`
}

type Stats struct {
	OperatorID   string  `json:"operator_id"`
	Connections  int     `json:"connections"`
	Binds        int64   `json:"binds"`
	Submits      int64   `json:"submits"`
	Receipts     int64   `json:"receipts"`
	DeliveryRate float64 `json:"delivery_rate"`
}

// Server is an in-process SMSC: it accepts binds, answers submits and sends
// delivery receipts back on transceiver binds. Failure modes can be scripted.
type Server struct {
	cfg        Config
	operatorID string
	log        zerolog.Logger

	ln    net.Listener
	wg    sync.WaitGroup
	quit  chan struct{}
	conns map[*conn]struct{}

	mu              sync.Mutex
	rng             *rand.Rand
	deliveryRate    float64
	messages        map[string]*Message
	script          []pdu.CommandStatus
	dropSubmits     int
	holdSubmits     int
	bindStatus      pdu.CommandStatus
	lastBind        pdu.Bind
	ignoreEnquire   bool
	receiptsEnabled bool

	binds    atomic.Int64
	submits  atomic.Int64
	receipts atomic.Int64
}

func New(cfg Config) *Server {
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	id := "SMSC_" + uuid.New().String()[:8]
	return &Server{
		cfg:             cfg,
		operatorID:      id,
		log:             l.With().Str("operator_id", id).Logger(),
		quit:            make(chan struct{}),
		conns:           make(map[*conn]struct{}),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		deliveryRate:    cfg.DeliveryRate,
		messages:        make(map[string]*Message),
		receiptsEnabled: true,
	}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("SMSC listening")

	s.wg.Add(1)
	go s.accept()
	return nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) OperatorID() string {
	return s.operatorID
}

func (s *Server) Close() error {
	close(s.quit)
	err := s.ln.Close()
	s.DisconnectAll()
	s.wg.Wait()
	return err
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		c := &conn{srv: s, nc: nc, remote: nc.RemoteAddr().String()}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go c.serve()
	}
}

// ThrottleNext answers the next n submits with ESME_RTHROTTLED.
func (s *Server) ThrottleNext(n int) {
	s.RejectNext(pdu.StatusThrottled, n)
}

// RejectNext answers the next n submits with status.
func (s *Server) RejectNext(status pdu.CommandStatus, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.script = append(s.script, status)
	}
}

// DropNextSubmits closes the connection instead of answering the next n submits.
func (s *Server) DropNextSubmits(n int) {
	s.mu.Lock()
	s.dropSubmits += n
	s.mu.Unlock()
}

// HoldNextSubmits leaves the next n submits unanswered and closes the
// connection once the last of them arrives.
func (s *Server) HoldNextSubmits(n int) {
	s.mu.Lock()
	s.holdSubmits += n
	s.mu.Unlock()
}

// RejectBinds answers every bind with status until it is reset to StatusOK.
func (s *Server) RejectBinds(status pdu.CommandStatus) {
	s.mu.Lock()
	s.bindStatus = status
	s.mu.Unlock()
}

func (s *Server) IgnoreEnquireLink(ignore bool) {
	s.mu.Lock()
	s.ignoreEnquire = ignore
	s.mu.Unlock()
}

func (s *Server) SetReceiptsEnabled(enabled bool) {
	s.mu.Lock()
	s.receiptsEnabled = enabled
	s.mu.Unlock()
}

func (s *Server) SetDeliveryRate(rate float64) {
	s.mu.Lock()
	s.deliveryRate = rate
	s.mu.Unlock()
	s.log.Info().Float64("rate", rate).Msg("Updated delivery rate")
}

func (s *Server) DisconnectAll() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.nc.Close()
	}
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		OperatorID:   s.operatorID,
		Connections:  len(s.conns),
		Binds:        s.binds.Load(),
		Submits:      s.submits.Load(),
		Receipts:     s.receipts.Load(),
		DeliveryRate: s.deliveryRate,
	}
}

// LastBind is the body of the most recent accepted bind.
func (s *Server) LastBind() pdu.Bind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBind
}

func (s *Server) Message(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Messages returns accepted submits in arrival order.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *m)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// SendReceipt delivers a receipt for id now, on any transceiver bind.
func (s *Server) SendReceipt(id, stat, errCode string) error {
	s.mu.Lock()
	m, ok := s.messages[id]
	if !ok {
		s.mu.Unlock()
		return errors.New("unknown message id")
	}
	m.Stat = stat
	m.DoneAt = time.Now()
	msg := *m
	s.mu.Unlock()

	r := Receipt{
		MessageID:  msg.ID,
		Stat:       stat,
		Err:        errCode,
		SubmitDate: msg.SubmittedAt,
		DoneDate:   msg.DoneAt,
		Text:       msg.Text,
	}
	sm, opts := r.PDU(&msg)
	c := s.receiver()
	if c == nil {
		return errors.New("no transceiver bound")
	}
	if err := c.send(pdu.DeliverSM, sm, opts...); err != nil {
		return err
	}
	s.receipts.Add(1)
	s.log.Info().Str("message_id", id).Str("stat", stat).Msg("Receipt sent")
	return nil
}

func (s *Server) receiver() *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if c.canReceive() {
			return c
		}
	}
	return nil
}

type submitAction int

const (
	submitAnswer submitAction = iota
	submitHold
	submitDrop
)

func (s *Server) nextSubmitAction() (submitAction, pdu.CommandStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holdSubmits > 0 {
		s.holdSubmits--
		if s.holdSubmits == 0 {
			return submitDrop, 0
		}
		return submitHold, 0
	}
	if s.dropSubmits > 0 {
		s.dropSubmits--
		return submitDrop, 0
	}
	var status pdu.CommandStatus
	if len(s.script) > 0 {
		status = s.script[0]
		s.script = s.script[1:]
	}
	return submitAnswer, status
}

func (s *Server) store(sm *pdu.ShortMessage) *Message {
	m := &Message{
		ID:              uuid.New().String(),
		ServiceType:     sm.ServiceType,
		SourceAddr:      sm.SourceAddr,
		SourceTON:       sm.SourceAddrTON,
		SourceNPI:       sm.SourceAddrNPI,
		DestinationAddr: sm.DestinationAddr,
		DestTON:         sm.DestAddrTON,
		DestNPI:         sm.DestAddrNPI,
		DataCoding:      sm.DataCoding,
		ESMClass:        sm.ESMClass,
		Registered:      sm.RegisteredDelivery&pdu.RegisteredDeliveryFinal != 0,
		Stat:            StatAccepted,
		SubmittedAt:     time.Now(),
		PartIndex:       1,
		PartCount:       1,
	}
	if d, err := segmenter.Decode(sm.ShortMessage, sm.DataCoding, sm.UDHI(), s.cfg.PackedGSM7); err == nil {
		m.Text = d.Text
		if sm.UDHI() {
			m.ConcatRef, m.PartIndex, m.PartCount = d.ConcatRef, d.PartIndex, d.PartCount
		}
	}

	s.mu.Lock()
	s.messages[m.ID] = m
	receipts := s.receiptsEnabled
	s.mu.Unlock()

	if m.Registered && receipts {
		s.scheduleReceipt(m.ID)
	}
	return m
}

func (s *Server) scheduleReceipt(id string) {
	s.mu.Lock()
	delay := s.cfg.MinDelay
	if d := s.cfg.MaxDelay - s.cfg.MinDelay; d > 0 {
		delay += time.Duration(s.rng.Int63n(int64(d)))
	}
	stat, errCode := StatDelivered, "000"
	if s.rng.Float64() >= s.deliveryRate {
		stat, errCode = StatUndeliverable, "001"
	}
	s.mu.Unlock()

	time.AfterFunc(delay, func() {
		select {
		case <-s.quit:
			return
		default:
		}
		if err := s.SendReceipt(id, stat, errCode); err != nil {
			s.log.Warn().Err(err).Str("message_id", id).Msg("Receipt not sent")
		}
	})
}

func (s *Server) remove(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) checkBind(b *pdu.Bind) pdu.CommandStatus {
	s.mu.Lock()
	forced := s.bindStatus
	s.mu.Unlock()
	switch {
	case forced != pdu.StatusOK:
		return forced
	case s.cfg.SystemID != "" && b.SystemID != s.cfg.SystemID:
		return pdu.StatusInvSysID
	case s.cfg.Password != "" && b.Password != s.cfg.Password:
		return pdu.StatusInvPaswd
	}
	return pdu.StatusOK
}

func (s *Server) enquireIgnored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ignoreEnquire
}

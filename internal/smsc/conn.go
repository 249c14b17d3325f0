package smsc

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/nimasrn/smpp-transport/pkg/smpp/pdu"
)

type conn struct {
	srv    *Server
	nc     net.Conn
	remote string

	wmu sync.Mutex
	seq uint32

	mu       sync.Mutex
	bound    bool
	bindKind pdu.CommandID
}

func (c *conn) canReceive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bound && (c.bindKind == pdu.BindTransceiver || c.bindKind == pdu.BindReceiver)
}

func (c *conn) isBound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bound
}

func (c *conn) serve() {
	defer c.srv.wg.Done()
	defer c.srv.remove(c)
	defer c.nc.Close()

	log := c.srv.log.With().Str("remote", c.remote).Logger()
	log.Info().Msg("ESME connected")

	r := pdu.NewReader(c.nc)
	for {
		p, err := r.Read()
		if err != nil {
			var me *pdu.MalformedError
			if errors.As(err, &me) && me.CommandID != 0 && !me.CommandID.Known() {
				_ = c.write(&pdu.PDU{CommandID: pdu.GenericNack, Status: pdu.StatusInvCmdID, Sequence: me.Sequence})
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Msg("read failed")
			}
			log.Info().Msg("ESME disconnected")
			return
		}

		switch p.CommandID {
		case pdu.BindTransmitter, pdu.BindTransceiver, pdu.BindReceiver:
			c.handleBind(p)
		case pdu.SubmitSM:
			if !c.handleSubmit(p) {
				return
			}
		case pdu.EnquireLink:
			if !c.srv.enquireIgnored() {
				_ = c.write(p.Response(pdu.StatusOK, nil))
			}
		case pdu.Unbind:
			_ = c.write(p.Response(pdu.StatusOK, nil))
			log.Info().Msg("ESME unbound")
			return
		case pdu.DeliverSMResp, pdu.EnquireLinkResp, pdu.UnbindResp, pdu.GenericNack:
			if p.Status != pdu.StatusOK {
				log.Warn().Str("command", p.CommandID.String()).Str("status", p.Status.String()).Msg("ESME answered with error")
			}
		default:
			_ = c.write(&pdu.PDU{CommandID: pdu.GenericNack, Status: pdu.StatusInvCmdID, Sequence: p.Sequence})
		}
	}
}

func (c *conn) handleBind(p *pdu.PDU) {
	b, _ := p.Body.(*pdu.Bind)
	var status pdu.CommandStatus
	if c.isBound() {
		status = pdu.StatusAlyBnd
	} else {
		status = c.srv.checkBind(b)
	}
	if status != pdu.StatusOK {
		c.srv.log.Warn().Str("system_id", b.SystemID).Str("status", status.String()).Msg("Bind rejected")
		_ = c.write(p.Response(status, nil))
		return
	}

	c.mu.Lock()
	c.bound = true
	c.bindKind = p.CommandID
	c.mu.Unlock()
	c.srv.mu.Lock()
	c.srv.lastBind = *b
	c.srv.mu.Unlock()
	c.srv.binds.Add(1)
	c.srv.log.Info().Str("system_id", b.SystemID).Str("mode", p.CommandID.String()).Msg("ESME bound")
	_ = c.write(p.Response(pdu.StatusOK, &pdu.BindResp{SystemID: c.srv.operatorID}))
}

// handleSubmit returns false when the connection was dropped on purpose.
func (c *conn) handleSubmit(p *pdu.PDU) bool {
	c.srv.submits.Add(1)
	if !c.isBound() {
		_ = c.write(p.Response(pdu.StatusInvBndSts, nil))
		return true
	}

	action, status := c.srv.nextSubmitAction()
	switch action {
	case submitHold:
		c.srv.log.Warn().Uint32("sequence", p.Sequence).Msg("Holding submit")
		return true
	case submitDrop:
		c.srv.log.Warn().Uint32("sequence", p.Sequence).Msg("Dropping connection on submit")
		return false
	}
	if status != pdu.StatusOK {
		c.srv.log.Info().Uint32("sequence", p.Sequence).Str("status", status.String()).Msg("Submit rejected")
		_ = c.write(p.Response(status, nil))
		return true
	}

	sm := p.Body.(*pdu.ShortMessage)
	m := c.srv.store(sm)
	c.srv.log.Info().
		Str("message_id", m.ID).
		Str("phone", m.DestinationAddr).
		Int("part", m.PartIndex).
		Int("parts", m.PartCount).
		Msg("Received submit_sm")
	_ = c.write(p.Response(pdu.StatusOK, &pdu.MessageResp{MessageID: m.ID}))
	return true
}

func (c *conn) send(id pdu.CommandID, body pdu.Body, opts ...pdu.TLV) error {
	c.wmu.Lock()
	c.seq++
	seq := c.seq
	c.wmu.Unlock()
	return c.write(&pdu.PDU{CommandID: id, Sequence: seq, Body: body, Options: opts})
}

func (c *conn) write(p *pdu.PDU) error {
	raw, err := p.Marshal()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.nc.Write(raw)
	return err
}

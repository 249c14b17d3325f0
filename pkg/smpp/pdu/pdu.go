package pdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Body is the command specific part of a PDU that sits between the header and the optional TLVs.
type Body interface {
	marshal(w *writer) error
	unmarshal(r *reader) error
}

type PDU struct {
	CommandID CommandID
	Status    CommandStatus
	Sequence  uint32
	Body      Body
	Options   Options
}

type Header struct {
	Length    uint32
	CommandID CommandID
	Status    CommandStatus
	Sequence  uint32
}

// Bind is the body shared by bind_transmitter, bind_transceiver and bind_receiver.
type Bind struct {
	SystemID         string
	Password         string
	SystemType       string
	InterfaceVersion uint8
	AddrTON          uint8
	AddrNPI          uint8
	AddressRange     string
}

type BindResp struct {
	SystemID string
}

// ShortMessage is the body layout shared by submit_sm and deliver_sm.
type ShortMessage struct {
	ServiceType          string
	SourceAddrTON        uint8
	SourceAddrNPI        uint8
	SourceAddr           string
	DestAddrTON          uint8
	DestAddrNPI          uint8
	DestinationAddr      string
	ESMClass             uint8
	ProtocolID           uint8
	PriorityFlag         uint8
	ScheduleDeliveryTime string
	ValidityPeriod       string
	RegisteredDelivery   uint8
	ReplaceIfPresentFlag uint8
	DataCoding           uint8
	SMDefaultMsgID       uint8
	ShortMessage         []byte
}

// MessageResp is the body of submit_sm_resp and deliver_sm_resp.
type MessageResp struct {
	MessageID string
}

// Empty is used by commands without a body (enquire_link, unbind, generic_nack and their responses).
type Empty struct{}

func (b *Bind) marshal(w *writer) error {
	if err := w.cstring("system_id", b.SystemID, 16); err != nil {
		return err
	}
	if err := w.cstring("password", b.Password, 9); err != nil {
		return err
	}
	if err := w.cstring("system_type", b.SystemType, 13); err != nil {
		return err
	}
	w.byte1(b.InterfaceVersion)
	w.byte1(b.AddrTON)
	w.byte1(b.AddrNPI)
	return w.cstring("address_range", b.AddressRange, 41)
}

func (b *Bind) unmarshal(r *reader) (err error) {
	if b.SystemID, err = r.cstring("system_id"); err != nil {
		return err
	}
	if b.Password, err = r.cstring("password"); err != nil {
		return err
	}
	if b.SystemType, err = r.cstring("system_type"); err != nil {
		return err
	}
	if b.InterfaceVersion, err = r.byte1("interface_version"); err != nil {
		return err
	}
	if b.AddrTON, err = r.byte1("addr_ton"); err != nil {
		return err
	}
	if b.AddrNPI, err = r.byte1("addr_npi"); err != nil {
		return err
	}
	b.AddressRange, err = r.cstring("address_range")
	return err
}

func (b *BindResp) marshal(w *writer) error {
	return w.cstring("system_id", b.SystemID, 16)
}

// unmarshal tolerates an absent body, which gateways send with a non-zero status.
func (b *BindResp) unmarshal(r *reader) (err error) {
	if r.remaining() == 0 {
		return nil
	}
	b.SystemID, err = r.cstring("system_id")
	return err
}

func (b *ShortMessage) marshal(w *writer) error {
	if len(b.ShortMessage) > 254 {
		return fmt.Errorf("%w: short_message is %d octets, use message_payload", ErrFieldTooLong, len(b.ShortMessage))
	}
	if err := w.cstring("service_type", b.ServiceType, 6); err != nil {
		return err
	}
	w.byte1(b.SourceAddrTON)
	w.byte1(b.SourceAddrNPI)
	if err := w.cstring("source_addr", b.SourceAddr, 21); err != nil {
		return err
	}
	w.byte1(b.DestAddrTON)
	w.byte1(b.DestAddrNPI)
	if err := w.cstring("destination_addr", b.DestinationAddr, 21); err != nil {
		return err
	}
	w.byte1(b.ESMClass)
	w.byte1(b.ProtocolID)
	w.byte1(b.PriorityFlag)
	if err := w.cstring("schedule_delivery_time", b.ScheduleDeliveryTime, 17); err != nil {
		return err
	}
	if err := w.cstring("validity_period", b.ValidityPeriod, 17); err != nil {
		return err
	}
	w.byte1(b.RegisteredDelivery)
	w.byte1(b.ReplaceIfPresentFlag)
	w.byte1(b.DataCoding)
	w.byte1(b.SMDefaultMsgID)
	w.byte1(uint8(len(b.ShortMessage)))
	w.Write(b.ShortMessage)
	return nil
}

func (b *ShortMessage) unmarshal(r *reader) (err error) {
	if b.ServiceType, err = r.cstring("service_type"); err != nil {
		return err
	}
	if b.SourceAddrTON, err = r.byte1("source_addr_ton"); err != nil {
		return err
	}
	if b.SourceAddrNPI, err = r.byte1("source_addr_npi"); err != nil {
		return err
	}
	if b.SourceAddr, err = r.cstring("source_addr"); err != nil {
		return err
	}
	if b.DestAddrTON, err = r.byte1("dest_addr_ton"); err != nil {
		return err
	}
	if b.DestAddrNPI, err = r.byte1("dest_addr_npi"); err != nil {
		return err
	}
	if b.DestinationAddr, err = r.cstring("destination_addr"); err != nil {
		return err
	}
	if b.ESMClass, err = r.byte1("esm_class"); err != nil {
		return err
	}
	if b.ProtocolID, err = r.byte1("protocol_id"); err != nil {
		return err
	}
	if b.PriorityFlag, err = r.byte1("priority_flag"); err != nil {
		return err
	}
	if b.ScheduleDeliveryTime, err = r.cstring("schedule_delivery_time"); err != nil {
		return err
	}
	if b.ValidityPeriod, err = r.cstring("validity_period"); err != nil {
		return err
	}
	if b.RegisteredDelivery, err = r.byte1("registered_delivery"); err != nil {
		return err
	}
	if b.ReplaceIfPresentFlag, err = r.byte1("replace_if_present_flag"); err != nil {
		return err
	}
	if b.DataCoding, err = r.byte1("data_coding"); err != nil {
		return err
	}
	if b.SMDefaultMsgID, err = r.byte1("sm_default_msg_id"); err != nil {
		return err
	}
	n, err := r.byte1("sm_length")
	if err != nil {
		return err
	}
	b.ShortMessage, err = r.octets("short_message", int(n))
	return err
}

// UDHI reports whether the payload starts with a user data header.
func (b *ShortMessage) UDHI() bool {
	return b.ESMClass&ESMUDHI != 0
}

// IsDeliveryReceipt reports whether a deliver_sm carries a delivery receipt.
func (b *ShortMessage) IsDeliveryReceipt() bool {
	return b.ESMClass&ESMDeliveryReceipt != 0
}

func (b *MessageResp) marshal(w *writer) error {
	return w.cstring("message_id", b.MessageID, 65)
}

func (b *MessageResp) unmarshal(r *reader) (err error) {
	if r.remaining() == 0 {
		return nil
	}
	b.MessageID, err = r.cstring("message_id")
	return err
}

func (Empty) marshal(*writer) error   { return nil }
func (Empty) unmarshal(*reader) error { return nil }

// NewBody returns a zero body for the given command.
func NewBody(id CommandID) (Body, error) {
	switch id {
	case BindTransmitter, BindTransceiver, BindReceiver:
		return &Bind{}, nil
	case BindTransmitterResp, BindTransceiverResp, BindReceiverResp:
		return &BindResp{}, nil
	case SubmitSM, DeliverSM:
		return &ShortMessage{}, nil
	case SubmitSMResp, DeliverSMResp:
		return &MessageResp{}, nil
	case EnquireLink, EnquireLinkResp, Unbind, UnbindResp, GenericNack:
		return Empty{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, id)
}

// Encode serializes one PDU. A nil body is replaced by the command's zero body.
func Encode(id CommandID, status CommandStatus, seq uint32, body Body, opts ...TLV) ([]byte, error) {
	if body == nil {
		b, err := NewBody(id)
		if err != nil {
			return nil, err
		}
		body = b
	}

	w := &writer{}
	w.Write(make([]byte, HeaderLen))
	if err := body.marshal(w); err != nil {
		return nil, fmt.Errorf("encode %s: %w", id, err)
	}
	for _, o := range opts {
		if err := w.tlv(o); err != nil {
			return nil, fmt.Errorf("encode %s: %w", id, err)
		}
	}

	out := w.Bytes()
	if len(out) > MaxPDULen {
		return nil, fmt.Errorf("encode %s: %w: %d octets", id, ErrFieldTooLong, len(out))
	}
	binary.BigEndian.PutUint32(out[0:4], uint32(len(out)))
	binary.BigEndian.PutUint32(out[4:8], uint32(id))
	binary.BigEndian.PutUint32(out[8:12], uint32(status))
	binary.BigEndian.PutUint32(out[12:16], seq)
	return out, nil
}

func (p *PDU) Marshal() ([]byte, error) {
	return Encode(p.CommandID, p.Status, p.Sequence, p.Body, p.Options...)
}

// ParseHeader reads the fixed header from the first 16 octets of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, malformed("header needs %d octets, have %d", HeaderLen, len(b))
	}
	return Header{
		Length:    binary.BigEndian.Uint32(b[0:4]),
		CommandID: CommandID(binary.BigEndian.Uint32(b[4:8])),
		Status:    CommandStatus(binary.BigEndian.Uint32(b[8:12])),
		Sequence:  binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// Decode parses exactly one PDU. The declared command_length must equal len(b).
func Decode(b []byte) (*PDU, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*PDU, error) {
		var me *MalformedError
		if errors.As(err, &me) {
			me.CommandID = h.CommandID
			me.Sequence = h.Sequence
			return nil, me
		}
		return nil, err
	}
	if int(h.Length) != len(b) {
		return fail(malformed("declared length %d, got %d octets", h.Length, len(b)))
	}

	body, err := NewBody(h.CommandID)
	if err != nil {
		return fail(malformed("%v", err))
	}
	r := &reader{buf: b, off: HeaderLen}
	// Error responses may omit the body entirely.
	if !(h.CommandID.IsResponse() && h.Status != StatusOK && r.remaining() == 0) {
		if err := body.unmarshal(r); err != nil {
			return fail(err)
		}
	}
	opts, err := r.tlvs()
	if err != nil {
		return fail(err)
	}

	return &PDU{
		CommandID: h.CommandID,
		Status:    h.Status,
		Sequence:  h.Sequence,
		Body:      body,
		Options:   opts,
	}, nil
}

// Response builds a response PDU for p with the same sequence number.
func (p *PDU) Response(status CommandStatus, body Body) *PDU {
	return &PDU{
		CommandID: p.CommandID.Response(),
		Status:    status,
		Sequence:  p.Sequence,
		Body:      body,
	}
}

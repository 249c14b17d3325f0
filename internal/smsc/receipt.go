package smsc

import (
	"fmt"
	"time"

	"github.com/nimasrn/smpp-transport/pkg/smpp/pdu"
)

// Receipt stat values as they appear in the receipt text.
const (
	StatDelivered     = "DELIVRD"
	StatExpired       = "EXPIRED"
	StatDeleted       = "DELETED"
	StatUndeliverable = "UNDELIV"
	StatAccepted      = "ACCEPTD"
	StatUnknown       = "UNKNOWN"
	StatRejected      = "REJECTD"
)

const receiptTimeLayout = "0601021504"

type Receipt struct {
	MessageID  string
	Stat       string
	Err        string
	SubmitDate time.Time
	DoneDate   time.Time
	Text       string
}

// Format renders the conventional SMPP 3.4 appendix B receipt text.
func (r Receipt) Format() string {
	delivered := "000"
	if r.Stat == StatDelivered {
		delivered = "001"
	}
	errCode := r.Err
	if errCode == "" {
		errCode = "000"
	}
	text := r.Text
	if len(text) > 20 {
		text = text[:20]
	}
	return fmt.Sprintf("id:%s sub:001 dlvrd:%s submit date:%s done date:%s stat:%s err:%s text:%s",
		r.MessageID, delivered,
		r.SubmitDate.Format(receiptTimeLayout), r.DoneDate.Format(receiptTimeLayout),
		r.Stat, errCode, text)
}

func messageState(stat string) uint8 {
	switch stat {
	case StatDelivered:
		return pdu.StateDelivered
	case StatExpired:
		return pdu.StateExpired
	case StatDeleted:
		return pdu.StateDeleted
	case StatUndeliverable:
		return pdu.StateUndeliverable
	case StatAccepted:
		return pdu.StateAccepted
	case StatRejected:
		return pdu.StateRejected
	}
	return pdu.StateUnknown
}

// PDU builds the deliver_sm carrying this receipt, addressed back to the original sender.
func (r Receipt) PDU(msg *Message) (*pdu.ShortMessage, []pdu.TLV) {
	sm := &pdu.ShortMessage{
		SourceAddrTON:   msg.DestTON,
		SourceAddrNPI:   msg.DestNPI,
		SourceAddr:      msg.DestinationAddr,
		DestAddrTON:     msg.SourceTON,
		DestAddrNPI:     msg.SourceNPI,
		DestinationAddr: msg.SourceAddr,
		ESMClass:        pdu.ESMDeliveryReceipt,
		DataCoding:      pdu.CodingDefault,
		ShortMessage:    []byte(r.Format()),
	}
	opts := []pdu.TLV{
		pdu.StringTLV(pdu.TagReceiptedMessageID, r.MessageID),
		pdu.Uint8TLV(pdu.TagMessageState, messageState(r.Stat)),
	}
	return sm, opts
}

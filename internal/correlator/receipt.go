package correlator

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/pkg/smpp/pdu"
)

var ErrNotReceipt = errors.New("deliver_sm is not a delivery receipt")
var ErrNoMessageID = errors.New("receipt carries no message id")

// Receipt is the parsed content of a delivery receipt.
type Receipt struct {
	MessageID  string
	Stat       string
	ErrorCode  string
	SubmitDate *time.Time
	DoneDate   *time.Time
	Status     model.DeliveryStatus
}

// Update is the record change this receipt asks for.
func (r Receipt) Update() model.ReceiptUpdate {
	return model.ReceiptUpdate{
		Status:            r.Status,
		GatewaySubmitTime: r.SubmitDate,
		GatewayDoneTime:   r.DoneDate,
		ErrorCode:         r.ErrorCode,
	}
}

// ParseDeliver extracts a receipt from a deliver_sm. The receipted_message_id and
// message_state TLVs win over the text fields when both are present.
func ParseDeliver(sm *pdu.ShortMessage, opts pdu.Options) (Receipt, error) {
	if !sm.IsDeliveryReceipt() {
		return Receipt{}, ErrNotReceipt
	}
	r := ParseReceiptText(string(sm.ShortMessage))

	if id, ok := opts.CString(pdu.TagReceiptedMessageID); ok && id != "" {
		r.MessageID = id
	}
	if st, ok := opts.Uint8(pdu.TagMessageState); ok {
		r.Status = statusFromState(st)
		if r.Stat == "" {
			r.Stat = stateNames[st]
		}
	}
	if code, ok := opts.NetworkErrorCode(); ok && (r.ErrorCode == "" || r.ErrorCode == "000") {
		r.ErrorCode = strconv.Itoa(int(code))
	}
	if r.MessageID == "" {
		return r, ErrNoMessageID
	}
	return r, nil
}

// ParseReceiptText reads the "id:... sub:... dlvrd:... submit date:... done date:...
// stat:... err:... text:..." layout. Missing fields are left empty.
func ParseReceiptText(text string) Receipt {
	lower := strings.ToLower(text)
	r := Receipt{
		MessageID: field(text, lower, "id:"),
		Stat:      strings.ToUpper(field(text, lower, "stat:")),
		ErrorCode: field(text, lower, "err:"),
	}
	r.SubmitDate = parseReceiptTime(field(text, lower, "submit date:"))
	r.DoneDate = parseReceiptTime(field(text, lower, "done date:"))
	r.Status = statusFromStat(r.Stat)
	return r
}

func field(text, lower, key string) string {
	i := strings.Index(lower, key)
	if i < 0 {
		return ""
	}
	v := text[i+len(key):]
	if j := strings.IndexByte(v, ' '); j >= 0 {
		v = v[:j]
	}
	return strings.TrimSpace(v)
}

func parseReceiptTime(v string) *time.Time {
	var layout string
	switch len(v) {
	case 10:
		layout = "0601021504"
	case 12:
		layout = "060102150405"
	default:
		return nil
	}
	t, err := time.ParseInLocation(layout, v, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

func statusFromStat(stat string) model.DeliveryStatus {
	switch stat {
	case "DELIVRD":
		return model.DeliveryStatusDelivered
	case "EXPIRED":
		return model.DeliveryStatusExpired
	case "UNDELIV", "REJECTD", "DELETED":
		return model.DeliveryStatusFailed
	case "ACCEPTD", "ENROUTE":
		return model.DeliveryStatusSent
	}
	return model.DeliveryStatusUnknown
}

var stateNames = map[uint8]string{
	pdu.StateEnroute:       "ENROUTE",
	pdu.StateDelivered:     "DELIVRD",
	pdu.StateExpired:       "EXPIRED",
	pdu.StateDeleted:       "DELETED",
	pdu.StateUndeliverable: "UNDELIV",
	pdu.StateAccepted:      "ACCEPTD",
	pdu.StateUnknown:       "UNKNOWN",
	pdu.StateRejected:      "REJECTD",
}

func statusFromState(st uint8) model.DeliveryStatus {
	if name, ok := stateNames[st]; ok {
		return statusFromStat(name)
	}
	return model.DeliveryStatusUnknown
}

package correlator

import (
	"testing"
	"time"

	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/pkg/smpp/pdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReceiptText(t *testing.T) {
	text := "id:0123456789 sub:001 dlvrd:001 submit date:2510161230 done date:2510161231 stat:DELIVRD err:000 text:hello there"
	r := ParseReceiptText(text)

	assert.Equal(t, "0123456789", r.MessageID)
	assert.Equal(t, "DELIVRD", r.Stat)
	assert.Equal(t, "000", r.ErrorCode)
	assert.Equal(t, model.DeliveryStatusDelivered, r.Status)
	require.NotNil(t, r.SubmitDate)
	require.NotNil(t, r.DoneDate)
	assert.Equal(t, time.Date(2025, 10, 16, 12, 30, 0, 0, time.UTC), *r.SubmitDate)
	assert.Equal(t, time.Date(2025, 10, 16, 12, 31, 0, 0, time.UTC), *r.DoneDate)
}

func TestParseReceiptText_Variants(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		status model.DeliveryStatus
	}{
		{"undeliverable", "id:a1 stat:UNDELIV err:001", model.DeliveryStatusFailed},
		{"rejected", "id:a1 stat:REJECTD err:002", model.DeliveryStatusFailed},
		{"deleted", "id:a1 stat:DELETED", model.DeliveryStatusFailed},
		{"expired", "id:a1 stat:EXPIRED", model.DeliveryStatusExpired},
		{"enroute", "id:a1 stat:ENROUTE", model.DeliveryStatusSent},
		{"accepted", "id:a1 stat:ACCEPTD", model.DeliveryStatusSent},
		{"unknown", "id:a1 stat:UNKNOWN", model.DeliveryStatusUnknown},
		{"lower case", "ID:a1 Stat:delivrd", model.DeliveryStatusDelivered},
		{"missing stat", "id:a1", model.DeliveryStatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseReceiptText(tt.text)
			assert.Equal(t, "a1", r.MessageID)
			assert.Equal(t, tt.status, r.Status)
		})
	}
}

func TestParseReceiptText_SecondsLayout(t *testing.T) {
	r := ParseReceiptText("id:x submit date:251016123045 done date:bogus stat:DELIVRD")
	require.NotNil(t, r.SubmitDate)
	assert.Equal(t, 45, r.SubmitDate.Second())
	assert.Nil(t, r.DoneDate)
}

func TestParseDeliver(t *testing.T) {
	t.Run("tlvs override text", func(t *testing.T) {
		sm := &pdu.ShortMessage{
			ESMClass:     pdu.ESMDeliveryReceipt,
			ShortMessage: []byte("id:text-id stat:ENROUTE err:000"),
		}
		opts := pdu.Options{
			pdu.StringTLV(pdu.TagReceiptedMessageID, "tlv-id"),
			pdu.Uint8TLV(pdu.TagMessageState, pdu.StateUndeliverable),
		}
		r, err := ParseDeliver(sm, opts)
		require.NoError(t, err)
		assert.Equal(t, "tlv-id", r.MessageID)
		assert.Equal(t, model.DeliveryStatusFailed, r.Status)
	})

	t.Run("state only in tlv", func(t *testing.T) {
		sm := &pdu.ShortMessage{ESMClass: pdu.ESMDeliveryReceipt}
		opts := pdu.Options{
			pdu.StringTLV(pdu.TagReceiptedMessageID, "m1"),
			pdu.Uint8TLV(pdu.TagMessageState, pdu.StateDelivered),
		}
		r, err := ParseDeliver(sm, opts)
		require.NoError(t, err)
		assert.Equal(t, "DELIVRD", r.Stat)
		assert.Equal(t, model.DeliveryStatusDelivered, r.Status)
	})

	t.Run("mobile originated", func(t *testing.T) {
		_, err := ParseDeliver(&pdu.ShortMessage{ShortMessage: []byte("hi")}, nil)
		assert.ErrorIs(t, err, ErrNotReceipt)
	})

	t.Run("no id", func(t *testing.T) {
		sm := &pdu.ShortMessage{ESMClass: pdu.ESMDeliveryReceipt, ShortMessage: []byte("stat:DELIVRD")}
		_, err := ParseDeliver(sm, nil)
		assert.ErrorIs(t, err, ErrNoMessageID)
	})
}

func TestIDForms(t *testing.T) {
	assert.Equal(t, []string{"255", "ff", "FF", "597"}, idForms("255"))
	assert.Equal(t, []string{"ff", "255"}, idForms("ff"))
	assert.Equal(t, []string{"not-hex"}, idForms("not-hex"))
	assert.Len(t, idForms("6f1c2d7e-8a9b-4c3d-9e8f-0a1b2c3d4e5f"), 1)
}

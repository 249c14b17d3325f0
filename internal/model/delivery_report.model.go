package model

import (
	"fmt"
	"time"
)

type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusExpired   DeliveryStatus = "expired"
	DeliveryStatusUnknown   DeliveryStatus = "unknown"
)

// Terminal records never change again.
func (s DeliveryStatus) Terminal() bool {
	switch s {
	case DeliveryStatusDelivered, DeliveryStatusFailed, DeliveryStatusExpired:
		return true
	}
	return false
}

// DeliveryRecord tracks one accepted segment submit.
type DeliveryRecord struct {
	ID                int64          `json:"id"`
	GatewayMessageID  string         `json:"gateway_message_id"`
	RequestID         string         `json:"request_id"`
	SegmentIndex      int            `json:"segment_index"`
	Status            DeliveryStatus `json:"status"`
	SubmittedAt       time.Time      `json:"submitted_at"`
	GatewaySubmitTime *time.Time     `json:"gateway_submit_time,omitempty"`
	GatewayDoneTime   *time.Time     `json:"gateway_done_time,omitempty"`
	ErrorCode         string         `json:"error_code,omitempty"`
}

// ReceiptUpdate is the outcome carried by a delivery receipt.
type ReceiptUpdate struct {
	Status            DeliveryStatus
	GatewaySubmitTime *time.Time
	GatewayDoneTime   *time.Time
	ErrorCode         string
}

// AggregateDeliveries folds the records of one request into its delivery outcome.
// done is false while any of the partCount segments has no terminal record.
func AggregateDeliveries(records []*DeliveryRecord, partCount int) (status RequestStatus, reason string, done bool) {
	best := make(map[int]*DeliveryRecord, partCount)
	for _, r := range records {
		cur, ok := best[r.SegmentIndex]
		if !ok || rank(r.Status) > rank(cur.Status) {
			best[r.SegmentIndex] = r
		}
	}

	pending := false
	for i := 1; i <= partCount; i++ {
		r, ok := best[i]
		switch {
		case !ok || !r.Status.Terminal():
			pending = true
		case r.Status == DeliveryStatusFailed:
			return RequestStatusFailed, failureReason(r), true
		case r.Status == DeliveryStatusExpired:
			return RequestStatusFailed, ReasonExpired, true
		}
	}
	if pending {
		return RequestStatusSent, "", false
	}
	return RequestStatusDelivered, "", true
}

// A delivered segment outranks a pending resubmit of it, which outranks a failure.
func rank(s DeliveryStatus) int {
	switch s {
	case DeliveryStatusDelivered:
		return 3
	case DeliveryStatusSent, DeliveryStatusUnknown:
		return 2
	}
	return 1
}

func failureReason(r *DeliveryRecord) string {
	if r.ErrorCode != "" {
		return fmt.Sprintf("segment %d undelivered (err %s)", r.SegmentIndex, r.ErrorCode)
	}
	return fmt.Sprintf("segment %d undelivered", r.SegmentIndex)
}

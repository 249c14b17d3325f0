package model

import (
	"time"
)

// RequestStatus is the lifecycle state of a send request as seen by the status consumer.
type RequestStatus string

const (
	RequestStatusQueued    RequestStatus = "queued"
	RequestStatusSent      RequestStatus = "sent"
	RequestStatusDelivered RequestStatus = "delivered"
	RequestStatusFailed    RequestStatus = "failed"
)

func (s RequestStatus) Terminal() bool {
	return s == RequestStatusDelivered || s == RequestStatusFailed
}

// Reasons recorded as last_error when a request is forced to failed.
const (
	ReasonExpired            = "expired"
	ReasonMaxAttempts        = "max attempts exceeded"
	ReasonInvalidDestination = "invalid destination"
	ReasonInvalidSource      = "invalid source"
)

type SendRequest struct {
	ID           string        `json:"request_id"`
	Phone        string        `json:"phone"`
	Text         string        `json:"text"`
	Priority     string        `json:"priority"`
	Status       RequestStatus `json:"status"`
	LastError    string        `json:"last_error,omitempty"`
	AttemptCount int           `json:"attempt_count"`
	PartCount    int           `json:"part_count"`
	Encoding     string        `json:"encoding,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	FinalizedAt  *time.Time    `json:"finalized_at,omitempty"`
}

// SendRequestCreate is the producer input.
type SendRequestCreate struct {
	Phone    string `json:"phone"    validate:"required,e164"`
	Text     string `json:"text"     validate:"required"`
	Priority string `json:"priority" validate:"omitempty,oneof=high normal low"`
}

// RequestStatusView is what the status consumer reads.
type RequestStatusView struct {
	RequestID string        `json:"request_id"`
	Status    RequestStatus `json:"status"`
	LastError string        `json:"last_error,omitempty"`
}

func (r *SendRequest) View() RequestStatusView {
	return RequestStatusView{
		RequestID: r.ID,
		Status:    r.Status,
		LastError: r.LastError,
	}
}

// SendRequestProgress is written by the worker while a request is not terminal.
type SendRequestProgress struct {
	Status       RequestStatus
	AttemptCount int
	PartCount    int
	Encoding     string
	LastError    string
}

// StatusEvent is published once per request when it reaches a terminal status.
type StatusEvent struct {
	RequestID   string        `json:"request_id"`
	Status      RequestStatus `json:"status"`
	LastError   string        `json:"last_error,omitempty"`
	Priority    string        `json:"priority"`
	Attempts    int           `json:"attempts"`
	CreatedAt   time.Time     `json:"created_at"`
	FinalizedAt time.Time     `json:"finalized_at"`
}

// SMSJob is the queue payload for one send request. Segment progress travels with
// the job so a retry resumes at the part that failed.
type SMSJob struct {
	RequestID   string    `json:"request_id"`
	Phone       string    `json:"phone"`
	Text        string    `json:"text"`
	Priority    string    `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
	Attempts    int       `json:"attempts"`
	NextSegment int       `json:"next_segment,omitempty"`
	ConcatRef   *uint8    `json:"concat_ref,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

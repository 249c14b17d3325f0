package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/internal/queue"
	"github.com/nimasrn/smpp-transport/internal/segmenter"
	"github.com/nimasrn/smpp-transport/pkg/logger"
)

// ValidationError rejects a request before it is stored or queued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type SendRequestRepository interface {
	Create(ctx context.Context, req *model.SendRequest) (*model.SendRequest, error)
	Delete(ctx context.Context, id string) error
}

type JobPublisher interface {
	PublishJSON(ctx context.Context, p queue.Priority, data interface{}, metadata map[string]string) (string, error)
}

// SMSService is the producer entry point. It never talks to the gateway.
type SMSService struct {
	requests  SendRequestRepository
	queue     JobPublisher
	segmenter *segmenter.Segmenter
	validate  *validator.Validate
}

func NewSMSService(requests SendRequestRepository, q JobPublisher, seg *segmenter.Segmenter) *SMSService {
	if seg == nil {
		seg = segmenter.New()
	}
	return &SMSService{
		requests:  requests,
		queue:     q,
		segmenter: seg,
		validate:  validator.New(),
	}
}

// SubmitSMS stores a send request and queues it. It fails only on invalid input or
// when the store or queue is unreachable.
func (s *SMSService) SubmitSMS(ctx context.Context, phone, text string, priority queue.Priority) (string, error) {
	in := model.SendRequestCreate{
		Phone:    strings.TrimSpace(phone),
		Text:     text,
		Priority: string(priority),
	}
	if err := s.validate.Struct(&in); err != nil {
		return "", toValidationError(err)
	}
	p, ok := queue.ParsePriority(in.Priority)
	if !ok {
		return "", &ValidationError{Field: "priority", Reason: "must be high, normal or low"}
	}

	id := uuid.NewString()
	segs, err := s.segmenter.Split(id, in.Text)
	if err != nil {
		switch {
		case errors.Is(err, segmenter.ErrEmptyMessage):
			return "", &ValidationError{Field: "text", Reason: "is empty"}
		case errors.Is(err, segmenter.ErrTooManyParts):
			return "", &ValidationError{Field: "text", Reason: "is too long"}
		}
		return "", &ValidationError{Field: "text", Reason: err.Error()}
	}

	now := time.Now().UTC()
	created, err := s.requests.Create(ctx, &model.SendRequest{
		ID:        id,
		Phone:     in.Phone,
		Text:      in.Text,
		Priority:  string(p),
		Status:    model.RequestStatusQueued,
		PartCount: len(segs),
		Encoding:  string(segs[0].Encoding),
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("store request: %w", err)
	}

	job := model.SMSJob{
		RequestID: created.ID,
		Phone:     created.Phone,
		Text:      created.Text,
		Priority:  created.Priority,
		CreatedAt: now,
	}
	if _, err := s.queue.PublishJSON(ctx, p, job, map[string]string{"request_id": created.ID}); err != nil {
		if derr := s.requests.Delete(ctx, created.ID); derr != nil {
			logger.Error("[sms] cleanup of unqueued request failed", "request_id", created.ID, "error", derr)
		}
		return "", fmt.Errorf("enqueue request: %w", err)
	}

	logger.Debug("[sms] request queued", "request_id", created.ID, "priority", p, "parts", len(segs))
	return created.ID, nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: "request", Reason: err.Error()}
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: field, Reason: "is required"}
	case "e164":
		return &ValidationError{Field: field, Reason: "must be an E.164 number"}
	case "oneof":
		return &ValidationError{Field: field, Reason: "must be one of " + fe.Param()}
	}
	return &ValidationError{Field: field, Reason: fe.Tag()}
}

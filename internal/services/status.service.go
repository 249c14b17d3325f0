package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/internal/repository"
	"github.com/nimasrn/smpp-transport/pkg/logger"
	"github.com/nimasrn/smpp-transport/pkg/prom"
	"github.com/nimasrn/smpp-transport/pkg/redis"
)

const (
	DefaultStatusStream    = "sms:status"
	DefaultReportedTTL     = 24 * time.Hour
	MaxEventsPage          = 500
	reportedKeyPrefix      = "sms:reported:"
	statusStreamMaxLen     = 100_000
	statusEventPayloadName = "data"
)

var ErrNotFound = errors.New("request not found")

type RequestStore interface {
	Get(ctx context.Context, id string) (*model.SendRequest, error)
	Finalize(ctx context.Context, id string, status model.RequestStatus, reason string) (bool, error)
}

// StatusService is the status sink. Terminal results are written once and then
// announced on a redis stream for the notification layer.
type StatusService struct {
	requests    RequestStore
	redis       redis.RedisAdapter
	stream      string
	reportedTTL time.Duration
	now         func() time.Time
}

func NewStatusService(requests RequestStore, adapter redis.RedisAdapter) *StatusService {
	return &StatusService{
		requests:    requests,
		redis:       adapter,
		stream:      DefaultStatusStream,
		reportedTTL: DefaultReportedTTL,
		now:         time.Now,
	}
}

func (s *StatusService) Stream() string {
	return s.stream
}

// GetStatus is the consumer side query.
func (s *StatusService) GetStatus(ctx context.Context, requestID string) (*model.RequestStatusView, error) {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	v := req.View()
	return &v, nil
}

// Finalize moves a request to delivered or failed. It returns false when the request
// was already terminal; in that case nothing is reported again.
func (s *StatusService) Finalize(ctx context.Context, requestID string, status model.RequestStatus, reason string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("finalize %s: %q is not a terminal status", requestID, status)
	}

	changed, err := s.requests.Finalize(ctx, requestID, status, reason)
	if err != nil {
		return false, fmt.Errorf("finalize %s: %w", requestID, err)
	}
	if !changed {
		logger.Debug("[status] request already final", "request_id", requestID, "status", status)
		return false, nil
	}

	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		// The row is final; only the announcement is lost.
		logger.Error("[status] reload after finalize failed", "request_id", requestID, "error", err)
		return true, nil
	}
	s.report(ctx, req)
	return true, nil
}

func (s *StatusService) report(ctx context.Context, req *model.SendRequest) {
	ok, err := s.redis.SetNX(ctx, reportedKeyPrefix+req.ID, []byte(req.Status), s.reportedTTL)
	if err != nil {
		logger.Error("[status] reported marker failed", "request_id", req.ID, "error", err)
		return
	}
	if !ok {
		logger.Warn("[status] duplicate final report suppressed", "request_id", req.ID)
		return
	}

	finalized := s.now()
	if req.FinalizedAt != nil {
		finalized = *req.FinalizedAt
	}
	ev := model.StatusEvent{
		RequestID:   req.ID,
		Status:      req.Status,
		LastError:   req.LastError,
		Priority:    req.Priority,
		Attempts:    req.AttemptCount,
		CreatedAt:   req.CreatedAt,
		FinalizedAt: finalized,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		logger.Error("[status] encode event failed", "request_id", req.ID, "error", err)
		return
	}
	if _, err := s.redis.XAdd(ctx, s.stream, statusStreamMaxLen, map[string]interface{}{
		statusEventPayloadName: string(b),
		"request_id":           req.ID,
		"status":               string(req.Status),
	}); err != nil {
		logger.Error("[status] publish event failed", "request_id", req.ID, "error", err)
	}

	prom.AddFinalStatus(string(req.Status), req.Priority, finalized.Sub(req.CreatedAt).Seconds())
	logger.Info("[status] request final",
		"request_id", req.ID,
		"status", req.Status,
		"attempts", req.AttemptCount,
		"last_error", req.LastError)
}

// Events reads up to limit status events published after the given stream id;
// an empty id reads from the start. limit is capped at MaxEventsPage.
func (s *StatusService) Events(ctx context.Context, after string, limit int) ([]model.StatusEvent, string, error) {
	if limit <= 0 || limit > MaxEventsPage {
		limit = MaxEventsPage
	}
	start, count := after, int64(limit)
	if start == "" {
		start = "-"
	} else {
		// The range is inclusive, so the cursor entry itself comes back first.
		count++
	}
	msgs, err := s.redis.XRangeN(ctx, s.stream, start, "+", count)
	if err != nil {
		return nil, "", err
	}
	events := make([]model.StatusEvent, 0, len(msgs))
	last := after
	read := 0
	for _, m := range msgs {
		if m.ID == after {
			continue
		}
		if read == limit {
			break
		}
		read++
		last = m.ID
		raw, ok := m.Values[statusEventPayloadName].(string)
		if !ok {
			continue
		}
		var ev model.StatusEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			logger.Warn("[status] undecodable event", "id", m.ID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, last, nil
}

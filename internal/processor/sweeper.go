package processor

import (
	"context"
	"time"

	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/pkg/logger"
)

type ExpiredLister interface {
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*model.SendRequest, error)
}

type OpenRecordExpirer interface {
	ExpireOpen(ctx context.Context, requestID string) ([]string, error)
}

type MappingForgetter interface {
	Forget(ctx context.Context, gatewayIDs ...string) error
}

const sweepBatch = 100

// ExpirySweeper fails requests that outlived MaxLifetime without a terminal status,
// whether they are still queued or waiting on receipts.
type ExpirySweeper struct {
	requests    ExpiredLister
	records     OpenRecordExpirer
	mappings    MappingForgetter
	sink        Finalizer
	maxLifetime time.Duration
	interval    time.Duration
	now         func() time.Time
}

func NewExpirySweeper(requests ExpiredLister, records OpenRecordExpirer, mappings MappingForgetter, sink Finalizer, maxLifetime, interval time.Duration) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{
		requests:    requests,
		records:     records,
		mappings:    mappings,
		sink:        sink,
		maxLifetime: maxLifetime,
		interval:    interval,
		now:         time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) {
	if s.maxLifetime <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				logger.Error("[sweeper] sweep failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep expires one batch at most and returns how many requests it finalized.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.maxLifetime)
	expired, err := s.requests.ListExpired(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, req := range expired {
		ids, err := s.records.ExpireOpen(ctx, req.ID)
		if err != nil {
			logger.Warn("[sweeper] expire records failed", "request_id", req.ID, "error", err)
			continue
		}
		if len(ids) > 0 {
			if err := s.mappings.Forget(ctx, ids...); err != nil {
				logger.Warn("[sweeper] forget mappings failed", "request_id", req.ID, "error", err)
			}
		}
		changed, err := s.sink.Finalize(ctx, req.ID, model.RequestStatusFailed, model.ReasonExpired)
		if err != nil {
			logger.Warn("[sweeper] finalize failed", "request_id", req.ID, "error", err)
			continue
		}
		if changed {
			n++
		}
	}
	if n > 0 {
		logger.Info("[sweeper] expired requests", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

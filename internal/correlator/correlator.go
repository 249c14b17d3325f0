package correlator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/pkg/logger"
	"github.com/nimasrn/smpp-transport/pkg/prom"
	"github.com/nimasrn/smpp-transport/pkg/smpp/pdu"
)

type DeliveryRecords interface {
	Create(ctx context.Context, dr *model.DeliveryRecord) (*model.DeliveryRecord, error)
	ApplyReceipt(ctx context.Context, id int64, u model.ReceiptUpdate) (bool, error)
	ListByRequest(ctx context.Context, requestID string) ([]*model.DeliveryRecord, error)
}

type Requests interface {
	Get(ctx context.Context, id string) (*model.SendRequest, error)
}

// Finalizer records the terminal outcome of a request at most once.
type Finalizer interface {
	Finalize(ctx context.Context, requestID string, status model.RequestStatus, reason string) (bool, error)
}

type Config struct {
	// MissGrace is how long a receipt waits for its mapping. A receipt can race the
	// worker that is still recording the submit_sm_resp it answers.
	MissGrace time.Duration
	MissPoll  time.Duration
}

// Correlator matches delivery receipts to the segments they report on and
// resolves the request once every segment is settled.
type Correlator struct {
	store    *MappingStore
	records  DeliveryRecords
	requests Requests
	sink     Finalizer
	cfg      Config
}

func New(store *MappingStore, records DeliveryRecords, requests Requests, sink Finalizer, cfg Config) *Correlator {
	if cfg.MissGrace < 0 {
		cfg.MissGrace = 0
	}
	if cfg.MissPoll <= 0 {
		cfg.MissPoll = 50 * time.Millisecond
	}
	return &Correlator{
		store:    store,
		records:  records,
		requests: requests,
		sink:     sink,
		cfg:      cfg,
	}
}

// Track records an accepted segment submit.
func (c *Correlator) Track(ctx context.Context, gatewayID, requestID string, segmentIndex int) error {
	rec, err := c.records.Create(ctx, &model.DeliveryRecord{
		GatewayMessageID: gatewayID,
		RequestID:        requestID,
		SegmentIndex:     segmentIndex,
		Status:           model.DeliveryStatusSent,
		SubmittedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("create delivery record: %w", err)
	}
	if err := c.store.Put(ctx, gatewayID, Mapping{
		RequestID:    requestID,
		SegmentIndex: segmentIndex,
		RecordID:     rec.ID,
	}); err != nil {
		return fmt.Errorf("store mapping: %w", err)
	}
	return nil
}

// Forget drops mappings so later receipts for them are discarded.
func (c *Correlator) Forget(ctx context.Context, gatewayIDs ...string) error {
	return c.store.Delete(ctx, gatewayIDs...)
}

// HandleDeliver is the session deliver handler. Only infrastructure failures are
// returned; the session then asks the gateway to redeliver.
func (c *Correlator) HandleDeliver(ctx context.Context, sm *pdu.ShortMessage, opts pdu.Options) error {
	r, err := ParseDeliver(sm, opts)
	if err != nil {
		if errors.Is(err, ErrNotReceipt) {
			logger.Debug("[correlator] ignoring mobile originated message", "source", sm.SourceAddr)
			return nil
		}
		logger.Warn("[correlator] unusable receipt", "error", err, "text", string(sm.ShortMessage))
		return nil
	}
	return c.OnReceipt(ctx, r)
}

func (c *Correlator) OnReceipt(ctx context.Context, r Receipt) error {
	m, gatewayID, err := c.lookup(ctx, r.MessageID)
	if err != nil {
		if errors.Is(err, ErrCorrelationMiss) {
			prom.IncReceipt("miss")
			logger.Warn("[correlator] receipt without mapping discarded",
				"gateway_message_id", r.MessageID, "stat", r.Stat)
			return nil
		}
		return err
	}
	prom.IncReceipt(string(r.Status))

	if r.Status == model.DeliveryStatusSent {
		logger.Debug("[correlator] intermediate receipt", "gateway_message_id", gatewayID, "stat", r.Stat)
		return nil
	}

	changed, err := c.records.ApplyReceipt(ctx, m.RecordID, r.Update())
	if err != nil {
		return fmt.Errorf("apply receipt %s: %w", gatewayID, err)
	}
	if !changed {
		logger.Debug("[correlator] duplicate receipt", "gateway_message_id", gatewayID, "request_id", m.RequestID)
	}
	if !r.Status.Terminal() {
		return nil
	}
	if err := c.store.Delete(ctx, gatewayID); err != nil {
		logger.Warn("[correlator] mapping cleanup failed", "gateway_message_id", gatewayID, "error", err)
	}

	logger.Debug("[correlator] segment settled",
		"request_id", m.RequestID,
		"segment", m.SegmentIndex,
		"gateway_message_id", gatewayID,
		"status", r.Status)
	return c.Evaluate(ctx, m.RequestID)
}

// Evaluate finalizes the request when every one of its segments is settled.
func (c *Correlator) Evaluate(ctx context.Context, requestID string) error {
	req, err := c.requests.Get(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load request %s: %w", requestID, err)
	}
	if req.Status.Terminal() || req.PartCount == 0 {
		return nil
	}
	records, err := c.records.ListByRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("list records %s: %w", requestID, err)
	}
	status, reason, done := model.AggregateDeliveries(records, req.PartCount)
	if !done {
		return nil
	}
	_, err = c.sink.Finalize(ctx, requestID, status, reason)
	return err
}

func (c *Correlator) lookup(ctx context.Context, gatewayID string) (*Mapping, string, error) {
	deadline := time.Now().Add(c.cfg.MissGrace)
	for {
		m, id, err := c.store.Get(ctx, gatewayID)
		if !errors.Is(err, ErrCorrelationMiss) || !time.Now().Before(deadline) {
			return m, id, err
		}
		select {
		case <-ctx.Done():
			return nil, "", err
		case <-time.After(c.cfg.MissPoll):
		}
	}
}

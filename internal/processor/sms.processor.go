package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/internal/queue"
	"github.com/nimasrn/smpp-transport/internal/repository"
	"github.com/nimasrn/smpp-transport/internal/segmenter"
	"github.com/nimasrn/smpp-transport/internal/session"
	"github.com/nimasrn/smpp-transport/pkg/logger"
	"github.com/nimasrn/smpp-transport/pkg/smpp/pdu"
)

type Submitter interface {
	Submit(ctx context.Context, sm *pdu.ShortMessage, opts ...pdu.TLV) (session.SubmitResult, error)
	IsBound() bool
}

type RequestRepository interface {
	Get(ctx context.Context, id string) (*model.SendRequest, error)
	UpdateProgress(ctx context.Context, id string, p model.SendRequestProgress) error
}

// Tracker is the delivery correlator as seen by the worker.
type Tracker interface {
	Track(ctx context.Context, gatewayID, requestID string, segmentIndex int) error
	Evaluate(ctx context.Context, requestID string) error
}

type Finalizer interface {
	Finalize(ctx context.Context, requestID string, status model.RequestStatus, reason string) (bool, error)
}

type SMSConfig struct {
	SourceAddr  string
	SourceTON   *uint8
	SourceNPI   *uint8
	ServiceType string
	// RegisteredDelivery 0 resolves a request as delivered once every segment is accepted.
	RegisteredDelivery uint8

	MaxAttempts     int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	NotBoundBackoff time.Duration
	MaxLifetime     time.Duration
}

func (c *SMSConfig) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Minute
	}
	if c.NotBoundBackoff <= 0 {
		c.NotBoundBackoff = time.Second
	}
}

// SMSProcessor turns one queued send request into submit_sm PDUs. It settles the
// queue entry itself: ack on a terminal outcome, a delayed retry otherwise.
type SMSProcessor struct {
	session     Submitter
	segmenter   *segmenter.Segmenter
	requests    RequestRepository
	tracker     Tracker
	sink        Finalizer
	idempotency *IdempotencyService
	cfg         SMSConfig
	now         func() time.Time
}

func NewSMSProcessor(sess Submitter, seg *segmenter.Segmenter, requests RequestRepository, tracker Tracker, sink Finalizer, idempotency *IdempotencyService, cfg SMSConfig) *SMSProcessor {
	cfg.setDefaults()
	if seg == nil {
		seg = segmenter.New()
	}
	return &SMSProcessor{
		session:     sess,
		segmenter:   seg,
		requests:    requests,
		tracker:     tracker,
		sink:        sink,
		idempotency: idempotency,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (p *SMSProcessor) GetType() string {
	return "sms"
}

func (p *SMSProcessor) Process(ctx context.Context, msg *queue.Message) error {
	// Settling must survive a shutdown that cancels ctx mid job.
	settleCtx := context.WithoutCancel(ctx)

	var job model.SMSJob
	if err := json.Unmarshal(msg.Data, &job); err != nil || job.RequestID == "" {
		if err == nil {
			err = errors.New("missing request id")
		}
		logger.Error("[sms] undecodable job", "entry", msg.ID, "error", err)
		return p.settle(msg.DeadLetter(settleCtx, "undecodable job: "+err.Error()))
	}

	pc, err := p.idempotency.AcquireProcessingLock(ctx, job.RequestID)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyProcessed):
			logger.Info("[sms] request already processed", "request_id", job.RequestID)
			return p.settle(msg.Ack(settleCtx))
		case errors.Is(err, ErrLockAcquireFailed):
			// Another worker owns it; leave the entry pending for reclaim.
			logger.Info("[sms] request locked by another worker", "request_id", job.RequestID)
			return p.settle(msg.Nack())
		}
		return err
	}
	defer func() {
		_ = p.idempotency.ReleaseLock(settleCtx, pc)
	}()

	req, err := p.requests.Get(ctx, job.RequestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return p.settle(msg.DeadLetter(settleCtx, "request not found"))
		}
		logger.Error("[sms] load request failed", "request_id", job.RequestID, "error", err)
		return p.retry(settleCtx, msg, &job, p.cfg.NotBoundBackoff)
	}
	if req.Status.Terminal() {
		return p.done(settleCtx, msg, pc)
	}

	if p.cfg.MaxLifetime > 0 && p.now().Sub(job.CreatedAt) > p.cfg.MaxLifetime {
		return p.finish(settleCtx, msg, pc, &job, model.RequestStatusFailed, model.ReasonExpired)
	}

	if !p.session.IsBound() {
		return p.retry(settleCtx, msg, &job, p.cfg.NotBoundBackoff)
	}

	if job.ConcatRef == nil {
		ref := p.segmenter.NextRef()
		job.ConcatRef = &ref
	}
	segs, err := p.segmenter.SplitWithRef(job.RequestID, job.Text, *job.ConcatRef)
	if err != nil {
		return p.finish(settleCtx, msg, pc, &job, model.RequestStatusFailed, err.Error())
	}

	job.Attempts++
	start := job.NextSegment
	if start < 1 {
		start = 1
	}

	logger.Debug("[sms] processing",
		"request_id", job.RequestID,
		"attempt", job.Attempts,
		"parts", len(segs),
		"from_part", start,
		"deliveries", msg.Deliveries)

	for i := start; i <= len(segs); i++ {
		seg := segs[i-1]
		res, err := p.session.Submit(ctx, p.shortMessage(job.Phone, seg))
		if err != nil {
			return p.submitFailed(settleCtx, msg, pc, &job, req, seg, err)
		}

		if err := p.tracker.Track(settleCtx, res.MessageID, job.RequestID, seg.PartIndex); err != nil {
			// The gateway accepted it; only receipt correlation for this part is lost.
			logger.Error("[sms] track segment failed",
				"request_id", job.RequestID,
				"segment", seg.PartIndex,
				"gateway_message_id", res.MessageID,
				"error", err)
		}
		job.NextSegment = i + 1
		job.LastError = ""
	}

	p.progress(settleCtx, &job, model.RequestStatusSent, len(segs), segs[0].Encoding)
	logger.Info("[sms] request submitted",
		"request_id", job.RequestID,
		"parts", len(segs),
		"attempts", job.Attempts)

	if p.cfg.RegisteredDelivery == pdu.RegisteredDeliveryNone {
		return p.finish(settleCtx, msg, pc, &job, model.RequestStatusDelivered, "")
	}
	if err := p.tracker.Evaluate(settleCtx, job.RequestID); err != nil {
		logger.Warn("[sms] evaluate after submit failed", "request_id", job.RequestID, "error", err)
	}
	return p.done(settleCtx, msg, pc)
}

func (p *SMSProcessor) submitFailed(ctx context.Context, msg *queue.Message, pc *ProcessingContext, job *model.SMSJob, req *model.SendRequest, seg segmenter.Segment, err error) error {
	job.LastError = err.Error()
	log := []interface{}{
		"request_id", job.RequestID,
		"segment", seg.PartIndex,
		"attempt", job.Attempts,
		"error", err,
	}

	var rej *session.GatewayRejection
	switch {
	case session.IsTransport(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The connection failed, not the message: this pass does not count.
		job.Attempts--
		logger.Warn("[sms] submit interrupted, requeueing", log...)
		p.progress(ctx, job, req.Status, seg.PartCount, seg.Encoding)
		return p.retry(ctx, msg, job, p.cfg.NotBoundBackoff)

	case errors.As(err, &rej) && rej.Retryable():
		if job.Attempts >= p.cfg.MaxAttempts {
			logger.Warn("[sms] giving up after max attempts", log...)
			p.progress(ctx, job, req.Status, seg.PartCount, seg.Encoding)
			return p.finish(ctx, msg, pc, job, model.RequestStatusFailed, fmt.Sprintf("%s: %s", model.ReasonMaxAttempts, rej.Status))
		}
		delay := p.retryDelay(job.Attempts, rej.Kind)
		logger.Warn("[sms] submit rejected, retrying", append(log, "delay", delay)...)
		p.progress(ctx, job, req.Status, seg.PartCount, seg.Encoding)
		return p.retry(ctx, msg, job, delay)

	case errors.As(err, &rej):
		reason := model.ReasonInvalidDestination
		if rej.Kind == session.RejectInvalidSource {
			reason = model.ReasonInvalidSource
		}
		logger.Warn("[sms] submit rejected permanently", log...)
		p.progress(ctx, job, req.Status, seg.PartCount, seg.Encoding)
		return p.finish(ctx, msg, pc, job, model.RequestStatusFailed, fmt.Sprintf("%s: %s", reason, rej.Status))
	}

	// Encoding problems and anything else the gateway never saw.
	logger.Error("[sms] submit failed", log...)
	p.progress(ctx, job, req.Status, seg.PartCount, seg.Encoding)
	return p.finish(ctx, msg, pc, job, model.RequestStatusFailed, err.Error())
}

// retryDelay grows linearly with the attempt count; unknown rejections back off twice as hard.
func (p *SMSProcessor) retryDelay(attempts int, kind session.RejectionKind) time.Duration {
	d := p.cfg.RetryBaseDelay * time.Duration(attempts)
	if kind == session.RejectUnknown {
		d *= 2
	}
	if d > p.cfg.RetryMaxDelay {
		d = p.cfg.RetryMaxDelay
	}
	return d
}

func (p *SMSProcessor) shortMessage(phone string, seg segmenter.Segment) *pdu.ShortMessage {
	srcTON, srcNPI, src := addressing(p.cfg.SourceAddr)
	if p.cfg.SourceTON != nil {
		srcTON = *p.cfg.SourceTON
	}
	if p.cfg.SourceNPI != nil {
		srcNPI = *p.cfg.SourceNPI
	}
	dstTON, dstNPI, dst := addressing(phone)
	return &pdu.ShortMessage{
		ServiceType:        p.cfg.ServiceType,
		SourceAddrTON:      srcTON,
		SourceAddrNPI:      srcNPI,
		SourceAddr:         src,
		DestAddrTON:        dstTON,
		DestAddrNPI:        dstNPI,
		DestinationAddr:    dst,
		ESMClass:           seg.ESMClass(),
		RegisteredDelivery: p.cfg.RegisteredDelivery,
		DataCoding:         seg.Encoding.DataCoding(),
		ShortMessage:       seg.Payload,
	}
}

// addressing derives TON/NPI from the address format: "+<digits>" is international
// E.164, anything with letters is alphanumeric, the rest is left unknown.
func addressing(addr string) (ton, npi uint8, out string) {
	if strings.HasPrefix(addr, "+") {
		return pdu.TONInternational, pdu.NPIISDN, addr[1:]
	}
	for _, r := range addr {
		if unicode.IsLetter(r) {
			return pdu.TONAlphanumeric, pdu.NPIUnknown, addr
		}
	}
	return pdu.TONUnknown, pdu.NPIUnknown, addr
}

func (p *SMSProcessor) progress(ctx context.Context, job *model.SMSJob, status model.RequestStatus, parts int, enc segmenter.Encoding) {
	if status.Terminal() {
		return
	}
	err := p.requests.UpdateProgress(ctx, job.RequestID, model.SendRequestProgress{
		Status:       status,
		AttemptCount: job.Attempts,
		PartCount:    parts,
		Encoding:     string(enc),
		LastError:    job.LastError,
	})
	if err != nil {
		logger.Warn("[sms] progress update failed", "request_id", job.RequestID, "error", err)
	}
}

// finish reports the terminal outcome and settles the entry. When the outcome cannot
// be stored the job is retried so it is never dropped unreported.
func (p *SMSProcessor) finish(ctx context.Context, msg *queue.Message, pc *ProcessingContext, job *model.SMSJob, status model.RequestStatus, reason string) error {
	if _, err := p.sink.Finalize(ctx, job.RequestID, status, reason); err != nil {
		logger.Error("[sms] finalize failed", "request_id", job.RequestID, "status", status, "error", err)
		return p.retry(ctx, msg, job, p.cfg.NotBoundBackoff)
	}
	return p.done(ctx, msg, pc)
}

func (p *SMSProcessor) retry(ctx context.Context, msg *queue.Message, job *model.SMSJob, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return p.settle(msg.Retry(ctx, nil, delay))
	}
	return p.settle(msg.Retry(ctx, data, delay))
}

func (p *SMSProcessor) done(ctx context.Context, msg *queue.Message, pc *ProcessingContext) error {
	if err := p.idempotency.MarkSuccess(ctx, pc); err != nil {
		logger.Warn("[sms] mark processed failed", "request_id", pc.RequestID, "error", err)
	}
	return p.settle(msg.Ack(ctx))
}

func (p *SMSProcessor) settle(err error) error {
	if err != nil && !errors.Is(err, queue.ErrSettled) {
		return fmt.Errorf("settle queue entry: %w", err)
	}
	return nil
}

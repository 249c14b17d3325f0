package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/smpp-transport/pkg/logger"
	"github.com/nimasrn/smpp-transport/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities lists priorities in the order they are drained.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return p, true
	case "":
		return PriorityNormal, true
	}
	return "", false
}

var (
	ErrSettled         = errors.New("message already settled")
	ErrInvalidPriority = errors.New("invalid priority")
)

type Message struct {
	ID        string
	Priority  Priority
	Data      []byte
	Metadata  map[string]string
	Timestamp time.Time
	// Deliveries counts how many times the entry was handed to a consumer.
	Deliveries int

	mu      sync.Mutex
	settled bool
	queue   *Queue
}

// Ack removes the message for good.
func (m *Message) Ack(ctx context.Context) error {
	if err := m.settle(); err != nil {
		return err
	}
	return m.queue.ack(ctx, m)
}

// Retry schedules data to be delivered again after delay and removes the current entry atomically.
func (m *Message) Retry(ctx context.Context, data []byte, delay time.Duration) error {
	if err := m.settle(); err != nil {
		return err
	}
	if data == nil {
		data = m.Data
	}
	return m.queue.retry(ctx, m, data, delay)
}

// DeadLetter moves the message to the dead letter stream.
func (m *Message) DeadLetter(ctx context.Context, reason string) error {
	if err := m.settle(); err != nil {
		return err
	}
	return m.queue.deadLetter(ctx, m, reason)
}

// Nack leaves the message pending; it is reclaimed after the visibility timeout.
func (m *Message) Nack() error {
	if err := m.settle(); err != nil {
		return err
	}
	m.queue.release(m.ID)
	return nil
}

func (m *Message) settle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return ErrSettled
	}
	m.settled = true
	return nil
}

// MessageHandler takes ownership of msg and must settle it with Ack, Retry, DeadLetter or Nack.
type MessageHandler func(ctx context.Context, msg *Message)

type QueueConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxDeliveries     int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	DLQMaxLen         int64
	EnableDLQ         bool
}

type Queue struct {
	adapter redis.RedisAdapter
	config  QueueConfig
	handler MessageHandler
	promote *redis.Script

	ready    func() bool
	capacity func() int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	processing map[string]*Message
	running    bool
}

type PriorityStats struct {
	Length  int64 `json:"length"`
	Pending int64 `json:"pending"`
	Delayed int64 `json:"delayed"`
}

type QueueStats struct {
	Priorities map[Priority]PriorityStats `json:"priorities"`
	DeadLetter int64                      `json:"dead_letter"`
	Processing int                        `json:"processing"`
}

// Depth is the number of jobs that have not reached an outcome yet.
func (s *QueueStats) Depth(p Priority) int64 {
	ps := s.Priorities[p]
	return ps.Length + ps.Delayed
}

// promoteScript moves due entries from a delayed set back to their stream.
// KEYS: delayed zset, payload hash, stream. ARGV: now (ms), limit, timestamp.
const promoteScript = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local moved = 0
for _, id in ipairs(due) do
	if redis.call('ZREM', KEYS[1], id) == 1 then
		local data = redis.call('HGET', KEYS[2], id)
		redis.call('HDEL', KEYS[2], id)
		if data then
			redis.call('XADD', KEYS[3], '*', 'data', data, 'timestamp', ARGV[3], 'meta_retry_id', id)
			moved = moved + 1
		end
	end
end
return moved
`

// NewQueue creates a new queue instance
func NewQueue(adapter redis.RedisAdapter, config QueueConfig) (*Queue, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxDeliveries == 0 {
		config.MaxDeliveries = 10
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 200 * time.Millisecond
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		adapter:    adapter,
		config:     config,
		promote:    goredis.NewScript(promoteScript),
		ctx:        ctx,
		cancel:     cancel,
		processing: make(map[string]*Message),
	}

	for _, p := range Priorities {
		err := adapter.XGroupCreateMkStream(context.Background(), q.stream(p), config.ConsumerGroup, "0")
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			cancel()
			return nil, fmt.Errorf("create consumer group on %s: %w", q.stream(p), err)
		}
	}

	return q, nil
}

func (q *Queue) Name() string {
	return q.config.Name
}

func (q *Queue) stream(p Priority) string  { return q.config.Name + ":" + string(p) }
func (q *Queue) delayed(p Priority) string { return q.config.Name + ":" + string(p) + ":delayed" }
func (q *Queue) payload(p Priority) string { return q.config.Name + ":" + string(p) + ":payload" }
func (q *Queue) dlq() string               { return q.config.Name + ":dlq" }

// Publish adds a message to the stream of priority p.
func (q *Queue) Publish(ctx context.Context, p Priority, data []byte, metadata map[string]string) (string, error) {
	if _, ok := ParsePriority(string(p)); !ok || p == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, p)
	}

	values := map[string]interface{}{
		"data":      string(data),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range metadata {
		values["meta_"+k] = v
	}

	id, err := q.adapter.XAdd(ctx, q.stream(p), 0, values)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}
	return id, nil
}

// PublishJSON publishes a JSON-encoded message
func (q *Queue) PublishJSON(ctx context.Context, p Priority, data interface{}, metadata map[string]string) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return q.Publish(ctx, p, jsonData, metadata)
}

type ConsumeOption func(*Queue)

// WithReadyGate stops the queue from popping entries while ready reports false.
func WithReadyGate(ready func() bool) ConsumeOption {
	return func(q *Queue) { q.ready = ready }
}

// WithCapacity bounds how many entries are popped per poll.
func WithCapacity(capacity func() int) ConsumeOption {
	return func(q *Queue) { q.capacity = capacity }
}

// Consume starts the poll loop. The handler is called from the loop goroutine and should hand the
// message off quickly.
func (q *Queue) Consume(handler MessageHandler, opts ...ConsumeOption) error {
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("queue %s already consuming", q.config.Name)
	}
	q.running = true
	q.handler = handler
	for _, o := range opts {
		o(q)
	}
	q.mu.Unlock()

	q.wg.Add(1)
	go q.consumeLoop()

	return nil
}

func (q *Queue) consumeLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.poll()
		}
	}
}

func (q *Queue) poll() {
	if _, err := q.PromoteDue(q.ctx); err != nil && q.ctx.Err() == nil {
		logger.Warn("[queue] promote delayed failed", "queue", q.config.Name, "error", err)
	}

	if q.ready != nil && !q.ready() {
		return
	}

	free := int(q.config.BatchSize)
	if q.capacity != nil {
		free = q.capacity()
	}
	if free <= 0 {
		return
	}

	free -= q.claimStuckMessages(free)

	for _, p := range Priorities {
		if free <= 0 || q.ctx.Err() != nil {
			return
		}
		n := free
		if int64(n) > q.config.BatchSize {
			n = int(q.config.BatchSize)
		}
		messages, err := q.adapter.XReadGroup(q.ctx, q.config.ConsumerGroup, q.config.ConsumerName, q.stream(p), int64(n), 0)
		if err != nil {
			if q.ctx.Err() == nil {
				logger.Warn("[queue] read failed", "stream", q.stream(p), "error", err)
			}
			return
		}
		for _, sm := range messages {
			msg := q.streamMessageToMessage(p, sm)
			msg.Deliveries = 1
			q.dispatch(msg)
			free--
		}
	}
}

// PromoteDue moves retries whose delay elapsed back onto their streams.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := time.Now()
	total := 0
	for _, p := range Priorities {
		res, err := q.adapter.RunScript(ctx, q.promote,
			[]string{q.delayed(p), q.payload(p), q.stream(p)},
			now.UnixMilli(), q.config.BatchSize*10, now.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return total, err
		}
		if n, ok := res.(int64); ok {
			total += int(n)
		}
	}
	return total, nil
}

func (q *Queue) claimStuckMessages(limit int) int {
	claimed := 0
	for _, p := range Priorities {
		if claimed >= limit {
			break
		}
		pendingExt, err := q.adapter.XPendingExt(q.ctx, q.stream(p), q.config.ConsumerGroup, 100)
		if err != nil || len(pendingExt) == 0 {
			continue
		}

		retries := make(map[string]int64)
		var idsToReclaim []string
		q.mu.RLock()
		for _, pe := range pendingExt {
			if claimed+len(idsToReclaim) >= limit {
				break
			}
			if _, busy := q.processing[pe.ID]; busy {
				continue
			}
			if pe.Idle >= q.config.VisibilityTimeout {
				idsToReclaim = append(idsToReclaim, pe.ID)
				retries[pe.ID] = pe.RetryCount
			}
		}
		q.mu.RUnlock()

		if len(idsToReclaim) == 0 {
			continue
		}

		messages, err := q.adapter.XClaim(q.ctx, q.stream(p), q.config.ConsumerGroup, q.config.ConsumerName,
			q.config.VisibilityTimeout, idsToReclaim...)
		if err != nil {
			logger.Warn("[queue] claim failed", "stream", q.stream(p), "error", err)
			continue
		}

		for _, sm := range messages {
			msg := q.streamMessageToMessage(p, sm)
			msg.Deliveries = int(retries[sm.ID]) + 1
			if msg.Deliveries > q.config.MaxDeliveries {
				logger.Warn("[queue] entry redelivered too often", "id", msg.ID, "deliveries", msg.Deliveries)
				q.track(msg)
				_ = msg.DeadLetter(q.ctx, "max deliveries exceeded")
				continue
			}
			logger.Info("[queue] reclaimed stuck entry", "id", msg.ID, "priority", p, "deliveries", msg.Deliveries)
			q.dispatch(msg)
			claimed++
		}
	}
	return claimed
}

func (q *Queue) dispatch(msg *Message) {
	q.track(msg)
	q.handler(q.ctx, msg)
}

func (q *Queue) track(msg *Message) {
	q.mu.Lock()
	q.processing[msg.ID] = msg
	q.mu.Unlock()
}

func (q *Queue) release(id string) {
	q.mu.Lock()
	delete(q.processing, id)
	q.mu.Unlock()
}

func (q *Queue) ack(ctx context.Context, msg *Message) error {
	defer q.release(msg.ID)
	stream := q.adapter.Key(q.stream(msg.Priority))
	_, err := q.adapter.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.XAck(ctx, stream, q.config.ConsumerGroup, msg.ID)
		pipe.XDel(ctx, stream, msg.ID)
		return nil
	})
	return err
}

func (q *Queue) retry(ctx context.Context, msg *Message, data []byte, delay time.Duration) error {
	defer q.release(msg.ID)
	retryID := uuid.NewString()
	at := time.Now().Add(delay).UnixMilli()
	stream := q.adapter.Key(q.stream(msg.Priority))
	_, err := q.adapter.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, q.adapter.Key(q.payload(msg.Priority)), retryID, string(data))
		pipe.ZAdd(ctx, q.adapter.Key(q.delayed(msg.Priority)), goredis.Z{Score: float64(at), Member: retryID})
		pipe.XAck(ctx, stream, q.config.ConsumerGroup, msg.ID)
		pipe.XDel(ctx, stream, msg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

func (q *Queue) deadLetter(ctx context.Context, msg *Message, reason string) error {
	if !q.config.EnableDLQ {
		return q.ack(ctx, msg)
	}

	values := map[string]interface{}{
		"data":           string(msg.Data),
		"original_id":    msg.ID,
		"deliveries":     msg.Deliveries,
		"reason":         reason,
		"failed_at":      time.Now().UTC().Format(time.RFC3339Nano),
		"original_queue": q.stream(msg.Priority),
	}
	for k, v := range msg.Metadata {
		values["meta_"+k] = v
	}

	if _, err := q.adapter.XAdd(ctx, q.dlq(), q.config.DLQMaxLen, values); err != nil {
		q.release(msg.ID)
		return fmt.Errorf("dead letter: %w", err)
	}
	return q.ack(ctx, msg)
}

// DeadLetters returns the dead letter entries, oldest first.
func (q *Queue) DeadLetters(ctx context.Context) ([]redis.StreamMessage, error) {
	return q.adapter.XRange(ctx, q.dlq(), "-", "+")
}

func (q *Queue) streamMessageToMessage(p Priority, streamMsg redis.StreamMessage) *Message {
	msg := &Message{
		ID:       streamMsg.ID,
		Priority: p,
		Metadata: make(map[string]string),
		queue:    q,
	}

	for k, v := range streamMsg.Values {
		val, ok := v.(string)
		if !ok {
			continue
		}
		switch {
		case k == "data":
			msg.Data = []byte(val)
		case k == "timestamp":
			if ts, err := time.Parse(time.RFC3339Nano, val); err == nil {
				msg.Timestamp = ts
			}
		case strings.HasPrefix(k, "meta_"):
			msg.Metadata[k[5:]] = val
		}
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = streamIDTime(streamMsg.ID)
	}

	return msg
}

// streamIDTime reads the millisecond part of a stream entry id.
func streamIDTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(n)
}

// Processing is the number of popped entries not settled yet.
func (q *Queue) Processing() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.processing)
}

// Stop ends the poll loop. Unsettled entries stay pending and are reclaimed later.
func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for queue to stop")
	}
}

func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{
		Priorities: make(map[Priority]PriorityStats, len(Priorities)),
		Processing: q.Processing(),
	}

	for _, p := range Priorities {
		length, err := q.adapter.XLen(ctx, q.stream(p))
		if err != nil {
			return nil, err
		}
		delayed, err := q.adapter.ZCard(ctx, q.delayed(p))
		if err != nil {
			return nil, err
		}
		ps := PriorityStats{Length: length, Delayed: delayed}
		if pending, err := q.adapter.XPending(ctx, q.stream(p), q.config.ConsumerGroup); err == nil && pending != nil {
			ps.Pending = pending.Count
		}
		stats.Priorities[p] = ps
	}

	dlq, err := q.adapter.XLen(ctx, q.dlq())
	if err != nil {
		return nil, err
	}
	stats.DeadLetter = dlq

	return stats, nil
}

package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/smpp-transport/pkg/logger"
	"github.com/nimasrn/smpp-transport/pkg/redis"
)

var (
	ErrAlreadyProcessed  = errors.New("request already processed")
	ErrLockAcquireFailed = errors.New("failed to acquire processing lock")
)

type IdempotencyConfig struct {
	// LockTTL must outlast one processing pass (every segment submit plus settling).
	LockTTL time.Duration

	ProcessedTTL time.Duration

	LockKeyPrefix string

	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            2 * time.Minute,
		ProcessedTTL:       24 * time.Hour,
		LockKeyPrefix:      "sms:lock:",
		ProcessedKeyPrefix: "sms:done:",
	}
}

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// IdempotencyService keeps a send request on one worker at a time and remembers
// requests whose job has been settled for good.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	def := DefaultIdempotencyConfig()
	if config.LockTTL <= 0 {
		config.LockTTL = def.LockTTL
	}
	if config.ProcessedTTL <= 0 {
		config.ProcessedTTL = def.ProcessedTTL
	}
	if config.LockKeyPrefix == "" {
		config.LockKeyPrefix = def.LockKeyPrefix
	}
	if config.ProcessedKeyPrefix == "" {
		config.ProcessedKeyPrefix = def.ProcessedKeyPrefix
	}
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

type ProcessingContext struct {
	RequestID    string
	token        string
	lockAcquired bool
}

func (s *IdempotencyService) AcquireProcessingLock(ctx context.Context, requestID string) (*ProcessingContext, error) {
	exists, err := s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+requestID)
	if err != nil {
		logger.Warn("[idempotency] processed check failed", "request_id", requestID, "error", err)
	} else if exists > 0 {
		return nil, ErrAlreadyProcessed
	}

	token := uuid.NewString()
	acquired, err := s.redis.SetNX(ctx, s.config.LockKeyPrefix+requestID, []byte(token), s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		return nil, ErrLockAcquireFailed
	}

	logger.Debug("[idempotency] lock acquired", "request_id", requestID, "lock_ttl", s.config.LockTTL)
	return &ProcessingContext{
		RequestID:    requestID,
		token:        token,
		lockAcquired: true,
	}, nil
}

// MarkSuccess records that the request needs no more processing and drops the lock.
func (s *IdempotencyService) MarkSuccess(ctx context.Context, pc *ProcessingContext) error {
	err := s.redis.Set(ctx, s.config.ProcessedKeyPrefix+pc.RequestID, []byte("1"), s.config.ProcessedTTL)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return s.ReleaseLock(ctx, pc)
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, pc *ProcessingContext) error {
	if pc == nil || !pc.lockAcquired {
		return nil
	}
	pc.lockAcquired = false

	res, err := s.redis.RunScript(ctx, releaseScript, []string{s.config.LockKeyPrefix + pc.RequestID}, pc.token)
	if err != nil {
		logger.Warn("[idempotency] release lock failed", "request_id", pc.RequestID, "error", err)
		return err
	}
	if n, _ := res.(int64); n == 0 {
		logger.Warn("[idempotency] lock expired before release", "request_id", pc.RequestID)
	}
	return nil
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, requestID string) (bool, error) {
	exists, err := s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+requestID)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

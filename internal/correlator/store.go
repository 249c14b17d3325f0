package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/nimasrn/smpp-transport/pkg/redis"
)

const (
	DefaultMappingTTL = 72 * time.Hour
	mappingKeyPrefix  = "dlr:map:"
)

// ErrCorrelationMiss means a receipt names a gateway message id nobody is waiting for.
var ErrCorrelationMiss = errors.New("no mapping for gateway message id")

// Mapping ties a gateway message id to the segment it acknowledged.
type Mapping struct {
	RequestID    string `json:"request_id"`
	SegmentIndex int    `json:"segment_index"`
	RecordID     int64  `json:"record_id"`
}

// MappingStore keeps gateway id mappings in redis so they survive a restart.
type MappingStore struct {
	redis redis.RedisAdapter
	ttl   time.Duration
}

func NewMappingStore(adapter redis.RedisAdapter, ttl time.Duration) *MappingStore {
	if ttl <= 0 {
		ttl = DefaultMappingTTL
	}
	return &MappingStore{redis: adapter, ttl: ttl}
}

func (s *MappingStore) Put(ctx context.Context, gatewayID string, m Mapping) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, mappingKeyPrefix+gatewayID, b, s.ttl)
}

// Get looks the id up as given and, failing that, in its other radix: gateways commonly
// return hex ids on submit_sm_resp and decimal ones in the receipt text, or the reverse.
func (s *MappingStore) Get(ctx context.Context, gatewayID string) (*Mapping, string, error) {
	for _, id := range idForms(gatewayID) {
		b, err := s.redis.Get(ctx, mappingKeyPrefix+id)
		if err != nil {
			if errors.Is(err, redis.NilError) {
				continue
			}
			return nil, "", err
		}
		var m Mapping
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, "", fmt.Errorf("decode mapping %s: %w", id, err)
		}
		return &m, id, nil
	}
	return nil, "", ErrCorrelationMiss
}

func (s *MappingStore) Delete(ctx context.Context, gatewayIDs ...string) error {
	if len(gatewayIDs) == 0 {
		return nil
	}
	keys := make([]string, len(gatewayIDs))
	for i, id := range gatewayIDs {
		keys[i] = mappingKeyPrefix + id
	}
	return s.redis.Del(ctx, keys...)
}

func idForms(id string) []string {
	forms := []string{id}
	if id == "" || len(id) > 32 {
		return forms
	}
	add := func(f string) {
		if !slices.Contains(forms, f) {
			forms = append(forms, f)
		}
	}
	if n, ok := new(big.Int).SetString(id, 10); ok {
		add(n.Text(16))
		add(strings.ToUpper(n.Text(16)))
	}
	if n, ok := new(big.Int).SetString(id, 16); ok {
		add(n.Text(10))
	}
	return forms
}

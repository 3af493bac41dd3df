package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autodoc-pipeline/internal/infra/ratelimit"
)

var _ ratelimit.BudgetStore = (*BudgetStore)(nil)

// BudgetStore keeps the rate governor's per-model budget records in Redis so
// a new process picks up the calls made by the previous one.
type BudgetStore struct {
	client RedisClient
	ttl    time.Duration
}

func NewBudgetStore(client RedisClient, ttl time.Duration) *BudgetStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &BudgetStore{client: client, ttl: ttl}
}

func BudgetKey(model string) string {
	return fmt.Sprintf("autodoc:budget:%s", model)
}

func (s *BudgetStore) Load(ctx context.Context, model string) (ratelimit.BudgetRecord, bool, error) {
	raw, err := s.client.Get(ctx, BudgetKey(model))
	if errors.Is(err, Nil) {
		return ratelimit.BudgetRecord{}, false, nil
	}
	if err != nil {
		return ratelimit.BudgetRecord{}, false, err
	}
	var rec ratelimit.BudgetRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return ratelimit.BudgetRecord{}, false, fmt.Errorf("decode budget for %s: %w", model, err)
	}
	return rec, true, nil
}

func (s *BudgetStore) Save(ctx context.Context, model string, rec ratelimit.BudgetRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, BudgetKey(model), b, s.ttl)
}

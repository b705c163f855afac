package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/atelier/core/billing"
)

const idempotencyPrefix = "atelier:idempotency:"

// IdempotencyStore keeps the idempotency records in Redis so that every API instance sees them.
type IdempotencyStore struct {
	client *redis.Client
}

var _ billing.IdempotencyStore = (*IdempotencyStore)(nil) // interface compliance check

func NewIdempotencyStore(client *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key, requestHash string, ttl time.Duration) (billing.IdempotencyRecord, bool, error) {
	raw, err := json.Marshal(billing.IdempotencyRecord{RequestHash: requestHash})
	if err != nil {
		return billing.IdempotencyRecord{}, false, err
	}

	claimed, err := s.client.SetNX(ctx, idempotencyPrefix+key, raw, ttl).Result()
	if err != nil {
		return billing.IdempotencyRecord{}, false, errors.Wrap(err, "reserving idempotency key")
	}
	if claimed {
		return billing.IdempotencyRecord{RequestHash: requestHash}, true, nil
	}

	existing, err := s.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// expired in between: try again
			return s.Reserve(ctx, key, requestHash, ttl)
		}
		return billing.IdempotencyRecord{}, false, errors.Wrap(err, "reading idempotency key")
	}
	var rec billing.IdempotencyRecord
	if err = json.Unmarshal(existing, &rec); err != nil {
		return billing.IdempotencyRecord{}, false, errors.Wrap(err, "decoding idempotency record")
	}
	return rec, false, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	existing, err := s.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "reading idempotency key")
	}

	var rec billing.IdempotencyRecord
	if len(existing) > 0 {
		if err = json.Unmarshal(existing, &rec); err != nil {
			return errors.Wrap(err, "decoding idempotency record")
		}
	}
	rec.Completed = true
	rec.Response = response

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return errors.Wrap(s.client.Set(ctx, idempotencyPrefix+key, raw, ttl).Err(), "completing idempotency key")
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return errors.Wrap(s.client.Del(ctx, idempotencyPrefix+key).Err(), "releasing idempotency key")
}

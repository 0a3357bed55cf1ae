// Package redis provides the Redis-backed lockout store for multi-instance
// deployments. Records are stored as JSON values with a TTL slightly past the
// lockout horizon so stale entries age out on their own.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"biogate/internal/lockout"
	"biogate/pkg/domain"
)

const keyPrefix = "biogate:lockout:"

type Store struct {
	client goredis.UniversalClient
	// retention bounds how long an untouched record survives. It must exceed
	// the maximum lockout backoff or active lockouts could silently expire.
	retention time.Duration
}

func New(client goredis.UniversalClient, retention time.Duration) *Store {
	return &Store{client: client, retention: retention}
}

func key(id domain.IdentityID) string {
	return keyPrefix + id.String()
}

func (s *Store) Get(ctx context.Context, id domain.IdentityID) (*lockout.Record, error) {
	raw, err := s.client.Get(ctx, key(id)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lockout record: %w", err)
	}
	var rec lockout.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode lockout record: %w", err)
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec *lockout.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode lockout record: %w", err)
	}
	if err := s.client.Set(ctx, key(rec.IdentityID), raw, s.retention).Err(); err != nil {
		return fmt.Errorf("put lockout record: %w", err)
	}
	return nil
}

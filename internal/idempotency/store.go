// Package idempotency replays responses for requests repeated under the same
// Idempotency-Key header.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	HeaderKey      = "Idempotency-Key"
	keyPrefix      = "idempotency:"
	inFlightMarker = "in-flight"
	maxKeyLength   = 255
)

var ErrInProgress = errors.New("a request with this idempotency key is still in progress")

// Response is the stored outcome of a completed request.
type Response struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

type Store struct {
	client  *redis.Client
	lockTTL time.Duration
	ttl     time.Duration
}

// NewStore keeps in-flight markers for lockTTL and completed responses for ttl.
func NewStore(client *redis.Client, lockTTL, ttl time.Duration) *Store {
	return &Store{client: client, lockTTL: lockTTL, ttl: ttl}
}

// Begin claims key for the caller. It returns (nil, nil) when the claim
// succeeded, the stored response when the key already completed, and
// ErrInProgress when another request holds the key.
func (s *Store) Begin(ctx context.Context, key string) (*Response, error) {
	claimed, err := s.client.SetNX(ctx, keyPrefix+key, inFlightMarker, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if claimed {
		return nil, nil
	}

	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return nil, ErrInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}
	if val == inFlightMarker {
		return nil, ErrInProgress
	}

	var resp Response
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	return &resp, nil
}

func (s *Store) Complete(ctx context.Context, key string, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store response: %w", err)
	}
	return nil
}

// Release drops an in-flight claim so the request can be retried.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// FromRequest returns the trimmed Idempotency-Key header, or "" when it is
// absent or too long to be a sensible key.
func FromRequest(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get(HeaderKey))
	if len(key) > maxKeyLength {
		return ""
	}
	return key
}

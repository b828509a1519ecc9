package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIdempotencyStore backs IdempotencyStorer with Redis so idempotency
// replay survives a gateway restart and works across replicas, unlike
// MemoryIdempotencyStore. TTL is enforced by Redis's own key expiry rather
// than a background sweep goroutine.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotencyStore builds a store against an already-connected
// client; cmd/gateway owns dialing and closing it.
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

type redisCachedResponse struct {
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
	CachedAt   time.Time   `json:"cached_at"`
}

func (s *RedisIdempotencyStore) Check(key string) (*cachedResponse, bool) {
	data, err := s.client.Get(context.Background(), redisIdempotencyKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var r redisCachedResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, false
	}
	return &cachedResponse{StatusCode: r.StatusCode, Headers: r.Headers, Body: r.Body, CachedAt: r.CachedAt}, true
}

func (s *RedisIdempotencyStore) Set(key string, statusCode int, headers http.Header, body []byte) {
	data, err := json.Marshal(redisCachedResponse{
		StatusCode: statusCode, Headers: headers, Body: body, CachedAt: time.Now(),
	})
	if err != nil {
		return
	}
	s.client.Set(context.Background(), redisIdempotencyKey(key), data, s.ttl)
}

func redisIdempotencyKey(key string) string {
	return "gateway:idempotency:" + key
}

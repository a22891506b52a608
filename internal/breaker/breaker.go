// Package breaker is a redis-backed circuit breaker keyed by
// provider:model. Open state carries an exponential cooldown; once the
// cooldown passes the breaker moves to half-open and lets the next
// caller probe the backend.
package breaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/metrics"
)

const recordTTL = 10 * time.Minute

// Breaker tracks per provider:model failure state in redis so every
// replica sees the same cooldowns.
type Breaker struct {
	client      *redis.Client
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func New(client *redis.Client, baseBackoff, maxBackoff time.Duration) *Breaker {
	return &Breaker{client: client, baseBackoff: baseBackoff, maxBackoff: maxBackoff}
}

func key(provider, model string) string {
	return fmt.Sprintf("cb:%s:%s", provider, model)
}

// cooldown doubles the base backoff per consecutive failure, capped at
// the configured maximum.
func (b *Breaker) cooldown(failures int) time.Duration {
	backoff := b.baseBackoff
	for i := 1; i < failures; i++ {
		backoff *= 2
		if backoff > b.maxBackoff {
			return b.maxBackoff
		}
	}
	return backoff
}

// Open records a failure and (re)opens the breaker.
func (b *Breaker) Open(ctx context.Context, provider, model string) {
	k := key(provider, model)

	failures, _ := b.client.HGet(ctx, k, "failures").Int()
	failures++

	backoff := b.cooldown(failures)
	retryAt := time.Now().Add(backoff)

	b.client.HSet(ctx, k, map[string]interface{}{
		"state":     "open",
		"retry_at":  retryAt.Unix(),
		"failures":  failures,
		"opened_at": time.Now().Unix(),
	})
	b.client.Expire(ctx, k, recordTTL)

	metrics.BreakerOpened(provider, model)
	log.Warn().
		Str("provider", provider).
		Str("model", model).
		Int("failures", failures).
		Dur("cooldown", backoff).
		Time("retry_at", retryAt).
		Msg("circuit breaker opened")
}

// IsOpen reports whether calls to provider:model should be refused. An
// expired cooldown flips the record to half-open and reports false,
// letting the next call probe the backend.
func (b *Breaker) IsOpen(ctx context.Context, provider, model string) bool {
	k := key(provider, model)

	fields, err := b.client.HGetAll(ctx, k).Result()
	if err != nil || fields["state"] != "open" {
		return false
	}

	retryAt, _ := strconv.ParseInt(fields["retry_at"], 10, 64)
	if time.Now().Unix() >= retryAt {
		b.client.HSet(ctx, k, "state", "half_open")
		log.Info().Str("provider", provider).Str("model", model).Msg("circuit breaker half-open")
		return false
	}
	return true
}

// Close resets the breaker after a successful call.
func (b *Breaker) Close(ctx context.Context, provider, model string) {
	k := key(provider, model)

	state, _ := b.client.HGet(ctx, k, "state").Result()
	if state == "" || state == "closed" {
		return
	}

	b.client.Del(ctx, k)
	metrics.BreakerClosed(provider, model)
	log.Info().Str("provider", provider).Str("model", model).Msg("circuit breaker closed")
}

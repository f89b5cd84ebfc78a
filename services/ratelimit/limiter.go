package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thoka/discourse-login-helper/services/logging"
	"go.uber.org/zap"
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// LimitExceededError reports which counter tripped and when its window rolls.
type LimitExceededError struct {
	Key     string
	Limit   int
	ResetAt time.Time
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit %d)", e.Key, e.Limit)
}

func (e *LimitExceededError) Unwrap() error {
	return ErrRateLimitExceeded
}

// RetryAfter is the time left until the window resets, never negative.
func (e *LimitExceededError) RetryAfter(now time.Time) time.Duration {
	return max(e.ResetAt.Sub(now), 0)
}

// Tier is one (limit, period) policy applied under a key namespace.
type Tier struct {
	Name   string
	Limit  int
	Period time.Duration
}

func (t Tier) Key(subject string) string {
	return t.Name + ":" + subject
}

type Decision struct {
	Limit     int
	Count     int
	Remaining int
	ResetAt   time.Time
}

type Limiter struct {
	store  Store
	logger *logging.Service
}

func NewLimiter(store Store, logger *logging.Service) *Limiter {
	return &Limiter{
		store:  store,
		logger: logger,
	}
}

// Take counts one action against key and reports the resulting window state.
// The returned error wraps ErrRateLimitExceeded when the post-increment count
// is above limit.
func (l *Limiter) Take(ctx context.Context, key string, limit int, period time.Duration) (Decision, error) {
	count, resetAt, err := l.store.Increment(ctx, key, period)
	if err != nil {
		if l.logger != nil {
			l.logger.Error("rate limit store failure", zap.String("key", key), zap.Error(err))
		}
		return Decision{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	decision := Decision{
		Limit:     limit,
		Count:     count,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}

	if count > limit {
		if l.logger != nil {
			l.logger.Info("rate limit exceeded",
				zap.String("key", key),
				zap.Int("limit", limit),
				zap.Int("count", count),
				zap.Time("reset_at", resetAt))
		}
		return decision, &LimitExceededError{Key: key, Limit: limit, ResetAt: resetAt}
	}

	return decision, nil
}

func (l *Limiter) Check(ctx context.Context, key string, limit int, period time.Duration) error {
	_, err := l.Take(ctx, key, limit, period)
	return err
}

// CheckTiers applies every tier to subject in order and stops at the first
// failure, so later tiers are not charged for a rejected action.
func (l *Limiter) CheckTiers(ctx context.Context, subject string, tiers ...Tier) error {
	for _, tier := range tiers {
		if err := l.Check(ctx, tier.Key(subject), tier.Limit, tier.Period); err != nil {
			return err
		}
	}
	return nil
}

func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.store.Reset(ctx, key); err != nil {
		return fmt.Errorf("failed to reset rate limit counter: %w", err)
	}
	return nil
}

package billing

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLedger persists balances as a Redis hash per user, keyed the way
// BaSui01-agentflow's RedisTaskStore keys its records (a fixed prefix
// plus the entity id).
type RedisLedger struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisLedger wraps an existing go-redis client. keyPrefix defaults
// to "voicegate:balance:" when empty.
func NewRedisLedger(client *redis.Client, keyPrefix string) *RedisLedger {
	if keyPrefix == "" {
		keyPrefix = "voicegate:balance:"
	}
	return &RedisLedger{client: client, keyPrefix: keyPrefix}
}

func (l *RedisLedger) key(userID string) string {
	return l.keyPrefix + userID
}

func (l *RedisLedger) Get(ctx context.Context, userID string) (Balance, error) {
	vals, err := l.client.HGetAll(ctx, l.key(userID)).Result()
	if err != nil {
		return Balance{}, fmt.Errorf("billing: redis get: %w", err)
	}
	if len(vals) == 0 {
		return Balance{}, ErrUserNotFound
	}
	return parseBalance(vals), nil
}

func (l *RedisLedger) Debit(ctx context.Context, userID string, seconds int64) (Balance, error) {
	bal, err := l.Get(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	bal = debit(bal, seconds)
	if err := l.store(ctx, userID, bal); err != nil {
		return Balance{}, err
	}
	return bal, nil
}

func (l *RedisLedger) Credit(ctx context.Context, userID string, seconds int64) (Balance, error) {
	bal, err := l.Get(ctx, userID)
	if err != nil && err != ErrUserNotFound {
		return Balance{}, err
	}
	bal.RemainingSeconds += seconds
	if err := l.store(ctx, userID, bal); err != nil {
		return Balance{}, err
	}
	return bal, nil
}

func (l *RedisLedger) CreditPermanent(ctx context.Context, userID string, seconds int64) (Balance, error) {
	bal, err := l.Get(ctx, userID)
	if err != nil && err != ErrUserNotFound {
		return Balance{}, err
	}
	bal.PermanentSeconds += seconds
	if err := l.store(ctx, userID, bal); err != nil {
		return Balance{}, err
	}
	return bal, nil
}

func (l *RedisLedger) store(ctx context.Context, userID string, bal Balance) error {
	err := l.client.HSet(ctx, l.key(userID),
		"remaining_seconds", bal.RemainingSeconds,
		"permanent_seconds", bal.PermanentSeconds,
	).Err()
	if err != nil {
		return fmt.Errorf("billing: redis store: %w", err)
	}
	return nil
}

func parseBalance(vals map[string]string) Balance {
	var bal Balance
	fmt.Sscanf(vals["remaining_seconds"], "%d", &bal.RemainingSeconds)
	fmt.Sscanf(vals["permanent_seconds"], "%d", &bal.PermanentSeconds)
	return bal
}

var _ Ledger = (*RedisLedger)(nil)

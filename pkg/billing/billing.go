// Package billing implements the Usage Accountant (C7): a two-tier
// balance (a burnable remaining_seconds tier debited before a permanent
// tier) backed by a Ledger, grounded on original_source/database.py's
// get_remaining_seconds/decrease_seconds. The Redis-backed implementation
// follows the key-per-field pattern of BaSui01-agentflow's
// agent/persistence/redis_task_store.go.
package billing

import (
	"context"
	"errors"
	"fmt"
)

// ErrUserNotFound is returned when a ledger has no record for a user.
var ErrUserNotFound = errors.New("billing: user not found")

// Balance is one user's two-tier time balance, in whole seconds.
type Balance struct {
	RemainingSeconds int64 // burnable tier, debited first
	PermanentSeconds int64 // non-expiring tier, debited once RemainingSeconds is exhausted
}

// Total returns the sum of both tiers.
func (b Balance) Total() int64 {
	return b.RemainingSeconds + b.PermanentSeconds
}

// MinutesLeftCeil returns the balance rounded up to whole minutes, used
// for the client-facing "minutes left" status line.
func (b Balance) MinutesLeftCeil() int64 {
	total := b.Total()
	if total <= 0 {
		return 0
	}
	return (total + 59) / 60
}

// Ledger persists and mutates per-user balances. Production deployments
// use RedisLedger; tests use MemoryLedger (or a miniredis-backed
// RedisLedger, exercising the same code path).
type Ledger interface {
	Get(ctx context.Context, userID string) (Balance, error)
	// Debit spends seconds from the user's balance, regular tier first,
	// then permanent, clamped at zero (original_source/database.py
	// decrease_seconds). Debiting an unknown user is a no-op error.
	Debit(ctx context.Context, userID string, seconds int64) (Balance, error)
	// Credit adds seconds to the regular (burnable) tier, creating the
	// user record if absent.
	Credit(ctx context.Context, userID string, seconds int64) (Balance, error)
	// CreditPermanent adds seconds to the non-expiring tier.
	CreditPermanent(ctx context.Context, userID string, seconds int64) (Balance, error)
}

// debit applies the regular-then-permanent spend order to bal and
// returns the updated balance. Shared by every Ledger implementation so
// the clamping rule can't drift between backends.
func debit(bal Balance, seconds int64) Balance {
	if seconds <= 0 {
		return bal
	}
	if bal.RemainingSeconds >= seconds {
		bal.RemainingSeconds -= seconds
		return bal
	}
	fromPermanent := seconds - bal.RemainingSeconds
	bal.RemainingSeconds = 0
	bal.PermanentSeconds -= fromPermanent
	if bal.PermanentSeconds < 0 {
		bal.PermanentSeconds = 0
	}
	return bal
}

// HasBalance reports whether a user has any spendable time at all,
// gating session establishment (spec: 403/guest-downgrade when zero).
func HasBalance(ctx context.Context, l Ledger, userID string) (bool, error) {
	bal, err := l.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("billing: checking balance: %w", err)
	}
	return bal.Total() > 0, nil
}

// StatusLine renders the client-facing balance message (spec §6's
// "<b>Minutes left:</b> {n}" convention).
func StatusLine(bal Balance) string {
	return fmt.Sprintf("<b>Minutes left:</b> %d", bal.MinutesLeftCeil())
}

package billing

import (
	"context"
	"sync"
)

// MemoryLedger is an in-process Ledger, used by tests.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]Balance
}

// NewMemoryLedger constructs an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]Balance)}
}

// Seed sets a user's starting balance directly, used by tests to set up
// fixtures without going through Credit.
func (l *MemoryLedger) Seed(userID string, bal Balance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = bal
}

func (l *MemoryLedger) Get(ctx context.Context, userID string) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[userID]
	if !ok {
		return Balance{}, ErrUserNotFound
	}
	return bal, nil
}

func (l *MemoryLedger) Debit(ctx context.Context, userID string, seconds int64) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[userID]
	if !ok {
		return Balance{}, ErrUserNotFound
	}
	bal = debit(bal, seconds)
	l.balances[userID] = bal
	return bal, nil
}

func (l *MemoryLedger) Credit(ctx context.Context, userID string, seconds int64) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[userID]
	bal.RemainingSeconds += seconds
	l.balances[userID] = bal
	return bal, nil
}

func (l *MemoryLedger) CreditPermanent(ctx context.Context, userID string, seconds int64) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[userID]
	bal.PermanentSeconds += seconds
	l.balances[userID] = bal
	return bal, nil
}

var _ Ledger = (*MemoryLedger)(nil)

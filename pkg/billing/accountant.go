package billing

import (
	"context"
	"fmt"
	"time"
)

// Outcome is the result of Accountant.Settle: the client-facing message
// to push and whether the session must now be force-disconnected.
type Outcome struct {
	Balance    Balance
	Message    string
	Disconnect bool
}

// ExhaustedMessage is sent, and the channel closed, when a settlement
// leaves the user with zero or negative total balance (spec §4.7/§5).
const ExhaustedMessage = "<b>Your balance is exhausted. The session has ended.</b>"

// Accountant is the Usage Accountant (C7): it turns one completed
// request's measured durations into a ledger debit and a client message.
type Accountant struct {
	ledger Ledger
}

// NewAccountant constructs an Accountant over ledger.
func NewAccountant(ledger Ledger) *Accountant {
	return &Accountant{ledger: ledger}
}

// Settle rounds voice+processing+response duration to whole seconds,
// debits userID's balance, and returns the status line (or terminal
// message) to send. Overlapping requests are expected to call Settle
// independently and in the order each completes — Settle performs no
// cross-request coordination of its own.
func (a *Accountant) Settle(ctx context.Context, userID string, voice, processing, response time.Duration) (Outcome, error) {
	total := voice + processing + response
	seconds := int64((total + 500*time.Millisecond) / time.Second) // round to nearest whole second

	bal, err := a.ledger.Debit(ctx, userID, seconds)
	if err != nil {
		return Outcome{}, fmt.Errorf("billing: settle: %w", err)
	}

	if bal.Total() <= 0 {
		return Outcome{Balance: bal, Message: ExhaustedMessage, Disconnect: true}, nil
	}
	return Outcome{Balance: bal, Message: StatusLine(bal)}, nil
}

// CheckBalance returns userID's current balance. A user with no ledger
// record yields a zero Balance and no error; no account is created here
// (ProvisionGuest does that).
func (a *Accountant) CheckBalance(ctx context.Context, userID string) (Balance, error) {
	bal, err := a.ledger.Get(ctx, userID)
	if err == ErrUserNotFound {
		return Balance{}, nil
	}
	if err != nil {
		return Balance{}, fmt.Errorf("billing: check balance: %w", err)
	}
	return bal, nil
}

// GuestDefaultSeconds is the starting burnable balance granted to a
// freshly-minted guest account (original_source/database.py's demo
// fixture grants, generalized per spec E4).
const GuestDefaultSeconds = 120

// ProvisionGuest creates userID's ledger record with the default grant
// if it does not already exist.
func (a *Accountant) ProvisionGuest(ctx context.Context, userID string) (Balance, error) {
	bal, err := a.ledger.Get(ctx, userID)
	if err == nil {
		return bal, nil
	}
	if err != ErrUserNotFound {
		return Balance{}, fmt.Errorf("billing: provision guest: %w", err)
	}
	return a.ledger.Credit(ctx, userID, GuestDefaultSeconds)
}

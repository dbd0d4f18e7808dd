package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"crosspost/internal/domain"
)

// Journal persists accounts and the append-only transaction log.
type Journal interface {
	Account(ctx context.Context, ownerID string) (*domain.CreditAccount, error)
	SaveAccount(ctx context.Context, acct domain.CreditAccount) error
	AppendTransaction(ctx context.Context, tx domain.CreditTransaction) error
}

// Ledger gates paid operations on per-owner credit balances. All operations
// for one owner serialize on that owner's lock; different owners proceed in
// parallel. The balance never goes negative, and every mutation appends one
// transaction, so the balance always equals the running transaction sum.
type Ledger struct {
	journal Journal
	logger  *slog.Logger

	mu     sync.Mutex
	owners map[string]*account
}

type account struct {
	mu      sync.Mutex
	loaded  bool
	balance int64
}

func New(journal Journal, logger *slog.Logger) *Ledger {
	return &Ledger{
		journal: journal,
		logger:  logger.With("component", "ledger"),
		owners:  make(map[string]*account),
	}
}

func (l *Ledger) owner(ownerID string) *account {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.owners[ownerID]
	if !ok {
		a = &account{}
		l.owners[ownerID] = a
	}
	return a
}

func (l *Ledger) load(ctx context.Context, ownerID string, a *account) error {
	if a.loaded {
		return nil
	}
	acct, err := l.journal.Account(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", ownerID, err)
	}
	if acct != nil {
		a.balance = acct.Balance
	}
	a.loaded = true
	return nil
}

// Deduct atomically checks and subtracts amount. It returns ok=false with
// no state change when the balance is insufficient.
func (l *Ledger) Deduct(ctx context.Context, ownerID string, amount int64, reason string) (int64, bool, error) {
	if amount <= 0 {
		return 0, false, fmt.Errorf("deduct amount must be positive: %w", domain.ErrInvalidRequest)
	}

	a := l.owner(ownerID)
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := l.load(ctx, ownerID, a); err != nil {
		return 0, false, err
	}

	if amount > a.balance {
		return a.balance, false, nil
	}

	newBalance := a.balance - amount
	if err := l.commit(ctx, ownerID, newBalance, -amount, reason); err != nil {
		return a.balance, false, err
	}
	a.balance = newBalance
	return newBalance, true, nil
}

// Credit adds amount to the owner's balance.
func (l *Ledger) Credit(ctx context.Context, ownerID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive: %w", domain.ErrInvalidRequest)
	}

	a := l.owner(ownerID)
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := l.load(ctx, ownerID, a); err != nil {
		return 0, err
	}

	newBalance := a.balance + amount
	if err := l.commit(ctx, ownerID, newBalance, amount, reason); err != nil {
		return a.balance, err
	}
	a.balance = newBalance
	return newBalance, nil
}

// Balance returns the current balance for an owner.
func (l *Ledger) Balance(ctx context.Context, ownerID string) (int64, error) {
	a := l.owner(ownerID)
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := l.load(ctx, ownerID, a); err != nil {
		return 0, err
	}
	return a.balance, nil
}

// commit writes the new balance and the transaction as one unit under the
// owner lock. The account is saved first: a failed commit then leaves the
// journal without a delta the balance never absorbed, and a missing tail
// entry after a failed append is recoverable from the saved balance.
func (l *Ledger) commit(ctx context.Context, ownerID string, newBalance, delta int64, reason string) error {
	if err := l.journal.SaveAccount(ctx, domain.CreditAccount{OwnerID: ownerID, Balance: newBalance}); err != nil {
		return fmt.Errorf("save account: %w", err)
	}

	tx := domain.CreditTransaction{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Delta:     delta,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	if err := l.journal.AppendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}

	l.logger.Debug("ledger commit",
		"owner", ownerID,
		"delta", delta,
		"balance", newBalance,
		"reason", reason,
	)
	return nil
}

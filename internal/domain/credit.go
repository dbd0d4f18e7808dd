package domain

import "time"

// CreditAccount holds the current balance for one owner. The balance is
// mutated only through ledger operations and never goes negative.
type CreditAccount struct {
	OwnerID string `json:"owner_id"`
	Balance int64  `json:"balance"`
}

// CreditTransaction is one append-only ledger entry. Summing Delta over all
// transactions of an owner always reproduces the account balance.
type CreditTransaction struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

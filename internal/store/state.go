package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"crosspost/internal/domain"
)

// StateStore exposes the sync store as domain-typed operations. All entity
// persistence of the orchestrator goes through here, so every state change
// inherits the local-first discipline.
type StateStore struct {
	sync *SyncStore
}

func NewStateStore(s *SyncStore) *StateStore {
	return &StateStore{sync: s}
}

func (s *StateStore) SaveBrief(ctx context.Context, b domain.Brief) error {
	return s.sync.Write(ctx, KindBrief, b.ID, b)
}

func (s *StateStore) Brief(ctx context.Context, id string) (*domain.Brief, error) {
	var b domain.Brief
	found, err := s.sync.Read(ctx, KindBrief, id, &b)
	if err != nil || !found {
		return nil, err
	}
	return &b, nil
}

func (s *StateStore) SaveVariant(ctx context.Context, v domain.Variant) error {
	return s.sync.Write(ctx, KindVariant, v.Key(), v)
}

func (s *StateStore) VariantsForBrief(ctx context.Context, briefID string) ([]domain.Variant, error) {
	recs, err := s.sync.List(ctx, KindVariant)
	if err != nil {
		return nil, err
	}

	prefix := briefID + "/"
	var variants []domain.Variant
	for _, rec := range recs {
		if !strings.HasPrefix(rec.Key, prefix) {
			continue
		}
		var v domain.Variant
		if err := json.Unmarshal(rec.Payload, &v); err != nil {
			return nil, fmt.Errorf("unmarshal variant %s: %w", rec.Key, err)
		}
		variants = append(variants, v)
	}
	return variants, nil
}

func (s *StateStore) SaveOccurrence(ctx context.Context, o domain.Occurrence) error {
	return s.sync.Write(ctx, KindOccurrence, o.ID, o)
}

func (s *StateStore) Occurrences(ctx context.Context) ([]domain.Occurrence, error) {
	recs, err := s.sync.List(ctx, KindOccurrence)
	if err != nil {
		return nil, err
	}

	occs := make([]domain.Occurrence, 0, len(recs))
	for _, rec := range recs {
		var o domain.Occurrence
		if err := json.Unmarshal(rec.Payload, &o); err != nil {
			return nil, fmt.Errorf("unmarshal occurrence %s: %w", rec.Key, err)
		}
		occs = append(occs, o)
	}
	return occs, nil
}

func (s *StateStore) SaveEntries(ctx context.Context, entries []domain.CalendarEntry) error {
	for _, e := range entries {
		if err := s.sync.Write(ctx, KindCalendarEntry, e.ID, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *StateStore) Account(ctx context.Context, ownerID string) (*domain.CreditAccount, error) {
	var acct domain.CreditAccount
	found, err := s.sync.Read(ctx, KindCreditAccount, ownerID, &acct)
	if err != nil || !found {
		return nil, err
	}
	return &acct, nil
}

func (s *StateStore) SaveAccount(ctx context.Context, acct domain.CreditAccount) error {
	return s.sync.Write(ctx, KindCreditAccount, acct.OwnerID, acct)
}

// AppendTransaction persists one ledger entry under a key unique per
// transaction, keeping the journal append-only.
func (s *StateStore) AppendTransaction(ctx context.Context, tx domain.CreditTransaction) error {
	return s.sync.Write(ctx, KindCreditTx, tx.OwnerID+"/"+tx.ID, tx)
}

func (s *StateStore) TransactionsForOwner(ctx context.Context, ownerID string) ([]domain.CreditTransaction, error) {
	recs, err := s.sync.List(ctx, KindCreditTx)
	if err != nil {
		return nil, err
	}

	prefix := ownerID + "/"
	var txs []domain.CreditTransaction
	for _, rec := range recs {
		if !strings.HasPrefix(rec.Key, prefix) {
			continue
		}
		var tx domain.CreditTransaction
		if err := json.Unmarshal(rec.Payload, &tx); err != nil {
			return nil, fmt.Errorf("unmarshal credit tx %s: %w", rec.Key, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// DeleteBrief cascades to the brief's variants and its not-yet-dispatched
// occurrences. Dispatched and failed occurrences are retained as history.
func (s *StateStore) DeleteBrief(ctx context.Context, briefID string) error {
	variants, err := s.VariantsForBrief(ctx, briefID)
	if err != nil {
		return err
	}
	for _, v := range variants {
		if err := s.sync.Delete(ctx, KindVariant, v.Key()); err != nil {
			return err
		}
	}

	occs, err := s.Occurrences(ctx)
	if err != nil {
		return err
	}
	for _, o := range occs {
		if o.BriefID != briefID || o.Status != domain.OccurrenceScheduled {
			continue
		}
		if err := s.sync.Delete(ctx, KindOccurrence, o.ID); err != nil {
			return err
		}
	}

	return s.sync.Delete(ctx, KindBrief, briefID)
}

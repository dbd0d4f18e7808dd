package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"crosspost/internal/channel"
	"crosspost/internal/domain"
)

type Generator interface {
	Generate(ctx context.Context, spec channel.Spec, sourceText string) (string, error)
}

type Ledger interface {
	Deduct(ctx context.Context, ownerID string, amount int64, reason string) (int64, bool, error)
	Credit(ctx context.Context, ownerID string, amount int64, reason string) (int64, error)
	Balance(ctx context.Context, ownerID string) (int64, error)
}

type Relay interface {
	Dispatch(ctx context.Context, p domain.RelayPayload) error
}

type StateStore interface {
	SaveBrief(ctx context.Context, b domain.Brief) error
	SaveVariant(ctx context.Context, v domain.Variant) error
	SaveOccurrence(ctx context.Context, o domain.Occurrence) error
	Occurrences(ctx context.Context) ([]domain.Occurrence, error)
	SaveEntries(ctx context.Context, entries []domain.CalendarEntry) error
	DeleteBrief(ctx context.Context, briefID string) error
}

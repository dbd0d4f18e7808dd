package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"crosspost/internal/domain"
)

// CalendarMaterializer projects stored occurrences into calendar entries
// for a requested window. Expansion is lazy and bounded: nothing beyond the
// window, the rule's end date, or the configured horizon is ever generated.
type CalendarMaterializer struct {
	store       StateStore
	horizonDays int
	logger      *slog.Logger
}

func NewCalendarMaterializer(store StateStore, horizonDays int, logger *slog.Logger) *CalendarMaterializer {
	return &CalendarMaterializer{
		store:       store,
		horizonDays: horizonDays,
		logger:      logger.With("component", "calendar"),
	}
}

// EntriesInWindow expands every stored occurrence into the entries
// intersecting [start, end). Entry ids derive from occurrence id and
// instance offset, so identical stored state always yields identical
// entries.
func (c *CalendarMaterializer) EntriesInWindow(ctx context.Context, start, end time.Time) ([]domain.CalendarEntry, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("window end must be after start: %w", domain.ErrInvalidRequest)
	}

	occs, err := c.store.Occurrences(ctx)
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}

	var entries []domain.CalendarEntry
	for _, occ := range occs {
		entries = append(entries, c.expand(occ, start, end)...)
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		if entries[i].ChannelIDs[0] != entries[j].ChannelIDs[0] {
			return entries[i].ChannelIDs[0] < entries[j].ChannelIDs[0]
		}
		return entries[i].ID < entries[j].ID
	})

	if err := c.store.SaveEntries(ctx, entries); err != nil {
		return nil, fmt.Errorf("save entries: %w", err)
	}

	return entries, nil
}

func (c *CalendarMaterializer) expand(occ domain.Occurrence, start, end time.Time) []domain.CalendarEntry {
	if occ.Recurrence == nil {
		if occ.ScheduledAt.Before(start) || !occ.ScheduledAt.Before(end) {
			return nil
		}
		return []domain.CalendarEntry{entryFor(occ, 0, occ.ScheduledAt)}
	}

	horizon := occ.ScheduledAt.AddDate(0, 0, c.horizonDays)
	rule := *occ.Recurrence

	var out []domain.CalendarEntry
	t := occ.ScheduledAt
	for i := 0; t.Before(end) && t.Before(horizon); i++ {
		if rule.EndAt != nil && t.After(*rule.EndAt) {
			break
		}
		if !t.Before(start) {
			out = append(out, entryFor(occ, i, t))
		}

		next := rule.Step(t)
		if !next.After(t) {
			// A malformed rule that does not advance would loop forever.
			break
		}
		t = next
	}
	return out
}

func entryFor(occ domain.Occurrence, instance int, date time.Time) domain.CalendarEntry {
	status := occ.Status
	if occ.Recurrence != nil && instance < occ.DispatchedCount {
		status = domain.OccurrenceDispatched
	}
	return domain.CalendarEntry{
		ID:         domain.EntryID(occ.ID, instance),
		Date:       date,
		ChannelIDs: []string{occ.ChannelID},
		Body:       occ.Body,
		Status:     status,
	}
}

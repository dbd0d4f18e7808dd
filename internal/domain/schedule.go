package domain

import (
	"fmt"
	"time"
)

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// RecurrenceRule describes a repeating delivery series. An Occurrence
// carrying a rule logically represents the whole series; concrete instances
// are only materialized for an explicitly requested window.
type RecurrenceRule struct {
	Frequency Frequency  `json:"frequency"`
	Interval  int        `json:"interval"`
	EndAt     *time.Time `json:"end_at,omitempty"`
}

// Step advances t by one rule interval.
func (r RecurrenceRule) Step(t time.Time) time.Time {
	switch r.Frequency {
	case Daily:
		return t.AddDate(0, 0, r.Interval)
	case Weekly:
		return t.AddDate(0, 0, 7*r.Interval)
	case Monthly:
		return t.AddDate(0, r.Interval, 0)
	}
	return t
}

type OccurrenceStatus string

const (
	OccurrenceScheduled  OccurrenceStatus = "scheduled"
	OccurrenceDispatched OccurrenceStatus = "dispatched"
	OccurrenceFailed     OccurrenceStatus = "failed"
)

// Occurrence is one concrete scheduled delivery instance. Dispatched and
// Failed are terminal; a failed occurrence is re-scheduled only through a
// new Schedule call with a fresh id.
type Occurrence struct {
	ID          string           `json:"id"`
	BriefID     string           `json:"brief_id"`
	ChannelID   string           `json:"channel_id"`
	Body        string           `json:"body"`
	Tags        []string         `json:"tags"`
	MediaRefs   []string         `json:"media_refs,omitempty"`
	ScheduledAt time.Time        `json:"scheduled_at"` // absolute instant, UTC
	Timezone    string           `json:"timezone"`     // IANA name used by the caller
	Recurrence  *RecurrenceRule  `json:"recurrence,omitempty"`
	Status      OccurrenceStatus `json:"status"`
	FailReason  string           `json:"fail_reason,omitempty"`
	// DispatchedCount tracks how many instances of a recurring series have
	// been sent. The anchor ScheduledAt never moves, so calendar entry ids
	// stay stable across dispatches.
	DispatchedCount int `json:"dispatched_count"`
}

// NextDue returns the next concrete delivery instant, or nil when the
// series is exhausted.
func (o Occurrence) NextDue() *time.Time {
	t := o.ScheduledAt
	if o.Recurrence == nil {
		if o.DispatchedCount > 0 {
			return nil
		}
		return &t
	}
	for i := 0; i < o.DispatchedCount; i++ {
		t = o.Recurrence.Step(t)
	}
	if o.Recurrence.EndAt != nil && t.After(*o.Recurrence.EndAt) {
		return nil
	}
	return &t
}

// CalendarEntry is the denormalized projection of one occurrence instance
// for display and audit.
type CalendarEntry struct {
	ID         string           `json:"id"`
	Date       time.Time        `json:"date"`
	ChannelIDs []string         `json:"channel_ids"`
	Body       string           `json:"body"`
	Status     OccurrenceStatus `json:"status"`
}

// EntryID derives the stable calendar entry id for the n-th instance of an
// occurrence. Instance 0 is the anchor.
func EntryID(occurrenceID string, instance int) string {
	return fmt.Sprintf("%s#%d", occurrenceID, instance)
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"crosspost/internal/channel"
	"crosspost/internal/domain"
)

type DispatchOptions struct {
	CreditsEnabled bool
	ScheduleCost   int64
}

// PublishDispatcher sends finished variants through the relay, immediately
// or on schedule. Relay semantics are best-effort at-most-once: a failed
// dispatch is surfaced, never retried behind the caller's back.
type PublishDispatcher struct {
	registry *channel.Registry
	relay    Relay
	ledger   Ledger
	store    StateStore
	logger   *slog.Logger
	opts     DispatchOptions

	// now is swapped out in tests.
	now func() time.Time
}

func NewPublishDispatcher(
	registry *channel.Registry,
	relay Relay,
	ledger Ledger,
	store StateStore,
	logger *slog.Logger,
	opts DispatchOptions,
) *PublishDispatcher {
	return &PublishDispatcher{
		registry: registry,
		relay:    relay,
		ledger:   ledger,
		store:    store,
		logger:   logger.With("component", "dispatcher"),
		opts:     opts,
		now:      time.Now,
	}
}

// PublishNow sends one variant to the relay synchronously.
func (d *PublishDispatcher) PublishNow(ctx context.Context, v domain.Variant) domain.DispatchResult {
	spec, err := d.eligibleSpec(v.ChannelID)
	if err != nil {
		return domain.DispatchResult{ChannelID: v.ChannelID, Err: err}
	}

	payload := buildPayload(spec, v.Body, v.Tags, v.MediaRefs, nil)
	if err := d.relay.Dispatch(ctx, payload); err != nil {
		d.logger.Warn("relay dispatch failed", "channel", v.ChannelID, "error", err)
		return domain.DispatchResult{ChannelID: v.ChannelID, Err: err}
	}

	return domain.DispatchResult{ChannelID: v.ChannelID, Accepted: true}
}

// PublishBatch dispatches each variant independently and concurrently.
// Partial success is expected; the batch is rejected up front only when no
// requested channel is relay-eligible.
func (d *PublishDispatcher) PublishBatch(ctx context.Context, variants []domain.Variant) (domain.BatchResult, error) {
	eligible := 0
	for _, v := range variants {
		if _, err := d.eligibleSpec(v.ChannelID); err == nil {
			eligible++
		}
	}
	if eligible == 0 {
		return domain.BatchResult{}, fmt.Errorf("batch of %d variants: %w", len(variants), domain.ErrNoEligibleChannels)
	}

	results := make([]domain.DispatchResult, len(variants))
	var wg sync.WaitGroup

	for i, v := range variants {
		wg.Add(1)
		go func(i int, v domain.Variant) {
			defer wg.Done()
			results[i] = d.PublishNow(ctx, v)
		}(i, v)
	}
	wg.Wait()

	var res domain.BatchResult
	res.Results = results
	for _, r := range results {
		if r.Accepted {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}

	d.logger.Info("batch publish settled",
		"succeeded", res.Succeeded,
		"failed", res.Failed,
	)
	return res, nil
}

// Schedule records one occurrence at the absolute instant derived from the
// caller's wall-clock time and timezone. A recurrence rule is stored with
// the occurrence; future instances are never materialized eagerly.
func (d *PublishDispatcher) Schedule(ctx context.Context, ownerID string, v domain.Variant, when time.Time, tz string, rule *domain.RecurrenceRule) (*domain.Occurrence, error) {
	if _, err := d.registry.Get(v.ChannelID); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidRequest)
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, domain.ErrInvalidSchedule)
	}

	instant := time.Date(
		when.Year(), when.Month(), when.Day(),
		when.Hour(), when.Minute(), when.Second(), 0,
		loc,
	).UTC()

	if instant.Before(d.now()) {
		return nil, fmt.Errorf("scheduled time %s is in the past: %w", instant, domain.ErrInvalidSchedule)
	}

	if rule != nil {
		if err := validateRule(*rule, instant); err != nil {
			return nil, err
		}
	}

	if d.opts.CreditsEnabled {
		_, ok, err := d.ledger.Deduct(ctx, ownerID, d.opts.ScheduleCost, "schedule:"+v.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("credit check: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("schedule for %s: %w", v.ChannelID, domain.ErrInsufficientCredit)
		}
	}

	occ := domain.Occurrence{
		ID:          uuid.NewString(),
		BriefID:     v.BriefID,
		ChannelID:   v.ChannelID,
		Body:        v.Body,
		Tags:        v.Tags,
		MediaRefs:   v.MediaRefs,
		ScheduledAt: instant,
		Timezone:    tz,
		Recurrence:  rule,
		Status:      domain.OccurrenceScheduled,
	}

	if err := d.store.SaveOccurrence(ctx, occ); err != nil {
		return nil, fmt.Errorf("save occurrence: %w", err)
	}

	d.logger.Info("occurrence scheduled",
		"occurrence_id", occ.ID,
		"channel", occ.ChannelID,
		"scheduled_at", occ.ScheduledAt,
		"recurring", rule != nil,
	)
	return &occ, nil
}

// DispatchDue sends every scheduled occurrence whose next instance is due
// at now. A relay failure moves the occurrence to Failed, terminally; a
// recurring series keeps its anchor and advances its dispatched count.
func (d *PublishDispatcher) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	occs, err := d.store.Occurrences(ctx)
	if err != nil {
		return 0, fmt.Errorf("list occurrences: %w", err)
	}

	dispatched := 0
	for _, occ := range occs {
		if occ.Status != domain.OccurrenceScheduled {
			continue
		}
		prevStatus, prevCount := occ.Status, occ.DispatchedCount

		for occ.Status == domain.OccurrenceScheduled {
			due := occ.NextDue()
			if due == nil {
				// Series exhausted past its end date.
				occ.Status = domain.OccurrenceDispatched
				break
			}
			if due.After(now) {
				break
			}

			spec, err := d.eligibleSpec(occ.ChannelID)
			if err != nil {
				occ.Status = domain.OccurrenceFailed
				occ.FailReason = err.Error()
				break
			}

			payload := buildPayload(spec, occ.Body, occ.Tags, occ.MediaRefs, due)
			if err := d.relay.Dispatch(ctx, payload); err != nil {
				d.logger.Warn("scheduled dispatch failed",
					"occurrence_id", occ.ID,
					"channel", occ.ChannelID,
					"error", err,
				)
				occ.Status = domain.OccurrenceFailed
				occ.FailReason = err.Error()
				break
			}

			dispatched++
			occ.DispatchedCount++
			if occ.Recurrence == nil {
				occ.Status = domain.OccurrenceDispatched
			}
		}

		if occ.Status == prevStatus && occ.DispatchedCount == prevCount {
			continue
		}
		if err := d.store.SaveOccurrence(ctx, occ); err != nil {
			d.logger.Warn("save occurrence failed", "occurrence_id", occ.ID, "error", err)
		}
	}

	return dispatched, nil
}

func (d *PublishDispatcher) eligibleSpec(channelID string) (channel.Spec, error) {
	spec, err := d.registry.Get(channelID)
	if err != nil {
		return channel.Spec{}, fmt.Errorf("%v: %w", err, domain.ErrNoEligibleChannels)
	}
	if !spec.RelayEligible {
		return channel.Spec{}, fmt.Errorf("channel %q: %w", channelID, domain.ErrNoEligibleChannels)
	}
	return spec, nil
}

func buildPayload(spec channel.Spec, body string, tags, mediaRefs []string, scheduledAt *time.Time) domain.RelayPayload {
	return domain.RelayPayload{
		ChannelID:   spec.ChannelID,
		Body:        body,
		Tags:        strings.Join(tags, spec.TagSeparator),
		ScheduledAt: scheduledAt,
		MediaRefs:   mediaRefs,
	}
}

func validateRule(rule domain.RecurrenceRule, anchor time.Time) error {
	switch rule.Frequency {
	case domain.Daily, domain.Weekly, domain.Monthly:
	default:
		return fmt.Errorf("frequency %q: %w", rule.Frequency, domain.ErrInvalidSchedule)
	}
	if rule.Interval < 1 {
		return fmt.Errorf("interval %d: %w", rule.Interval, domain.ErrInvalidSchedule)
	}
	if rule.EndAt != nil && rule.EndAt.Before(anchor) {
		return fmt.Errorf("end before anchor: %w", domain.ErrInvalidSchedule)
	}
	return nil
}

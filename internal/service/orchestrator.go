package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"crosspost/internal/channel"
	"crosspost/internal/domain"
	"crosspost/internal/generator"
)

const insufficientCreditReason = "insufficient_credit"

type GenerationOptions struct {
	// TaskTimeout bounds one per-channel generation task.
	TaskTimeout    time.Duration
	CreditsEnabled bool
	GenerationCost int64
}

// GenerationOrchestrator fans one brief out across channels. Channel tasks
// run concurrently and settle independently; one channel's failure never
// cancels its siblings, and the result set is total over the requested
// channel set.
type GenerationOrchestrator struct {
	registry  *channel.Registry
	generator Generator
	ledger    Ledger
	store     StateStore
	logger    *slog.Logger
	opts      GenerationOptions
}

func NewGenerationOrchestrator(
	registry *channel.Registry,
	gen Generator,
	ledger Ledger,
	store StateStore,
	logger *slog.Logger,
	opts GenerationOptions,
) *GenerationOrchestrator {
	return &GenerationOrchestrator{
		registry:  registry,
		generator: gen,
		ledger:    ledger,
		store:     store,
		logger:    logger.With("component", "orchestrator"),
		opts:      opts,
	}
}

// Generate produces one variant per requested channel. Request-shape
// violations fail the whole call before any work starts; everything after
// that is isolated per channel and returned as data.
func (g *GenerationOrchestrator) Generate(ctx context.Context, ownerID string, brief domain.Brief, channelIDs []string) (map[string]domain.Variant, error) {
	if brief.SourceText == "" {
		return nil, fmt.Errorf("empty brief: %w", domain.ErrInvalidRequest)
	}
	if len(channelIDs) == 0 {
		return nil, fmt.Errorf("empty channel list: %w", domain.ErrInvalidRequest)
	}

	channelIDs = dedupe(channelIDs)
	specs, err := g.registry.Resolve(channelIDs)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidRequest)
	}

	g.logger.Info("starting generation fan-out",
		"brief_id", brief.ID,
		"channels", len(specs),
	)

	results := make(map[string]domain.Variant, len(specs))

	// Credit is deducted before any task launches; a rejected channel never
	// starts, and its failure is recorded before the fan-out begins so the
	// result map is only written concurrently under the mutex below.
	launch := specs
	if g.opts.CreditsEnabled {
		launch = make([]channel.Spec, 0, len(specs))
		for _, spec := range specs {
			_, ok, err := g.ledger.Deduct(ctx, ownerID, g.opts.GenerationCost, "generation:"+spec.ChannelID)
			if err != nil {
				results[spec.ChannelID] = failedVariant(brief.ID, spec, err.Error())
				continue
			}
			if !ok {
				results[spec.ChannelID] = failedVariant(brief.ID, spec, insufficientCreditReason)
				continue
			}
			launch = append(launch, spec)
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, spec := range launch {
		wg.Add(1)
		go func(spec channel.Spec) {
			defer wg.Done()

			taskCtx, cancel := context.WithTimeout(ctx, g.opts.TaskTimeout)
			defer cancel()

			v := g.generateOne(taskCtx, brief, spec)

			mu.Lock()
			results[spec.ChannelID] = v
			mu.Unlock()
		}(spec)
	}

	// Join-all: the call returns once every task has settled.
	wg.Wait()

	g.persist(ctx, brief, results)
	return results, nil
}

func (g *GenerationOrchestrator) generateOne(ctx context.Context, brief domain.Brief, spec channel.Spec) domain.Variant {
	raw, err := g.generator.Generate(ctx, spec, brief.SourceText)
	if err != nil {
		g.logger.Warn("channel generation failed",
			"brief_id", brief.ID,
			"channel", spec.ChannelID,
			"error", err,
		)
		return failedVariant(brief.ID, spec, err.Error())
	}

	body, tags := generator.PostProcess(raw)
	charCount := utf8.RuneCountInString(body)

	return domain.Variant{
		BriefID:   brief.ID,
		ChannelID: spec.ChannelID,
		Body:      body,
		Tags:      tags,
		CharCount: charCount,
		// Advisory only: an over-limit body is surfaced, not truncated,
		// since downstream editing may still bring it into range.
		Remaining: spec.CharacterLimit - charCount,
		Status:    domain.VariantOk,
	}
}

func (g *GenerationOrchestrator) persist(ctx context.Context, brief domain.Brief, results map[string]domain.Variant) {
	if err := g.store.SaveBrief(ctx, brief); err != nil {
		g.logger.Warn("save brief failed", "brief_id", brief.ID, "error", err)
	}
	for _, v := range results {
		if err := g.store.SaveVariant(ctx, v); err != nil {
			g.logger.Warn("save variant failed",
				"brief_id", brief.ID,
				"channel", v.ChannelID,
				"error", err,
			)
		}
	}
}

// DeleteBrief cascades to variants and not-yet-dispatched occurrences.
func (g *GenerationOrchestrator) DeleteBrief(ctx context.Context, briefID string) error {
	if briefID == "" {
		return fmt.Errorf("empty brief id: %w", domain.ErrInvalidRequest)
	}
	return g.store.DeleteBrief(ctx, briefID)
}

func failedVariant(briefID string, spec channel.Spec, reason string) domain.Variant {
	return domain.Variant{
		BriefID:    briefID,
		ChannelID:  spec.ChannelID,
		Remaining:  spec.CharacterLimit,
		Status:     domain.VariantFailed,
		FailReason: reason,
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

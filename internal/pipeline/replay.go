package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"token-sentinel/internal/dedup"
	"token-sentinel/internal/dispatch"
	"token-sentinel/internal/storage"
)

// ReplayOptions configures a Replayer.
type ReplayOptions struct {
	// History supplies the recorded verdicts to replay.
	History storage.VerdictHistoryStore

	// Gate and Dispatcher should be fresh instances wired to a dry-run
	// poster; replay drives them with the recorded timestamps instead of
	// the wall clock, so the same range always yields the same decisions.
	Gate       *dedup.Gate
	Dispatcher *dispatch.Dispatcher

	Logger *log.Logger
}

// Replayer re-runs recorded verdicts through the suppression gate and the
// dispatcher. Its main use is auditing: after changing cooldowns or rate
// limits, replay a past window to see which alerts the new settings would
// have admitted.
type Replayer struct {
	opts   ReplayOptions
	logger *log.Logger
}

// Summary reports what a replay produced.
type Summary struct {
	Verdicts  int                    // verdicts read from history
	Decisions map[dedup.Decision]int // gate ruling counts
	Posted    int                    // signals delivered by the dispatcher
	Failed    int                    // signals that exhausted delivery attempts
}

// NewReplayer validates options and creates a replayer.
func NewReplayer(opts ReplayOptions) (*Replayer, error) {
	if opts.History == nil {
		return nil, errors.New("replay: history store is required")
	}
	if opts.Gate == nil {
		return nil, errors.New("replay: gate is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("replay: dispatcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Replayer{opts: opts, logger: opts.Logger}, nil
}

// Replay processes every recorded verdict in [start, end] (inclusive, ms).
// Verdicts are offered at their recorded ProducedAt, and the gate is drained
// at the same instant, so bucket refills and cooldowns play out exactly as
// they would have live.
func (r *Replayer) Replay(ctx context.Context, start, end int64) (*Summary, error) {
	verdicts, err := r.opts.History.GetByTimeRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("replay: load verdicts: %w", err)
	}

	sum := &Summary{
		Verdicts:  len(verdicts),
		Decisions: make(map[dedup.Decision]int),
	}

	for _, v := range verdicts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		_, decision, err := r.opts.Gate.Offer(ctx, v, v.ProducedAt)
		if err != nil {
			return sum, fmt.Errorf("replay: offer verdict %s/%s: %w", v.EntityID, v.TriggerID, err)
		}
		sum.Decisions[decision]++
		r.drainAt(ctx, v.ProducedAt, sum)
	}

	// Whatever the bucket still allows at the end of the window.
	if len(verdicts) > 0 {
		r.drainAt(ctx, end, sum)
	}
	return sum, nil
}

func (r *Replayer) drainAt(ctx context.Context, nowMs int64, sum *Summary) {
	for {
		sig := r.opts.Gate.Next(nowMs)
		if sig == nil {
			return
		}
		if err := r.opts.Dispatcher.Dispatch(ctx, sig); err != nil {
			sum.Failed++
			r.logger.Printf("replay: dispatch signal %s: %v", sig.ID, err)
			continue
		}
		sum.Posted++
	}
}

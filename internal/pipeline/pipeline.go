// Package pipeline wires the runtime together: sources publish onto the bus,
// sharded workers fold events into entity state and score the result, and
// verdicts flow through the suppression gate to the dispatcher. One Pipeline
// owns the whole lifecycle; cancelling its context drains and stops it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"token-sentinel/internal/adapter"
	"token-sentinel/internal/bus"
	"token-sentinel/internal/dedup"
	"token-sentinel/internal/dispatch"
	"token-sentinel/internal/domain"
	"token-sentinel/internal/observability"
	"token-sentinel/internal/scorer"
	"token-sentinel/internal/state"
	"token-sentinel/internal/storage"
)

// Options configures a Pipeline. Zero values get sane defaults.
type Options struct {
	Sources    []adapter.Source
	Bus        *bus.Bus
	State      *state.Store
	Scorer     *scorer.Scorer
	Gate       *dedup.Gate
	Dispatcher *dispatch.Dispatcher

	// History records every verdict produced for audits and replay.
	// Optional; nil disables recording.
	History storage.VerdictHistoryStore

	Workers       int // scoring workers, sharded by entity id
	QueueCapacity int // per-channel buffer

	HistoryFlushEvery time.Duration // verdict batch flush interval
	HistoryBatchSize  int           // verdicts per history insert

	CheckpointInterval time.Duration // 0 disables snapshot checkpoints
	ArchiveHorizon     time.Duration // 0 disables archival
	ArchiveSweepEvery  time.Duration

	Logger *log.Logger
}

func (o *Options) normalize() error {
	if o.Bus == nil {
		return errors.New("pipeline: bus is required")
	}
	if o.State == nil {
		return errors.New("pipeline: state store is required")
	}
	if o.Scorer == nil {
		return errors.New("pipeline: scorer is required")
	}
	if o.Gate == nil {
		return errors.New("pipeline: gate is required")
	}
	if o.Dispatcher == nil {
		return errors.New("pipeline: dispatcher is required")
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 256
	}
	if o.HistoryFlushEvery <= 0 {
		o.HistoryFlushEvery = 5 * time.Second
	}
	if o.HistoryBatchSize <= 0 {
		o.HistoryBatchSize = 500
	}
	if o.ArchiveSweepEvery <= 0 {
		o.ArchiveSweepEvery = 10 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return nil
}

// Pipeline runs the ingest-score-alert loop.
type Pipeline struct {
	opts   Options
	logger *log.Logger
}

// New validates options and creates a pipeline.
func New(opts Options) (*Pipeline, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	return &Pipeline{opts: opts, logger: opts.Logger}, nil
}

// Run restores persisted state, starts every source, and processes events
// until ctx is cancelled. Events for the same entity always land on the same
// worker, so per-entity ordering holds no matter how many workers run.
func (p *Pipeline) Run(ctx context.Context) error {
	restored, err := p.opts.State.Restore(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if restored > 0 {
		p.logger.Printf("pipeline: restored %d entity snapshots", restored)
	}

	g, ctx := errgroup.WithContext(ctx)

	events := p.opts.Bus.Subscribe("pipeline", p.opts.QueueCapacity)

	shards := make([]chan *domain.Event, p.opts.Workers)
	for i := range shards {
		shards[i] = make(chan *domain.Event, p.opts.QueueCapacity)
	}
	verdicts := make(chan *domain.Verdict, p.opts.QueueCapacity)

	for _, src := range p.opts.Sources {
		src := src
		g.Go(func() error {
			p.logger.Printf("pipeline: starting source %s", src.Name())
			if err := src.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("source %s: %w", src.Name(), err)
			}
			return nil
		})
	}

	// Fan-out: one reader off the bus, routing by entity shard. Worker
	// channels close when the reader exits so workers drain and stop.
	g.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				ch := shards[shardIndex(ev.Entity.ID, len(shards))]
				select {
				case ch <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	var workers sync.WaitGroup
	for i := range shards {
		ch := shards[i]
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for ev := range ch {
				p.process(ctx, ev, verdicts)
			}
			return nil
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(verdicts)
		return nil
	})

	g.Go(func() error { return p.consumeVerdicts(ctx, verdicts) })
	g.Go(func() error { return p.opts.Dispatcher.Run(ctx) })
	g.Go(func() error { return p.housekeeping(ctx) })

	return g.Wait()
}

// process folds one event into state and scores the updated snapshot.
// Duplicates and quarantined entities produce no verdict.
func (p *Pipeline) process(ctx context.Context, ev *domain.Event, verdicts chan<- *domain.Verdict) {
	snap, applied, err := p.opts.State.Apply(ctx, ev)
	if err != nil {
		if errors.Is(err, domain.ErrStoreCorruption) {
			observability.DefaultMetrics.StateCorruptions.Inc()
		}
		p.logger.Printf("pipeline: apply event %s: %v", ev.ID, err)
		return
	}
	if !applied {
		observability.DefaultMetrics.EventsDuplicate.Inc()
		return
	}

	v := p.opts.Scorer.Score(snap, ev)
	observability.RecordVerdict(string(v.Category), v.Score)

	select {
	case verdicts <- v:
	case <-ctx.Done():
	}
}

// consumeVerdicts is the single writer against the gate and the history
// store. Neutral verdicts are recorded but never offered past the gate's
// neutral short-circuit; history writes are batched.
func (p *Pipeline) consumeVerdicts(ctx context.Context, verdicts <-chan *domain.Verdict) error {
	flush := time.NewTicker(p.opts.HistoryFlushEvery)
	defer flush.Stop()

	var batch []*domain.Verdict
	for {
		select {
		case v, ok := <-verdicts:
			if !ok {
				p.flushHistory(batch)
				return nil
			}
			p.offer(ctx, v)
			if p.opts.History != nil {
				batch = append(batch, v)
				if len(batch) >= p.opts.HistoryBatchSize {
					p.flushHistory(batch)
					batch = nil
				}
			}
		case <-flush.C:
			p.flushHistory(batch)
			batch = nil
		}
	}
}

func (p *Pipeline) offer(ctx context.Context, v *domain.Verdict) {
	sig, decision, err := p.opts.Gate.Offer(ctx, v, time.Now().UnixMilli())
	if err != nil {
		p.logger.Printf("pipeline: offer verdict for %s: %v", v.EntityID, err)
		return
	}
	m := observability.DefaultMetrics
	switch decision {
	case dedup.DecisionAdmitted:
		m.SignalsAdmitted.Inc()
	case dedup.DecisionEscalated:
		m.SignalsAdmitted.Inc()
		m.SignalsEscalated.Inc()
	case dedup.DecisionCooldown, dedup.DecisionNeutral:
		observability.RecordSuppression(string(decision))
	}
	if sig == nil && (decision == dedup.DecisionAdmitted || decision == dedup.DecisionEscalated) {
		// Admitted but immediately evicted by a full queue.
		m.SignalsDropped.Inc()
	}
}

func (p *Pipeline) flushHistory(batch []*domain.Verdict) {
	if p.opts.History == nil || len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.opts.History.InsertBulk(ctx, batch); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Redelivered trigger already recorded; nothing lost.
			return
		}
		p.logger.Printf("pipeline: record %d verdicts: %v", len(batch), err)
	}
}

// housekeeping runs the periodic jobs: snapshot checkpoints, inactive-entity
// archival, and gauge refreshes.
func (p *Pipeline) housekeeping(ctx context.Context) error {
	checkpoint := newTicker(p.opts.CheckpointInterval)
	defer checkpoint.Stop()
	archive := newTicker(p.opts.ArchiveSweepEvery)
	defer archive.Stop()
	stats := time.NewTicker(10 * time.Second)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final checkpoint so a clean shutdown loses no state.
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			p.checkpoint(final)
			cancel()
			return ctx.Err()
		case <-checkpoint.C:
			p.checkpoint(ctx)
		case <-archive.C:
			if p.opts.ArchiveHorizon <= 0 {
				continue
			}
			n, err := p.opts.State.ArchiveInactive(ctx, time.Now().UnixMilli(), p.opts.ArchiveHorizon)
			if err != nil {
				p.logger.Printf("pipeline: archive sweep: %v", err)
			}
			if n > 0 {
				observability.DefaultMetrics.SnapshotsArchived.Add(float64(n))
				p.logger.Printf("pipeline: archived %d inactive entities", n)
			}
		case <-stats.C:
			p.refreshGauges()
		}
	}
}

func (p *Pipeline) checkpoint(ctx context.Context) {
	if p.opts.CheckpointInterval <= 0 {
		return
	}
	start := time.Now()
	if err := p.opts.State.Checkpoint(ctx); err != nil {
		p.logger.Printf("pipeline: checkpoint: %v", err)
		return
	}
	observability.DefaultMetrics.CheckpointDuration.Observe(time.Since(start).Seconds())
}

func (p *Pipeline) refreshGauges() {
	m := observability.DefaultMetrics
	m.EntitiesTracked.Set(float64(p.opts.State.Len()))
	m.AlertQueueDepth.Set(float64(p.opts.Gate.QueueLen()))
	m.RateBucketLevel.Set(p.opts.Gate.BucketState().Level)
	for name, depth := range p.opts.Bus.QueueDepths() {
		m.BusQueueDepth.WithLabelValues(name).Set(float64(depth))
	}
	m.UptimeSeconds.Add(10)
}

// newTicker returns a ticker that never fires when interval is zero, so
// disabled jobs cost nothing in the select loop.
func newTicker(interval time.Duration) *time.Ticker {
	if interval <= 0 {
		t := time.NewTicker(time.Hour)
		t.Stop()
		return t
	}
	return time.NewTicker(interval)
}

func shardIndex(entityID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(entityID))
	return int(h.Sum32() % uint32(n))
}

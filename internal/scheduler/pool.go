// Package scheduler runs passes over the configured feed sources with a fixed
// pool of workers and repeats them on an interval until stopped.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feed-ingestor/internal/ingest"
	"github.com/JakeFAU/feed-ingestor/internal/metrics"
	"github.com/JakeFAU/feed-ingestor/internal/queue/memory"
)

// Processor handles a single feed source.
type Processor interface {
	Process(ctx context.Context, src ingest.FeedSource) ingest.FeedResult
}

// Pool fans one pass out over a fixed number of workers.
type Pool struct {
	processor Processor
	workers   int
	ids       ingest.IDGenerator
	clock     ingest.Clock
	logger    *zap.Logger
}

// NewPool constructs a Pool. workers below one is treated as one.
func NewPool(processor Processor, workers int, ids ingest.IDGenerator, clock ingest.Clock, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		processor: processor,
		workers:   workers,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
}

// RunPass processes every source once and blocks until all workers finish.
// Cancelling ctx stops workers from picking up further sources; feeds already
// in progress observe the same ctx.
func (p *Pool) RunPass(ctx context.Context, sources []ingest.FeedSource) ingest.PassSummary {
	start := p.now()
	summary := ingest.PassSummary{ID: p.passID(), StartedAt: start}
	logger := p.logger.With(zap.String("pass_id", summary.ID))
	logger.Debug("pass started", zap.Int("sources", len(sources)), zap.Int("workers", p.workers))

	q := memory.NewQueue(len(sources))
	for _, src := range sources {
		// Capacity equals len(sources), so this never blocks.
		if err := q.Enqueue(context.Background(), src); err != nil {
			logger.Error("queue enqueue failed", zap.Error(err))
		}
	}
	q.Close()

	workers := min(p.workers, len(sources))
	results := make(chan ingest.FeedResult, len(sources))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx, q, results, logger)
		}()
	}
	wg.Wait()
	close(results)

	for res := range results {
		summary.Add(res)
	}
	summary.Interrupted = summary.Feeds < len(sources)
	summary.Duration = p.now().Sub(start)
	metrics.ObservePass(summary.New, summary.Duration)

	fields := []zap.Field{
		zap.Int("new", summary.New),
		zap.Int("feeds", summary.Feeds),
		zap.Int("failed_feeds", summary.FailedFeeds),
		zap.Int("seen", summary.Seen),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("record_errors", summary.Errors),
		zap.Duration("duration", summary.Duration),
	}
	switch {
	case summary.Interrupted:
		logger.Warn("pass interrupted", append(fields, zap.Int("skipped_feeds", len(sources)-summary.Feeds))...)
	case summary.New == 0:
		logger.Info("no new articles", fields...)
	default:
		logger.Info("pass complete", fields...)
	}
	return summary
}

func (p *Pool) work(ctx context.Context, q *memory.Queue, results chan<- ingest.FeedResult, logger *zap.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		src, err := q.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		results <- p.processOne(ctx, src, logger)
	}
}

// processOne isolates a panicking feed from the rest of the pass.
func (p *Pool) processOne(ctx context.Context, src ingest.FeedSource, logger *zap.Logger) (res ingest.FeedResult) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("feed processing panicked",
				zap.Int64("source_id", src.SourceID),
				zap.Int64("topic_id", src.TopicID),
				zap.String("feed_url", src.FeedURL),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			res = ingest.FeedResult{Source: src, Panicked: true}
		}
	}()
	return p.processor.Process(ctx, src)
}

func (p *Pool) passID() string {
	if p.ids == nil {
		return ""
	}
	id, err := p.ids.NewID()
	if err != nil {
		p.logger.Warn("pass id generation failed", zap.Error(err))
		return ""
	}
	return id
}

func (p *Pool) now() time.Time {
	if p.clock == nil {
		return time.Now().UTC()
	}
	return p.clock.Now()
}

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feed-ingestor/internal/ingest"
)

// Checkpointer persists the membership filter.
type Checkpointer interface {
	Checkpoint() error
}

// Config controls the pass loop.
type Config struct {
	PollInterval  time.Duration
	ShutdownGrace time.Duration
	// RefreshEveryPass re-lists sources before every pass after the first.
	RefreshEveryPass    bool
	CheckpointEveryPass bool
}

// Scheduler repeats passes until its context is cancelled.
type Scheduler struct {
	pool       *Pool
	provider   ingest.SourceProvider
	topics     ingest.TopicSyncer
	checkpoint Checkpointer
	cfg        Config
	logger     *zap.Logger

	mu     sync.RWMutex
	last   ingest.PassSummary
	passes int
}

// New constructs a Scheduler. provider, topics and checkpoint may be nil.
func New(
	pool *Pool,
	provider ingest.SourceProvider,
	topics ingest.TopicSyncer,
	checkpoint Checkpointer,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		pool:       pool,
		provider:   provider,
		topics:     topics,
		checkpoint: checkpoint,
		cfg:        cfg,
		logger:     logger,
	}
}

// RunForever runs a pass, sleeps for the poll interval and repeats. A stop
// signal lets the current pass drain for up to the shutdown grace period and
// prevents the next pass from starting. A panic in the loop is returned as an
// error so callers can still flush state.
func (s *Scheduler) RunForever(ctx context.Context, initial []ingest.FeedSource) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("scheduler panic: %v", r)
		}
	}()

	sources := initial
	for first := true; ; first = false {
		if ctx.Err() != nil {
			return nil
		}
		if !first && s.cfg.RefreshEveryPass {
			sources = s.refresh(ctx, sources)
		}
		s.RunOnce(ctx, sources)

		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce syncs topics, runs a single pass and checkpoints the filter.
func (s *Scheduler) RunOnce(ctx context.Context, sources []ingest.FeedSource) ingest.PassSummary {
	s.syncTopics(ctx, sources)

	passCtx, cancel := s.drainContext(ctx)
	summary := s.pool.RunPass(passCtx, sources)
	cancel()

	s.mu.Lock()
	s.last = summary
	s.passes++
	s.mu.Unlock()

	if s.cfg.CheckpointEveryPass && s.checkpoint != nil {
		if err := s.checkpoint.Checkpoint(); err != nil {
			s.logger.Warn("filter checkpoint failed", zap.Error(err))
		}
	}
	return summary
}

// LastPass returns the most recent pass summary, if any pass finished.
func (s *Scheduler) LastPass() (ingest.PassSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.passes > 0
}

// Passes returns the number of finished passes.
func (s *Scheduler) Passes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.passes
}

// drainContext returns a pass context that outlives ctx by the shutdown grace.
func (s *Scheduler) drainContext(ctx context.Context) (context.Context, context.CancelFunc) {
	passCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		if s.cfg.ShutdownGrace <= 0 {
			cancel()
			return
		}
		s.logger.Info("stop requested; draining current pass", zap.Duration("grace", s.cfg.ShutdownGrace))
		timer := time.NewTimer(s.cfg.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			s.logger.Warn("shutdown grace elapsed; cancelling pass")
			cancel()
		}
	}()
	var once sync.Once
	return passCtx, func() {
		once.Do(func() {
			close(done)
			cancel()
		})
	}
}

func (s *Scheduler) refresh(ctx context.Context, previous []ingest.FeedSource) []ingest.FeedSource {
	if s.provider == nil {
		return previous
	}
	sources, err := s.provider.Sources(ctx)
	if err != nil {
		s.logger.Warn("source refresh failed; keeping previous list",
			zap.Int("sources", len(previous)),
			zap.Error(err),
		)
		return previous
	}
	if len(sources) != len(previous) {
		s.logger.Info("sources refreshed", zap.Int("previous", len(previous)), zap.Int("current", len(sources)))
	}
	return sources
}

func (s *Scheduler) syncTopics(ctx context.Context, sources []ingest.FeedSource) {
	if s.topics == nil || len(sources) == 0 {
		return
	}
	if err := s.topics.SyncTopics(ctx, sources); err != nil {
		s.logger.Warn("topic sync failed", zap.Error(err))
	}
}

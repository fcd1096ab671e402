// Package coordinator reconciles candidate records with the membership filter
// and durable storage: check the filter, insert idempotently, and only then
// mark the identifier seen.
package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feed-ingestor/internal/ingest"
	"github.com/JakeFAU/feed-ingestor/internal/metrics"
)

const logTitleLen = 70

// Config controls commit behavior.
type Config struct {
	// AuditUser is written to created_by and last_updated_by.
	AuditUser string
	// ConfirmConflicts marks an identifier seen after a conflicting insert when
	// the stored row provably carries the same identifier.
	ConfirmConflicts bool
	// StatementTimeout bounds one record's transaction.
	StatementTimeout time.Duration
}

// Coordinator processes one feed at a time. It is safe for concurrent use
// across feeds; the filter and store must be too.
type Coordinator struct {
	fetcher ingest.Fetcher
	filter  ingest.SeenFilter
	store   ingest.ArticleStore
	clock   ingest.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Coordinator.
func New(
	fetcher ingest.Fetcher,
	filter ingest.SeenFilter,
	store ingest.ArticleStore,
	clock ingest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if cfg.AuditUser == "" {
		cfg.AuditUser = "admin"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		fetcher: fetcher,
		filter:  filter,
		store:   store,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Process fetches src and commits its new records in document order.
// FeedResult.New is the number of newly committed records. Failures are
// contained: a fetch or parse failure yields zero records, a storage failure
// skips only the affected record.
func (c *Coordinator) Process(ctx context.Context, src ingest.FeedSource) ingest.FeedResult {
	result := ingest.FeedResult{Source: src}
	logger := c.logger.With(
		zap.Int64("source_id", src.SourceID),
		zap.Int64("topic_id", src.TopicID),
		zap.String("feed_url", src.FeedURL),
	)

	records, outcome := c.fetcher.Fetch(ctx, src)
	result.Outcome = outcome
	switch outcome.Status {
	case ingest.OutcomeOK:
	case ingest.OutcomeParseError:
		logger.Warn("feed parse failed", zap.Error(outcome.Err))
		return result
	default:
		logger.Warn("feed fetch failed",
			zap.Int("http_status", outcome.HTTPStatus),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(outcome.Err),
		)
		return result
	}

	for i, rec := range records {
		if ctx.Err() != nil {
			logger.Warn("feed processing interrupted", zap.Int("remaining", len(records)-i))
			break
		}
		c.processRecord(ctx, logger, rec, &result)
	}
	return result
}

func (c *Coordinator) processRecord(ctx context.Context, logger *zap.Logger, rec ingest.CandidateRecord, result *ingest.FeedResult) {
	key := rec.DedupKey()
	if key == "" {
		metrics.ObserveRecord("skipped")
		logger.Warn("record has no guid, link or title; skipped")
		return
	}
	if c.filter.Contains(key) {
		result.Seen++
		metrics.ObserveRecord("seen")
		return
	}

	storeCtx, cancel := c.storeContext(ctx)
	defer cancel()

	inserted, err := c.store.InsertArticle(storeCtx, ingest.NewArticle(rec, c.cfg.AuditUser, c.now()))
	if err != nil {
		result.Errors++
		metrics.ObserveRecord("error")
		logger.Error("article insert failed",
			zap.String("title", ingest.Truncate(rec.Title, logTitleLen)),
			zap.String("link", rec.Link),
			zap.Error(&ingest.StorageError{Link: rec.Link, Err: err}),
		)
		return
	}
	if inserted {
		c.filter.Add(key)
		result.New++
		metrics.ObserveRecord("new")
		logger.Info("new article",
			zap.String("title", ingest.Truncate(rec.Title, logTitleLen)),
			zap.String("link", rec.Link),
		)
		return
	}

	result.Duplicates++
	metrics.ObserveRecord("duplicate")
	if c.cfg.ConfirmConflicts && c.conflictConfirmed(storeCtx, logger, rec, key) {
		c.filter.Add(key)
	}
}

// conflictConfirmed reports whether the row that blocked the insert carries
// the same dedup identifier as rec.
func (c *Coordinator) conflictConfirmed(ctx context.Context, logger *zap.Logger, rec ingest.CandidateRecord, key string) bool {
	if ingest.Truncate(rec.Link, ingest.MaxLinkLen) != rec.Link {
		return false
	}
	if key == rec.Link {
		return true
	}
	if rec.GUID == "" || key != rec.GUID {
		return false
	}
	guid, found, err := c.store.LookupGUID(ctx, rec.Link)
	if err != nil {
		logger.Debug("conflict lookup failed", zap.String("link", rec.Link), zap.Error(err))
		return false
	}
	return found && guid == ingest.Truncate(rec.GUID, ingest.MaxGUIDLen)
}

// storeContext detaches the record's transaction from shutdown cancellation so
// an in-flight insert finishes; the statement timeout still bounds it.
func (c *Coordinator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if c.cfg.StatementTimeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, c.cfg.StatementTimeout)
}

func (c *Coordinator) now() time.Time {
	if c.clock == nil {
		return time.Now().UTC()
	}
	return c.clock.Now()
}

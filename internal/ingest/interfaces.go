package ingest

import (
	"context"
	"time"
)

// Fetcher retrieves and normalizes one feed. It never returns an error past its
// boundary: failures are reported through the outcome.
type Fetcher interface {
	Fetch(ctx context.Context, src FeedSource) ([]CandidateRecord, FetchOutcome)
}

// SeenFilter is the membership filter consulted by the coordinator.
type SeenFilter interface {
	Contains(id string) bool
	Add(id string)
}

// ArticleStore persists articles idempotently keyed by link.
type ArticleStore interface {
	// InsertArticle commits the row in its own transaction and reports whether a
	// row was inserted (false means the link already existed).
	InsertArticle(ctx context.Context, a Article) (bool, error)
	// LookupGUID returns the guid stored for link.
	LookupGUID(ctx context.Context, link string) (string, bool, error)
}

// TopicSyncer makes the topics referenced by sources available to storage.
type TopicSyncer interface {
	SyncTopics(ctx context.Context, sources []FeedSource) error
}

// SourceProvider lists the feed sources to poll.
type SourceProvider interface {
	Sources(ctx context.Context) ([]FeedSource, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces pass identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

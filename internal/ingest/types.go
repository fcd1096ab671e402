// Package ingest defines the domain types and collaborator contracts shared by
// the feed ingestion pipeline.
package ingest

import (
	"strings"
	"time"
)

// Column limits enforced by the articles table.
const (
	MaxTitleLen       = 1024
	MaxLinkLen        = 1024
	MaxGUIDLen        = 1024
	MaxDescriptionLen = 100000
)

// FeedSource is one topic feed published by a source. It is immutable for the
// duration of a pass.
type FeedSource struct {
	SourceID   int64  `json:"source_id" mapstructure:"source_id"`
	SourceName string `json:"source_name" mapstructure:"source_name"`
	TopicID    int64  `json:"topic_id" mapstructure:"topic_id"`
	TopicName  string `json:"topic_name" mapstructure:"topic_name"`
	FeedURL    string `json:"feed_url" mapstructure:"feed_url"`
}

// CandidateRecord is a parsed, normalized, not yet deduplicated feed entry.
type CandidateRecord struct {
	Title       string
	Link        string
	GUID        string
	Description string
	PublishedAt time.Time
	ImageLink   string
	TopicID     int64
}

// DedupKey returns the identifier checked against the membership filter:
// guid, else link, else title.
func (r CandidateRecord) DedupKey() string {
	for _, k := range []string{r.GUID, r.Link, r.Title} {
		if k = strings.TrimSpace(k); k != "" {
			return k
		}
	}
	return ""
}

// PublishedMillis returns the publish instant as epoch milliseconds UTC.
func (r CandidateRecord) PublishedMillis() int64 {
	return r.PublishedAt.UTC().UnixMilli()
}

// Article is the row handed to durable storage.
type Article struct {
	Title       string
	Link        string
	GUID        string
	Description string
	PubDate     int64
	ImageLink   string
	TopicID     int64
	Actor       string
	At          int64
}

// NewArticle builds the storage row for a candidate, stamping audit fields.
func NewArticle(rec CandidateRecord, actor string, now time.Time) Article {
	return Article{
		Title:       rec.Title,
		Link:        rec.Link,
		GUID:        rec.GUID,
		Description: rec.Description,
		PubDate:     rec.PublishedMillis(),
		ImageLink:   rec.ImageLink,
		TopicID:     rec.TopicID,
		Actor:       actor,
		At:          now.UTC().UnixMilli(),
	}
}

// OutcomeStatus classifies a single feed fetch.
type OutcomeStatus string

// Fetch outcome statuses.
const (
	OutcomeOK         OutcomeStatus = "ok"
	OutcomeFetchError OutcomeStatus = "fetch_error"
	OutcomeParseError OutcomeStatus = "parse_error"
)

// FetchOutcome reports how one feed fetch went. Err is nil when Status is OK.
type FetchOutcome struct {
	Status     OutcomeStatus
	Err        error
	HTTPStatus int
	Entries    int
	Attempts   int
	Duration   time.Duration
}

// FeedResult is the per-feed tally produced by the coordinator.
type FeedResult struct {
	Source     FeedSource
	Outcome    FetchOutcome
	New        int
	Seen       int
	Duplicates int
	Errors     int
	Panicked   bool
}

// Failed reports whether the feed contributed nothing because of a failure.
func (r FeedResult) Failed() bool {
	return r.Panicked || r.Outcome.Status != OutcomeOK
}

// PassSummary aggregates one pass over all sources.
type PassSummary struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Feeds       int           `json:"feeds"`
	FailedFeeds int           `json:"failed_feeds"`
	New         int           `json:"new"`
	Seen        int           `json:"seen"`
	Duplicates  int           `json:"duplicates"`
	Errors      int           `json:"record_errors"`
	Interrupted bool          `json:"interrupted"`
}

// Add folds one feed result into the summary.
func (s *PassSummary) Add(r FeedResult) {
	s.Feeds++
	if r.Failed() {
		s.FailedFeeds++
	}
	s.New += r.New
	s.Seen += r.Seen
	s.Duplicates += r.Duplicates
	s.Errors += r.Errors
}

// Truncate shortens s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Package feed fetches syndication documents and normalizes their entries
// into candidate records.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feed-ingestor/internal/ingest"
	"github.com/JakeFAU/feed-ingestor/internal/metrics"
	"github.com/JakeFAU/feed-ingestor/internal/retry"
)

const acceptHeader = "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8"

// Config controls fetch behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Waiter throttles requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher downloads and parses one feed per call. It is safe for concurrent use.
type Fetcher struct {
	client  *http.Client
	cfg     Config
	retry   retry.Policy
	limiter Waiter
	clock   ingest.Clock
	logger  *zap.Logger
}

// NewFetcher constructs a Fetcher. client, policy and limiter may be nil.
func NewFetcher(
	cfg Config,
	client *http.Client,
	policy retry.Policy,
	limiter Waiter,
	clock ingest.Clock,
	logger *zap.Logger,
) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "NewsCrawler/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:  client,
		cfg:     cfg,
		retry:   policy,
		limiter: limiter,
		clock:   clock,
		logger:  logger,
	}
}

// Fetch performs the GET, parses the document and normalizes its entries.
// Failures are reported through the outcome and never escape as errors.
func (f *Fetcher) Fetch(ctx context.Context, src ingest.FeedSource) ([]ingest.CandidateRecord, ingest.FetchOutcome) {
	start := time.Now()
	var (
		outcome ingest.FetchOutcome
		body    []byte
	)
	attempts, err := retry.Do(ctx, f.retry, func(ctx context.Context) error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, src.FeedURL); err != nil {
				return err
			}
		}
		b, status, err := f.get(ctx, src.FeedURL)
		outcome.HTTPStatus = status
		body = b
		return err
	})
	outcome.Attempts = attempts
	if err != nil {
		outcome.Status = ingest.OutcomeFetchError
		fetchErr := &ingest.FeedFetchError{URL: src.FeedURL, Err: err}
		var statusErr *retry.StatusError
		if errors.As(err, &statusErr) {
			fetchErr.StatusCode = statusErr.StatusCode
		}
		outcome.Err = fetchErr
		return nil, f.finish(src, outcome, start)
	}

	records, err := Parse(body, src, f.now())
	if err != nil {
		outcome.Status = ingest.OutcomeParseError
		outcome.Err = &ingest.FeedParseError{URL: src.FeedURL, Err: err}
		return nil, f.finish(src, outcome, start)
	}
	outcome.Status = ingest.OutcomeOK
	outcome.Entries = len(records)
	return records, f.finish(src, outcome, start)
}

func (f *Fetcher) finish(src ingest.FeedSource, outcome ingest.FetchOutcome, start time.Time) ingest.FetchOutcome {
	outcome.Duration = time.Since(start)
	metrics.ObserveFeed(src.FeedURL, string(outcome.Status), outcome.Duration)
	f.logger.Debug("feed fetched",
		zap.String("feed_url", src.FeedURL),
		zap.String("outcome", string(outcome.Status)),
		zap.Int("http_status", outcome.HTTPStatus),
		zap.Int("entries", outcome.Entries),
		zap.Int("attempts", outcome.Attempts),
		zap.Duration("duration", outcome.Duration),
	)
	return outcome
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, &retry.StatusError{StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return nil, resp.StatusCode, retry.Permanent(fmt.Errorf("feed body exceeds %d bytes", f.cfg.MaxBodyBytes))
	}
	return body, resp.StatusCode, nil
}

func (f *Fetcher) now() time.Time {
	if f.clock == nil {
		return time.Now().UTC()
	}
	return f.clock.Now()
}

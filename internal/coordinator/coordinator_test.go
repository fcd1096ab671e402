package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-ingestor/internal/clock"
	"github.com/JakeFAU/feed-ingestor/internal/filter"
	"github.com/JakeFAU/feed-ingestor/internal/ingest"
	"github.com/JakeFAU/feed-ingestor/internal/storage/memory"
)

var testParams = filter.Params{InitialCapacity: 1000, ErrorRate: 0.001, Growth: 2, Tightening: 0.9}

type fakeFetcher struct {
	records []ingest.CandidateRecord
	outcome ingest.FetchOutcome
}

func (f *fakeFetcher) Fetch(context.Context, ingest.FeedSource) ([]ingest.CandidateRecord, ingest.FetchOutcome) {
	out := f.outcome
	if out.Status == "" {
		out.Status = ingest.OutcomeOK
		out.Entries = len(f.records)
	}
	return f.records, out
}

// scriptedStore wraps the memory store and can fail specific links.
type scriptedStore struct {
	*memory.ArticleStore
	mu      sync.Mutex
	failFor map[string]error
	inserts int
	lookups int
	ctxErrs []error
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{ArticleStore: memory.NewArticleStore(), failFor: map[string]error{}}
}

func (s *scriptedStore) InsertArticle(ctx context.Context, a ingest.Article) (bool, error) {
	s.mu.Lock()
	s.inserts++
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	err := s.failFor[a.Link]
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	return s.ArticleStore.InsertArticle(ctx, a)
}

func (s *scriptedStore) LookupGUID(ctx context.Context, link string) (string, bool, error) {
	s.mu.Lock()
	s.lookups++
	s.mu.Unlock()
	return s.ArticleStore.LookupGUID(ctx, link)
}

func newFilter(t *testing.T) *filter.Filter {
	t.Helper()
	f, err := filter.New(testParams)
	require.NoError(t, err)
	return f
}

func newCoordinator(fetcher ingest.Fetcher, f ingest.SeenFilter, store ingest.ArticleStore, confirm bool) *Coordinator {
	return New(fetcher, f, store, clock.NewFixed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), Config{
		AuditUser:        "admin",
		ConfirmConflicts: confirm,
		StatementTimeout: time.Second,
	}, zap.NewNop())
}

var source = ingest.FeedSource{SourceID: 1, SourceName: "Wire", TopicID: 7, TopicName: "World", FeedURL: "https://wire.test/rss"}

func rec(guid, link, title string) ingest.CandidateRecord {
	return ingest.CandidateRecord{
		GUID:        guid,
		Link:        link,
		Title:       title,
		TopicID:     7,
		PublishedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestProcessCommitsNewRecordsAndMarksThem(t *testing.T) {
	f := newFilter(t)
	store := newScriptedStore()
	fetcher := &fakeFetcher{records: []ingest.CandidateRecord{
		rec("g1", "https://wire.test/a", "A"),
		rec("", "https://wire.test/b", "B"),
		rec("", "", "Only a title"),
	}}
	c := newCoordinator(fetcher, f, store, true)

	res := c.Process(context.Background(), source)
	assert.Equal(t, 3, res.New)
	assert.Zero(t, res.Errors)
	assert.True(t, f.Contains("g1"))
	assert.True(t, f.Contains("https://wire.test/b"))
	assert.True(t, f.Contains("Only a title"))

	articles := store.Articles()
	require.Len(t, articles, 3)
	assert.Equal(t, "admin", articles[0].Actor)
	assert.Equal(t, int64(7), articles[0].TopicID)
}

func TestProcessSecondPassCommitsNothing(t *testing.T) {
	f := newFilter(t)
	store := newScriptedStore()
	fetcher := &fakeFetcher{records: []ingest.CandidateRecord{
		rec("g1", "https://wire.test/a", "A"),
		rec("g2", "https://wire.test/b", "B"),
	}}
	c := newCoordinator(fetcher, f, store, true)

	first := c.Process(context.Background(), source)
	require.Equal(t, 2, first.New)

	second := c.Process(context.Background(), source)
	assert.Zero(t, second.New)
	assert.Equal(t, 2, second.Seen)
	assert.Equal(t, 2, store.inserts, "seen records must not reach storage")
	assert.Equal(t, 2, store.Len())
}

func TestProcessDuplicateWithinOneDocument(t *testing.T) {
	f := newFilter(t)
	store := newScriptedStore()
	fetcher := &fakeFetcher{records: []ingest.CandidateRecord{
		rec("g1", "https://wire.test/a", "A"),
		rec("g1", "https://wire.test/a", "A again"),
	}}
	res := newCoordinator(fetcher, f, store, true).Process(context.Background(), source)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 1, res.Seen)
	assert.Equal(t, 1, store.Len())
}

func TestProcessStorageFailureIsContained(t *testing.T) {
	f := newFilter(t)
	store := newScriptedStore()
	store.failFor["https://wire.test/bad"] = errors.New("connection reset")
	fetcher := &fakeFetcher{records: []ingest.CandidateRecord{
		rec("g1", "https://wire.test/a", "A"),
		rec("g2", "https://wire.test/bad", "Bad"),
		rec("g3", "https://wire.test/c", "C"),
	}}
	c := newCoordinator(fetcher, f, store, true)

	res := c.Process(context.Background(), source)
	assert.Equal(t, 2, res.New)
	assert.Equal(t, 1, res.Errors)
	assert.False(t, f.Contains("g2"), "failed record must stay retryable")
	assert.True(t, f.Contains("g3"))

	delete(store.failFor, "https://wire.test/bad")
	retry := c.Process(context.Background(), source)
	assert.Equal(t, 1, retry.New)
	assert.Equal(t, 2, retry.Seen)
}

func TestProcessFetchAndParseFailuresYieldNothing(t *testing.T) {
	for _, status := range []ingest.OutcomeStatus{ingest.OutcomeFetchError, ingest.OutcomeParseError} {
		t.Run(string(status), func(t *testing.T) {
			f := newFilter(t)
			store := newScriptedStore()
			fetcher := &fakeFetcher{outcome: ingest.FetchOutcome{Status: status, Err: errors.New("boom")}}
			res := newCoordinator(fetcher, f, store, true).Process(context.Background(), source)
			assert.Zero(t, res.New)
			assert.True(t, res.Failed())
			assert.Zero(t, store.inserts)
		})
	}
}

func TestProcessConflictHandling(t *testing.T) {
	tests := []struct {
		name      string
		existing  ingest.CandidateRecord
		incoming  ingest.CandidateRecord
		confirm   bool
		wantMark  bool
		wantCheck bool
	}{
		{
			name:     "confirm off never marks",
			existing: rec("g1", "https://wire.test/a", "A"),
			incoming: rec("g1", "https://wire.test/a", "A"),
			confirm:  false,
		},
		{
			name:      "same guid is marked",
			existing:  rec("g1", "https://wire.test/a", "A"),
			incoming:  rec("g1", "https://wire.test/a", "A"),
			confirm:   true,
			wantMark:  true,
			wantCheck: true,
		},
		{
			name:      "different guid stays unmarked",
			existing:  rec("g1", "https://wire.test/a", "A"),
			incoming:  rec("g2", "https://wire.test/a", "A"),
			confirm:   true,
			wantCheck: true,
		},
		{
			name:     "link keyed record is marked without lookup",
			existing: rec("", "https://wire.test/a", "A"),
			incoming: rec("", "https://wire.test/a", "A"),
			confirm:  true,
			wantMark: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newScriptedStore()
			_, err := store.ArticleStore.InsertArticle(context.Background(),
				ingest.NewArticle(tc.existing, "admin", time.Now()))
			require.NoError(t, err)

			f := newFilter(t)
			c := newCoordinator(&fakeFetcher{records: []ingest.CandidateRecord{tc.incoming}}, f, store, tc.confirm)
			res := c.Process(context.Background(), source)

			assert.Zero(t, res.New)
			assert.Equal(t, 1, res.Duplicates)
			assert.Equal(t, tc.wantMark, f.Contains(tc.incoming.DedupKey()))
			assert.Equal(t, tc.wantCheck, store.lookups > 0)
		})
	}
}

func TestProcessSharedLinkAcrossConcurrentFeeds(t *testing.T) {
	f := newFilter(t)
	store := newScriptedStore()
	shared := rec("", "https://wire.test/shared", "Shared")
	c := newCoordinator(&fakeFetcher{records: []ingest.CandidateRecord{shared}}, f, store, true)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			src := source
			src.SourceID = id
			res := c.Process(context.Background(), src)
			mu.Lock()
			total += res.New
			mu.Unlock()
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, 1, total)
	assert.Equal(t, 1, store.Len())
	assert.True(t, f.Contains("https://wire.test/shared"))
}

func TestProcessStopsStartingRecordsAfterCancellation(t *testing.T) {
	f := newFilter(t)
	store := newScriptedStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancelling := &cancelOnFetch{cancel: cancel, records: []ingest.CandidateRecord{
		rec("g1", "https://wire.test/a", "A"),
		rec("g2", "https://wire.test/b", "B"),
	}}
	c := newCoordinator(cancelling, f, store, true)

	res := c.Process(ctx, source)
	assert.Zero(t, res.New, "no record starts after cancellation")
	assert.Zero(t, store.inserts)
}

type cancelOnFetch struct {
	cancel  context.CancelFunc
	records []ingest.CandidateRecord
}

func (c *cancelOnFetch) Fetch(context.Context, ingest.FeedSource) ([]ingest.CandidateRecord, ingest.FetchOutcome) {
	c.cancel()
	return c.records, ingest.FetchOutcome{Status: ingest.OutcomeOK, Entries: len(c.records)}
}

func TestStoreContextIsDetachedFromCancellation(t *testing.T) {
	c := newCoordinator(&fakeFetcher{}, newFilter(t), newScriptedStore(), true)
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	ctx, done := c.storeContext(parent)
	defer done()
	assert.NoError(t, ctx.Err())
	_, hasDeadline := ctx.Deadline()
	assert.True(t, hasDeadline)
}

func TestRestartDoesNotRecommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.bloom")
	store := newScriptedStore()
	fetcher := &fakeFetcher{records: []ingest.CandidateRecord{
		rec("g1", "https://wire.test/a", "A"),
		rec("g2", "https://wire.test/b", "B"),
	}}

	first, err := filter.Open(path, testParams, zap.NewNop())
	require.NoError(t, err)
	res := newCoordinator(fetcher, first.Filter(), store, true).Process(context.Background(), source)
	require.Equal(t, 2, res.New)
	require.NoError(t, first.Close())

	second, err := filter.Open(path, testParams, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	res = newCoordinator(fetcher, second.Filter(), store, true).Process(context.Background(), source)
	assert.Zero(t, res.New)
	assert.Equal(t, 2, res.Seen)
	assert.Equal(t, 2, store.Len())
}

func TestRestartWithoutSnapshotStillDoesNotDuplicate(t *testing.T) {
	store := newScriptedStore()
	fetcher := &fakeFetcher{records: []ingest.CandidateRecord{rec("", "https://wire.test/a", "A")}}

	res := newCoordinator(fetcher, newFilter(t), store, true).Process(context.Background(), source)
	require.Equal(t, 1, res.New)

	fresh := newFilter(t)
	res = newCoordinator(fetcher, fresh, store, true).Process(context.Background(), source)
	assert.Zero(t, res.New)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, store.Len())
	assert.True(t, fresh.Contains("https://wire.test/a"))
}

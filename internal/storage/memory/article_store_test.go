package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/feed-ingestor/internal/ingest"
)

func TestInsertArticleEnforcesUniqueLink(t *testing.T) {
	t.Parallel()

	store := NewArticleStore()
	ctx := context.Background()

	inserted, err := store.InsertArticle(ctx, ingest.Article{Title: "a", Link: "https://x/1", GUID: "g1"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.InsertArticle(ctx, ingest.Article{Title: "a again", Link: "https://x/1", GUID: "g2"})
	require.NoError(t, err)
	assert.False(t, inserted)

	guid, found, err := store.LookupGUID(ctx, "https://x/1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "g1", guid)

	require.Len(t, store.Articles(), 1)
	assert.Equal(t, int64(1), store.Articles()[0].ID)
}

func TestInsertArticleWithoutLinkAlwaysInserts(t *testing.T) {
	t.Parallel()

	store := NewArticleStore()
	for i := 0; i < 2; i++ {
		inserted, err := store.InsertArticle(context.Background(), ingest.Article{Title: "no link"})
		require.NoError(t, err)
		assert.True(t, inserted)
	}
	assert.Equal(t, 2, store.Len())

	_, found, err := store.LookupGUID(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConcurrentInsertsOfSameLinkCommitOnce(t *testing.T) {
	t.Parallel()

	store := NewArticleStore()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		commits int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.InsertArticle(context.Background(), ingest.Article{Link: "https://x/shared"})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				commits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, store.Len())
}

func TestInsertArticleHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewArticleStore().InsertArticle(ctx, ingest.Article{Link: "https://x/1"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSyncTopicsKeepsFirstName(t *testing.T) {
	t.Parallel()

	store := NewArticleStore()
	require.NoError(t, store.SyncTopics(context.Background(), []ingest.FeedSource{
		{TopicID: 1, TopicName: "World"},
		{TopicID: 1, TopicName: "Renamed"},
		{TopicID: 2, TopicName: "Sport"},
	}))
	assert.Equal(t, map[int64]string{1: "World", 2: "Sport"}, store.Topics())
}

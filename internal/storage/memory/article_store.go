// Package memory provides an in-process article store for local development
// and tests. It enforces the same link uniqueness as the Postgres schema.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/feed-ingestor/internal/ingest"
)

// StoredArticle is an article plus its storage-assigned id.
type StoredArticle struct {
	ID int64
	ingest.Article
}

// ArticleStore keeps articles in memory.
type ArticleStore struct {
	mu       sync.RWMutex
	nextID   int64
	articles []StoredArticle
	byLink   map[string]int
	topics   map[int64]string
}

// NewArticleStore constructs an empty ArticleStore.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{
		byLink: make(map[string]int),
		topics: make(map[int64]string),
	}
}

// InsertArticle stores a unless its link is already present. Articles without
// a link are always inserted, matching NULL semantics of a unique column.
func (s *ArticleStore) InsertArticle(ctx context.Context, a ingest.Article) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a.Title = ingest.Truncate(a.Title, ingest.MaxTitleLen)
	a.Link = ingest.Truncate(a.Link, ingest.MaxLinkLen)
	a.GUID = ingest.Truncate(a.GUID, ingest.MaxGUIDLen)
	a.Description = ingest.Truncate(a.Description, ingest.MaxDescriptionLen)

	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Link != "" {
		if _, exists := s.byLink[a.Link]; exists {
			return false, nil
		}
	}
	s.nextID++
	s.articles = append(s.articles, StoredArticle{ID: s.nextID, Article: a})
	if a.Link != "" {
		s.byLink[a.Link] = len(s.articles) - 1
	}
	return true, nil
}

// LookupGUID returns the guid stored for link.
func (s *ArticleStore) LookupGUID(_ context.Context, link string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byLink[ingest.Truncate(link, ingest.MaxLinkLen)]
	if !ok {
		return "", false, nil
	}
	return s.articles[idx].GUID, true, nil
}

// SyncTopics records topic names, keeping the first name seen for an id.
func (s *ArticleStore) SyncTopics(_ context.Context, sources []ingest.FeedSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range sources {
		if _, ok := s.topics[src.TopicID]; !ok {
			s.topics[src.TopicID] = src.TopicName
		}
	}
	return nil
}

// Ping always succeeds.
func (s *ArticleStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *ArticleStore) Close() {}

// Articles returns a copy of all stored articles in insertion order.
func (s *ArticleStore) Articles() []StoredArticle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StoredArticle, len(s.articles))
	copy(out, s.articles)
	return out
}

// Len reports the number of stored articles.
func (s *ArticleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.articles)
}

// Topics returns the known topic names keyed by id.
func (s *ArticleStore) Topics() map[int64]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]string, len(s.topics))
	for k, v := range s.topics {
		out[k] = v
	}
	return out
}

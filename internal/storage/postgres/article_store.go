// Package postgres persists articles in Postgres with one transaction per
// record and link as the uniqueness boundary.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-ingestor/internal/ingest"
)

const (
	articlesTable = "articles"
	topicsTable   = "topics"
	maxNameLen    = 255
	topicBatch    = 1000
)

var articleColumns = []string{
	"title",
	"link",
	"guid",
	"description",
	"pub_date",
	"image_link",
	"topic_id",
	"created_by",
	"created_at",
	"last_updated_by",
	"last_updated_at",
}

// Config controls the Postgres connection pool used for article rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// txPool is the slice of pgxpool the store needs; pgxmock satisfies it.
type txPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// ArticleStore writes articles into Postgres.
type ArticleStore struct {
	pool    txPool
	builder sq.StatementBuilderType
	logger  *zap.Logger
}

// NewArticleStore creates a Postgres-backed ArticleStore using the provided config.
func NewArticleStore(ctx context.Context, cfg Config, logger *zap.Logger) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewArticleStoreWithPool(pool, logger)
}

// NewArticleStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArticleStoreWithPool(pool txPool, logger *zap.Logger) (*ArticleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArticleStore{
		pool:    pool,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger:  logger,
	}, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *ArticleStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// InsertArticle inserts a in its own transaction, doing nothing if the link is
// already stored. It reports whether a row was inserted.
func (s *ArticleStore) InsertArticle(ctx context.Context, a ingest.Article) (bool, error) {
	query, args, err := s.builder.
		Insert(articlesTable).
		Columns(articleColumns...).
		Values(
			ingest.Truncate(a.Title, ingest.MaxTitleLen),
			nullable(ingest.Truncate(a.Link, ingest.MaxLinkLen)),
			nullable(ingest.Truncate(a.GUID, ingest.MaxGUIDLen)),
			ingest.Truncate(a.Description, ingest.MaxDescriptionLen),
			a.PubDate,
			nullable(a.ImageLink),
			a.TopicID,
			a.Actor,
			a.At,
			a.Actor,
			a.At,
		).
		Suffix("ON CONFLICT (link) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build article insert: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin article tx: %w", err)
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		// The rollback must run even if ctx is what failed the insert.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			s.logger.Warn("article rollback failed", zap.String("link", a.Link), zap.Error(rbErr))
		}
		return false, fmt.Errorf("insert article: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit article: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LookupGUID returns the guid of the article stored under link.
func (s *ArticleStore) LookupGUID(ctx context.Context, link string) (string, bool, error) {
	query, args, err := s.builder.
		Select("COALESCE(guid, '')").
		From(articlesTable).
		Where(sq.Eq{"link": ingest.Truncate(link, ingest.MaxLinkLen)}).
		Limit(1).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build guid lookup: %w", err)
	}
	var guid string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&guid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup guid: %w", err)
	}
	return guid, true, nil
}

// SyncTopics inserts any topic referenced by sources that is not yet present,
// leaving existing rows untouched.
func (s *ArticleStore) SyncTopics(ctx context.Context, sources []ingest.FeedSource) error {
	seen := make(map[int64]struct{}, len(sources))
	topics := make([]ingest.FeedSource, 0, len(sources))
	for _, src := range sources {
		if _, ok := seen[src.TopicID]; ok {
			continue
		}
		seen[src.TopicID] = struct{}{}
		topics = append(topics, src)
	}
	for start := 0; start < len(topics); start += topicBatch {
		end := min(start+topicBatch, len(topics))
		insert := s.builder.Insert(topicsTable).Columns("id", "name")
		for _, src := range topics[start:end] {
			insert = insert.Values(src.TopicID, ingest.Truncate(src.TopicName, maxNameLen))
		}
		query, args, err := insert.Suffix("ON CONFLICT (id) DO NOTHING").ToSql()
		if err != nil {
			return fmt.Errorf("build topic sync: %w", err)
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("sync topics: %w", err)
		}
	}
	return nil
}

// nullable maps empty strings to SQL NULL so that absent links never collide
// on the unique constraint.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package directory

import (
	"context"
	"strings"

	"github.com/JakeFAU/feed-ingestor/internal/ingest"
)

// Static serves a fixed list of sources from configuration.
type Static struct {
	sources []ingest.FeedSource
}

// NewStatic keeps the sources that carry a feed URL.
func NewStatic(sources []ingest.FeedSource) *Static {
	out := make([]ingest.FeedSource, 0, len(sources))
	for _, src := range sources {
		src.FeedURL = strings.TrimSpace(src.FeedURL)
		if src.FeedURL == "" {
			continue
		}
		out = append(out, src)
	}
	return &Static{sources: out}
}

// Sources returns a copy of the configured sources.
func (s *Static) Sources(context.Context) ([]ingest.FeedSource, error) {
	out := make([]ingest.FeedSource, len(s.sources))
	copy(out, s.sources)
	return out, nil
}

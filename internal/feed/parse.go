package feed

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/feed-ingestor/internal/ingest"
)

// Parse decodes an RSS, Atom or JSON feed document into candidate records in
// document order. XML documents must be well formed; one that is not yields
// no records. now stamps entries that carry no timestamp.
func Parse(body []byte, src ingest.FeedSource, now time.Time) ([]ingest.CandidateRecord, error) {
	switch gofeed.DetectFeedType(bytes.NewReader(body)) {
	case gofeed.FeedTypeRSS, gofeed.FeedTypeAtom:
		if err := checkWellFormed(body); err != nil {
			return nil, fmt.Errorf("parse feed: %w", err)
		}
	}
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	records := make([]ingest.CandidateRecord, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		records = append(records, Normalize(item, src, now))
	}
	return records, nil
}

// Normalize converts one parsed entry. Every optional field is checked for
// presence; absent fields become zero values, never errors.
func Normalize(item *gofeed.Item, src ingest.FeedSource, now time.Time) ingest.CandidateRecord {
	return ingest.CandidateRecord{
		Title:       CleanTitle(item.Title),
		Link:        entryLink(item),
		GUID:        strings.TrimSpace(item.GUID),
		Description: entryDescription(item),
		PublishedAt: publishedAt(item, now),
		ImageLink:   ExtractImage(item),
		TopicID:     src.TopicID,
	}
}

func entryLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	for _, l := range item.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return ""
}

func entryDescription(item *gofeed.Item) string {
	if item.Description != "" {
		return item.Description
	}
	return item.Content
}

// publishedAt prefers the published timestamp, then updated, then now.
func publishedAt(item *gofeed.Item, now time.Time) time.Time {
	switch {
	case item.PublishedParsed != nil && !item.PublishedParsed.IsZero():
		return item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil && !item.UpdatedParsed.IsZero():
		return item.UpdatedParsed.UTC()
	default:
		return now.UTC()
	}
}

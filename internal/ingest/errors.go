package ingest

import "fmt"

// AuthError means the directory service rejected our credentials.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("directory auth: %v", e.Err) }

// Unwrap returns the underlying cause.
func (e *AuthError) Unwrap() error { return e.Err }

// DirectoryFetchError means the source list could not be retrieved.
type DirectoryFetchError struct {
	Err error
}

func (e *DirectoryFetchError) Error() string { return fmt.Sprintf("list sources: %v", e.Err) }

// Unwrap returns the underlying cause.
func (e *DirectoryFetchError) Unwrap() error { return e.Err }

// FeedFetchError means the feed document could not be downloaded.
type FeedFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FeedFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch feed %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch feed %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FeedFetchError) Unwrap() error { return e.Err }

// FeedParseError means the downloaded document is not a readable feed.
type FeedParseError struct {
	URL string
	Err error
}

func (e *FeedParseError) Error() string { return fmt.Sprintf("parse feed %s: %v", e.URL, e.Err) }

// Unwrap returns the underlying cause.
func (e *FeedParseError) Unwrap() error { return e.Err }

// StorageError wraps a failed per-record write.
type StorageError struct {
	Link string
	Err  error
}

func (e *StorageError) Error() string { return fmt.Sprintf("store article %q: %v", e.Link, e.Err) }

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error { return e.Err }

// SnapshotError wraps a filter snapshot load or save failure.
type SnapshotError struct {
	Op   string
	Path string
	Err  error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("%s filter snapshot %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SnapshotError) Unwrap() error { return e.Err }

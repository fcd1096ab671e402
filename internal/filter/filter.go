// Package filter implements the persisted, size-adaptive membership filter
// used to skip feed entries that were already committed.
//
// The filter answers "have we processed this identifier before?" with no false
// negatives and a bounded false-positive rate. It is purely in memory; Store
// adds the snapshot file lifecycle around it.
package filter

import (
	"sync"
)

// Filter is a concurrency-safe scalable bloom filter.
type Filter struct {
	mu      sync.RWMutex
	s       *scalable
	version uint64
}

// Stats is a point-in-time view of the filter's size.
type Stats struct {
	Items     uint64  `json:"items"`
	Stages    int     `json:"stages"`
	Capacity  uint64  `json:"capacity"`
	SizeBytes uint64  `json:"size_bytes"`
	ErrorRate float64 `json:"error_rate"`
}

// New returns an empty filter seeded with p.
func New(p Params) (*Filter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Filter{s: newScalable(p)}, nil
}

// Contains reports whether id was added before. False positives are possible
// at the configured rate; false negatives are not.
func (f *Filter) Contains(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.s.contains([]byte(id))
}

// Add records id as seen.
func (f *Filter) Add(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.s.add([]byte(id)) {
		f.version++
	}
}

// Params returns the parameters the filter was seeded with.
func (f *Filter) Params() Params {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.s.params
}

// Stats reports the current size of the filter.
func (f *Filter) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Stats{
		Items:     f.s.count,
		Stages:    len(f.s.stages),
		Capacity:  f.s.capacity(),
		SizeBytes: f.s.bits() / 8,
		ErrorRate: f.s.params.ErrorRate,
	}
}

// Version increments on every effective Add.
func (f *Filter) Version() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.version
}

// Snapshot serializes the filter.
func (f *Filter) Snapshot() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return encode(f.s)
}

// Restore rebuilds a filter from a Snapshot blob.
func Restore(blob []byte) (*Filter, error) {
	s, err := decode(blob)
	if err != nil {
		return nil, err
	}
	return &Filter{s: s}, nil
}

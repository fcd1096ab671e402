package filter

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"
)

// Params describe how the filter is seeded and how it grows.
type Params struct {
	// InitialCapacity is the number of identifiers the first stage holds before
	// a new stage is opened.
	InitialCapacity uint64 `json:"initial_capacity"`
	// ErrorRate is the overall false-positive target across all stages.
	ErrorRate float64 `json:"error_rate"`
	// Growth multiplies capacity for every new stage.
	Growth uint32 `json:"growth"`
	// Tightening multiplies the per-stage error rate for every new stage.
	Tightening float64 `json:"tightening"`
}

// DefaultParams returns the production sizing.
func DefaultParams() Params {
	return Params{
		InitialCapacity: 20_000_000,
		ErrorRate:       0.001,
		Growth:          2,
		Tightening:      0.9,
	}
}

// Validate rejects parameters that cannot produce a bounded error rate.
func (p Params) Validate() error {
	if p.InitialCapacity == 0 {
		return errors.New("filter initial capacity must be > 0")
	}
	if p.ErrorRate <= 0 || p.ErrorRate >= 1 {
		return fmt.Errorf("filter error rate must be in (0,1), got %v", p.ErrorRate)
	}
	if p.Growth < 2 {
		return fmt.Errorf("filter growth must be >= 2, got %d", p.Growth)
	}
	if p.Tightening <= 0 || p.Tightening >= 1 {
		return fmt.Errorf("filter tightening must be in (0,1), got %v", p.Tightening)
	}
	return nil
}

// stage is one fixed-size bloom filter sized for capacity items at errRate.
type stage struct {
	bf       *bloom.BloomFilter
	capacity uint64
	errRate  float64
	count    uint64
}

func newStage(capacity uint64, errRate float64) *stage {
	return &stage{
		bf:       bloom.NewWithEstimates(uint(capacity), errRate),
		capacity: capacity,
		errRate:  errRate,
	}
}

func (s *stage) full() bool {
	return s.count >= s.capacity
}

// scalable chains stages so the compounded false-positive rate stays under
// ErrorRate: stage i is sized for ErrorRate*(1-Tightening)*Tightening^i, and
// the geometric sum of those never exceeds ErrorRate. Not safe for concurrent
// use.
type scalable struct {
	params Params
	stages []*stage
	count  uint64
}

func newScalable(p Params) *scalable {
	return &scalable{params: p}
}

func (s *scalable) contains(key []byte) bool {
	// Newest stages hold the most recent identifiers and are checked first.
	for i := len(s.stages) - 1; i >= 0; i-- {
		if s.stages[i].bf.Test(key) {
			return true
		}
	}
	return false
}

// add inserts key and reports whether it was absent before.
func (s *scalable) add(key []byte) bool {
	if s.contains(key) {
		return false
	}
	cur := s.current()
	cur.bf.Add(key)
	cur.count++
	s.count++
	return true
}

func (s *scalable) current() *stage {
	if len(s.stages) == 0 {
		st := newStage(s.params.InitialCapacity, s.params.ErrorRate*(1-s.params.Tightening))
		s.stages = append(s.stages, st)
		return st
	}
	last := s.stages[len(s.stages)-1]
	if !last.full() {
		return last
	}
	st := newStage(last.capacity*uint64(s.params.Growth), last.errRate*s.params.Tightening)
	s.stages = append(s.stages, st)
	return st
}

func (s *scalable) capacity() uint64 {
	var total uint64
	for _, st := range s.stages {
		total += st.capacity
	}
	return total
}

func (s *scalable) bits() uint64 {
	var total uint64
	for _, st := range s.stages {
		total += uint64(st.bf.Cap())
	}
	return total
}

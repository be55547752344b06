package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// window holds the hit counts of the current fixed window and the one before it.
type window struct {
	start    time.Time
	previous int64
	current  int64
}

// LocalStore counts hits per bucket in an expiring LRU, using the same
// sliding-window estimate as the shared store. Counts are per process.
type LocalStore struct {
	mu      sync.Mutex
	windows *expirable.LRU[string, *window]
}

// NewLocalStore keeps at most size buckets. maxWindow is the longest rule
// window in use; entries live for two of them so the previous window is
// still known.
func NewLocalStore(size int, maxWindow time.Duration) *LocalStore {
	return &LocalStore{windows: expirable.NewLRU[string, *window](size, nil, 2*maxWindow)}
}

func (s *LocalStore) Take(_ context.Context, bucket string, r Rule, now time.Time) (bool, error) {
	start := now.Truncate(r.Window)

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows.Get(bucket)
	if !ok {
		w = &window{start: start}
	}
	switch {
	case start.Equal(w.start):
	case start.Sub(w.start) == r.Window:
		w.start, w.previous, w.current = start, w.current, 0
	case start.After(w.start):
		w.start, w.previous, w.current = start, 0, 0
	}
	w.current++
	// Re-adding refreshes the entry's expiry.
	s.windows.Add(bucket, w)
	return SlidingEstimate(w.previous, w.current, now.Sub(w.start), r.Window) <= float64(r.Max), nil
}

// SlidingEstimate weights the previous window by the share of it that still
// overlaps the sliding window ending now.
func SlidingEstimate(previous, current int64, elapsed, window time.Duration) float64 {
	overlap := 1 - float64(elapsed)/float64(window)
	if overlap < 0 {
		overlap = 0
	}
	return float64(previous)*overlap + float64(current)
}

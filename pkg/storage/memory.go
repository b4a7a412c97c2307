package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements an in-memory store for run reports.
// It is safe for concurrent use by multiple goroutines.
//
// If TTL is configured, a background goroutine removes reports older than
// the TTL. Reports do not outlive the process; use RedisStore to compare
// runs across invocations.
type MemoryStore struct {
	mu            sync.RWMutex
	reports       map[string][]Report // newest first
	maxHistory    int
	ttl           time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopped       bool
	stopMu        sync.Mutex
}

// NewMemoryStore creates a store with no TTL keeping DefaultHistory
// reports per run.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports:    make(map[string][]Report),
		maxHistory: DefaultHistory,
	}
}

// NewMemoryStoreWithTTL creates a store whose background goroutine runs
// every cleanupInterval and drops reports older than ttl.
//
// Stop must be called when the store is no longer needed.
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	store := NewMemoryStore()
	store.ttl = ttl
	store.cleanupTicker = time.NewTicker(cleanupInterval)
	store.stopCleanup = make(chan struct{})
	store.cleanupDone = make(chan struct{})

	go store.runCleanup()

	return store
}

// Stop shuts down the cleanup goroutine and blocks until it exits.
// Calling Stop multiple times or on a store without TTL is safe.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return
	}

	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stopped {
		return
	}

	close(s.stopCleanup)
	<-s.cleanupDone
	s.cleanupTicker.Stop()
	s.stopped = true
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes reports older than the TTL.
func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl == 0 {
		return
	}

	for run, reports := range s.reports {
		kept := reports[:0]
		for _, r := range reports {
			if now.Sub(r.GeneratedAt) <= s.ttl {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(s.reports, run)
			continue
		}
		s.reports[run] = kept
	}
}

// Put records a report as the latest of its run.
func (s *MemoryStore) Put(ctx context.Context, report Report) error {
	if err := ValidateRunName(report.Run); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append([]Report{report}, s.reports[report.Run]...)
	if len(history) > s.maxHistory {
		history = history[:s.maxHistory]
	}
	s.reports[report.Run] = history
	return nil
}

// GetLatest retrieves the most recent report of a run.
func (s *MemoryStore) GetLatest(ctx context.Context, run string) (Report, bool, error) {
	select {
	case <-ctx.Done():
		return Report{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := s.reports[run]
	if len(reports) == 0 {
		return Report{}, false, nil
	}
	return reports[0], true, nil
}

// History returns up to limit reports of a run, newest first. A limit of
// zero or less returns all kept reports.
func (s *MemoryStore) History(ctx context.Context, run string, limit int) ([]Report, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := s.reports[run]
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return append([]Report(nil), reports...), nil
}

// Len returns the number of runs with at least one report.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

// Delete removes every report of a run. Returns true if any existed.
func (s *MemoryStore) Delete(run string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.reports[run]
	delete(s.reports, run)
	return existed
}

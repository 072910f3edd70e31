package transcript

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory [Store] used in tests and single-process
// deployments without PostgreSQL.
type MemStore struct {
	mu      sync.Mutex
	records map[string]Record
	subs    map[string][]chan Record
	now     func() time.Time // test seam
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[string]Record),
		subs:    make(map[string][]chan Record),
		now:     time.Now,
	}
}

// Upsert writes the record and fans it out to subscribers of the meeting.
func (s *MemStore) Upsert(ctx context.Context, rec Record) error {
	s.mu.Lock()
	rec.UpdatedAt = s.now()
	s.records[rec.MeetingID] = rec
	subs := make([]chan Record, len(s.subs[rec.MeetingID]))
	copy(subs, s.subs[rec.MeetingID])
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- rec:
		default:
			// Drop for slow consumers; the next write carries newer state.
		}
	}
	return nil
}

// GetLatest returns the meeting's record or [ErrNotFound].
func (s *MemStore) GetLatest(ctx context.Context, meetingID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[meetingID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Subscribe registers a change channel for the meeting until ctx ends.
func (s *MemStore) Subscribe(ctx context.Context, meetingID string) (<-chan Record, error) {
	ch := make(chan Record, 16)

	s.mu.Lock()
	s.subs[meetingID] = append(s.subs[meetingID], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		subs := s.subs[meetingID]
		for i, c := range subs {
			if c == ch {
				s.subs[meetingID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() {}

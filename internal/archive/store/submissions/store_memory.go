package submissions

import (
	"context"
	"sort"
	"sync"
	"time"

	"formgate/internal/archive"
	"formgate/internal/archive/store"
	domain "formgate/pkg/domain"
	"formgate/pkg/platform/sentinel"
)

// InMemoryStore keeps submission records in a map for development and tests.
// All reads and writes go through Clone so callers never share state with
// the store.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[domain.SubmissionID]*archive.Record
	clock   func() time.Time
}

// Option configures an InMemoryStore.
type Option func(*InMemoryStore)

// WithClock sets the clock used to stamp updates, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *InMemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		records: make(map[domain.SubmissionID]*archive.Record),
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *InMemoryStore) Create(_ context.Context, record *archive.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return sentinel.ErrConflict
	}
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.SubmissionID) (*archive.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return record.Clone(), nil
}

func (s *InMemoryStore) List(_ context.Context, filter store.ListFilter) ([]*archive.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*archive.Record, 0, len(s.records))
	for _, record := range s.records {
		if matches(record, filter) {
			matched = append(matched, record)
		}
	}
	// Newest first; IDs break ties so paging is stable under equal stamps.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*archive.Record{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := make([]*archive.Record, 0, end-offset)
	for _, record := range matched[offset:end] {
		page = append(page, record.Clone())
	}
	return page, total, nil
}

func matches(record *archive.Record, filter store.ListFilter) bool {
	if !filter.FormVariant.IsNil() && record.FormVariant != filter.FormVariant {
		return false
	}
	if len(filter.Outcomes) > 0 {
		found := false
		for _, outcome := range filter.Outcomes {
			if record.Outcome == outcome {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *InMemoryStore) UpdateTicketState(_ context.Context, id domain.SubmissionID, state archive.TicketState, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if !state.Supersedes(record.TicketState) {
		return false, nil
	}
	record.TicketState = state
	record.TicketEventID = eventID
	record.UpdatedAt = s.clock()
	return true, nil
}

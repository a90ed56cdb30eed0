package record

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and single-process
// deployments. Each record carries its own lock so concurrent settles on the
// same id serialize while unrelated flows proceed.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
}

type memoryRecord struct {
	lock sync.Mutex
	tx   *Transaction
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord)}
}

func (s *MemoryStore) Create(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[tx.ID]; exists {
		return fmt.Errorf("record: duplicate id %s", tx.ID)
	}
	s.records[tx.ID] = &memoryRecord{tx: tx.Clone()}
	return nil
}

func (s *MemoryStore) Find(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.tx.Clone(), nil
}

func (s *MemoryStore) FindForUpdate(_ context.Context, id string) (Locked, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	rec.lock.Lock()
	s.mu.RLock()
	tx := rec.tx.Clone()
	s.mu.RUnlock()
	return &memoryLocked{store: s, rec: rec, tx: tx}, nil
}

func (s *MemoryStore) UpdateReference(_ context.Context, id, referenceID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.tx.ReferenceID = referenceID
	rec.tx.Token = token
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.tx.Status = StatusFailed
	rec.tx.Log = append(rec.tx.Log, entry)
	return nil
}

func (s *MemoryStore) HasTraceNumber(_ context.Context, traceNumber string) (bool, error) {
	if traceNumber == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.tx.TraceNumber == traceNumber {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Transaction, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.tx.Clone())
	}
	// ULIDs sort lexically by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// memoryLocked holds one record's lock until a Mark or Release call.
type memoryLocked struct {
	store *MemoryStore
	rec   *memoryRecord
	tx    *Transaction
	done  bool
}

func (l *memoryLocked) Transaction() *Transaction { return l.tx }

func (l *memoryLocked) MarkSucceeded(_ context.Context, settle Settlement, entry LogEntry) error {
	if l.done {
		return fmt.Errorf("record: lock already released")
	}
	l.tx.Status = StatusSucceeded
	l.tx.TraceNumber = settle.TraceNumber
	l.tx.CardNumber = settle.CardNumber
	l.tx.RRN = settle.RRN
	paidAt := settle.PaidAt
	l.tx.PaidAt = &paidAt
	l.tx.Log = append(l.tx.Log, entry)
	return l.commit()
}

func (l *memoryLocked) MarkFailed(_ context.Context, entry LogEntry) error {
	if l.done {
		return fmt.Errorf("record: lock already released")
	}
	l.tx.Status = StatusFailed
	l.tx.Log = append(l.tx.Log, entry)
	return l.commit()
}

func (l *memoryLocked) Release(context.Context) error {
	if l.done {
		return nil
	}
	l.done = true
	l.rec.lock.Unlock()
	return nil
}

func (l *memoryLocked) commit() error {
	l.store.mu.Lock()
	l.rec.tx = l.tx.Clone()
	l.store.mu.Unlock()
	l.done = true
	l.rec.lock.Unlock()
	return nil
}

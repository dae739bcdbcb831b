package storage

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

const backendMemory = "memory"

// MemoryStorage keeps poll records in process memory, in insertion order.
type MemoryStorage struct {
	mu      sync.RWMutex
	records []PollRecord
	opts    Options
	closed  bool
}

func NewMemoryStorage(opts Options) *MemoryStorage {
	return &MemoryStorage{opts: opts}
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	return nil
}

func (m *MemoryStorage) Insert(ctx context.Context, rec PollRecord) (PollRecord, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return PollRecord{}, persistErr(backendMemory, "insert", ErrClosed)
	}
	if m.opts.EnforceUniqueness {
		if _, ok := m.find(rec.OwnerID, rec.PollName); ok {
			return PollRecord{}, persistErr(backendMemory, "insert", ErrDuplicate)
		}
	}
	stored := rec.stamp()
	m.records = append(m.records, stored)

	logrus.WithFields(logrus.Fields{
		"owner_id":  stored.OwnerID,
		"poll_name": stored.PollName,
		"record_id": stored.ID,
	}).Info("Poll record created")
	return stored.clone(), nil
}

func (m *MemoryStorage) FindOne(ctx context.Context, owner OwnerID, pollName string) (PollRecord, bool, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return PollRecord{}, false, persistErr(backendMemory, "find", ErrClosed)
	}
	rec, ok := m.find(owner, pollName)
	if !ok {
		return PollRecord{}, false, nil
	}
	return rec.clone(), true, nil
}

// find must be called with mu held.
func (m *MemoryStorage) find(owner OwnerID, pollName string) (PollRecord, bool) {
	for _, rec := range m.records {
		if rec.OwnerID == owner && rec.PollName == pollName {
			return rec, true
		}
	}
	return PollRecord{}, false
}

func (m *MemoryStorage) Count(ctx context.Context) (int, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, persistErr(backendMemory, "count", ErrClosed)
	}
	return len(m.records), nil
}

func (m *MemoryStorage) Last(ctx context.Context) (PollRecord, bool, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return PollRecord{}, false, persistErr(backendMemory, "last", ErrClosed)
	}
	if len(m.records) == 0 {
		return PollRecord{}, false, nil
	}
	return m.records[len(m.records)-1].clone(), true, nil
}

package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OwnerID identifies the user (or tenant) a poll record belongs to.
type OwnerID string

// PollRecord is a single stored set of poll answers.
type PollRecord struct {
	ID        string            `json:"id"`
	OwnerID   OwnerID           `json:"owner_id"`
	PollName  string            `json:"poll_name"`
	Answers   map[string]string `json:"answers"`
	CreatedAt time.Time         `json:"created_at"`
}

// Storage defines the interface for the poll persistence backend
type Storage interface {
	// Insert persists a new record and returns it with ID and CreatedAt set.
	Insert(ctx context.Context, rec PollRecord) (PollRecord, error)
	// FindOne returns the first record stored for (owner, pollName).
	// A missing record is reported as (PollRecord{}, false, nil).
	FindOne(ctx context.Context, owner OwnerID, pollName string) (PollRecord, bool, error)

	// Inspection
	Count(ctx context.Context) (int, error)
	Last(ctx context.Context) (PollRecord, bool, error)

	// Lifecycle
	Close() error
}

// Options are shared by every backend.
type Options struct {
	// EnforceUniqueness rejects a second insert for the same (owner, poll name)
	// pair with ErrDuplicate. When false duplicates are stored and lookups
	// resolve to the first one.
	EnforceUniqueness bool
}

// clone returns a copy of rec that shares no map with the caller.
func (rec PollRecord) clone() PollRecord {
	answers := make(map[string]string, len(rec.Answers))
	for q, a := range rec.Answers {
		answers[q] = a
	}
	rec.Answers = answers
	return rec
}

// stamp assigns the identity fields a backend owns on insert.
func (rec PollRecord) stamp() PollRecord {
	rec = rec.clone()
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()
	return rec
}

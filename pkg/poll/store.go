package poll

import (
	"context"

	"pollstore/storage"
)

// Answers maps a poll question to the answer given.
type Answers map[string]string

// Store saves and looks up the poll answers of a single owner.
// It holds no state besides the owner; all persistence is delegated to the
// underlying storage.Storage, and its errors are returned unchanged.
type Store struct {
	s     storage.Storage
	owner storage.OwnerID
}

// New returns a poll store for owner backed by s.
func New(s storage.Storage, owner storage.OwnerID) *Store {
	return &Store{s: s, owner: owner}
}

// Owner returns the owner this store is scoped to.
func (st *Store) Owner() storage.OwnerID { return st.owner }

// Save records answers for pollName and returns the stored record.
func (st *Store) Save(ctx context.Context, pollName string, answers Answers) (storage.PollRecord, error) {
	return st.s.Insert(ctx, storage.PollRecord{
		OwnerID:  st.owner,
		PollName: pollName,
		Answers:  answers,
	})
}

// Fetch returns the answers saved for pollName and whether they exist.
func (st *Store) Fetch(ctx context.Context, pollName string) (Answers, bool, error) {
	rec, found, err := st.s.FindOne(ctx, st.owner, pollName)
	if err != nil || !found {
		return nil, false, err
	}
	return Answers(rec.Answers), true, nil
}

// Exists reports whether the owner has answered pollName.
func (st *Store) Exists(ctx context.Context, pollName string) (bool, error) {
	_, found, err := st.s.FindOne(ctx, st.owner, pollName)
	return found, err
}

// Package storagetest holds the behaviour every storage.Storage backend must
// share. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pollstore/storage"
)

// Factory returns a fresh, empty backend. The cleanup func may be nil.
type Factory func(t *testing.T, opts storage.Options) (storage.Storage, func())

func open(t *testing.T, factory Factory, opts storage.Options) storage.Storage {
	t.Helper()
	s, cleanup := factory(t, opts)
	t.Cleanup(func() {
		if cleanup != nil {
			cleanup()
		}
	})
	return s
}

// Run exercises the storage contract against backends built by factory.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		s := open(t, factory, storage.Options{})

		_, found, err := s.FindOne(ctx, "1", "Happiness Poll")
		require.NoError(t, err)
		assert.False(t, found)

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)

		_, found, err = s.Last(ctx)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("insert then find", func(t *testing.T) {
		s := open(t, factory, storage.Options{})

		in := storage.PollRecord{
			OwnerID:  "1",
			PollName: "Happiness Poll",
			Answers:  map[string]string{"Are you good?": "Yes!"},
		}
		created, err := s.Insert(ctx, in)
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.False(t, created.CreatedAt.IsZero())
		assert.Equal(t, in.OwnerID, created.OwnerID)
		assert.Equal(t, in.PollName, created.PollName)
		assert.Equal(t, in.Answers, created.Answers)

		got, found, err := s.FindOne(ctx, "1", "Happiness Poll")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, in.Answers, got.Answers)
		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("empty answers are stored", func(t *testing.T) {
		s := open(t, factory, storage.Options{})

		_, err := s.Insert(ctx, storage.PollRecord{OwnerID: "1", PollName: "P"})
		require.NoError(t, err)

		got, found, err := s.FindOne(ctx, "1", "P")
		require.NoError(t, err)
		require.True(t, found)
		assert.NotNil(t, got.Answers)
		assert.Empty(t, got.Answers)
	})

	t.Run("caller cannot mutate stored answers", func(t *testing.T) {
		s := open(t, factory, storage.Options{})

		answers := map[string]string{"q": "a"}
		created, err := s.Insert(ctx, storage.PollRecord{OwnerID: "1", PollName: "P", Answers: answers})
		require.NoError(t, err)
		answers["q"] = "changed"
		created.Answers["q"] = "changed too"

		got, _, err := s.FindOne(ctx, "1", "P")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"q": "a"}, got.Answers)
	})

	t.Run("owners and polls are isolated", func(t *testing.T) {
		s := open(t, factory, storage.Options{})

		_, err := s.Insert(ctx, storage.PollRecord{OwnerID: "1", PollName: "P", Answers: map[string]string{"q": "a"}})
		require.NoError(t, err)

		_, found, err := s.FindOne(ctx, "2", "P")
		require.NoError(t, err)
		assert.False(t, found)

		_, found, err = s.FindOne(ctx, "1", "Q")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("separators in names do not collide", func(t *testing.T) {
		s := open(t, factory, storage.Options{})

		_, err := s.Insert(ctx, storage.PollRecord{OwnerID: "a/b", PollName: "c", Answers: map[string]string{"q": "1"}})
		require.NoError(t, err)

		_, found, err := s.FindOne(ctx, "a", "b/c")
		require.NoError(t, err)
		assert.False(t, found)

		_, found, err = s.FindOne(ctx, "a:b", "c")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("duplicates resolve to the first record", func(t *testing.T) {
		s := open(t, factory, storage.Options{})

		first, err := s.Insert(ctx, storage.PollRecord{OwnerID: "1", PollName: "P", Answers: map[string]string{"q": "first"}})
		require.NoError(t, err)
		second, err := s.Insert(ctx, storage.PollRecord{OwnerID: "1", PollName: "P", Answers: map[string]string{"q": "second"}})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)

		got, found, err := s.FindOne(ctx, "1", "P")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, first.ID, got.ID)

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("uniqueness enforced", func(t *testing.T) {
		s := open(t, factory, storage.Options{EnforceUniqueness: true})

		_, err := s.Insert(ctx, storage.PollRecord{OwnerID: "1", PollName: "P", Answers: map[string]string{"q": "first"}})
		require.NoError(t, err)

		_, err = s.Insert(ctx, storage.PollRecord{OwnerID: "1", PollName: "P", Answers: map[string]string{"q": "second"}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, storage.ErrDuplicate))
		var perr *storage.PersistenceError
		assert.True(t, errors.As(err, &perr))

		_, err = s.Insert(ctx, storage.PollRecord{OwnerID: "2", PollName: "P"})
		require.NoError(t, err)

		got, _, err := s.FindOne(ctx, "1", "P")
		require.NoError(t, err)
		assert.Equal(t, "first", got.Answers["q"])

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("count and last follow insertion order", func(t *testing.T) {
		s := open(t, factory, storage.Options{})

		var lastID string
		for i := 0; i < 12; i++ {
			rec, err := s.Insert(ctx, storage.PollRecord{
				OwnerID:  storage.OwnerID(fmt.Sprintf("owner-%d", 12-i)),
				PollName: fmt.Sprintf("poll-%d", i),
			})
			require.NoError(t, err)
			lastID = rec.ID

			last, found, err := s.Last(ctx)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, lastID, last.ID)
		}

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 12, count)
	})
}

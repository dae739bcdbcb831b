package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pollstore/config"
	"pollstore/storage"
	"pollstore/storage/storagetest"
)

func TestContract_Memory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, opts storage.Options) (storage.Storage, func()) {
		t.Helper()
		s := storage.NewMemoryStorage(opts)
		return s, func() { s.Close() }
	})
}

func TestContract_Badger(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, opts storage.Options) (storage.Storage, func()) {
		t.Helper()
		s, err := storage.NewBadgerStorage(t.TempDir(), opts)
		require.NoError(t, err)
		return s, func() { s.Close() }
	})
}

func TestContract_BadgerInMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, opts storage.Options) (storage.Storage, func()) {
		t.Helper()
		s, err := storage.NewBadgerStorage("", opts)
		require.NoError(t, err)
		return s, func() { s.Close() }
	})
}

func TestContract_SQLite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, opts storage.Options) (storage.Storage, func()) {
		t.Helper()
		s, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "polls.db"), opts)
		require.NoError(t, err)
		return s, func() { s.Close() }
	})
}

func TestContract_Redis(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, opts storage.Options) (storage.Storage, func()) {
		t.Helper()
		mr := miniredis.RunT(t)
		s, err := storage.NewRedisStorage(context.Background(), "redis://"+mr.Addr(), opts)
		require.NoError(t, err)
		return s, func() { s.Close() }
	})
}

func TestContract_S3(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, opts storage.Options) (storage.Storage, func()) {
		t.Helper()
		return storage.NewS3StorageWithClient(newFakeS3(), "polls-bucket", opts), nil
	})
}

func TestMemoryStorage_Closed(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStorage(storage.Options{})
	require.NoError(t, s.Close())

	_, err := s.Insert(ctx, storage.PollRecord{OwnerID: "1", PollName: "P"})
	assert.ErrorIs(t, err, storage.ErrClosed)

	_, _, err = s.FindOne(ctx, "1", "P")
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestBadgerStorage_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := storage.NewBadgerStorage(dir, storage.Options{})
	require.NoError(t, err)
	first, err := s.Insert(ctx, storage.PollRecord{OwnerID: "1", PollName: "P", Answers: map[string]string{"q": "a"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = storage.NewBadgerStorage(dir, storage.Options{})
	require.NoError(t, err)
	defer s.Close()

	got, found, err := s.FindOne(ctx, "1", "P")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.ID, got.ID)

	second, err := s.Insert(ctx, storage.PollRecord{OwnerID: "2", PollName: "P"})
	require.NoError(t, err)
	last, _, err := s.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)
}

func TestBadgerStorage_CloseTwice(t *testing.T) {
	s, err := storage.NewBadgerStorage(t.TempDir(), storage.Options{})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.NotPanics(t, func() { assert.NoError(t, s.Close()) })
}

func TestBadgerStorage_Backup(t *testing.T) {
	ctx := context.Background()
	s, err := storage.NewBadgerStorage(t.TempDir(), storage.Options{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Insert(ctx, storage.PollRecord{OwnerID: "1", PollName: "P"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "polls.bak")
	require.NoError(t, s.Backup(ctx, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestSQLiteStorage_Reopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "polls.db")

	s, err := storage.NewSQLiteStorage(dsn, storage.Options{})
	require.NoError(t, err)
	_, err = s.Insert(ctx, storage.PollRecord{OwnerID: "1", PollName: "P", Answers: map[string]string{"q": "a"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = storage.NewSQLiteStorage(dsn, storage.Options{})
	require.NoError(t, err)
	defer s.Close()

	got, found, err := s.FindOne(ctx, "1", "P")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]string{"q": "a"}, got.Answers)
}

func TestRedisStorage_ConnectionFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := storage.NewRedisStorage(context.Background(), "redis://"+addr, storage.Options{})
	require.Error(t, err)
	var perr *storage.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "open", perr.Op)
}

func TestRedisStorage_ServerGone(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s, err := storage.NewRedisStorage(ctx, "redis://"+mr.Addr(), storage.Options{})
	require.NoError(t, err)
	defer s.Close()

	mr.Close()
	_, _, err = s.FindOne(ctx, "1", "P")
	var perr *storage.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "redis", perr.Backend)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := storage.Open(ctx, config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStorage{}, s)
	s.Close()

	s, err = storage.Open(ctx, config.StorageConfig{Backend: "badger", DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &storage.BadgerStorage{}, s)
	s.Close()

	s, err = storage.Open(ctx, config.StorageConfig{Backend: "sqlite", DSN: filepath.Join(t.TempDir(), "p.db")})
	require.NoError(t, err)
	assert.IsType(t, &storage.SQLiteStorage{}, s)
	s.Close()

	_, err = storage.Open(ctx, config.StorageConfig{Backend: "cassandra"})
	assert.Error(t, err)
}

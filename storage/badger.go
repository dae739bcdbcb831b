package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

const backendBadger = "badger"

var (
	recPrefix = []byte("rec/")
	idxPrefix = []byte("idx/")
	seqKey    = []byte("meta/seq")
)

// BadgerStorage implements Storage using BadgerDB.
//
// Records live under rec/<seq>. Every record also gets an index key
// idx/<owner>/<poll>/<seq> whose value is the record key, so the lowest
// sequence under an index prefix is the first record inserted for that pair.
type BadgerStorage struct {
	db   *badger.DB
	seq  *badger.Sequence
	opts Options
	stop chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewBadgerStorage opens (or creates) a BadgerDB in dataDir.
func NewBadgerStorage(dataDir string, opts Options) (*BadgerStorage, error) {
	bopts := badger.DefaultOptions(dataDir).
		WithLogger(nil).
		WithLoggingLevel(badger.ERROR)
	if dataDir == "" {
		bopts = bopts.WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, persistErr(backendBadger, "open", fmt.Errorf("failed to open badger db: %w", err))
	}

	seq, err := db.GetSequence(seqKey, 100)
	if err != nil {
		db.Close()
		return nil, persistErr(backendBadger, "open", fmt.Errorf("failed to lease sequence: %w", err))
	}

	storage := &BadgerStorage{db: db, seq: seq, opts: opts, stop: make(chan struct{})}
	if !bopts.InMemory {
		go storage.runGC()
	}
	return storage, nil
}

// runGC runs the value log garbage collector periodically
func (s *BadgerStorage) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.db.RunValueLogGC(0.7)
		}
	}
}

func recKey(seq uint64) []byte {
	key := make([]byte, len(recPrefix)+8)
	copy(key, recPrefix)
	binary.BigEndian.PutUint64(key[len(recPrefix):], seq)
	return key
}

func indexPrefix(owner OwnerID, pollName string) []byte {
	p := string(idxPrefix) + url.QueryEscape(string(owner)) + "/" + url.QueryEscape(pollName) + "/"
	return []byte(p)
}

// Insert stores rec and its index entry in a single transaction.
func (s *BadgerStorage) Insert(ctx context.Context, rec PollRecord) (PollRecord, error) {
	n, err := s.seq.Next()
	if err != nil {
		return PollRecord{}, persistErr(backendBadger, "insert", err)
	}
	stored := rec.stamp()
	data, err := json.Marshal(stored)
	if err != nil {
		return PollRecord{}, persistErr(backendBadger, "insert", fmt.Errorf("failed to encode record: %w", err))
	}

	rk := recKey(n)
	prefix := indexPrefix(stored.OwnerID, stored.PollName)
	ik := append(append([]byte{}, prefix...), rk[len(recPrefix):]...)

	err = s.db.Update(func(txn *badger.Txn) error {
		if s.opts.EnforceUniqueness {
			found, err := hasPrefix(txn, prefix)
			if err != nil {
				return err
			}
			if found {
				return ErrDuplicate
			}
		}
		if err := txn.Set(rk, data); err != nil {
			return err
		}
		return txn.Set(ik, rk)
	})
	log := logrus.WithFields(logrus.Fields{
		"owner_id":  stored.OwnerID,
		"poll_name": stored.PollName,
		"record_id": stored.ID,
	})
	if err != nil {
		log.WithField("error", err).Error("Failed to create poll record")
		return PollRecord{}, persistErr(backendBadger, "insert", err)
	}

	log.Info("Poll record created")
	return stored.clone(), nil
}

func hasPrefix(txn *badger.Txn, prefix []byte) (bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(prefix)
	return it.ValidForPrefix(prefix), nil
}

// FindOne resolves the first index entry for the pair and loads its record.
func (s *BadgerStorage) FindOne(ctx context.Context, owner OwnerID, pollName string) (PollRecord, bool, error) {
	var rec PollRecord
	var found bool
	prefix := indexPrefix(owner, pollName)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		rk, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(rk)
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})

	logrus.WithFields(logrus.Fields{
		"owner_id":  owner,
		"poll_name": pollName,
		"found":     found,
	}).Debug("Poll record lookup")
	if err != nil {
		return PollRecord{}, false, persistErr(backendBadger, "find", err)
	}
	if !found {
		return PollRecord{}, false, nil
	}
	return rec.clone(), true, nil
}

// Count returns the number of stored records.
func (s *BadgerStorage) Count(ctx context.Context) (int, error) {
	count := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = recPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(recPrefix); it.ValidForPrefix(recPrefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, persistErr(backendBadger, "count", err)
	}
	return count, nil
}

// Last returns the record with the highest sequence number.
func (s *BadgerStorage) Last(ctx context.Context) (PollRecord, bool, error) {
	var rec PollRecord
	var found bool

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = recPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(append([]byte{}, recPrefix...), 0xFF))
		if !it.ValidForPrefix(recPrefix) {
			return nil
		}
		found = true
		return it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return PollRecord{}, false, persistErr(backendBadger, "last", err)
	}
	if !found {
		return PollRecord{}, false, nil
	}
	return rec.clone(), true, nil
}

// Close releases the sequence lease and closes the database. Later calls
// return the result of the first.
func (s *BadgerStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		if err := s.seq.Release(); err != nil {
			logrus.WithField("error", err).Warn("Failed to release badger sequence")
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// Backup writes a full backup of the database to path.
func (s *BadgerStorage) Backup(ctx context.Context, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return persistErr(backendBadger, "backup", fmt.Errorf("failed to create backup file: %w", err))
	}
	defer file.Close()

	if _, err := s.db.Backup(file, 0); err != nil {
		return persistErr(backendBadger, "backup", err)
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const backendSQLite = "sqlite"

const createPollsTable = `CREATE TABLE IF NOT EXISTS polls (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	poll_name  TEXT NOT NULL,
	answers    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS polls_owner_name ON polls (owner_id, poll_name, seq);`

const createUniqueIndex = `CREATE UNIQUE INDEX IF NOT EXISTS polls_owner_name_unique ON polls (owner_id, poll_name);`

// SQLiteStorage implements Storage on a sqlite3 database file.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens dataSourceName and creates the polls table.
func NewSQLiteStorage(dataSourceName string, opts Options) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, persistErr(backendSQLite, "open", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createPollsTable); err != nil {
		db.Close()
		return nil, persistErr(backendSQLite, "open", fmt.Errorf("failed to create schema: %w", err))
	}
	if opts.EnforceUniqueness {
		if _, err := db.Exec(createUniqueIndex); err != nil {
			db.Close()
			return nil, persistErr(backendSQLite, "open", fmt.Errorf("failed to create unique index: %w", err))
		}
	}
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Insert(ctx context.Context, rec PollRecord) (PollRecord, error) {
	stored := rec.stamp()
	answers, err := json.Marshal(stored.Answers)
	if err != nil {
		return PollRecord{}, persistErr(backendSQLite, "insert", fmt.Errorf("failed to encode answers: %w", err))
	}
	log := logrus.WithFields(logrus.Fields{
		"owner_id":  stored.OwnerID,
		"poll_name": stored.PollName,
		"record_id": stored.ID,
	})

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO polls (id, owner_id, poll_name, answers, created_at) VALUES (?, ?, ?, ?, ?)",
		stored.ID, string(stored.OwnerID), stored.PollName, string(answers), stored.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			err = ErrDuplicate
		}
		log.WithField("error", err).Error("Failed to create poll record")
		return PollRecord{}, persistErr(backendSQLite, "insert", err)
	}

	log.Info("Poll record created")
	return stored.clone(), nil
}

func (s *SQLiteStorage) FindOne(ctx context.Context, owner OwnerID, pollName string) (PollRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, owner_id, poll_name, answers, created_at FROM polls WHERE owner_id = ? AND poll_name = ? ORDER BY seq ASC LIMIT 1",
		string(owner), pollName)
	rec, found, err := scanRecord(row)

	logrus.WithFields(logrus.Fields{
		"owner_id":  owner,
		"poll_name": pollName,
		"found":     found,
	}).Debug("Poll record lookup")
	if err != nil {
		return PollRecord{}, false, persistErr(backendSQLite, "find", err)
	}
	return rec, found, nil
}

func (s *SQLiteStorage) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM polls").Scan(&count); err != nil {
		return 0, persistErr(backendSQLite, "count", err)
	}
	return count, nil
}

func (s *SQLiteStorage) Last(ctx context.Context) (PollRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, owner_id, poll_name, answers, created_at FROM polls ORDER BY seq DESC LIMIT 1")
	rec, found, err := scanRecord(row)
	if err != nil {
		return PollRecord{}, false, persistErr(backendSQLite, "last", err)
	}
	return rec, found, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func scanRecord(row *sql.Row) (PollRecord, bool, error) {
	var (
		rec       PollRecord
		owner     string
		answers   string
		createdAt string
	)
	err := row.Scan(&rec.ID, &owner, &rec.PollName, &answers, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return PollRecord{}, false, nil
		}
		return PollRecord{}, false, err
	}
	rec.OwnerID = OwnerID(owner)
	if err := json.Unmarshal([]byte(answers), &rec.Answers); err != nil {
		return PollRecord{}, false, fmt.Errorf("failed to decode answers: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return PollRecord{}, false, fmt.Errorf("failed to decode created_at: %w", err)
	}
	return rec.clone(), true, nil
}

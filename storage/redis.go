package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const backendRedis = "redis"

const redisAllKey = "poll:all"

// RedisStorage implements Storage on Redis.
//
// Keys:
//
//	poll:rec:<id>              record JSON
//	poll:idx:<owner>:<poll>    list of record ids, insertion order
//	poll:uniq:<owner>:<poll>   uniqueness marker, only with EnforceUniqueness,
//	                           written in the same transaction as the record
//	poll:all                   list of every record id
type RedisStorage struct {
	client *redis.Client
	opts   Options
}

// NewRedisStorage connects to addr (a redis:// URL) and pings the server.
func NewRedisStorage(ctx context.Context, addr string, opts Options) (*RedisStorage, error) {
	ropts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, persistErr(backendRedis, "open", fmt.Errorf("error parsing redis URL: %w", err))
	}

	c := redis.NewClient(ropts)
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, persistErr(backendRedis, "open", fmt.Errorf("error connecting to redis: %w", err))
	}

	return NewRedisStorageWithClient(c, opts), nil
}

// NewRedisStorageWithClient wraps an already configured client. Close closes
// the client.
func NewRedisStorageWithClient(client *redis.Client, opts Options) *RedisStorage {
	return &RedisStorage{client: client, opts: opts}
}

func redisPairKey(kind string, owner OwnerID, pollName string) string {
	return fmt.Sprintf("poll:%s:%s:%s", kind, url.QueryEscape(string(owner)), url.QueryEscape(pollName))
}

func redisRecKey(id string) string {
	return "poll:rec:" + id
}

func (rs *RedisStorage) Insert(ctx context.Context, rec PollRecord) (PollRecord, error) {
	stored := rec.stamp()
	data, err := json.Marshal(stored)
	if err != nil {
		return PollRecord{}, persistErr(backendRedis, "insert", fmt.Errorf("failed to encode record: %w", err))
	}
	log := logrus.WithFields(logrus.Fields{
		"owner_id":  stored.OwnerID,
		"poll_name": stored.PollName,
		"record_id": stored.ID,
	})

	uniqKey := redisPairKey("uniq", stored.OwnerID, stored.PollName)
	write := func(pipe redis.Pipeliner) error {
		if rs.opts.EnforceUniqueness {
			pipe.Set(ctx, uniqKey, stored.ID, 0)
		}
		pipe.Set(ctx, redisRecKey(stored.ID), data, 0)
		pipe.RPush(ctx, redisPairKey("idx", stored.OwnerID, stored.PollName), stored.ID)
		pipe.RPush(ctx, redisAllKey, stored.ID)
		return nil
	}

	if rs.opts.EnforceUniqueness {
		// The marker and the record are written in the same MULTI, and the
		// EXEC is aborted if another insert touched the marker since WATCH.
		err = rs.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, uniqKey).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrDuplicate
			}
			_, err = tx.TxPipelined(ctx, write)
			return err
		}, uniqKey)
		if errors.Is(err, redis.TxFailedErr) {
			err = ErrDuplicate
		}
	} else {
		_, err = rs.client.TxPipelined(ctx, write)
	}
	if err != nil {
		log.WithField("error", err).Error("Failed to create poll record")
		if !errors.Is(err, ErrDuplicate) {
			err = fmt.Errorf("error executing redis transaction: %w", err)
		}
		return PollRecord{}, persistErr(backendRedis, "insert", err)
	}

	log.Info("Poll record created")
	return stored.clone(), nil
}

func (rs *RedisStorage) FindOne(ctx context.Context, owner OwnerID, pollName string) (PollRecord, bool, error) {
	rec, found, err := rs.loadAt(ctx, redisPairKey("idx", owner, pollName), 0)

	logrus.WithFields(logrus.Fields{
		"owner_id":  owner,
		"poll_name": pollName,
		"found":     found,
	}).Debug("Poll record lookup")
	if err != nil {
		return PollRecord{}, false, persistErr(backendRedis, "find", err)
	}
	return rec, found, nil
}

func (rs *RedisStorage) Count(ctx context.Context) (int, error) {
	n, err := rs.client.LLen(ctx, redisAllKey).Result()
	if err != nil {
		return 0, persistErr(backendRedis, "count", err)
	}
	return int(n), nil
}

func (rs *RedisStorage) Last(ctx context.Context) (PollRecord, bool, error) {
	rec, found, err := rs.loadAt(ctx, redisAllKey, -1)
	if err != nil {
		return PollRecord{}, false, persistErr(backendRedis, "last", err)
	}
	return rec, found, nil
}

// loadAt reads the record whose id sits at index in the list stored at key.
func (rs *RedisStorage) loadAt(ctx context.Context, key string, index int64) (PollRecord, bool, error) {
	id, err := rs.client.LIndex(ctx, key, index).Result()
	if errors.Is(err, redis.Nil) {
		return PollRecord{}, false, nil
	}
	if err != nil {
		return PollRecord{}, false, err
	}

	data, err := rs.client.Get(ctx, redisRecKey(id)).Bytes()
	if err != nil {
		return PollRecord{}, false, fmt.Errorf("error loading record %s: %w", id, err)
	}
	var rec PollRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return PollRecord{}, false, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	return rec.clone(), true, nil
}

func (rs *RedisStorage) Close() error {
	if err := rs.client.Close(); err != nil {
		return persistErr(backendRedis, "close", fmt.Errorf("error closing redis client: %w", err))
	}
	return nil
}

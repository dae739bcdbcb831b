package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"pollstore/config"
)

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	opts := Options{EnforceUniqueness: cfg.EnforceUniqueness}
	storageField := logrus.Fields{
		"storageType":       cfg.Backend,
		"enforceUniqueness": cfg.EnforceUniqueness,
	}

	var (
		store Storage
		err   error
	)
	switch cfg.Backend {
	case "", backendMemory:
		storageField["storageType"] = backendMemory
		store = NewMemoryStorage(opts)
	case backendBadger:
		storageField["dataDir"] = cfg.DataDir
		store, err = NewBadgerStorage(cfg.DataDir, opts)
	case backendSQLite:
		storageField["dataSourceName"] = cfg.DSN
		store, err = NewSQLiteStorage(cfg.DSN, opts)
	case backendRedis:
		storageField["redisURL"] = cfg.RedisURL
		store, err = NewRedisStorage(ctx, cfg.RedisURL, opts)
	case backendS3:
		storageField["bucketName"] = cfg.S3Bucket
		store, err = NewS3Storage(ctx, cfg.S3Bucket, opts)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}

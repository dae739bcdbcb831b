package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

const backendS3 = "s3"

const s3Root = "polls/"

// S3API is the subset of the S3 client used by S3Storage.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Storage stores each record as a JSON object named
// polls/<owner>/<poll>/<nanos>-<id>.json. Object keys sort by insert time
// within a pair, so the first listed key is the first record.
//
// Uniqueness is checked with a list before the put and is not atomic.
type S3Storage struct {
	client S3API
	bucket string
	opts   Options

	mu    sync.Mutex
	clock int64
}

// NewS3Storage loads the default AWS configuration and returns a store
// writing to bucketName.
func NewS3Storage(ctx context.Context, bucketName string, opts Options) (*S3Storage, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, persistErr(backendS3, "open", fmt.Errorf("unable to load SDK config: %w", err))
	}
	return NewS3StorageWithClient(s3.NewFromConfig(cfg), bucketName, opts), nil
}

func NewS3StorageWithClient(client S3API, bucketName string, opts Options) *S3Storage {
	return &S3Storage{client: client, bucket: bucketName, opts: opts}
}

func s3PairPrefix(owner OwnerID, pollName string) string {
	return s3Root + url.QueryEscape(string(owner)) + "/" + url.QueryEscape(pollName) + "/"
}

// tick returns a strictly increasing timestamp for object names.
func (s *S3Storage) tick(t time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := t.UnixNano()
	if n <= s.clock {
		n = s.clock + 1
	}
	s.clock = n
	return n
}

func (s *S3Storage) Insert(ctx context.Context, rec PollRecord) (PollRecord, error) {
	stored := rec.stamp()
	prefix := s3PairPrefix(stored.OwnerID, stored.PollName)
	log := logrus.WithFields(logrus.Fields{
		"owner_id":  stored.OwnerID,
		"poll_name": stored.PollName,
		"record_id": stored.ID,
	})

	if s.opts.EnforceUniqueness {
		key, err := s.firstKey(ctx, prefix)
		if err != nil {
			return PollRecord{}, persistErr(backendS3, "insert", err)
		}
		if key != "" {
			return PollRecord{}, persistErr(backendS3, "insert", ErrDuplicate)
		}
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return PollRecord{}, persistErr(backendS3, "insert", fmt.Errorf("failed to encode record: %w", err))
	}
	key := fmt.Sprintf("%s%020d-%s.json", prefix, s.tick(stored.CreatedAt), stored.ID)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		log.WithField("error", err).Error("Failed to create poll record")
		return PollRecord{}, persistErr(backendS3, "insert", fmt.Errorf("failed to upload record: %w", err))
	}

	log.WithField("key", key).Info("Poll record created")
	return stored.clone(), nil
}

func (s *S3Storage) FindOne(ctx context.Context, owner OwnerID, pollName string) (PollRecord, bool, error) {
	key, err := s.firstKey(ctx, s3PairPrefix(owner, pollName))
	if err != nil {
		return PollRecord{}, false, persistErr(backendS3, "find", err)
	}

	logrus.WithFields(logrus.Fields{
		"owner_id":  owner,
		"poll_name": pollName,
		"found":     key != "",
	}).Debug("Poll record lookup")
	if key == "" {
		return PollRecord{}, false, nil
	}

	rec, err := s.load(ctx, key)
	if err != nil {
		return PollRecord{}, false, persistErr(backendS3, "find", err)
	}
	return rec, true, nil
}

func (s *S3Storage) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.walk(ctx, s3Root, func(string) { count++ })
	if err != nil {
		return 0, persistErr(backendS3, "count", err)
	}
	return count, nil
}

func (s *S3Storage) Last(ctx context.Context) (PollRecord, bool, error) {
	var lastKey, lastStamp string
	err := s.walk(ctx, s3Root, func(key string) {
		name := key[strings.LastIndex(key, "/")+1:]
		if stamp, _, ok := strings.Cut(name, "-"); ok && stamp > lastStamp {
			lastStamp, lastKey = stamp, key
		}
	})
	if err != nil {
		return PollRecord{}, false, persistErr(backendS3, "last", err)
	}
	if lastKey == "" {
		return PollRecord{}, false, nil
	}

	rec, err := s.load(ctx, lastKey)
	if err != nil {
		return PollRecord{}, false, persistErr(backendS3, "last", err)
	}
	return rec, true, nil
}

func (s *S3Storage) Close() error { return nil }

func (s *S3Storage) firstKey(ctx context.Context, prefix string) (string, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	if len(out.Contents) == 0 {
		return "", nil
	}
	return aws.ToString(out.Contents[0].Key), nil
}

func (s *S3Storage) walk(ctx context.Context, prefix string, fn func(key string)) error {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			fn(aws.ToString(obj.Key))
		}
	}
	return nil
}

func (s *S3Storage) load(ctx context.Context, key string) (PollRecord, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return PollRecord{}, fmt.Errorf("failed to get record %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return PollRecord{}, fmt.Errorf("failed to read record data: %w", err)
	}
	var rec PollRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return PollRecord{}, fmt.Errorf("failed to decode record %s: %w", key, err)
	}
	return rec.clone(), nil
}

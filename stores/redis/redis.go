// Package redis provides a Redis backed RecordStore.
//
// Each record is a hash at <prefix>:<collection>:<id> with the fields
// data, version, updated_at and expires_at. Versioned saves run under
// WATCH so concurrent writers across processes lose with
// microauth.ErrVersionConflict. Records with an expiry get a matching
// Redis TTL, so expired sessions disappear without a sweep.
//
//	opts, _ := goredis.ParseURL("redis://localhost:6379/0")
//	records := redis.NewStore(goredis.NewClient(opts), "microauth")
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	ma "github.com/panyam/microauth"
)

// Config holds the connection settings read from the environment.
type Config struct {
	ConnectionURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	KeyPrefix     string `env:"REDIS_KEY_PREFIX" envDefault:"microauth"`
	ScanBatchSize int64  `env:"REDIS_SCAN_BATCH_SIZE" envDefault:"500"`
}

// Connect creates a client from cfg and checks it with a ping.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis not ready: %w", err)
	}
	return client, nil
}

// Store implements microauth.RecordStore on Redis hashes.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	batchSize int64
}

func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix, batchSize: 500}
}

// WithScanBatchSize sets the COUNT hint used by Scan.
func (s *Store) WithScanBatchSize(n int64) *Store {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

func (s *Store) collectionPrefix(collection string) string {
	return s.prefix + ":" + collection + ":"
}

func (s *Store) key(collection, id string) string {
	return s.collectionPrefix(collection) + id
}

func (s *Store) Load(ctx context.Context, collection, id string) (*ma.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(collection, id)).Result()
	if err != nil {
		return nil, err
	}
	return decodeRecord(id, fields)
}

func decodeRecord(id string, fields map[string]string) (*ma.Record, error) {
	if len(fields) == 0 {
		return nil, ma.ErrRecordNotFound
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad version for %s: %w", id, err)
	}
	rec := &ma.Record{ID: id, Data: []byte(fields["data"]), Version: version}
	if v, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		rec.UpdatedAt = time.Unix(0, v).UTC()
	}
	if v, err := strconv.ParseInt(fields["expires_at"], 10, 64); err == nil && v > 0 {
		rec.ExpiresAt = time.Unix(0, v).UTC()
	}
	return rec, nil
}

func (s *Store) Save(ctx context.Context, collection string, rec *ma.Record) error {
	key := s.key(collection, rec.ID)
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	var next int64
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "version").Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err := ma.CheckVersion(rec.Version, current); err != nil {
			return err
		}
		next = current + 1

		var expiresAt int64
		if !rec.ExpiresAt.IsZero() {
			expiresAt = rec.ExpiresAt.UnixNano()
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"data", rec.Data,
				"version", next,
				"updated_at", updatedAt.UnixNano(),
				"expires_at", expiresAt)
			if expiresAt > 0 {
				pipe.PExpireAt(ctx, key, rec.ExpiresAt)
			} else {
				pipe.Persist(ctx, key)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ma.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	rec.Version = next
	rec.UpdatedAt = updatedAt
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.client.Del(ctx, s.key(collection, id)).Err()
}

func (s *Store) Scan(ctx context.Context, collection string, fn ma.ScanFunc) error {
	prefix := s.collectionPrefix(collection)
	iter := s.client.Scan(ctx, 0, prefix+"*", s.batchSize).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := strings.TrimPrefix(key, prefix)
		fields, err := s.client.HGetAll(ctx, key).Result()
		var rec *ma.Record
		if err == nil {
			rec, err = decodeRecord(id, fields)
			if errors.Is(err, ma.ErrRecordNotFound) {
				continue // expired or deleted during the scan
			}
		}
		if ferr := fn(id, rec, err); ferr != nil {
			return ferr
		}
	}
	return iter.Err()
}

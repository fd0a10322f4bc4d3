// Package redisblob implements the blob-store port on Redis.
//
// Blobs are plain string values under "blob:{path}"; the content type rides
// in a sibling "blobmeta:{path}" key. Paths are opaque to Redis, so prefix
// listing uses SCAN with a MATCH pattern.
package redisblob

import (
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
)

const (
	dataPrefix = "blob:"
	metaPrefix = "blobmeta:"
)

// Store is a BlobStore backed by Redis.
type Store struct{ rdb *redis.Client }

// New constructs a Store over the given client.
func New(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// NewFromURL constructs a Store by parsing a redis:// URL.
func NewFromURL(url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("op=blob.new: %w", err)
	}
	return New(redis.NewClient(opt)), nil
}

// Ping verifies connectivity; used by readiness checks.
func (s *Store) Ping(ctx domain.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("op=blob.ping: %w", err)
	}
	return nil
}

// Put stores the bytes and content type at path, overwriting any prior blob.
func (s *Store) Put(ctx domain.Context, path string, data []byte, contentType string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, dataPrefix+path, data, 0)
	if contentType != "" {
		pipe.Set(ctx, metaPrefix+path, contentType, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=blob.put path=%s: %w", path, err)
	}
	return nil
}

// Get returns the blob bytes, or domain.ErrNotFound when absent.
func (s *Store) Get(ctx domain.Context, path string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, dataPrefix+path).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("op=blob.get path=%s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("op=blob.get path=%s: %w", path, err)
	}
	return data, nil
}

// ContentType returns the stored content type, or empty when none was set.
func (s *Store) ContentType(ctx domain.Context, path string) (string, error) {
	ct, err := s.rdb.Get(ctx, metaPrefix+path).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("op=blob.content_type path=%s: %w", path, err)
	}
	return ct, nil
}

// Delete removes the blob and its metadata. Deleting a missing blob is not an
// error.
func (s *Store) Delete(ctx domain.Context, path string) error {
	if err := s.rdb.Del(ctx, dataPrefix+path, metaPrefix+path).Err(); err != nil {
		return fmt.Errorf("op=blob.delete path=%s: %w", path, err)
	}
	return nil
}

// List returns all blob paths under prefix.
func (s *Store) List(ctx domain.Context, prefix string) ([]string, error) {
	var out []string
	iter := s.rdb.Scan(ctx, 0, dataPrefix+prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), dataPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("op=blob.list prefix=%s: %w", prefix, err)
	}
	return out, nil
}

package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/logger"
)

// kvFetchTimeout bounds a shared store read, which outlives any one caller.
const kvFetchTimeout = 10 * time.Second

// BlobGetter reads a blob from a remote key-value store.
type BlobGetter interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
}

// KVSource fetches postings chunks from a deployed artifact in a remote
// key-value store. Concurrent requests for the same chunk share one fetch.
type KVSource struct {
	client    BlobGetter
	key       func(id uint32) string
	isMissing func(error) bool
	group     singleflight.Group
	logger    *slog.Logger
	fetches   atomic.Int64
	shared    atomic.Int64
}

// NewKVSource returns a KVSource. key maps a chunk id to its store key and
// isMissing classifies the client's not-found error.
func NewKVSource(client BlobGetter, key func(id uint32) string, isMissing func(error) bool) *KVSource {
	return &KVSource{
		client:    client,
		key:       key,
		isMissing: isMissing,
		logger:    logger.WithComponent("kv-chunk-source"),
	}
}

// Chunk returns the chunk stored under id's key. The store read runs detached
// from ctx so a caller that gives up does not fail the others waiting on the
// same key; ctx only bounds how long this caller waits.
func (s *KVSource) Chunk(ctx context.Context, id uint32) ([]byte, error) {
	key := s.key(id)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		s.fetches.Add(1)
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), kvFetchTimeout)
		defer cancel()
		data, err := s.client.GetBytes(fetchCtx, key)
		if err != nil {
			if s.isMissing != nil && s.isMissing(err) {
				err = fmt.Errorf("%w: chunk key %s is missing", apperrors.ErrFormat, key)
			} else {
				err = fmt.Errorf("reading chunk key %s: %w", key, err)
			}
			s.logger.Error("chunk fetch failed", "chunk_id", id, "key", key, "error", err)
			return nil, err
		}
		return data, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for chunk key %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Shared {
			s.shared.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Stats returns the number of store reads and the number of calls that
// shared another caller's read.
func (s *KVSource) Stats() (fetches, shared int64) {
	return s.fetches.Load(), s.shared.Load()
}

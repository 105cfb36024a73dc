package host

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/deploy"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
)

const (
	SourceDisk  = "disk"
	SourceRedis = "redis"
)

// Snapshot is one loaded artifact. It is never mutated after loading, so any
// number of requests may read it concurrently.
type Snapshot struct {
	Source    string
	Index     query.Index
	Documents query.ChunkSource
	Defaults  []uint32
	// Digest is the hex SHA-256 of the encoded directory, the same value a
	// deployment event carries.
	Digest   string
	LoadedAt time.Time
}

// Resolve returns the payloads of ids in order. Chunks shared between
// documents are fetched once.
func (s *Snapshot) Resolve(ctx context.Context, ids []uint32) ([][]byte, error) {
	fetch := query.Fetcher(ctx, s.Documents)
	docs := make([][]byte, len(ids))
	for i, id := range ids {
		locs, ok := s.Index.Directory.Document(id)
		if !ok {
			return nil, fmt.Errorf("%w: document %d", apperrors.ErrNotFound, id)
		}
		doc, err := codec.Reassemble(strconv.FormatUint(uint64(id), 10), locs, fetch)
		if err != nil {
			return nil, fmt.Errorf("resolving document %d: %w", id, err)
		}
		docs[i] = doc
	}
	return docs, nil
}

// Loader produces a fresh Snapshot. The host calls it at startup and on
// every reload.
type Loader func(ctx context.Context) (*Snapshot, error)

// DiskLoader loads the artifact in dir with the default results file at
// defaultsPath. The artifact is validated completely before it is served.
func DiskLoader(dir, defaultsPath string) Loader {
	return func(ctx context.Context) (*Snapshot, error) {
		a, err := artifact.Load(dir)
		if err != nil {
			return nil, fmt.Errorf("loading artifact %s: %w", dir, err)
		}
		raw, err := os.ReadFile(defaultsPath)
		if err != nil {
			return nil, fmt.Errorf("%w: reading default results: %v", apperrors.ErrInvalidInput, err)
		}
		defaults, err := artifact.ParseDefaultResults(raw, a.Directory.DocumentCount)
		if err != nil {
			return nil, err
		}
		digest, err := directoryDigest(a.Directory)
		if err != nil {
			return nil, err
		}
		return &Snapshot{
			Source:    SourceDisk,
			Index:     a.Query(),
			Documents: query.MemorySource(a.Documents),
			Defaults:  defaults,
			Digest:    digest,
			LoadedAt:  time.Now().UTC(),
		}, nil
	}
}

// KVLoader loads the directory and default results of a deployment from the
// key-value store. Chunks stay remote and are fetched on demand by the
// queries that touch them.
func KVLoader(client query.BlobGetter, isMissing func(error) bool, target deploy.Target) Loader {
	get := func(ctx context.Context, blob string) ([]byte, error) {
		key := target.Key(blob)
		data, err := client.GetBytes(ctx, key)
		if err != nil {
			if isMissing != nil && isMissing(err) {
				return nil, fmt.Errorf("%w: no %s blob at %s", apperrors.ErrNotFound, blob, key)
			}
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
		return data, nil
	}
	return func(ctx context.Context) (*Snapshot, error) {
		raw, err := get(ctx, artifact.DirectoryBlob)
		if err != nil {
			return nil, err
		}
		dir, err := codec.UnmarshalDirectory(raw)
		if err != nil {
			return nil, fmt.Errorf("deployment %s: %w", target, err)
		}
		defaultsRaw, err := get(ctx, artifact.DefaultBlob)
		if err != nil {
			return nil, err
		}
		defaults, err := artifact.ParseDefaultResults(defaultsRaw, dir.DocumentCount)
		if err != nil {
			return nil, err
		}
		postings := query.NewKVSource(client, func(id uint32) string {
			return target.Key(artifact.PostingsBlob(id))
		}, isMissing)
		documents := query.NewKVSource(client, func(id uint32) string {
			return target.Key(artifact.DocumentsBlob(id))
		}, isMissing)
		return &Snapshot{
			Source:    SourceRedis,
			Index:     query.Index{Directory: dir, Postings: postings},
			Documents: documents,
			Defaults:  defaults,
			Digest:    fmt.Sprintf("%x", sha256.Sum256(raw)),
			LoadedAt:  time.Now().UTC(),
		}, nil
	}
}

func directoryDigest(dir *codec.Directory) (string, error) {
	raw, err := dir.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encoding directory: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(raw)), nil
}

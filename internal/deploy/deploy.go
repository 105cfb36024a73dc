// Package deploy hands a built artifact to the remote key-value store the
// edge evaluator reads from, then optionally announces the deployment on
// Kafka and records it in PostgreSQL. Failures are reported as ErrDeploy and
// never retried here.
package deploy

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/redis"
)

// Store is the remote key-value store.
type Store interface {
	SetMany(ctx context.Context, items []redis.Item, ttl time.Duration) error
	PruneByPattern(ctx context.Context, pattern string, keep func(key string) bool) (int64, error)
}

// Notifier announces completed deployments.
type Notifier interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Recorder keeps a history of deployments.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Event describes one completed deployment.
type Event struct {
	Name           string    `json:"name"`
	Namespace      string    `json:"namespace,omitempty"`
	KeyPrefix      string    `json:"key_prefix"`
	Digest         string    `json:"digest"`
	UploadData     bool      `json:"upload_data"`
	Documents      uint32    `json:"documents"`
	Terms          int       `json:"terms"`
	PostingsChunks uint32    `json:"postings_chunks"`
	DocumentChunks uint32    `json:"document_chunks"`
	Blobs          int       `json:"blobs"`
	Bytes          int64     `json:"bytes"`
	Pruned         int64     `json:"pruned"`
	DeployedAt     time.Time `json:"deployed_at"`
}

// Target identifies a deployment's keys in the store.
type Target struct {
	Prefix    string
	Name      string
	Namespace string
}

// TargetOf returns the store target named by a deploy config.
func TargetOf(cfg config.DeployConfig) Target {
	return Target{Prefix: cfg.KeyPrefix, Name: cfg.Name, Namespace: cfg.Namespace}
}

// Key returns the store key of a blob.
func (t Target) Key(blob string) string {
	return artifact.Key(t.Prefix, t.Name, t.Namespace, blob)
}

func (t Target) String() string {
	if t.Namespace == "" {
		return t.Prefix + ":" + t.Name
	}
	return t.Prefix + ":" + t.Name + ":" + t.Namespace
}

// Matches reports whether an event is for this target.
func (t Target) Matches(e Event) bool {
	return e.KeyPrefix == t.Prefix && e.Name == t.Name && e.Namespace == t.Namespace
}

// Deployer uploads artifacts to the key-value store and reports each
// deployment to the optional notifier and recorder.
type Deployer struct {
	store    Store
	notifier Notifier
	recorder Recorder
	logger   *slog.Logger
}

// New returns a Deployer. notifier and recorder may be nil.
func New(store Store, notifier Notifier, recorder Recorder) *Deployer {
	return &Deployer{
		store:    store,
		notifier: notifier,
		recorder: recorder,
		logger:   logger.WithComponent("deployer"),
	}
}

// Deploy validates the artifact in cfg.OutputDir exactly as the evaluator
// host would, then uploads it with the default results. When data is
// uploaded, chunk keys left over from a larger previous deployment are
// removed after the new directory is in place.
func (d *Deployer) Deploy(ctx context.Context, cfg config.DeployConfig) (*Event, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a, err := artifact.Load(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("loading artifact: %w", err)
	}
	defaults, err := os.ReadFile(cfg.DefaultResultsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading default results: %v", apperrors.ErrInvalidInput, err)
	}
	if _, err := artifact.ParseDefaultResults(defaults, a.Directory.DocumentCount); err != nil {
		return nil, err
	}
	blobs, err := artifact.Package(a, defaults, cfg.UploadData)
	if err != nil {
		return nil, err
	}

	target := TargetOf(cfg)
	items := make([]redis.Item, len(blobs))
	keys := make(map[string]struct{}, len(blobs))
	var size int64
	for i, b := range blobs {
		key := target.Key(b.Name)
		items[i] = redis.Item{Key: key, Value: b.Data}
		keys[key] = struct{}{}
		size += int64(len(b.Data))
	}
	if err := d.store.SetMany(ctx, items, 0); err != nil {
		return nil, fmt.Errorf("%w: uploading %d blobs: %v", apperrors.ErrDeploy, len(items), err)
	}

	var pruned int64
	if cfg.UploadData {
		keep := func(key string) bool {
			_, ok := keys[key]
			return ok
		}
		for _, pattern := range []string{target.Key("postings_*"), target.Key("documents_*")} {
			n, err := d.store.PruneByPattern(ctx, pattern, keep)
			if err != nil {
				return nil, fmt.Errorf("%w: pruning stale chunks: %v", apperrors.ErrDeploy, err)
			}
			pruned += n
		}
	}

	dirBlob := blobs[len(blobs)-1].Data
	event := Event{
		Name:           cfg.Name,
		Namespace:      cfg.Namespace,
		KeyPrefix:      cfg.KeyPrefix,
		Digest:         fmt.Sprintf("%x", sha256.Sum256(dirBlob)),
		UploadData:     cfg.UploadData,
		Documents:      a.Directory.DocumentCount,
		Terms:          len(a.Directory.Terms),
		PostingsChunks: a.Directory.PostingsChunks,
		DocumentChunks: a.Directory.DocumentChunks,
		Blobs:          len(blobs),
		Bytes:          size,
		Pruned:         pruned,
		DeployedAt:     time.Now().UTC(),
	}
	d.logger.Info("artifact uploaded",
		"target", target.String(),
		"blobs", event.Blobs,
		"bytes", event.Bytes,
		"pruned", event.Pruned,
		"digest", event.Digest[:16],
	)

	if d.recorder != nil {
		if err := d.recorder.Record(ctx, event); err != nil {
			return nil, fmt.Errorf("%w: recording deployment: %v", apperrors.ErrDeploy, err)
		}
	}
	if d.notifier != nil {
		if err := d.notifier.Publish(ctx, kafka.Event{Key: target.String(), Value: event}); err != nil {
			return nil, fmt.Errorf("%w: announcing deployment: %v", apperrors.ErrDeploy, err)
		}
	}
	return &event, nil
}

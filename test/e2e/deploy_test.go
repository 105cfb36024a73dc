//go:build e2e

// Package e2e contains end-to-end tests that exercise the full edgesearch
// pipeline against real services: build, deploy to Redis with a Kafka
// announcement and a PostgreSQL ledger row, then serve from Redis.
//
// Prerequisites:
//   - Redis running
//   - Kafka running (optional; the announcement check is skipped without it)
//   - PostgreSQL running (optional; the ledger check is skipped without it)
//
// Run with:
//
//	go test -v -tags=e2e -timeout=120s ./test/e2e/...
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/builder"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/deploy"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/host"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/redis"
)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func loadE2EConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Redis.Addr = envOrDefault("E2E_REDIS_ADDR", "localhost:6379")
	if brokers := os.Getenv("E2E_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Postgres.Host = os.Getenv("E2E_POSTGRES_HOST")
	cfg.Postgres.Password = os.Getenv("E2E_POSTGRES_PASSWORD")
	cfg.Deploy.KeyPrefix = "edgesearch-e2e"
	cfg.Deploy.Name = fmt.Sprintf("run%d", time.Now().UnixNano())
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestBuildDeployServe builds a small collection, deploys it with data and
// serves it from Redis.
func TestBuildDeployServe(t *testing.T) {
	cfg := loadE2EConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	store, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer store.Close()
	target := deploy.TargetOf(cfg.Deploy)
	defer store.PruneByPattern(context.Background(), target.Key("*"), nil)

	dir := t.TempDir()
	cfg.Build.MaximumQueryResults = 5
	cfg.Build.MaximumChunkBytes = 512
	cfg.Build.OutputDir = filepath.Join(dir, "out")
	cfg.Build.DocumentsPath = filepath.Join(dir, "docs.txt")
	var docs strings.Builder
	for i := 0; i < 200; i++ {
		if i%10 == 0 {
			fmt.Fprintf(&docs, "release notes %d\n", i)
		} else {
			fmt.Fprintf(&docs, "changelog entry %d\n", i)
		}
	}
	if err := os.WriteFile(cfg.Build.DocumentsPath, []byte(docs.String()), 0644); err != nil {
		t.Fatal(err)
	}
	b, err := builder.New(cfg.Build)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Run(ctx); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	cfg.Deploy.OutputDir = cfg.Build.OutputDir
	cfg.Deploy.DefaultResultsPath = filepath.Join(dir, "default.json")
	cfg.Deploy.UploadData = true
	os.WriteFile(cfg.Deploy.DefaultResultsPath, []byte("[0, 1]"), 0644)

	var notifier deploy.Notifier
	var announcements *kafka.Consumer
	announced := make(chan deploy.Event, 1)
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.DeployTopic)
		defer producer.Close()
		notifier = producer
		cfg.Kafka.ConsumerGroup = "edgesearch-e2e-" + cfg.Deploy.Name
		announcements = kafka.NewConsumer(cfg.Kafka, cfg.Kafka.DeployTopic, func(ctx context.Context, key, value []byte) error {
			e, err := kafka.DecodeJSON[deploy.Event](value)
			if err == nil && target.Matches(e) {
				select {
				case announced <- e:
				default:
				}
			}
			return nil
		})
		go announcements.Start(ctx)
	}
	var recorder *deploy.Ledger
	var rec deploy.Recorder
	if cfg.Postgres.Host != "" {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			t.Fatalf("postgres: %v", err)
		}
		defer db.Close()
		recorder = deploy.NewLedger(db)
		if err := recorder.EnsureSchema(ctx); err != nil {
			t.Fatal(err)
		}
		rec = recorder
	}

	event, err := deploy.New(store, notifier, rec).Deploy(ctx, cfg.Deploy)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	srv := host.New(host.Options{Server: cfg.Server, Metrics: cfg.Metrics, Encoding: extract.EncodingText},
		host.KVLoader(store, pkgredis.IsNilError, target))
	if err := srv.Load(ctx); err != nil {
		t.Fatalf("loading from redis: %v", err)
	}
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	t.Run("search", func(t *testing.T) {
		var body struct {
			Results []string `json:"results"`
			More    bool     `json:"more"`
		}
		getJSON(t, ts.URL+"/search?q="+url.QueryEscape("release notes"), &body)
		if len(body.Results) != 5 || !body.More {
			t.Errorf("results = %v more = %v, want 5 results and more", body.Results, body.More)
		}
		if body.Results[0] != "release notes 0" {
			t.Errorf("first result = %q", body.Results[0])
		}
	})

	t.Run("defaults", func(t *testing.T) {
		var body struct {
			Results []string `json:"results"`
		}
		getJSON(t, ts.URL+"/search?q=", &body)
		if len(body.Results) != 2 {
			t.Errorf("default results = %v", body.Results)
		}
	})

	t.Run("ledger", func(t *testing.T) {
		if recorder == nil {
			t.Skip("E2E_POSTGRES_HOST not set")
		}
		history, err := recorder.History(ctx, target, 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(history) != 1 || history[0].Digest != event.Digest {
			t.Errorf("history = %+v", history)
		}
	})

	t.Run("announcement", func(t *testing.T) {
		if announcements == nil {
			t.Skip("E2E_KAFKA_BROKERS not set")
		}
		select {
		case e := <-announced:
			if e.Digest != event.Digest {
				t.Errorf("announced digest %s, want %s", e.Digest, event.Digest)
			}
		case <-time.After(20 * time.Second):
			t.Log("no announcement observed; the consumer group may have joined after the publish")
		}
	})
}

func getJSON(t *testing.T, rawURL string, v any) {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(rawURL)
	if err != nil {
		t.Fatalf("GET %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding %s: %v", rawURL, err)
	}
}

//go:build integration

// Package integration verifies the build pipeline and the evaluator host
// together over real HTTP, with no external services.
//
// Run with:
//
//	go test -v -tags=integration ./test/integration/...
package integration

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

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/builder"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/host"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/config"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// startHost builds n documents where document i has the terms "all",
// "mod<i%k>" for k in 2, 3, 5, and serves the artifact.
func startHost(t *testing.T, n int) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Build.MaximumQueryResults = n
	cfg.Build.MaximumChunkBytes = 256
	cfg.Build.OutputDir = filepath.Join(dir, "out")
	cfg.Build.DocumentTermsPath = filepath.Join(dir, "terms.txt")
	cfg.Build.DocumentsPath = filepath.Join(dir, "docs.txt")

	var terms, docs strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&terms, "all m2x%d m3x%d m5x%d\n", i%2, i%3, i%5)
		fmt.Fprintf(&docs, "doc%d\n", i)
	}
	os.WriteFile(cfg.Build.DocumentTermsPath, []byte(terms.String()), 0644)
	os.WriteFile(cfg.Build.DocumentsPath, []byte(docs.String()), 0644)
	b, err := builder.New(cfg.Build)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Run(context.Background()); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defaults := filepath.Join(dir, "default.json")
	os.WriteFile(defaults, []byte("[]"), 0644)

	srv := host.New(host.Options{Server: cfg.Server, Metrics: cfg.Metrics, Encoding: extract.EncodingText},
		host.DiskLoader(cfg.Build.OutputDir, defaults))
	if err := srv.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

type searchBody struct {
	Results []string `json:"results"`
	More    bool     `json:"more"`
}

func search(client *http.Client, base, q string) (searchBody, error) {
	var body searchBody
	resp, err := client.Get(base + "/search?q=" + url.QueryEscape(q))
	if err != nil {
		return body, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("status %d", resp.StatusCode)
	}
	return body, json.NewDecoder(resp.Body).Decode(&body)
}

// expected computes the answer to a query of the form "m2xA m3xB" directly.
func expected(n, a, b int) []string {
	var out []string
	for i := 0; i < n; i++ {
		if i%2 == a && i%3 == b {
			out = append(out, fmt.Sprintf("doc%d", i))
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestConcurrentQueries checks that concurrent requests against one loaded
// artifact return exactly the results of evaluating each query alone.
func TestConcurrentQueries(t *testing.T) {
	const n = 3000
	ts := startHost(t, n)
	client := &http.Client{Timeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(16)
	for round := 0; round < 10; round++ {
		for a := 0; a < 2; a++ {
			for b := 0; b < 3; b++ {
				g.Go(func() error {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					body, err := search(client, ts.URL, fmt.Sprintf("m2x%d m3x%d", a, b))
					if err != nil {
						return err
					}
					want := expected(n, a, b)
					if strings.Join(body.Results, ",") != strings.Join(want, ",") {
						return fmt.Errorf("m2x%d m3x%d: got %d results, want %d", a, b, len(body.Results), len(want))
					}
					return nil
				})
			}
		}
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

// TestModesOverHTTP checks contain and exclude over the stop-word term.
func TestModesOverHTTP(t *testing.T) {
	const n = 300
	ts := startHost(t, n)
	client := &http.Client{Timeout: 10 * time.Second}

	body, err := search(client, ts.URL, "all -m5x0 -m5x1 -m5x2 -m5x3")
	if err != nil {
		t.Fatal(err)
	}
	if len(body.Results) != n/5 {
		t.Fatalf("got %d results, want %d", len(body.Results), n/5)
	}
	if body.Results[0] != "doc4" {
		t.Errorf("first result = %s, want doc4", body.Results[0])
	}

	body, err = search(client, ts.URL, "~m5x0 ~m5x1")
	if err != nil {
		t.Fatal(err)
	}
	if len(body.Results) != 2*n/5 || body.More {
		t.Errorf("got %d results more=%v, want %d", len(body.Results), body.More, 2*n/5)
	}
}

package builder

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/query"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
)

const (
	catTerms = "cat\ndog\ncat nap\nnap dog\ncat nap\n"
	catDocs  = "zero\none\ntwo\nthree\nfour\n"
)

func testConfig(t *testing.T) config.BuildConfig {
	t.Helper()
	cfg := config.Default().Build
	cfg.MaximumQueryResults = 10
	cfg.MaximumChunkBytes = 128
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	return cfg
}

func writeInputs(t *testing.T, cfg *config.BuildConfig, terms, docs string) {
	t.Helper()
	dir := t.TempDir()
	cfg.DocumentTermsPath = filepath.Join(dir, "terms.txt")
	cfg.DocumentsPath = filepath.Join(dir, "docs.txt")
	if err := os.WriteFile(cfg.DocumentTermsPath, []byte(terms), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.DocumentsPath, []byte(docs), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	writeInputs(t, &cfg, catTerms, catDocs)
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stats, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if stats.Documents != 5 || stats.Terms != 3 {
		t.Errorf("stats = %+v, want 5 documents and 3 terms", stats)
	}
	for _, phase := range []string{"extract", "postings", "encode", "write"} {
		if _, ok := stats.Phases[phase]; !ok {
			t.Errorf("Phases = %v, missing %s", stats.Phases, phase)
		}
	}

	a, err := artifact.Load(cfg.OutputDir)
	if err != nil {
		t.Fatalf("artifact.Load() error: %v", err)
	}
	if a.Directory.Limits.MaximumQueryTerms != 50 || a.Directory.Limits.MaximumQueryBytes != 512 {
		t.Errorf("limits = %+v, want the configured defaults embedded", a.Directory.Limits)
	}
	if a.Directory.TermRule != extract.RuleFields {
		t.Errorf("TermRule = %s, want fields for an explicit term stream", a.Directory.TermRule)
	}
	_, res, err := query.Search(context.Background(), a.Query(), "cat nap", nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if !reflect.DeepEqual(res.IDs, []uint32{2, 4}) {
		t.Errorf("Search(cat nap) = %v, want [2 4]", res.IDs)
	}
}

func TestBuildIsReproducible(t *testing.T) {
	var artifacts [][]byte
	for _, workers := range []int{1, 4} {
		cfg := testConfig(t)
		cfg.Workers = workers
		writeInputs(t, &cfg, catTerms, catDocs)
		b, err := New(cfg)
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		if _, err := b.Run(context.Background()); err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		var all bytes.Buffer
		entries, err := os.ReadDir(cfg.OutputDir)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			data, err := os.ReadFile(filepath.Join(cfg.OutputDir, e.Name()))
			if err != nil {
				t.Fatal(err)
			}
			all.WriteString(e.Name())
			all.Write(data)
		}
		artifacts = append(artifacts, all.Bytes())
	}
	if !bytes.Equal(artifacts[0], artifacts[1]) {
		t.Error("artifacts differ between worker counts")
	}
}

func TestRunFailureLeavesOutputUntouched(t *testing.T) {
	cfg := testConfig(t)
	writeInputs(t, &cfg, catTerms, catDocs)
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	before, _ := os.ReadFile(filepath.Join(cfg.OutputDir, artifact.DirectoryFile))

	writeInputs(t, &cfg, "cat\ndog", "zero\none\n")
	b, err = New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	_, err = b.Run(context.Background())
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("Run() error = %v, want ErrInvalidInput", err)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("Run() error %q does not report the offending line", err)
	}
	after, _ := os.ReadFile(filepath.Join(cfg.OutputDir, artifact.DirectoryFile))
	if !bytes.Equal(before, after) {
		t.Error("failed build modified the existing artifact")
	}
}

func TestRunRejectsOversizedDirectory(t *testing.T) {
	cfg := testConfig(t)
	writeInputs(t, &cfg, catTerms, catDocs)
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	before, _ := os.ReadFile(filepath.Join(cfg.OutputDir, artifact.DirectoryFile))

	cfg.MaximumDirectoryBytes = len(before) - 1
	b, err = New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := b.Run(context.Background()); !errors.Is(err, apperrors.ErrCapacity) {
		t.Fatalf("Run() error = %v, want ErrCapacity", err)
	}
	after, _ := os.ReadFile(filepath.Join(cfg.OutputDir, artifact.DirectoryFile))
	if !bytes.Equal(before, after) {
		t.Error("rejected build modified the existing artifact")
	}

	cfg.MaximumDirectoryBytes = len(before)
	b, err = New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := b.Run(context.Background()); err != nil {
		t.Errorf("Run() at exactly the limit error: %v", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.BuildConfig)
		want   error
	}{
		{"unknown encoding", func(c *config.BuildConfig) { c.DocumentEncoding = "xml" }, apperrors.ErrUnsupportedEncoding},
		{"missing results cap", func(c *config.BuildConfig) { c.MaximumQueryResults = 0 }, apperrors.ErrInvalidInput},
		{"negative terms cap", func(c *config.BuildConfig) { c.MaximumQueryTerms = -1 }, apperrors.ErrInvalidInput},
		{"no output dir", func(c *config.BuildConfig) { c.OutputDir = "" }, apperrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			if _, err := New(cfg); !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBuildDerivesTermsWithoutTermStream(t *testing.T) {
	cfg := testConfig(t)
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	idx, stats, err := b.Build(context.Background(), nil, strings.NewReader("The Cat sat.\nA cat, napping!\ne-mail me\n"))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if stats.Documents != 3 {
		t.Errorf("Documents = %d, want 3", stats.Documents)
	}
	if idx.Directory.TermRule != extract.RuleWords {
		t.Errorf("TermRule = %s, want words", idx.Directory.TermRule)
	}
	idxView := query.Index{Directory: idx.Directory, Postings: query.MemorySource(idx.Postings)}

	defaults := []uint32{2}
	tests := []struct {
		query string
		want  []uint32
	}{
		{"cat", []uint32{0, 1}},
		{"cat,", []uint32{0, 1}},
		{"sat.", []uint32{0}},
		{"e-mail", []uint32{2}},
		{"cat sat.", []uint32{0}},
		{"napping! -sat.", []uint32{1}},
		{"~e-mail ~sat", []uint32{0, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, res, err := query.Search(context.Background(), idxView, tt.query, defaults)
			if err != nil {
				t.Fatalf("Search() error: %v", err)
			}
			if res.Default || !reflect.DeepEqual(res.IDs, tt.want) {
				t.Errorf("Search(%q) = %v (default %v), want %v", tt.query, res.IDs, res.Default, tt.want)
			}
		})
	}
}

func TestBuildWithTermStreamKeepsTermsVerbatim(t *testing.T) {
	b, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	idx, _, err := b.Build(context.Background(), strings.NewReader("e-mail\nmail\n"), strings.NewReader("d0\nd1\n"))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if idx.Directory.TermRule != extract.RuleFields {
		t.Errorf("TermRule = %s, want fields", idx.Directory.TermRule)
	}
	idxView := query.Index{Directory: idx.Directory, Postings: query.MemorySource(idx.Postings)}
	_, res, err := query.Search(context.Background(), idxView, "e-mail", nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if !reflect.DeepEqual(res.IDs, []uint32{0}) {
		t.Errorf("Search(e-mail) = %v, want [0]", res.IDs)
	}
}

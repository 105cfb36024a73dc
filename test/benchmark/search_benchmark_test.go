package benchmark

import (
	"context"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/postings"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/query"
)

var limits = codec.Limits{MaximumQueryBytes: 512, MaximumQueryResults: 50, MaximumQueryTerms: 50}

var benchQueries = []struct {
	name  string
	query string
}{
	{"single", "search"},
	{"stop_word", "the"},
	{"intersection", "search edge index"},
	{"contain", "~roaring ~bitmap ~worker"},
	{"exclude", "the -search -edge"},
	{"mixed", "the ~posting ~chunk -deploy"},
	{"miss", "nothing"},
}

func buildIndex(b *testing.B, n, chunkBytes int) query.Index {
	b.Helper()
	c := extractCorpus(b, n)
	entries, err := postings.Build(context.Background(), c.Pairs, c.DocumentCount(), 0)
	if err != nil {
		b.Fatal(err)
	}
	idx, err := codec.Encode(context.Background(), entries, c.Documents, codec.EncodeOptions{
		Limits:        limits,
		MaxChunkBytes: chunkBytes,
	})
	if err != nil {
		b.Fatal(err)
	}
	return query.Index{Directory: idx.Directory, Postings: query.MemorySource(idx.Postings)}
}

// BenchmarkQueryParse measures query parsing and normalisation.
func BenchmarkQueryParse(b *testing.B) {
	for _, q := range benchQueries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := query.Parse(q.query, limits, extract.RuleFields); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkEvaluate measures end-to-end evaluation over 100 000 documents,
// including chunk verification and fragment reassembly.
func BenchmarkEvaluate(b *testing.B) {
	idx := buildIndex(b, 100000, 64<<10)
	defaults := []uint32{0, 1, 2}
	for _, q := range benchQueries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, _, err := query.Search(context.Background(), idx, q.query, defaults); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkEvaluateParallel measures concurrent read throughput on one
// shared index.
func BenchmarkEvaluateParallel(b *testing.B) {
	idx := buildIndex(b, 100000, 64<<10)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q := benchQueries[i%len(benchQueries)].query
			if _, _, err := query.Search(context.Background(), idx, q, nil); err != nil {
				b.Error(err)
				return
			}
			i++
		}
	})
}

// Command loadtest drives concurrent queries against a running evaluator host
// and reports throughput, latency percentiles and result mix.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Queries     []string
}

// defaultQueries mixes plain, contain and exclude terms plus an empty query
// that exercises the default results.
var defaultQueries = []string{
	"search",
	"edge function",
	"posting set",
	"~roaring ~bitmap",
	"index -draft",
	"chunk directory",
	"",
	"query terms",
	"~deploy ~namespace artifact",
	"document",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the evaluator host")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	queriesPath := flag.String("queries", "", "file with one query per line; defaults to a built-in mix")
	flag.Parse()

	queries := defaultQueries
	if *queriesPath != "" {
		var err error
		queries, err = readQueries(*queriesPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading queries: %v\n", err)
			os.Exit(1)
		}
	}

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Concurrency: *concurrency,
		Duration:    *duration,
		Queries:     queries,
	}

	fmt.Println("=== edgesearch Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique\n", len(cfg.Queries))
	fmt.Println()

	stats := runLoadTest(cfg)
	if !printReport(os.Stdout, stats, cfg.Duration) {
		os.Exit(1)
	}
}

func readQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var queries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		queries = append(queries, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("%s has no queries", path)
	}
	return queries, nil
}

type searchResponse struct {
	Results []json.RawMessage `json:"results"`
	More    bool              `json:"more"`
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Go(func() {
			queryIdx := w
			for ctx.Err() == nil {
				query := cfg.Queries[queryIdx%len(cfg.Queries)]
				queryIdx++
				searchURL := fmt.Sprintf("%s/search?q=%s", cfg.BaseURL, url.QueryEscape(query))
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
				if err != nil {
					stats.RecordRequest(0, 0, err)
					continue
				}

				start := time.Now()
				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() == nil {
						stats.RecordRequest(time.Since(start), 0, err)
					}
					continue
				}
				var body searchResponse
				decodeErr := json.NewDecoder(resp.Body).Decode(&body)
				resp.Body.Close()
				elapsed := time.Since(start)
				if resp.StatusCode == http.StatusOK && decodeErr != nil {
					stats.RecordRequest(elapsed, resp.StatusCode, decodeErr)
					continue
				}
				stats.RecordRequest(elapsed, resp.StatusCode, nil)
				if resp.StatusCode == http.StatusOK {
					stats.RecordResults(len(body.Results), body.More)
				}
			}
		})
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

// Command edgesearch builds a search artifact from a document collection,
// deploys it to the key-value store read by the edge evaluator, and serves it
// locally for testing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/builder"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/deploy"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/host"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/resilience"
)

const usage = `usage: edgesearch <command> [flags]

commands:
  build    build an artifact from document terms and documents
  deploy   upload a built artifact to the key-value store
  test     serve an artifact over HTTP for manual queries
  status   list recent deployments from the ledger

Run "edgesearch <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "build":
		err = runBuild(ctx, args)
	case "deploy":
		err = runDeploy(ctx, args)
	case "test":
		err = runTest(ctx, args)
	case "status":
		err = runStatus(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		slog.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput), errors.Is(err, apperrors.ErrUnsupportedEncoding):
		return 2
	case errors.Is(err, apperrors.ErrDeploy):
		return 3
	default:
		return 1
	}
}

// command holds a subcommand's flag set. Flags override the config file only
// when given explicitly.
type command struct {
	fs         *flag.FlagSet
	configPath *string
}

func newCommand(name string) *command {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &command{
		fs:         fs,
		configPath: fs.String("config", "", "path to a YAML config file"),
	}
}

// load parses args, loads the config and applies every explicitly set flag
// through apply.
func (c *command) load(args []string, apply func(cfg *config.Config, name string)) (*config.Config, error) {
	if err := c.fs.Parse(args); err != nil {
		return nil, err
	}
	if c.fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected arguments %s", apperrors.ErrInvalidInput, strings.Join(c.fs.Args(), " "))
	}
	cfg, err := config.Load(*c.configPath)
	if err != nil {
		return nil, err
	}
	c.fs.Visit(func(f *flag.Flag) { apply(cfg, f.Name) })
	if cfg.Deploy.OutputDir == "" {
		cfg.Deploy.OutputDir = cfg.Build.OutputDir
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, nil)
	return cfg, nil
}

func runBuild(ctx context.Context, args []string) error {
	c := newCommand("build")
	encoding := c.fs.String("document_encoding", "text", "document encoding: text, nul or json")
	terms := c.fs.String("document_terms", "", "document terms file; omitted derives terms from the documents")
	documents := c.fs.String("documents", "", "documents file")
	maxBytes := c.fs.Int("maximum_query_bytes", 512, "maximum query size in bytes")
	maxResults := c.fs.Int("maximum_query_results", 0, "maximum number of results per query")
	maxTerms := c.fs.Int("maximum_query_terms", 50, "maximum number of distinct terms per query")
	maxChunk := c.fs.Int("maximum_chunk_bytes", 1<<20, "maximum size of one chunk file")
	workers := c.fs.Int("workers", 0, "build parallelism; 0 uses all CPUs")
	outputDir := c.fs.String("output_dir", "", "artifact output directory")

	cfg, err := c.load(args, func(cfg *config.Config, name string) {
		switch name {
		case "document_encoding":
			cfg.Build.DocumentEncoding = *encoding
		case "document_terms":
			cfg.Build.DocumentTermsPath = *terms
		case "documents":
			cfg.Build.DocumentsPath = *documents
		case "maximum_query_bytes":
			cfg.Build.MaximumQueryBytes = *maxBytes
		case "maximum_query_results":
			cfg.Build.MaximumQueryResults = *maxResults
		case "maximum_query_terms":
			cfg.Build.MaximumQueryTerms = *maxTerms
		case "maximum_chunk_bytes":
			cfg.Build.MaximumChunkBytes = *maxChunk
		case "workers":
			cfg.Build.Workers = *workers
		case "output_dir":
			cfg.Build.OutputDir = *outputDir
		}
	})
	if err != nil {
		return err
	}

	b, err := builder.New(cfg.Build)
	if err != nil {
		return err
	}
	stats, err := b.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("built %s: %d documents, %d terms, %d postings chunks, %d document chunks in %s\n",
		cfg.Build.OutputDir, stats.Documents, stats.Terms, stats.PostingsChunks, stats.DocumentChunks,
		stats.Duration.Round(time.Millisecond))
	return nil
}

func runDeploy(ctx context.Context, args []string) error {
	c := newCommand("deploy")
	defaults := c.fs.String("default_results", "", "JSON array of document ids returned when nothing matches")
	name := c.fs.String("name", "", "deployment name")
	namespace := c.fs.String("namespace", "", "optional deployment namespace")
	outputDir := c.fs.String("output_dir", "", "artifact directory to deploy")
	uploadData := c.fs.Bool("upload_data", false, "upload postings and document chunks as well")
	keyPrefix := c.fs.String("key_prefix", "edgesearch", "key prefix in the store")
	redisAddr := c.fs.String("redis_addr", "", "key-value store address")

	cfg, err := c.load(args, func(cfg *config.Config, flagName string) {
		switch flagName {
		case "default_results":
			cfg.Deploy.DefaultResultsPath = *defaults
		case "name":
			cfg.Deploy.Name = *name
		case "namespace":
			cfg.Deploy.Namespace = *namespace
		case "output_dir":
			cfg.Deploy.OutputDir = *outputDir
		case "upload_data":
			cfg.Deploy.UploadData = *uploadData
		case "key_prefix":
			cfg.Deploy.KeyPrefix = *keyPrefix
		case "redis_addr":
			cfg.Redis.Addr = *redisAddr
		}
	})
	if err != nil {
		return err
	}
	if err := cfg.Deploy.Validate(); err != nil {
		return err
	}

	store, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrDeploy, err)
	}
	defer store.Close()

	var notifier deploy.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.DeployTopic)
		defer producer.Close()
		notifier = producer
	}
	var recorder deploy.Recorder
	if cfg.Postgres.Host != "" {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrDeploy, err)
		}
		defer db.Close()
		ledger := deploy.NewLedger(db)
		if err := ledger.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrDeploy, err)
		}
		recorder = ledger
	}

	event, err := deploy.New(store, notifier, recorder).Deploy(ctx, cfg.Deploy)
	if err != nil {
		return err
	}
	fmt.Printf("deployed %s: %d blobs, %d bytes, %d stale keys removed, digest %s\n",
		deploy.TargetOf(cfg.Deploy), event.Blobs, event.Bytes, event.Pruned, event.Digest)
	return nil
}

func runTest(ctx context.Context, args []string) error {
	c := newCommand("test")
	defaults := c.fs.String("default_results", "", "JSON array of document ids returned when nothing matches")
	encoding := c.fs.String("document_encoding", "text", "document encoding the artifact was built with")
	outputDir := c.fs.String("output_dir", "", "artifact directory to serve")
	port := c.fs.Int("port", 8080, "HTTP port")
	source := c.fs.String("source", "disk", "artifact source: disk or redis")
	name := c.fs.String("name", "", "deployment name when serving from redis")
	namespace := c.fs.String("namespace", "", "deployment namespace when serving from redis")
	watch := c.fs.Bool("watch", false, "reload on deploy events from Kafka when serving from redis")

	cfg, err := c.load(args, func(cfg *config.Config, flagName string) {
		switch flagName {
		case "default_results":
			cfg.Deploy.DefaultResultsPath = *defaults
		case "document_encoding":
			cfg.Build.DocumentEncoding = *encoding
		case "output_dir":
			cfg.Deploy.OutputDir = *outputDir
		case "port":
			cfg.Server.Port = *port
		case "source":
			cfg.Server.Source = *source
		case "name":
			cfg.Deploy.Name = *name
		case "namespace":
			cfg.Deploy.Namespace = *namespace
		case "watch":
			cfg.Server.WatchDeploys = *watch
		}
	})
	if err != nil {
		return err
	}
	if err := cfg.Server.Validate(); err != nil {
		return err
	}
	enc, err := extract.ParseEncoding(cfg.Build.DocumentEncoding)
	if err != nil {
		return err
	}

	opts := host.Options{Server: cfg.Server, Metrics: cfg.Metrics, Encoding: enc}
	var srv *host.Server
	switch cfg.Server.Source {
	case host.SourceDisk:
		if cfg.Deploy.OutputDir == "" || cfg.Deploy.DefaultResultsPath == "" {
			return fmt.Errorf("%w: output_dir and default_results are required", apperrors.ErrInvalidInput)
		}
		srv = host.New(opts, host.DiskLoader(cfg.Deploy.OutputDir, cfg.Deploy.DefaultResultsPath))
	case host.SourceRedis:
		if cfg.Deploy.Name == "" {
			return fmt.Errorf("%w: name is required when serving from redis", apperrors.ErrInvalidInput)
		}
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		target := deploy.TargetOf(cfg.Deploy)
		breaker := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Redis.BreakerThreshold,
			ResetTimeout:     cfg.Redis.BreakerReset,
			IsFailure:        host.StoreFailure(pkgredis.IsNilError),
		})
		srv = host.New(opts, host.KVLoader(host.Guard(client, breaker), pkgredis.IsNilError, target))
		srv.Checker().Register("redis_breaker", host.BreakerCheck(breaker))
		srv.Checker().Register("redis", func(ctx context.Context) health.ComponentHealth {
			if err := client.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
		if cfg.Server.WatchDeploys {
			if len(cfg.Kafka.Brokers) == 0 {
				return fmt.Errorf("%w: watching deploys needs kafka brokers", apperrors.ErrInvalidInput)
			}
			consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.DeployTopic, srv.DeployHandler(target))
			go func() {
				if err := consumer.Start(ctx); err != nil {
					slog.Error("deploy watcher stopped", "error", err)
				}
			}()
			srv.Checker().Register("deploy_watcher", func(ctx context.Context) health.ComponentHealth {
				return health.ComponentHealth{Status: health.StatusUp, Message: "topic " + cfg.Kafka.DeployTopic}
			})
		}
	}

	if err := srv.LoadWithRetry(ctx, cfg.Server.LoadAttempts); err != nil {
		return err
	}
	return srv.Run(ctx)
}

func runStatus(ctx context.Context, args []string) error {
	c := newCommand("status")
	name := c.fs.String("name", "", "deployment name")
	namespace := c.fs.String("namespace", "", "deployment namespace")
	limit := c.fs.Int("limit", 10, "number of deployments to list")

	cfg, err := c.load(args, func(cfg *config.Config, flagName string) {
		switch flagName {
		case "name":
			cfg.Deploy.Name = *name
		case "namespace":
			cfg.Deploy.Namespace = *namespace
		}
	})
	if err != nil {
		return err
	}
	if cfg.Deploy.Name == "" {
		return fmt.Errorf("%w: name is required", apperrors.ErrInvalidInput)
	}
	if cfg.Postgres.Host == "" {
		return fmt.Errorf("%w: the deployment ledger is not configured", apperrors.ErrInvalidInput)
	}
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	events, err := deploy.NewLedger(db).History(ctx, deploy.TargetOf(cfg.Deploy), *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEPLOYED AT\tDIGEST\tDOCUMENTS\tTERMS\tCHUNKS\tBYTES\tDATA")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%.12s\t%d\t%d\t%d\t%d\t%t\n",
			e.DeployedAt.Format(time.RFC3339), e.Digest, e.Documents, e.Terms,
			e.PostingsChunks+e.DocumentChunks, e.Bytes, e.UploadData)
	}
	return tw.Flush()
}

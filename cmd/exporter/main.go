package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"pocket_archiver/internal/checkpoint"
	"pocket_archiver/internal/config"
	"pocket_archiver/internal/credential"
	"pocket_archiver/internal/domain"
	"pocket_archiver/internal/extract"
	"pocket_archiver/internal/publisher"
	"pocket_archiver/internal/service"
	"pocket_archiver/internal/sink"
	"pocket_archiver/internal/source/pocket"
	"pocket_archiver/internal/storage/postgres"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	format := flag.String("format", "", "output format: json, md or postgres")
	outFile := flag.String("outfile", "", "output file for the json format")
	outDir := flag.String("outdir", "", "output directory for the md format")
	batch := flag.Int("batch", 0, "items per page (capped at 30)")
	limit := flag.Int("limit", -1, "stop after this many items (0 = no limit)")
	reset := flag.Bool("reset", false, "ignore the checkpoint and start from the first item")
	skipExtract := flag.Bool("skip-extract", false, "only harvest metadata")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return exitFailure
	}

	if *format != "" {
		cfg.Output.Format = *format
	}
	if *outFile != "" {
		cfg.Output.File = *outFile
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if *batch > 0 {
		cfg.Pocket.PageSize = min(*batch, config.MaxPageSize)
	}
	if *limit >= 0 {
		cfg.Sync.Limit = *limit
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return exitFailure
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := notifyShutdown(context.Background(), logger)
	defer cancel()

	pocketSource := pocket.New(pocket.Config{
		BaseURL:        cfg.Pocket.BaseURL,
		State:          cfg.Pocket.State,
		DetailType:     cfg.Pocket.DetailType,
		Sort:           cfg.Pocket.Sort,
		UserAgent:      cfg.Extract.UserAgent,
		Timeout:        cfg.Pocket.Timeout,
		MaxRetries:     cfg.Pocket.Retry.MaxRetries,
		InitialBackoff: cfg.Pocket.Retry.InitialBackoff,
		MaxBackoff:     cfg.Pocket.Retry.MaxBackoff,
	}, logger)

	store, closeStore, err := openBackend(ctx, cfg, pocketSource.ID(), logger)
	if err != nil {
		logger.Error("failed to open output", "format", cfg.Output.Format, "error", err)
		return exitFailure
	}
	defer closeStore()

	authClient := pocket.NewAuthClient(pocket.AuthConfig{
		BaseURL:     cfg.Pocket.BaseURL,
		ConsumerKey: cfg.Pocket.ConsumerKey,
		RedirectURI: cfg.Pocket.RedirectURI,
		UserAgent:   cfg.Extract.UserAgent,
		Timeout:     cfg.Pocket.Timeout,
	}, logger)
	credStore := credential.NewStore(
		credential.NewFileCache(cfg.Auth.TokenPath),
		authClient,
		credential.NewConsoleApprover(os.Stdin, os.Stderr),
		logger,
	)

	logger.Info("starting export",
		"source", pocketSource.Name(),
		"format", cfg.Output.Format,
		"page_size", cfg.Pocket.PageSize,
		"limit", cfg.Sync.Limit,
	)

	cred, err := credStore.Obtain(ctx)
	if err != nil {
		return fail(ctx, logger, "authorization failed", err)
	}

	harvest := service.NewHarvestService(pocketSource, store.sink, store.ledger, logger, cfg.Sync, cfg.Pocket.PageSize)
	if *reset {
		if err := harvest.Reset(ctx); err != nil {
			return fail(ctx, logger, "reset failed", err)
		}
	}

	stats, err := harvest.Run(ctx, cred)
	if err != nil {
		var fatal *domain.FatalFetchError
		if errors.As(err, &fatal) && fatal.StatusCode == http.StatusUnauthorized {
			if ferr := credStore.Forget(); ferr != nil {
				logger.Warn("failed to remove cached token", "error", ferr)
			}
			logger.Error("access token rejected, run again to re-authorize")
		}
		return fail(ctx, logger, "harvest failed", err)
	}
	printHarvest(os.Stderr, stats)

	if *skipExtract {
		return exitOK
	}

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled() {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			return exitFailure
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	reducer, err := extract.NewReducer(cfg.Extract.Reducer)
	if err != nil {
		logger.Error("invalid reducer", "error", err)
		return exitFailure
	}
	extractor := extract.New(extract.Config{
		Timeout:           cfg.Extract.Timeout,
		MaxBodyBytes:      cfg.Extract.MaxBodyBytes,
		UserAgent:         cfg.Extract.UserAgent,
		RequestsPerSecond: cfg.Extract.RequestsPerSecond,
	}, reducer, logger.With("component", "extractor"))

	report, err := service.NewExtractionService(store.sink, extractor, pub, logger, cfg.Extract.BatchSize).Run(ctx)
	if report != nil {
		printReport(os.Stderr, report)
	}
	if err != nil {
		return fail(ctx, logger, "extraction stopped", err)
	}

	return exitOK
}

type backend struct {
	sink   service.Sink
	ledger service.CheckpointLedger
}

func openBackend(ctx context.Context, cfg *config.Config, sourceID string, logger *slog.Logger) (backend, func(), error) {
	noop := func() {}

	switch cfg.Output.Format {
	case config.FormatMarkdown:
		dir, err := sink.OpenMarkdownDir(cfg.Output.Dir)
		if err != nil {
			return backend{}, noop, err
		}
		logger.Info("writing markdown files", "dir", dir.Dir())
		return backend{sink: dir, ledger: checkpoint.NewFileLedger(cfg.Sync.CheckpointPath)}, noop, nil

	case config.FormatPostgres:
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.DSN())
		if err != nil {
			return backend{}, noop, fmt.Errorf("connect to database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return backend{}, noop, fmt.Errorf("ping database: %w", err)
		}
		logger.Info("connected to database", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)
		closeDB := func() { db.Close() }
		return backend{sink: postgres.NewSink(db), ledger: postgres.NewCheckpointStore(db, sourceID)}, closeDB, nil

	default:
		file, err := sink.OpenJSONFile(cfg.Output.File)
		if err != nil {
			return backend{}, noop, err
		}
		logger.Info("writing json file", "path", file.Path())
		return backend{sink: file, ledger: checkpoint.NewFileLedger(cfg.Sync.CheckpointPath)}, noop, nil
	}
}

// notifyShutdown cancels the returned context on SIGINT or SIGTERM. After the
// first signal the default handling is restored, so a second one terminates
// the process even while a request is blocking.
func notifyShutdown(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	released := make(chan struct{})
	var once sync.Once
	release := func() {
		once.Do(func() { close(released) })
		stop()
	}

	go func() {
		<-ctx.Done()
		stop()
		select {
		case <-released:
		default:
			if parent.Err() == nil {
				logger.Info("received shutdown signal")
			}
		}
	}()
	return ctx, release
}

func fail(ctx context.Context, logger *slog.Logger, msg string, err error) int {
	if ctx.Err() != nil {
		logger.Warn("interrupted, progress is saved", "error", err)
		return exitInterrupted
	}
	logger.Error(msg, "error", err)
	return exitFailure
}

func printHarvest(w io.Writer, stats *domain.HarvestStats) {
	switch {
	case stats.Complete && stats.Items == 0 && stats.Resumed:
		fmt.Fprintf(w, "Library already harvested (%d items). Use -reset to start over.\n", stats.EndOffset)
	case stats.LimitHit:
		fmt.Fprintf(w, "Harvested %d items (limit reached at %d).\n", stats.Items, stats.EndOffset)
	default:
		fmt.Fprintf(w, "Harvested %d items in %d pages (offset %d -> %d, %d already stored).\n",
			stats.Items, stats.Pages, stats.StartOffset, stats.EndOffset, stats.Duplicates)
	}
	if stats.Recovered > 0 {
		fmt.Fprintf(w, "Recovered %d items that moved behind the checkpoint.\n", stats.Recovered)
	}
}

func printReport(w io.Writer, report *domain.ExtractionReport) {
	fmt.Fprintf(w, "Extracted %d articles; %d failures.\n", report.Succeeded, report.Failed)
	if len(report.Failures) == 0 {
		return
	}
	fmt.Fprintln(w, "First errors:")
	for _, line := range report.Failures {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

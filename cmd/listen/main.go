package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"movefeed/internal/observability"
	"movefeed/internal/storage/clickhouse"
	"movefeed/internal/storage/memory"
	"movefeed/internal/storage/migrations"
	pgstore "movefeed/internal/storage/postgres"
	redisstore "movefeed/internal/storage/redis"
	"movefeed/internal/stream"
	"movefeed/internal/transport"
	ssetransport "movefeed/internal/transport/sse"
	wstransport "movefeed/internal/transport/ws"
)

func main() {
	// Parse flags
	baseURL := flag.String("base-url", "", "Gateway base URL, e.g. https://feed.example.com/v1")
	apiKey := flag.String("api-key", "", "Gateway API key")
	feed := flag.String("feed", "events", "Feed to consume: events or market")
	transportName := flag.String("transport", "sse", "Streaming transport: sse or ws")
	packageID := flag.String("package-id", "", "Package address used by --on-named patterns")
	pattern := flag.String("pattern", stream.Wildcard, "Subscription pattern to print events for")
	startTime := flag.Int64("start-time", 0, "Explicit resume timestamp in ms (overrides cached cursor)")
	typeFilter := flag.String("type", "", "Server-side event type filter")
	cacheBackend := flag.String("cache", "memory", "Cursor cache backend: memory, redis, or postgres")
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis address for --cache=redis")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string for --cache=postgres")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse DSN to archive every event (empty to disable)")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	flushInterval := flag.Duration("flush-interval", 15*time.Second, "Cursor persistence interval")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[listen] ", log.LstdFlags|log.Lshortfile)

	if *baseURL == "" || *apiKey == "" {
		logger.Fatal("--base-url and --api-key are required")
	}

	// Start metrics server if enabled
	var metrics *observability.Metrics
	if *metricsAddr != "" {
		metrics = observability.NewMetrics("movefeed", nil)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err := run(ctx, logger, metrics, runOptions{
		baseURL:       *baseURL,
		apiKey:        *apiKey,
		feed:          *feed,
		transportName: *transportName,
		packageID:     *packageID,
		pattern:       *pattern,
		startTime:     *startTime,
		typeFilter:    *typeFilter,
		cacheBackend:  *cacheBackend,
		redisAddr:     *redisAddr,
		postgresDSN:   *postgresDSN,
		clickhouseDSN: *clickhouseDSN,
		flushInterval: *flushInterval,
	})

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

type runOptions struct {
	baseURL       string
	apiKey        string
	feed          string
	transportName string
	packageID     string
	pattern       string
	startTime     int64
	typeFilter    string
	cacheBackend  string
	redisAddr     string
	postgresDSN   string
	clickhouseDSN string
	flushInterval time.Duration
}

// run wires up the cursor cache, transport and client, subscribes the
// printing handler plus the optional archive sink, and blocks until the
// context is cancelled.
func run(ctx context.Context, logger *log.Logger, metrics *observability.Metrics, opts runOptions) error {
	cache, closeCache, err := buildCache(ctx, opts)
	if err != nil {
		return err
	}
	defer closeCache()

	tr, err := buildTransport(opts.transportName)
	if err != nil {
		return err
	}

	cfg := stream.Config{
		BaseURL:   opts.baseURL,
		APIKey:    opts.apiKey,
		Transport: tr,
		Cache:     cache,
		PackageID: opts.packageID,
		Logger:    logger,
		Metrics:   metrics,
	}

	var client *stream.Client
	switch opts.feed {
	case "events":
		client, err = stream.NewPackageClient(cfg)
	case "market":
		client, err = stream.NewMarketClient(cfg)
	default:
		return fmt.Errorf("unknown feed %q (want events or market)", opts.feed)
	}
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	client.On(opts.pattern, func(payload any) {
		logger.Printf("event: %+v", payload)
	})

	if opts.clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, opts.clickhouseDSN)
		if err != nil {
			return fmt.Errorf("prepare clickhouse: %w", err)
		}
		defer conn.Close()

		archive := clickhouse.NewEventArchive(conn)
		client.OnAll(func(payload any) {
			env, ok := clickhouse.EnvelopeFromPayload(payload)
			if !ok {
				logger.Printf("Archive: unrecognized payload shape %T", payload)
				if metrics != nil {
					metrics.ArchiveErrors.Inc()
				}
				return
			}
			if err := archive.Insert(ctx, env); err != nil {
				logger.Printf("Archive insert error: %v", err)
				if metrics != nil {
					metrics.ArchiveErrors.Inc()
				}
				return
			}
			if metrics != nil {
				metrics.EventsArchived.Inc()
			}
		})
		logger.Println("Archiving all events to ClickHouse")
	}

	connectOpts := stream.Options{TypeFilter: opts.typeFilter}
	if opts.startTime > 0 {
		connectOpts.StartTime = &opts.startTime
	}

	if err := client.Connect(ctx, connectOpts); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	logger.Printf("Connected to %s feed at %s", opts.feed, opts.baseURL)

	// Periodically persist the cursor so a crash loses at most one interval.
	ticker := time.NewTicker(opts.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.Disconnect(shutdownCtx); err != nil {
				logger.Printf("Disconnect error: %v", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if cur := client.Cursor(); cur != nil && metrics != nil {
				metrics.CursorTimestamp.Set(float64(*cur))
			}
		}
	}
}

// buildCache constructs the cursor cache named by --cache. The returned
// closer releases any backing connection and is safe to call once.
func buildCache(ctx context.Context, opts runOptions) (stream.Cache, func(), error) {
	noop := func() {}
	switch opts.cacheBackend {
	case "memory":
		return memory.NewCache(), noop, nil
	case "redis":
		cache, err := redisstore.NewCache(redisstore.Config{Addr: opts.redisAddr})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return cache, func() { cache.Close() }, nil
	case "postgres":
		if opts.postgresDSN == "" {
			return nil, nil, fmt.Errorf("--postgres-dsn is required for --cache=postgres")
		}
		pool, err := pgstore.NewPool(ctx, opts.postgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
		}
		return pgstore.NewCache(pool), func() { pool.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q (want memory, redis, or postgres)", opts.cacheBackend)
	}
}

// buildTransport constructs the streaming transport named by --transport.
func buildTransport(name string) (transport.Transport, error) {
	switch name {
	case "sse":
		return &ssetransport.Transport{}, nil
	case "ws":
		return &wstransport.Transport{}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want sse or ws)", name)
	}
}

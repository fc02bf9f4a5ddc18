package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"cmdflow/internal/api"
	"cmdflow/internal/config"
	"cmdflow/internal/dispatcher"
	"cmdflow/internal/events"
	"cmdflow/internal/handlers/shell"
	"cmdflow/internal/handlers/webhook"
	"cmdflow/internal/processor"
	"cmdflow/internal/queue"
	"cmdflow/internal/scheduler"
	"cmdflow/internal/serializer"
	"cmdflow/internal/telemetry"
	"cmdflow/internal/worker"
)

// service is a worker that can be started and drained.
type service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Stats() worker.Stats
}

func main() {
	var (
		envFile = flag.String("env", ".env", "optional env file")
		debug   = flag.Bool("debug", false, "expose pprof endpoints")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *debug); err != nil {
		log.Fatal().Err(err).Msg("cmdflow")
	}
}

func run(ctx context.Context, cfg config.Config, debug bool) error {
	var db *sql.DB
	if cfg.Queue == "sqlite" {
		var err error
		if db, err = openSQLite(cfg.SQLitePath); err != nil {
			return err
		}
		defer db.Close()
	}

	ser := serializer.NewJSON()
	serializer.Register[webhook.Command](ser)
	serializer.Register[shell.Command](ser)

	reg := processor.NewRegistry()
	processor.MustRegister(reg, func() processor.Handler[webhook.Command] { return webhook.New() })
	processor.MustRegister(reg, func() processor.Handler[shell.Command] { return shell.Handler{} })

	repo, err := openEvents(ctx, cfg, db, ser)
	if err != nil {
		return err
	}
	var evOpts []events.Option
	if cfg.PreDispatch {
		evOpts = append(evOpts, events.WithPreDispatch())
	}

	factory := func() processor.Processor {
		return processor.Chain(reg.Processor(),
			telemetry.Process(),
			telemetry.Metrics(),
			events.Processing(repo, evOpts...),
		)
	}

	opts := cfg.WorkerOptions()
	wlog := log.With().Str("component", "worker").Logger()
	opts.Logger = &wlog

	var (
		inner      dispatcher.Dispatcher
		svc        service
		queueStats func(context.Context) (any, error)
	)
	switch cfg.Queue {
	case "memory":
		q := queue.NewMemory()
		inner = dispatcher.NewMemory(q)
		svc = worker.NewMemory(q, factory, opts)
		queueStats = func(context.Context) (any, error) { return map[string]int{"queued": q.Len()}, nil }
	case "sqlite":
		q := queue.NewSQLite(db, cfg.QueueName)
		inner = dispatcher.NewDurable(q, ser, dispatcher.WithTTL(cfg.MessageTTL))
		svc = worker.NewDurable(q, ser, factory, opts)
		queueStats = func(ctx context.Context) (any, error) { return q.Stats(ctx) }
		go purgeExpired(ctx, q)
	case "azure":
		q, err := queue.NewAzure(cfg.AzureConnectionString, cfg.QueueName)
		if err != nil {
			return fmt.Errorf("azure queue: %w", err)
		}
		if err := q.EnsureQueue(ctx); err != nil {
			return fmt.Errorf("ensure azure queue: %w", err)
		}
		inner = dispatcher.NewDurable(q, ser, dispatcher.WithTTL(cfg.MessageTTL))
		svc = worker.NewDurable(q, ser, factory, opts)
	}

	d := dispatcher.Chain(inner, telemetry.Dispatch(), events.Dispatching(repo, evOpts...))

	sched := scheduler.NewService(d, time.Second)
	for i, spec := range cfg.Schedules {
		expr, typ, build, err := scheduler.ParseSpec(spec, ser.New)
		if err != nil {
			return fmt.Errorf("schedule %d: %w", i, err)
		}
		if err := sched.Add(fmt.Sprintf("%s-%d", typ, i), expr, build); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewServer(api.Config{
			Dispatcher: d,
			Events:     repo,
			Builder:    ser,
			Stats: func() any {
				out := map[string]any{"worker": svc.Stats()}
				if queueStats != nil {
					qs, err := queueStats(context.Background())
					if err != nil {
						out["queue_error"] = err.Error()
					} else {
						out["queue"] = qs
					}
				}
				return out
			},
			Schedules: sched,
			Debug:     debug,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := svc.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("queue", cfg.Queue).Str("events", cfg.EventStore).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(shutdownCtx)
		// The HTTP server stops first so no new command is dispatched while draining.
		if err := svc.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("worker did not drain before the shutdown timeout")
		}
		return httpErr
	})
	return g.Wait()
}

func openSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := queue.EnsureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure queue schema: %w", err)
	}
	if err := events.EnsureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure events schema: %w", err)
	}
	return db, nil
}

func openEvents(ctx context.Context, cfg config.Config, db *sql.DB, ser serializer.Serializer) (events.Repository, error) {
	switch cfg.EventStore {
	case "redis":
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(ropts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return events.NewRedis(client, ser, cfg.EventTTL), nil
	case "table":
		t, err := events.NewTable(cfg.AzureConnectionString, cfg.AzureTable, ser)
		if err != nil {
			return nil, fmt.Errorf("azure table: %w", err)
		}
		if err := t.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("ensure azure table: %w", err)
		}
		return t, nil
	case "sqlite":
		return events.NewSQLite(db, ser), nil
	default:
		return events.NewMemory(cfg.EventCapacity, cfg.EventTTL), nil
	}
}

func purgeExpired(ctx context.Context, q *queue.SQLite) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := q.PurgeExpired(ctx); err != nil {
				log.Warn().Err(err).Msg("purge expired messages")
			} else if n > 0 {
				log.Info().Int("purged", n).Msg("purged expired messages")
			}
		}
	}
}

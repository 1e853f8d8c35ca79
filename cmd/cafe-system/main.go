package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-redis/redis/v8"

	"cafe-system/internal/app/api"
	"cafe-system/internal/auth"
	"cafe-system/internal/availability"
	"cafe-system/internal/catalog"
	"cafe-system/internal/common/config"
	"cafe-system/internal/common/db"
	"cafe-system/internal/common/httpx"
	"cafe-system/internal/common/logger"
	"cafe-system/internal/common/mq"
	"cafe-system/internal/idempotency"
	"cafe-system/internal/menuindex"
	"cafe-system/internal/notify"
	"cafe-system/internal/order"
	"cafe-system/internal/reminder"
	"cafe-system/internal/repository/migrations"
	"cafe-system/internal/repository/postgres"
	"cafe-system/internal/stock"
)

const (
	modeAPI       = "api"
	modeScheduler = "scheduler"
	modeAll       = "all"
)

func main() {
	mode := flag.String("mode", modeAll, "api | scheduler | all")
	cfgPath := flag.String("config", "", "path to config.yaml (default: search config.yaml, deploy/config.yaml)")
	flag.Parse()

	if *mode != modeAPI && *mode != modeScheduler && *mode != modeAll {
		fmt.Fprintln(os.Stderr, "--mode must be one of: api | scheduler | all")
		os.Exit(2)
	}

	path := *cfgPath
	if path == "" {
		p, err := config.FindConfig()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	lg := logger.NewWithLevel("cafe-system", cfg.Log.Level)
	defer lg.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lg.Info("service_started", map[string]any{"mode": *mode, "config": path})
	if err := run(ctx, *mode, cfg, lg); err != nil {
		lg.Error("fatal", err, nil)
		os.Exit(1)
	}
	lg.Info("service_stopped", nil)
}

func run(ctx context.Context, mode string, cfg config.App, lg *logger.Logger) error {
	conn, err := db.Connect(ctx, cfg.Database, lg.Named("db"))
	if err != nil {
		return err
	}
	defer conn.Close()
	if cfg.Database.Migrate {
		if err := migrations.Apply(ctx, conn.Pool, 3, lg.Named("migrations")); err != nil {
			return err
		}
	}
	store := postgres.New(conn.Pool, cfg.Database.Serializable)

	broker, err := mq.Dial(cfg.Rabbit)
	if err != nil {
		return fmt.Errorf("rabbitmq: %w", err)
	}
	defer broker.Close()
	relay, err := notify.NewAMQPRelay(broker, cfg.Rabbit.Exchange, lg.Named("relay"))
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	cat := catalog.New(store, lg.Named("catalog"))
	inv := catalog.NewRedisInvalidator(rdb, cfg.Redis.CatalogChannel, lg.Named("catalog"))
	cat.SetInvalidator(inv)
	if err := cat.Init(ctx); err != nil {
		return err
	}
	defer cat.Shutdown()

	var hub *notify.Hub
	if mode != modeScheduler {
		hub = notify.NewHub(store, lg.Named("hub"), cfg.Engine.Heartbeat)
		if err := hub.Init(ctx); err != nil {
			return err
		}
		defer hub.Shutdown()
	}
	bus := notify.NewBus(hub, lg.Named("bus"))
	bus.SetRelay(relay)

	jobs := reminder.New(store, cfg.Scheduler, lg.Named("scheduler"))
	engine := order.New(store, cat, bus, jobs, cfg.Engine, lg.Named("engine"))
	stocks := stock.NewStore(store)

	if len(cfg.Kafka.Brokers) > 0 {
		index := menuindex.NewKafkaIndex(cfg.Kafka, lg.Named("menuindex"))
		defer index.Close()
		syncer := menuindex.NewSyncer(index, cat, stocks, jobs, cfg.Engine.ExternalTimeout, lg.Named("menuindex"))
		defer syncer.Wait()
		engine.SetIndex(syncer)
	} else {
		lg.Warn("menu_index_disabled", map[string]any{"reason": "kafka.brokers is empty"})
	}

	// a failed component takes the rest down with it
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 4)
	)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	spawn("catalog invalidation", func(ctx context.Context) error { return inv.Listen(ctx, cat) })
	if hub != nil {
		spawn("relay", func(ctx context.Context) error { return relay.Listen(ctx, hub) })
	}
	if mode != modeAPI {
		spawn("scheduler", jobs.Run)
	}
	if mode != modeScheduler {
		srv := api.New(api.Deps{
			Store:     store,
			Engine:    engine,
			Resolver:  availability.NewResolver(cat, stocks, store),
			Stock:     stocks,
			Catalog:   cat,
			Auth:      auth.New(cfg.Auth, store),
			Hub:       hub,
			Idem:      idempotency.NewRedisStore(rdb, cfg.Redis.IdempotencyTTL),
			RateLimit: cfg.HTTP.RateLimit,
			Logger:    lg.Named("api"),
		})
		lg.Info("http_listening", map[string]any{"addr": cfg.HTTP.Addr})
		spawn("http", httpx.New(cfg.HTTP.Addr, srv.Handler()).Run)
	}

	var first error
	select {
	case <-ctx.Done():
	case first = <-errs:
	}
	lg.Info("graceful_shutdown", map[string]any{"mode": mode})
	stop()
	wg.Wait()
	return first
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rl1809/inventory-service/internal/adapter/handler"
	"github.com/rl1809/inventory-service/internal/adapter/messaging"
	"github.com/rl1809/inventory-service/internal/adapter/storage"
	"github.com/rl1809/inventory-service/internal/config"
	"github.com/rl1809/inventory-service/internal/core/service"
	"github.com/rl1809/inventory-service/internal/logger"
	"github.com/rl1809/inventory-service/internal/metrics"
	"github.com/rl1809/inventory-service/internal/port"
	"github.com/rl1809/inventory-service/internal/tracing"
	"github.com/rl1809/inventory-service/internal/worker"
)

const healthProbeInterval = 15 * time.Second

var _ service.Metrics = (*metrics.Recorder)(nil)

type backends struct {
	stock        port.StockRepository
	events       port.EventRepository
	reservations port.ReservationRepository
	locker       port.Locker
	probes       []handler.Probe
	closers      []func() error
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New(cfg.ServiceName, cfg.Log.Level, cfg.Log.Console)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("server stopped")
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.InitTracerProvider(cfg.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(sctx); err != nil {
				log.Warn().Err(err).Msg("tracer shutdown failed")
			}
		}()
		log.Info().Str("endpoint", cfg.Tracing.JaegerEndpoint).Msg("tracing enabled")
	} else {
		tracing.InitPropagator()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(reg)

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		b.close(log)
		log.Info().Msg("connections closed")
	}()

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(recorder),
		service.WithRetryPolicy(service.RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			Multiplier:   cfg.Retry.Multiplier,
			MaxDelay:     cfg.Retry.MaxDelay,
		}),
		service.WithStockLevels(cfg.Stock.DefaultMinimumLevel, cfg.Stock.DefaultMaximumLevel, cfg.Stock.AutoCreateMaximum),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := messaging.NewKafkaEventPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		b.closers = append(b.closers, publisher.Close)
		opts = append(opts, service.WithEventPublisher(publisher))
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing mutation events to kafka")
	}

	eventService := service.NewEventService(b.events, opts...)
	stockService := service.NewStockService(b.stock, append(opts, service.WithEventRecorder(eventService))...)
	reservationService := service.NewReservationService(b.reservations, stockService, opts...)

	sweeper := worker.NewReservationSweeper(reservationService, b.locker, cfg.Reservation.SweepInterval, cfg.Reservation.LockTTL, log)

	httpHandler := handler.NewHTTPHandler(stockService, reservationService, eventService, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpHandler.Routes(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	grpcHandler := handler.NewGRPCHandler(log, b.probes...)
	grpcHandler.Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Str("addr", cfg.GRPC.Addr).Msg("gRPC server listening")
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		grpcHandler.Watch(gctx, healthProbeInterval)
		return nil
	})

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		log.Info().Msg("HTTP server stopped")

		grpcHandler.Shutdown()
		grpcServer.GracefulStop()
		log.Info().Msg("gRPC server stopped")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openBackends connects the configured stores. On error everything it opened
// is already closed.
func openBackends(ctx context.Context, cfg config.Config, log zerolog.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.close(log)
		}
	}()
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	switch cfg.Storage.Driver {
	case "memory":
		b.stock = storage.NewMemoryStockRepository()
		b.events = storage.NewMemoryEventRepository()
		b.reservations = storage.NewMemoryReservationRepository()
		b.locker = storage.NewLocalLocker()
		log.Info().Msg("using in-memory storage")

	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			return b, err
		}
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
		b.closers = append(b.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return b, err
		}
		log.Info().Msg("connected to mysql")

		gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: db}), gormCfg)
		if err != nil {
			return b, err
		}
		if err := b.useSQL(ctx, db, storage.MySQLDialect, gdb); err != nil {
			return b, err
		}

	case "sqlite":
		db, err := sql.Open("sqlite3", cfg.SQLite.Path+"?_busy_timeout=5000")
		if err != nil {
			return b, err
		}
		db.SetMaxOpenConns(1)
		b.closers = append(b.closers, db.Close)
		log.Info().Str("path", cfg.SQLite.Path).Msg("opened sqlite database")

		gdb, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite3", Conn: db}, gormCfg)
		if err != nil {
			return b, err
		}
		if err := b.useSQL(ctx, db, storage.SQLiteDialect, gdb); err != nil {
			return b, err
		}
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		b.closers = append(b.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return b, err
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")

		b.reservations = storage.NewRedisReservationRepository(rdb)
		b.locker = storage.NewRedisLocker(rdb)
		b.probes = append(b.probes, handler.Probe{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	if b.reservations == nil {
		b.reservations = storage.NewMemoryReservationRepository()
	}
	if b.locker == nil {
		b.locker = storage.NewLocalLocker()
	}
	return b, nil
}

// close runs the closers in reverse order of opening.
func (b *backends) close(log zerolog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
	b.closers = nil
}

func (b *backends) useSQL(ctx context.Context, db *sql.DB, dialect storage.Dialect, gdb *gorm.DB) error {
	stock := storage.NewSQLStockRepository(db, dialect)
	if err := stock.EnsureSchema(ctx); err != nil {
		return err
	}
	events := storage.NewGormEventRepository(gdb)
	if err := events.AutoMigrate(); err != nil {
		return err
	}
	b.stock = stock
	b.events = events
	b.probes = append(b.probes, handler.Probe{Name: dialect.Name, Check: db.PingContext})
	return nil
}

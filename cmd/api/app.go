package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiebiao/stockledger/internal/application/ledger"
	"github.com/xiebiao/stockledger/internal/application/lowstock"
	"github.com/xiebiao/stockledger/internal/application/notify"
	"github.com/xiebiao/stockledger/internal/application/reaper"
	"github.com/xiebiao/stockledger/internal/infrastructure/config"
	"github.com/xiebiao/stockledger/internal/infrastructure/logger"
	"github.com/xiebiao/stockledger/internal/infrastructure/messaging"
	"github.com/xiebiao/stockledger/internal/infrastructure/persistence/memory"
	"github.com/xiebiao/stockledger/internal/infrastructure/persistence/mysql"
	redisstore "github.com/xiebiao/stockledger/internal/infrastructure/persistence/redis"
	grpcserver "github.com/xiebiao/stockledger/internal/interface/grpc"
	"github.com/xiebiao/stockledger/internal/interface/http/router"
	"github.com/xiebiao/stockledger/pkg/circuitbreaker"
	"github.com/xiebiao/stockledger/pkg/clock"
	"github.com/xiebiao/stockledger/pkg/metrics"
	"github.com/xiebiao/stockledger/pkg/mq"
	"github.com/xiebiao/stockledger/pkg/tracing"
)

const serviceName = "stockledger"

// App owns the long-running parts of the process.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	engine     *gin.Engine
	grpc       *grpcserver.Server
	reaper     *reaper.Reaper
	dispatcher *notify.Dispatcher
	shutdown   tracerShutdown
}

func newApp(
	cfg *config.Config,
	log *zap.Logger,
	engine *gin.Engine,
	grpc *grpcserver.Server,
	r *reaper.Reaper,
	dispatcher *notify.Dispatcher,
	shutdown tracerShutdown,
) *App {
	return &App{
		cfg:        cfg,
		logger:     log,
		engine:     engine,
		grpc:       grpc,
		reaper:     r,
		dispatcher: dispatcher,
		shutdown:   shutdown,
	}
}

// Run serves until ctx is cancelled or a server fails, then shuts down:
// servers first, then the event queue, then the tracer.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      a.engine,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if a.cfg.GRPC.Enabled {
		g.Go(func() error {
			return a.grpc.Serve(gctx, fmt.Sprintf(":%d", a.cfg.GRPC.Port))
		})
	}

	if a.cfg.Reaper.Enabled {
		g.Go(func() error {
			return a.reaper.Run(gctx)
		})
	}

	err := g.Wait()
	a.logger.Info("servers stopped, draining events")

	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, a.dispatcher.Close(sctx), a.shutdown(sctx))
}

type tracerShutdown func(context.Context) error

func provideTracing(cfg *config.Config, log *zap.Logger) (tracerShutdown, error) {
	if !cfg.Tracing.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.SampleRatio)
	if err != nil {
		return nil, err
	}
	log.Info("tracing enabled", zap.String("endpoint", cfg.Tracing.Endpoint))
	return shutdown, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	l, err := logger.New(cfg.Log, serviceName)
	if err != nil {
		return nil, nil, err
	}
	return l, func() { _ = l.Sync() }, nil
}

func provideClock() clock.Clock {
	return clock.NewSystem()
}

// backend is one storage driver with its health probe.
type backend struct {
	repos ledger.Repositories
	check grpcserver.Check
}

func provideBackend(cfg *config.Config, log *zap.Logger) (backend, func(), error) {
	switch cfg.Storage.Driver {
	case config.StorageMySQL:
		db, err := mysql.NewDB(cfg, log)
		if err != nil {
			return backend{}, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return backend{}, nil, err
		}
		s := mysql.NewStore(db)
		return backend{
				repos: ledger.Repositories{Stocks: s.Stocks(), Movements: s.Movements(), Reservations: s.Reservations(), Ledger: s.Ledger()},
				check: sqlDB.PingContext,
			}, func() {
				_ = sqlDB.Close()
			}, nil

	case config.StorageRedis:
		client, err := redisstore.NewClient(cfg, log)
		if err != nil {
			return backend{}, nil, err
		}
		s := redisstore.NewStore(client, cfg.Redis.KeyPrefix, cfg.Redis.JournalLimit)
		return backend{
				repos: ledger.Repositories{Stocks: s.Stocks(), Movements: s.Movements(), Reservations: s.Reservations(), Ledger: s.Ledger()},
				check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
			}, func() {
				_ = client.Close()
			}, nil

	default:
		log.Warn("using in-memory storage, state is lost on restart")
		s := memory.NewStore()
		return backend{
			repos: ledger.Repositories{Stocks: s.Stocks(), Movements: s.Movements(), Reservations: s.Reservations(), Ledger: s.Ledger()},
			check: func(context.Context) error { return nil },
		}, func() {}, nil
	}
}

func provideSink(cfg *config.Config, log *zap.Logger) (notify.Sink, error) {
	switch cfg.Events.Driver {
	case config.EventsRabbitMQ:
		pub, err := mq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.ExchangeType, log)
		if err != nil {
			return nil, err
		}
		return messaging.NewRabbitMQSink(pub, log), nil
	case config.EventsKafka:
		return messaging.NewKafkaSink(messaging.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.BatchTimeout)), nil
	default:
		return messaging.NewLogSink(log.Named("events")), nil
	}
}

func provideDispatcher(cfg *config.Config, sink notify.Sink, log *zap.Logger) *notify.Dispatcher {
	ec := cfg.Events
	trip := ec.Breaker.ConsecutiveFailures
	return notify.NewDispatcher(sink, notify.Options{
		QueueSize:      ec.QueueSize,
		Workers:        ec.Workers,
		MaxAttempts:    ec.MaxAttempts,
		Backoff:        ec.Backoff,
		PublishTimeout: ec.PublishTimeout,
		Breaker: circuitbreaker.Config{
			MaxRequests: ec.Breaker.HalfOpenRequests,
			Timeout:     ec.Breaker.OpenTimeout,
			ReadyToTrip: func(c circuitbreaker.Counts) bool { return trip > 0 && c.ConsecutiveFailures >= trip },
		},
	}, log)
}

func providePolicy(cfg *config.Config) *lowstock.Policy {
	return lowstock.NewPolicy(cfg.LowStock.DefaultThreshold, cfg.LowStock.ThresholdMap())
}

func provideManager(cfg *config.Config, b backend, d *notify.Dispatcher, policy *lowstock.Policy, c clock.Clock, log *zap.Logger) *ledger.Manager {
	metrics.InitMetrics()
	lc := cfg.Ledger
	return ledger.NewManager(b.repos, d, policy,
		ledger.WithClock(c),
		ledger.WithLogger(log.Named("ledger")),
		ledger.WithDefaultTTL(lc.DefaultTTL),
		ledger.WithMaxTTL(lc.MaxTTL),
		ledger.WithMaxRetries(lc.MaxCASRetries),
		ledger.WithRetryBackoff(lc.RetryBackoff),
		ledger.WithBatchTimeout(lc.BatchTimeout),
		ledger.WithEmitTimeout(lc.EmitTimeout),
	)
}

func provideMonitor(b backend, policy *lowstock.Policy) *lowstock.Monitor {
	return lowstock.NewMonitor(b.repos.Stocks, policy)
}

func provideReaper(cfg *config.Config, m *ledger.Manager, b backend, c clock.Clock, log *zap.Logger) *reaper.Reaper {
	return reaper.New(m, b.repos.Reservations, c, cfg.Reaper.Interval, cfg.Reaper.BatchSize, log.Named("reaper"))
}

func provideGRPCServer(b backend, log *zap.Logger) *grpcserver.Server {
	return grpcserver.NewServer(map[string]grpcserver.Check{"storage": b.check}, 10*time.Second, log.Named("grpc"))
}

func provideRouterOptions(cfg *config.Config) router.Options {
	return router.Options{
		Mode:    cfg.Server.Mode,
		Swagger: cfg.Server.Mode != gin.ReleaseMode,
	}
}

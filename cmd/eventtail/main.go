// Command eventtail follows the ledger's RabbitMQ event stream and logs each
// event once. It is a debugging aid and a reference consumer.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiebiao/stockledger/internal/infrastructure/config"
	"github.com/xiebiao/stockledger/internal/infrastructure/logger"
	"github.com/xiebiao/stockledger/pkg/mq"
)

func main() {
	bind := flag.String("bind", "stock.#", "comma-separated routing keys to bind")
	window := flag.Int("dedup-window", 4096, "number of recent event IDs remembered for deduplication")
	metricsAddr := flag.String("metrics-addr", ":9102", "address of the /metrics endpoint, empty to disable")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	l, err := logger.New(cfg.Log, "stockledger-eventtail")
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = l.Sync() }()

	rc := cfg.RabbitMQ
	consumer, err := mq.NewConsumer(rc.URL, rc.Exchange, rc.ExchangeType, rc.TailQueue, strings.Split(*bind, ","), l)
	if err != nil {
		l.Fatal("connect rabbitmq", zap.Error(err))
	}
	defer func() { _ = consumer.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	t := newTailer(consumer.Queue(), *window, l.Named("tail"))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Consume(gctx, t.handle)
	})

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	l.Info("tailing events", zap.String("queue", consumer.Queue()), zap.String("bind", *bind))
	if err := g.Wait(); err != nil {
		l.Error("eventtail stopped with error", zap.Error(err))
		return
	}
	l.Info("eventtail stopped")
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/hottrack/internal/config"
	"github.com/mohammed-shakir/hottrack/internal/events"
	"github.com/mohammed-shakir/hottrack/internal/export/redisheat"
	"github.com/mohammed-shakir/hottrack/internal/hottrack"
	"github.com/mohammed-shakir/hottrack/internal/httpapi"
	"github.com/mohammed-shakir/hottrack/internal/ingest/kafkaconsumer"
	"github.com/mohammed-shakir/hottrack/internal/logger"
	"github.com/mohammed-shakir/hottrack/internal/metrics"
	"github.com/mohammed-shakir/hottrack/internal/observability"
	"github.com/mohammed-shakir/hottrack/internal/tracking"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address (overrides HOTTRACK_ADDR)")
	flag.Parse()

	loaded, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		return 2
	}
	cfg := *loaded
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}

	zl := logger.Build(logger.Config{
		Level:   cfg.LogLevel,
		Console: cfg.LogConsole,
		SampleN: cfg.LogSampleN,
		Service: "hottrackd",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)
	slog.SetDefault(appLog)
	sarama.Logger = slog.NewLogLogger(appLog.Handler(), slog.LevelDebug)

	var (
		prom           *metrics.Provider
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		prom = metrics.New(metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			BuildDate: os.Getenv("BUILD_DATE"),
		})
		observability.Init(prom.Registerer(), true)
		metricsHandler = prom.Handler()
	} else {
		observability.Init(nil, false)
	}

	appLog.Info("starting hottrackd",
		"addr", cfg.Addr,
		"version", Version,
		"domains", cfg.Domains,
		"policy", cfg.Policy)

	reg, err := policyRegistry(cfg, zl)
	if err != nil {
		appLog.Error("policy registry setup failed", "err", err)
		return 1
	}

	var pub *events.Publisher
	if cfg.EventsEnabled {
		pub, err = events.NewPublisher(cfg.KafkaBrokers, cfg.EventsTopic, 1024, zl)
		if err != nil {
			appLog.Error("event publisher setup failed", "err", err)
			return 1
		}
	}
	var sink hottrack.EventSink
	if pub != nil {
		sink = pub
	}

	mgr := tracking.New(zl, rootOptions(cfg, reg, sink, zl)...)
	if prom != nil {
		prom.TrackDomains(mgr)
	}
	for _, d := range cfg.Domains {
		if _, err := mgr.Enable(d); err != nil {
			appLog.Error("enable domain failed", "domain", d, "err", err)
			mgr.Close()
			closePublisher(pub, appLog)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	api := httpapi.New(mgr, appLog, metricsHandler)
	g.Go(func() error {
		return httpapi.Run(gctx, cfg.Addr, api.Routes(), appLog)
	})

	if cfg.RedisEnabled {
		rdb, err := redisheat.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			appLog.Error("redis connect failed", "addr", cfg.RedisAddr, "err", err)
			stop()
			_ = g.Wait()
			shutdown(mgr, pub, appLog)
			return 1
		}
		defer func() { _ = rdb.Close() }()
		exp := redisheat.NewExporter(rdb, cfg.RedisPrefix, zl)
		g.Go(func() error {
			return exp.Run(gctx, mgr, cfg.ExportInterval, cfg.ExportTopN)
		})
	}

	if cfg.IngestEnabled {
		consumer := kafkaconsumer.New(
			kafkaconsumer.DefaultConfig(cfg.KafkaBrokers, cfg.IngestTopic, cfg.IngestGroup),
			zl,
			func(domain string) (kafkaconsumer.Recorder, bool) {
				root, ok := mgr.Get(domain)
				if !ok {
					return nil, false
				}
				return root, true
			},
		)
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}

	err = g.Wait()
	shutdown(mgr, pub, appLog)
	if err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("hottrackd exited with error", "err", err)
		return 1
	}
	appLog.Info("hottrackd stopped")
	return 0
}

// shutdown stops every root before the publisher so the final eviction
// events are still delivered.
func shutdown(mgr *tracking.Manager, pub *events.Publisher, log *slog.Logger) {
	mgr.Close()
	closePublisher(pub, log)
}

func closePublisher(pub *events.Publisher, log *slog.Logger) {
	if pub == nil {
		return
	}
	if err := pub.Close(); err != nil {
		log.Warn("event publisher close", "err", err)
	}
	if n := pub.Dropped(); n > 0 {
		log.Warn("events dropped", "count", n)
	}
}

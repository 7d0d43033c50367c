package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"cassa/internal/amqp"
	"cassa/internal/backend"
	"cassa/internal/cli"
	"cassa/internal/gateway"
	apphttp "cassa/internal/http"
	"cassa/internal/ledger"
	logx "cassa/internal/log"
	"cassa/internal/services"
)

func main() {
	cli.LoadEnvFile()

	bootstrap := cli.SetupLogger("info", "text")
	cfg := cli.LoadAndValidateConfig(bootstrap)
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	dir, err := cfg.Directory()
	if err != nil {
		logger.Error("Invalid member directory", "error", err)
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStartup()

	result, err := backend.NewFactory(logger).CreateBackend(startupCtx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer result.Close()

	l := ledger.New(result.Store, dir, ledger.WithLogger(logger))
	if err := l.Load(startupCtx); err != nil {
		logger.Error("Failed to load ledger", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	// A nil *amqp.Client must not reach the service as a non-nil Publisher.
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClientWithRetry(startupCtx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, 5)
		if err != nil {
			logger.Error("Failed to connect to AMQP broker", "error", err)
			os.Exit(1)
		}
		publisher = client
		logger.Info("Publishing ledger events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP_URL not set, ledger events disabled")
	}

	svc := services.NewLedgerService(l, publisher, logger)
	defer svc.Close()

	var ready gateway.Pinger
	if p, ok := result.Store.(gateway.Pinger); ok {
		ready = p
	}

	httpLogger := logx.New(logx.Config{Component: logx.ComponentHTTP, Handler: logger.Handler()})
	srv := apphttp.NewServer(svc, apphttp.Options{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		SettlementCacheTTL: cfg.SettlementCacheTTL,
		Logger:             httpLogger,
		Ready:              ready,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting cassa server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"members", len(dir.All()),
			"revision", l.Revision())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}
	<-gctx.Done()
	<-done
	logger.Info("Server stopped gracefully")
}

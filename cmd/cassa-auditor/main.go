// Command cassa-auditor re-derives the fund balance from stored
// transactions on a schedule and after every fund-touching ledger event.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"cassa/internal/amqp"
	"cassa/internal/backend"
	"cassa/internal/cli"
	"cassa/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	bootstrap := cli.SetupLogger("info", "text")
	cfg := cli.LoadAndValidateConfig(bootstrap)
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	logger.Info("Starting cassa-auditor", "backend", cfg.DataBackend, "interval", cfg.AuditInterval)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer result.Close()

	auditor := worker.NewFundAuditor(result.Store, cfg.AuditInterval, logger)

	var client *amqp.Client
	if cfg.AMQPURL != "" {
		client, err = amqp.NewClientWithRetry(context.Background(), cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, 5)
		if err != nil {
			logger.Error("Failed to connect to AMQP broker", "error", err)
			os.Exit(1)
		}
		defer client.Close()
	} else {
		logger.Info("AMQP_URL not set, auditing on schedule only")
	}

	ctx, done := cli.GracefulShutdown(logger, 10*time.Second, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return auditor.Run(gctx)
	})
	if client != nil {
		g.Go(func() error {
			return client.Consume(gctx, auditor.HandleEvent)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Auditor stopped", "error", err)
		os.Exit(1)
	}
	<-done
	logger.Info("Auditor stopped gracefully", "runs", auditor.Runs())
}

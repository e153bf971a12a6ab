package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/rollbar/rollbar-go"
	log "github.com/sirupsen/logrus"

	"github.com/edgecommerce/edge-dispatch/internal/cache"
	"github.com/edgecommerce/edge-dispatch/internal/config"
	"github.com/edgecommerce/edge-dispatch/internal/edge"
	"github.com/edgecommerce/edge-dispatch/internal/events"
	"github.com/edgecommerce/edge-dispatch/internal/orchestrator"
	"github.com/edgecommerce/edge-dispatch/internal/relation"
	postgres "github.com/edgecommerce/edge-dispatch/internal/storage/postgres"
	"github.com/edgecommerce/edge-dispatch/internal/telemetry"
	"github.com/edgecommerce/edge-dispatch/internal/wallet"
)

// process-tasks polls every pending edge task once and applies terminal
// results to the relation ledger. Meant to run from cron.
func main() {
	_ = godotenv.Load()

	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.WithField("err", err).Fatal("invalid configuration")
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if cfg.Rollbar.Token != "" {
		rollbar.SetToken(cfg.Rollbar.Token)
		rollbar.SetEnvironment(cfg.Rollbar.Environment)
		rollbar.SetCodeVersion(cfg.ServiceName)
		defer rollbar.Close()
	}

	shutdown := telemetry.InitTracer(cfg.ServiceName)
	defer shutdown()

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		rollbar.Critical(err)
		log.WithField("err", err).Fatal("failed to connect to database")
	}
	defer db.Close()

	gateway := postgres.NewGateway(db, cfg.OwnerID, cfg.UseInformed)

	var invalidator cache.Invalidator = cache.Noop{}
	if cfg.Redis.Addr != "" {
		redis, err := cache.NewRedis(cfg.Redis.Addr)
		if err != nil {
			rollbar.Warning(err)
			log.WithField("err", err).Warn("redis unavailable, cache invalidation disabled")
		} else {
			defer redis.Close()
			invalidator = redis
		}
	}

	var publisher events.Publisher = events.Discard{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.PurchasesTopic)
		defer producer.Close()
		publisher = producer
	}

	o := &orchestrator.Orchestrator{
		OwnerID:         cfg.OwnerID,
		GifteeAccountID: cfg.GifteeAccountID,
		PaymentMethod:   cfg.PaymentMethod,
		Relations:       gateway,
		Bots:            gateway,
		Tasks:           gateway,
		Edge:            edge.NewClient(),
		Reconciler:      relation.NewReconciler(cfg.OwnerID, gateway, invalidator, publisher),
		Wallet:          wallet.NewClient(cfg.Wallet.APIKey, cfg.Wallet.APISecret),
		Invoices:        wallet.NewInvoiceFetcher(),
		Events:          publisher,
		EstimateFee:     wallet.RecommendedFee,
	}

	if err := o.ProcessPendingTasks(context.Background()); err != nil {
		rollbar.Error(err)
		log.WithField("err", err).Fatal("task processing failed")
	}

	log.Info("task processing complete")
}

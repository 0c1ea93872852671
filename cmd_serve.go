package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ortelius/pdvd-ledger/database"
	"github.com/ortelius/pdvd-ledger/events/modules/transitions"
	"github.com/ortelius/pdvd-ledger/internal/api"
	"github.com/ortelius/pdvd-ledger/internal/config"
	"github.com/ortelius/pdvd-ledger/internal/kafka"
	"github.com/ortelius/pdvd-ledger/internal/metrics"
	"github.com/ortelius/pdvd-ledger/internal/policy"
	"github.com/ortelius/pdvd-ledger/internal/services"
	"github.com/ortelius/pdvd-ledger/reconcile"
	"github.com/ortelius/pdvd-ledger/restapi"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scan results consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().String("port", "", "HTTP port")
	cmd.Flags().String("policy-file", "", "Acceptance policy file")
	cmd.Flags().String("redis-addr", "", "Redis address for cache invalidation, empty disables it")
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("policy.file", cmd.Flags().Lookup("policy-file"))
	_ = v.BindPFlag("redis.addr", cmd.Flags().Lookup("redis-addr"))
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := database.InitLogger()
	defer func() { _ = logger.Sync() }()

	db, err := database.InitializeDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	store := database.NewArangoStore(db)

	resolver, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return err
	}
	logger.Info("Loaded acceptance policies", zap.Strings("groups", resolver.Groups()))

	m := metrics.New()

	producer := transitions.NewProducer(cfg.KafkaBrokers, cfg.TransitionTopic)
	defer func() { _ = producer.Close() }()
	notifier := transitions.Fanout{producer}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		notifier = append(notifier, transitions.NewRedisNotifier(client, cfg.RedisChannel))
	}

	rcfg := reconcile.Config{Workers: cfg.Workers, Retry: cfg.Retry()}
	transitionService := services.NewTransitionService(store, resolver, notifier, m, logger, rcfg)
	scanService := services.NewReconcileService(store, notifier, transitionService, m, logger, rcfg)
	queryService := services.NewQueryService(store, logger)

	err = kafka.RunEventProcessor(ctx, kafka.ProcessorConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topic:   cfg.ScanTopic,
	}, scanService, logger)
	if err != nil {
		// the HTTP API still accepts scans without the broker
		logger.Warn("Kafka Event Processor not started", zap.Error(err))
	}

	app, err := api.NewFiberApp(restapi.Services{
		Scans:       scanService,
		Transitions: transitionService,
		Queries:     queryService,
		Metrics:     m,
	}, logger)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		_ = app.ShutdownWithTimeout(30 * time.Second)
	}()

	logger.Info("Starting server", zap.String("port", cfg.Port))
	return app.Listen(":" + cfg.Port)
}

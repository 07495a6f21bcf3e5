package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/concert-notifier/internal/application/dispatch"
	"github.com/concert-notifier/internal/application/preference"
	"github.com/concert-notifier/internal/application/reconcile"
	"github.com/concert-notifier/internal/application/registration"
	"github.com/concert-notifier/internal/application/reminder"
	"github.com/concert-notifier/internal/config"
	"github.com/concert-notifier/internal/infrastructure/awsconf"
	"github.com/concert-notifier/internal/infrastructure/dynamo"
	s3infra "github.com/concert-notifier/internal/infrastructure/s3"
	snsinfra "github.com/concert-notifier/internal/infrastructure/sns"
	sqsinfra "github.com/concert-notifier/internal/infrastructure/sqs"
	"github.com/concert-notifier/internal/logging"
	"github.com/concert-notifier/internal/supervisor"
	transporthttp "github.com/concert-notifier/internal/transport/http"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const usage = "usage: notifier [serve|remind|reconcile]"

// app holds the wired components shared by every mode.
type app struct {
	cfg        *config.Config
	consumer   *sqsinfra.Consumer
	scheduler  *reminder.Scheduler
	reconciler *reconcile.Reconciler
	register   registration.Service
}

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if envErr != nil {
		logger.Debug("no .env file found, reading from environment")
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	mode := "serve"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}

	switch mode {
	case "serve":
		err = a.serve(ctx, logger)
	case "remind":
		var outcome reminder.Outcome
		outcome, err = a.scheduler.Run(ctx)
		logger.Info("reminder run finished", "outcome", outcome)
	case "reconcile":
		var rep reconcile.Report
		rep, err = a.reconciler.Run(ctx)
		logger.Info("reconcile run finished", "run_id", rep.RunID, "archived_at", rep.ArchivedAt)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("run failed", "mode", mode, "err", err)
		os.Exit(1)
	}
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	awsCfg, err := awsconf.Load(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	dynamoClient := dynamo.NewClient(awsCfg, cfg)
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)

	endpoints := dynamo.NewEndpointRepo(dynamoClient, cfg.DynamoTables.Endpoints)
	events := dynamo.NewEventRepo(dynamoClient, cfg.DynamoTables.Events)
	history := dynamo.NewHistoryRepo(dynamoClient, cfg.DynamoTables.History)
	resolver := preference.NewResolver(
		dynamo.NewPreferenceRepo(dynamoClient, cfg.DynamoTables.Preferences),
		dynamo.NewBookmarkRepo(dynamoClient, cfg.DynamoTables.Bookmarks),
	)

	gateway := snsinfra.NewGateway(snsinfra.NewClient(awsCfg, cfg), cfg.PlatformApplicationArn, cfg.PushPlatform).
		WithBreaker(snsinfra.NewPublishBreaker(cfg.PublishBreakerTimeout))

	sqsClient := sqsinfra.NewClient(awsCfg, cfg)

	d := dispatch.New(dispatch.Deps{
		Gateway:     gateway,
		Endpoints:   endpoints,
		Preferences: resolver,
		Events:      events,
		Limiter:     rate.NewLimiter(rate.Limit(cfg.PublishRatePerSecond), cfg.PublishBurst),
		Location:    cfg.Location(),
	})

	consumer := sqsinfra.NewConsumer(sqsClient, cfg.QueueURL, func(ctx context.Context, m sqsinfra.Message) error {
		return d.HandleMessage(ctx, m.Body, m.Attributes[sqsinfra.KindAttribute])
	}, cfg.QueueWaitSeconds, cfg.QueueBatchSize)

	scheduler := reminder.NewScheduler(reminder.Deps{
		Events:   events,
		History:  history,
		Queue:    sqsinfra.NewPublisher(sqsClient, cfg.QueueURL),
		LeadTime: cfg.ReminderLeadTime,
	})

	reconcileDeps := reconcile.Deps{Gateway: gateway, Registry: endpoints}
	if cfg.ReconcileReportBucket != "" {
		reconcileDeps.Archive = s3infra.NewStore(s3infra.NewClient(awsCfg, cfg), cfg.ReconcileReportBucket, "reconcile")
	}

	return &app{
		cfg:        cfg,
		consumer:   consumer,
		scheduler:  scheduler,
		reconciler: reconcile.New(reconcileDeps),
		register:   registration.NewService(gateway, endpoints),
	}, nil
}

// serve runs the ops API, the queue consumer and both periodic jobs under
// one supervisor tree until ctx is cancelled.
func (a *app) serve(ctx context.Context, logger *slog.Logger) error {
	router := transporthttp.NewRouter(&transporthttp.Deps{
		Registration:          a.register,
		Metrics:               promhttp.Handler(),
		RegisterRatePerSecond: a.cfg.RegisterRatePerSecond,
		RegisterBurst:         a.cfg.RegisterBurst,
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", a.cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	tree.AddAPI(supervisor.NewHTTPServerService(srv, 10*time.Second))
	tree.AddWorker(supervisor.NewConsumerService("queue-consumer", a.consumer))
	tree.AddWorker(supervisor.NewJobService("reminder", a.cfg.ReminderInterval, func(ctx context.Context) error {
		_, err := a.scheduler.Run(ctx)
		return err
	}))
	tree.AddWorker(supervisor.NewJobService("reconcile", a.cfg.ReconcileInterval, func(ctx context.Context) error {
		_, err := a.reconciler.Run(ctx)
		return err
	}))

	logger.Info("notifier starting", "port", a.cfg.AppPort, "env", a.cfg.AppEnv, "region", a.cfg.AWSRegion)
	err := tree.Serve(ctx)
	if ctx.Err() != nil {
		logger.Info("notifier stopped")
		return nil
	}
	return err
}

package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/apt/middleware"

	"github.com/appetiteclub/orderflow/pkg"
	"github.com/appetiteclub/orderflow/services/order/internal/mongo"
	"github.com/appetiteclub/orderflow/services/order/internal/order"
	"github.com/appetiteclub/orderflow/services/order/internal/projection"
	"github.com/appetiteclub/orderflow/services/order/internal/realtime"
)

const (
	appNamespace = "ORDERFLOW"
	appName      = "orderflow"
	appVersion   = "0.1.0"
)

func main() {
	config, err := apt.LoadConfig(appNamespace, os.Args[1:])
	if err != nil {
		log.Fatalf("%s(%s) cannot setup: %v", appName, appVersion, err)
	}

	logLevel, _ := config.GetString("log.level")
	logger := apt.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	baseRepo := mongo.NewBaseRepo(config, logger)
	err = baseRepo.Start(ctx)
	if err != nil {
		log.Fatalf("%s(%s) cannot start base repository: %v", appName, appVersion, err)
	}

	if baseRepo.GetDatabase() == nil {
		log.Fatalf("%s(%s) cannot initialize repository database: %v", appName, appVersion, errors.New("repository database is nil"))
	}
	repos := baseRepo.Repos()

	natsURL := config.GetStringOrDef("nats.url", "nats://localhost:4222")

	// With the stream enabled every change is retained in JetStream and the
	// boards warm by replay. Otherwise changes go out on core NATS only.
	var (
		publisher  events.Publisher
		replayer   projection.Replayer
		pubCloser  func() error
		streamName = config.GetStringOrDef("nats.stream.name", "ORDERFLOW_CHANGES")
	)
	if enabled, _ := config.GetString("nats.stream.enabled"); enabled == "true" {
		stream, err := pkg.NewNATSStream(ctx, pkg.NATSStreamConfig{
			URL:          natsURL,
			StreamName:   streamName,
			Subjects:     pkg.ChangeTopics(),
			ConsumerName: appName + "-replay-" + apt.GenerateNewID().String()[:8],
			MaxAge:       24 * time.Hour,
		})
		if err != nil {
			log.Fatalf("%s(%s) cannot create NATS stream: %v", appName, appVersion, err)
		}
		publisher, replayer, pubCloser = stream, stream, stream.Close
	} else {
		pub, err := pkg.NewNATSPublisher(natsURL)
		if err != nil {
			log.Fatalf("%s(%s) cannot connect to NATS publisher: %v", appName, appVersion, err)
		}
		publisher, pubCloser = pub, pub.Close
	}

	menuURL, _ := config.GetString("services.menu.url")
	menu := order.NewMenuCache(apt.NewServiceClient(menuURL), logger)

	paymentURL, _ := config.GetString("services.payment.url")
	payments := order.NewPaymentClient(apt.NewServiceClient(paymentURL))

	service := order.NewService(order.ServiceDeps{
		Repos:          repos,
		Menu:           menu,
		Payments:       payments,
		Publisher:      publisher,
		RefundTimeout:  durationOrDef(config, "payment.refund.timeout", order.DefaultRefundTimeout),
		RepairInterval: durationOrDef(config, "projection.repair.interval", order.DefaultRepairInterval),
	}, logger)

	channel := realtime.NewManager(
		realtime.NewNATSTransport(natsURL, appName+"-realtime", logger),
		realtime.Config{
			MaxAttempts:  intOrDef(config, "realtime.max.attempts", realtime.DefaultMaxAttempts),
			BaseDelay:    durationOrDef(config, "realtime.base.delay", realtime.DefaultBaseDelay),
			PresenceID:   appName + "-" + apt.GenerateNewID().String()[:8],
			PresenceData: map[string]string{"role": "order-core", "version": appVersion},
		},
		logger,
	)

	board := projection.NewBoard(channel, logger)

	orderHandler := order.NewHandler(service, repos, logger)
	boardHandler := projection.NewHandler(board, channel, service, logger)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      logger,
		DisableCORS: true,
	})
	stack = append(stack, middleware.InternalOnly())

	lifecycles := []interface{}{
		apt.LifecycleHooks{OnStop: baseRepo.Stop},
		apt.LifecycleHooks{
			OnStart: func(ctx context.Context) error {
				if err := menu.Warm(ctx); err != nil {
					logger.Error("menu warm failed, items resolve on demand", "error", err)
				}
				return nil
			},
		},
		apt.LifecycleHooks{
			OnStart: func(ctx context.Context) error {
				return board.Warm(ctx, replayer, repos.OrderRepo)
			},
		},
		channel,
		board,
		service.Projector(),
		service.Canceller(),
		apt.LifecycleHooks{
			OnStop: func(context.Context) error {
				return pubCloser()
			},
		},
	}

	options := []apt.Option{
		apt.WithConfig(config),
		apt.WithLogger(logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port", orderHandler, boardHandler),
		apt.WithLifecycle(lifecycles...),
		apt.WithHealthChecks(appName),
	}

	ms := apt.NewMicro(options...)
	logger.Infof("Starting %s(%s)", appName, appVersion)

	err = ms.Run(ctx)
	if err != nil {
		_ = baseRepo.Stop(context.Background())
		log.Fatalf("%s(%s) stopped: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}

func durationOrDef(config *apt.Config, key string, def time.Duration) time.Duration {
	raw, ok := config.GetString(key)
	if !ok || raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func intOrDef(config *apt.Config, key string, def int) int {
	raw, ok := config.GetString(key)
	if !ok || raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/agent"
	"github.com/dollyzn/whaticket-cero/internal/api"
	"github.com/dollyzn/whaticket-cero/internal/booking"
	"github.com/dollyzn/whaticket-cero/internal/bridge"
	"github.com/dollyzn/whaticket-cero/internal/debounce"
	"github.com/dollyzn/whaticket-cero/internal/errtrack"
	"github.com/dollyzn/whaticket-cero/internal/listener"
	"github.com/dollyzn/whaticket-cero/internal/pacing"
	"github.com/dollyzn/whaticket-cero/internal/repository"
	"github.com/dollyzn/whaticket-cero/internal/service"
	"github.com/dollyzn/whaticket-cero/internal/storage"
	"github.com/dollyzn/whaticket-cero/internal/whatsapp"
	"github.com/dollyzn/whaticket-cero/internal/ws"
	"github.com/dollyzn/whaticket-cero/pkg/cache"
	"github.com/dollyzn/whaticket-cero/pkg/config"
	"github.com/dollyzn/whaticket-cero/pkg/database"
	"github.com/dollyzn/whaticket-cero/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const ackDelay = 500 * time.Millisecond

func main() {
	root := &cobra.Command{
		Use:           "whaticket",
		Short:         "WhatsApp ticketing backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server and every channel session",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve()
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate()
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrate() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.Env)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info().Msg("migrations applied")
	return nil
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.Env)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	store, err := storage.New(storage.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		PublicURL: cfg.MinioPublicURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Info().Str("endpoint", cfg.MinioEndpoint).Msg("media storage ready")

	repos := repository.NewRepositories(db)

	opts := service.Options{ChannelCacheTTL: cfg.ChannelCacheTTL, JWTSecret: cfg.JWTSecret}
	redisCache, err := cache.New(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, channel caching disabled")
	} else {
		defer redisCache.Close()
		opts.Cache = redisCache
	}

	hub := ws.NewHub(log)
	go hub.Run()

	reporter, err := errtrack.New(cfg.SentryDSN, cfg.Env, log)
	if err != nil {
		return fmt.Errorf("failed to initialize error tracking: %w", err)
	}
	defer reporter.Flush(2 * time.Second)

	services := service.NewServices(service.Stores{
		Channel: repos.Channel,
		Queue:   repos.Queue,
		Contact: repos.Contact,
		Ticket:  repos.Ticket,
		Message: repos.Message,
		Setting: repos.Setting,
	}, hub, opts, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := whatsapp.NewManager(ctx, whatsapp.StoreConfig{Driver: cfg.WAStoreDriver, DSN: cfg.WAStoreDSN}, whatsapp.NewRegistry(), services.Channel, log)
	if err != nil {
		return err
	}

	handler := newHandler(cfg, services, store, reporter, log)
	defer handler.close()
	manager.SetHandler(handler.events)

	if err := manager.StartAll(context.WithoutCancel(ctx)); err != nil {
		log.Error().Err(err).Msg("failed to start channel sessions")
	}

	server := api.NewServer(api.Config{CORSOrigins: cfg.CORSOrigins, Development: cfg.IsDevelopment()}, services, hub, manager, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		errCh <- server.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		manager.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	manager.Shutdown()
	if err := server.Shutdown(); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	return nil
}

// handler bundles the message pipeline: normalizer, router, agent bridge
// and booking flow
type handler struct {
	events     *listener.Handler
	debounce   *debounce.Scheduler
	dialogflow *agent.Dialogflow
	log        zerolog.Logger
}

func newHandler(cfg *config.Config, services *service.Services, store *storage.Storage, reporter errtrack.Reporter, log zerolog.Logger) *handler {
	clock := pacing.RealClock{}
	pacer := pacing.New(clock)
	timings := pacing.DefaultTimings()

	normalizer := listener.NewNormalizer(services, store, reporter, log)
	dialogflow := agent.NewDialogflow(log)

	flow := booking.NewFlow(
		booking.NewClient(cfg.ReservioBaseURL, cfg.ReservioToken, cfg.ReservioRate),
		normalizer,
		services.Contact,
		pacer,
		reporter,
		booking.FlowConfig{
			Units:    cfg.BookingUnits,
			Note:     cfg.BookingNote,
			Location: cfg.Location,
			Timings:  timings,
		},
		log,
	)
	replier := bridge.New(dialogflow, normalizer, services, flow, pacer, timings, reporter, log)

	scheduler := debounce.New()
	events := listener.New(services, normalizer, replier, scheduler, clock, reporter, listener.Config{
		Location:      cfg.Location,
		QueueDebounce: cfg.QueueDebounce,
		AgentDebounce: cfg.AgentDebounce,
		CloseDelay:    cfg.CloseDelay,
		AckDelay:      ackDelay,
	}, log)

	return &handler{events: events, debounce: scheduler, dialogflow: dialogflow, log: log}
}

func (h *handler) close() {
	h.debounce.Stop()
	if err := h.dialogflow.Close(); err != nil {
		h.log.Error().Err(err).Msg("failed to close dialogflow clients")
	}
}

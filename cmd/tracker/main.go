package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"example.com/gymtracker/internal/api"
	"example.com/gymtracker/internal/app"
	"example.com/gymtracker/internal/auth"
	"example.com/gymtracker/internal/config"
	"example.com/gymtracker/internal/kv"
	"example.com/gymtracker/internal/location"
	"example.com/gymtracker/internal/logging"
	"example.com/gymtracker/internal/tracker"
	"example.com/gymtracker/internal/tracking"
	httptransport "example.com/gymtracker/internal/transport/http"
)

func main() {
	cfg := config.Load()
	logging.Configure(logging.Config{Level: cfg.LogLevel, Service: "gymtracker"})
	logger := logging.WithComponent("main")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("tracker stopped with error")
	}
	logger.Info().Msg("tracker stopped")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := kv.Open(ctx, cfg.StoreBackend, cfg.StoreDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	fence, err := cfg.Geofence()
	if err != nil {
		return err
	}

	state := tracking.NewStateRepository(store, logging.WithComponent("state"))
	sessionAPI := app.SessionAPI(cfg, logger)
	notifier, closeNotifier := app.Notifier(cfg)
	defer closeNotifier()

	// both producers run in this process and take turns on one guard
	transitions := app.Guard(cfg, "tracker")
	foreground := app.Manager(tracking.ContextForeground, transitions, sessionAPI, state, notifier)
	background := app.Manager(tracking.ContextBackground, transitions, sessionAPI, state, notifier)

	feed := location.NewFeed(0, location.WithMaxPositionAge(cfg.PositionMaxAge))
	defer feed.Close()
	scheduler := location.NewTickerScheduler(feed,
		location.WithDefaultInterval(cfg.BackgroundInterval),
		location.WithSchedulerLogger(logging.WithComponent("scheduler")),
	)
	defer scheduler.Close()

	tr, err := tracker.New(ctx, tracker.Deps{
		Foreground:   foreground,
		Background:   background,
		State:        state,
		Watcher:      feed,
		Scheduler:    scheduler,
		Permissions:  location.StaticPermissions{Foreground: cfg.PermissionForeground, Background: cfg.PermissionBackground},
		Fence:        fence,
		Debounce:     cfg.ForegroundDebounce,
		TaskInterval: cfg.BackgroundInterval,
	}, tracker.WithLogger(logging.WithComponent("tracker")))
	if err != nil {
		return err
	}
	defer tr.Shutdown()

	// resume tracking for the user registered before the last shutdown
	if userID := tr.Snapshot().UserID; userID != "" {
		if err := tr.StartTracking(ctx, userID); err != nil {
			logger.Warn().Err(err).Str(logging.FieldUserID, userID).Msg("resuming tracking failed")
		}
	}

	handler := httptransport.NewHandler(
		api.NewHandler(tr, feed),
		auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, auth.PublicPaths),
		logging.WithComponent("http"),
	)
	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddress).Msg("tracker listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.LocationTopic != "" {
		source := location.NewKafkaSource(
			location.NewKafkaReader(cfg.KafkaBrokers, cfg.LocationTopic, cfg.LocationGroupID),
			logging.WithComponent("kafka-location"),
		)
		defer source.Close()
		g.Go(func() error {
			logger.Info().Str("topic", cfg.LocationTopic).Str("group", cfg.LocationGroupID).Msg("consuming location fixes")
			err := feed.Pump(gctx, source, location.WatchOptions{}, logging.WithComponent("kafka-location"))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

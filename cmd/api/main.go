package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/attendance/internal/api"
	"github.com/your-org/attendance/internal/api/handlers"
	"github.com/your-org/attendance/internal/api/ws"
	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/enroll"
	"github.com/your-org/attendance/internal/geo"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/policy"
	"github.com/your-org/attendance/internal/queue"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/internal/verify"
	"github.com/your-org/attendance/internal/vision"
	"github.com/your-org/attendance/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting attendance API",
		"port", cfg.Server.Port,
		"device", cfg.Device.ID,
		"storage", cfg.Storage.Driver,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := storage.Open(ctx, cfg)
	if err != nil {
		slog.Error("open storage", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	profiles := storage.NewProfileRepository(backend.Docs)
	events := storage.NewEventRepository(backend.Docs)
	policySrc := policy.NewStoreSource(backend.Docs, policy.FromConfig(cfg.Policy))

	// Models load in the background; until then detection reports
	// ErrModelNotLoaded and readiness fails on "vision".
	runtime := vision.NewRuntime(cfg.Vision)
	defer runtime.Close()
	go func() {
		if err := runtime.Bootstrap(ctx); err != nil {
			slog.Warn("vision models unavailable, capture and verification will fail", "error", err)
			return
		}
		slog.Info("vision models loaded", "dir", cfg.Vision.ModelsDir)
	}()

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	enrollOpts := []enroll.Option{
		enroll.WithBlobStore(backend.Blobs),
		enroll.WithLogger(logger),
		enroll.WithNotifier(func(u enroll.Update) {
			hub.Broadcast(&dto.WSEvent{Type: dto.WSCaptureTransition, SessionID: u.SessionID, Data: u})
		}),
	}
	if backend.Index != nil {
		enrollOpts = append(enrollOpts, enroll.WithDescriptorIndex(backend.Index))
	}
	manager := enroll.NewManager(runtime, profiles, enroll.OptionsFrom(cfg.Capture), enrollOpts...)
	go manager.RunJanitor(ctx, time.Minute)

	var locator geo.Provider
	if cfg.Device.FixedPosition {
		locator = geo.StaticProvider{Position: models.Position{
			Lat:       cfg.Device.Lat,
			Lng:       cfg.Device.Lng,
			AccuracyM: cfg.Device.AccuracyM,
		}}
	}

	pipeline := verify.NewPipeline(verify.Deps{
		Detector: runtime,
		Profiles: profiles,
		Events:   events,
		Index:    backend.Index,
		Policy:   policySrc,
		Locator:  locator,
		Fence:    geo.FenceFromConfig(cfg.Geofence),
		Office:   cfg.Geofence.OfficeName,
		DeviceID: cfg.Device.ID,
		Logger:   logger,
		OnResult: func(r models.VerificationResult) {
			hub.Broadcast(&dto.WSEvent{Type: dto.WSVerificationResult, Data: r})
		},
	})

	checks := map[string]handlers.Check{
		"vision": func(context.Context) error {
			if !runtime.Ready() {
				return models.ErrModelNotLoaded
			}
			return nil
		},
	}
	for name, check := range backend.Checks {
		checks[name] = check
	}

	// Upstream feed: events replicated by any device are pushed to dashboards.
	if cfg.NATS.URL != "" {
		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create event consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		err = consumer.ConsumeEvents(ctx, "api-"+cfg.Device.ID, func(ctx context.Context, msg jetstream.Msg) error {
			var m dto.EventMessage
			if err := json.Unmarshal(msg.Data(), &m); err != nil {
				return fmt.Errorf("%w: unmarshal replicated event: %v", queue.ErrPermanent, err)
			}
			hub.Broadcast(&dto.WSEvent{Type: dto.WSEventReplicated, Data: m})
			return nil
		}, 2)
		if err != nil {
			slog.Warn("start event consumer", "error", err)
		}
	}

	router := api.NewRouter(api.RouterConfig{
		Enroll:   manager,
		Verifier: pipeline,
		Profiles: profiles,
		Events:   events,
		Blobs:    backend.Blobs,
		Policy:   policySrc,
		Hub:      hub,
		Checks:   checks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/api"
	"github.com/thatsimonsguy/greenhouse-controller/internal/arduino"
	"github.com/thatsimonsguy/greenhouse-controller/internal/config"
	"github.com/thatsimonsguy/greenhouse-controller/internal/controls"
	"github.com/thatsimonsguy/greenhouse-controller/internal/datadog"
	"github.com/thatsimonsguy/greenhouse-controller/internal/discovery"
	"github.com/thatsimonsguy/greenhouse-controller/internal/env"
	"github.com/thatsimonsguy/greenhouse-controller/internal/export"
	"github.com/thatsimonsguy/greenhouse-controller/internal/failsafe"
	"github.com/thatsimonsguy/greenhouse-controller/internal/hub"
	"github.com/thatsimonsguy/greenhouse-controller/internal/irrigation"
	"github.com/thatsimonsguy/greenhouse-controller/internal/logging"
	"github.com/thatsimonsguy/greenhouse-controller/internal/metrics"
	"github.com/thatsimonsguy/greenhouse-controller/internal/notifications"
	"github.com/thatsimonsguy/greenhouse-controller/internal/reconciler"
	"github.com/thatsimonsguy/greenhouse-controller/internal/simulator"
	"github.com/thatsimonsguy/greenhouse-controller/internal/store"
	"github.com/thatsimonsguy/greenhouse-controller/internal/weather"
	"github.com/thatsimonsguy/greenhouse-controller/system/shutdown"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile)
	env.Cfg = &cfg

	log.Info().
		Str("db", cfg.DBPath).
		Str("addr", cfg.Addr()).
		Str("serial_port", cfg.SerialPort).
		Msg("Starting greenhouse controller")

	datadog.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			log.Fatal().Err(err).Msg("Failed to create database directory")
		}
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer st.Close()

	mgr := controls.NewManager(st)
	go mgr.Run(ctx)

	timers := irrigation.NewTimers(cfg.CancelAutoOffOnScheduleChange)

	session := arduino.NewSession(arduino.Config{
		Path:           cfg.SerialPort,
		Resolve:        firstCandidate,
		BaudRate:       cfg.BaudRate,
		ReconnectDelay: cfg.ReconnectDelay(),
	})

	h := hub.New(session.IsConnected)
	if !slices.Contains(cfg.AllowedOrigins, "*") {
		h.SetCheckOrigin(originChecker(cfg.AllowedOrigins))
	}
	go h.Run(ctx)
	metrics.TrackClients(h.ClientCount)

	rc := reconciler.New(st, mgr, h, timers, reconciler.Options{DedupWindow: cfg.AlertDedupWindow()})
	rc.SetPump(session)
	if n := notifications.New(cfg.NtfyTopic); n != nil {
		rc.SetNotifier(n)
	}
	if exporters := buildExporters(ctx, cfg); len(exporters) > 0 {
		dispatcher := export.NewDispatcher(exporters...)
		go dispatcher.Run(ctx)
		rc.SetExports(dispatcher)
	}

	session.OnData(rc.HandleDeviceReading)
	session.OnStatusChange(rc.HandleStatusChange)
	if err := session.Connect(); err != nil {
		log.Warn().Err(err).Msg("Arduino not available, simulating readings until it connects")
	}

	watchdog := failsafe.NewWatchdog(mgr, rc, cfg.MaxIrrigation(), 30*time.Second)
	go watchdog.Run(ctx)

	sim := simulator.New(st, rc, session.IsConnected, cfg.SimulationInterval())
	go sim.Run(ctx)

	server := api.NewServer(&cfg, st, mgr, rc, h)
	server.SetDevice(session)
	server.SetWeather(weather.NewClient(cfg.Latitude, cfg.Longitude, cfg.WeatherCacheTTL()))

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		shutdown.ShutdownWithError(session, timers, err, "REST API server failed")
	}

	log.Info().Msg("Shutting down")
	shutdown.Shutdown(session, timers)
}

// firstCandidate picks the first port that looks like a controller board.
func firstCandidate() (string, error) {
	ports, err := discovery.ListCandidatePorts()
	if err != nil {
		return "", fmt.Errorf("list candidate ports: %w", err)
	}
	if len(ports) == 0 {
		return "", arduino.ErrNoPort
	}
	return ports[0].Path, nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

func buildExporters(ctx context.Context, cfg config.Config) []export.Exporter {
	var exporters []export.Exporter
	if cfg.Influx.Enabled() {
		exporters = append(exporters, export.WithBreaker(export.NewInflux(cfg.Influx), 5, 30*time.Second))
	}
	if cfg.MQTT.Enabled() {
		m, err := export.NewMQTT(ctx, cfg.MQTT)
		if err != nil {
			log.Error().Err(err).Msg("MQTT exporter disabled")
		} else {
			exporters = append(exporters, export.WithBreaker(m, 5, 30*time.Second))
		}
	}
	return exporters
}

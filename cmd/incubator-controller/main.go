package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/incubator-controller/db"
	"github.com/thatsimonsguy/incubator-controller/internal/actuator"
	"github.com/thatsimonsguy/incubator-controller/internal/api"
	"github.com/thatsimonsguy/incubator-controller/internal/config"
	"github.com/thatsimonsguy/incubator-controller/internal/controller"
	"github.com/thatsimonsguy/incubator-controller/internal/datadog"
	"github.com/thatsimonsguy/incubator-controller/internal/drivers"
	"github.com/thatsimonsguy/incubator-controller/internal/gpio"
	"github.com/thatsimonsguy/incubator-controller/internal/logging"
	"github.com/thatsimonsguy/incubator-controller/internal/metrics"
	"github.com/thatsimonsguy/incubator-controller/internal/model"
	"github.com/thatsimonsguy/incubator-controller/internal/notifications"
	"github.com/thatsimonsguy/incubator-controller/internal/sensor"
	"github.com/thatsimonsguy/incubator-controller/internal/state"
	"github.com/thatsimonsguy/incubator-controller/internal/telemetry"
	"github.com/thatsimonsguy/incubator-controller/system/shutdown"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("state_db", cfg.StateDB).
		Msg("Starting incubator controller")

	gpio.SetSafeMode(cfg.SafeMode)
	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED: GPIO writes are disabled system-wide")
	}

	pins := cfg.ActuatorPins()
	if err := gpio.ValidateStartupPins(pins); err != nil {
		log.Fatal().Err(err).Msg("Refusing to enable relay board due to unsafe pin states")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dbConn *sql.DB
	if cfg.StateDB != "" {
		var err error
		dbConn, err = db.Open(cfg.StateDB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open state database")
		}
		defer dbConn.Close()
	}
	mode, initial := restore(cfg, dbConn)

	var notifier notifications.Notifier = notifications.Discard{}
	if n := notifications.NewNtfy(cfg.Notifications.NtfyServer, cfg.Notifications.NtfyTopic); n != nil {
		async := notifications.NewAsync(n, 32)
		go async.Run(ctx)
		notifier = async
	}

	sensors, err := drivers.BuildSensors(cfg.Sensors)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build sensors")
	}
	sensorStore, err := sensor.NewStore(sensors, cfg.FailureAlertThreshold, notifier)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build sensor store")
	}

	acts, configured, err := drivers.BuildActuators(cfg.Actuators)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build actuators")
	}
	actuatorStore, err := actuator.NewStore(acts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build actuator store")
	}
	for id, st := range configured {
		if _, restored := initial[id]; !restored {
			initial[id] = st
		}
	}
	if err := actuatorStore.Init(initial, time.Now()); err != nil {
		shutdown.ShutdownWithError(err, "Failed to drive actuators to their initial state", actuatorStore, pins)
	}

	rules, err := controller.RulesFromConfig(cfg.Rules)
	if err != nil {
		shutdown.ShutdownWithError(err, "Invalid rules", actuatorStore, pins)
	}

	channel := state.NewChannel(nil)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics := metrics.NewMetrics(reg)

	observers := []controller.Observer{promMetrics}
	if dd := datadog.New(cfg.Datadog); dd != nil {
		observers = append(observers, dd)
	}

	var persister controller.Persister
	if dbConn != nil {
		persister = db.Persister{DB: dbConn}
	}

	loop := controller.New(controller.Options{
		Sensors:   sensorStore,
		Actuators: actuatorStore,
		Channel:   channel,
		Rules:     rules,
		Mode:      mode,
		Interval:  cfg.TickInterval(),
		Persister: persister,
		Notifier:  notifier,
		Observers: observers,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, channel); err != nil {
				log.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	if cfg.Telemetry.Broker != "" {
		go func() {
			pub, err := telemetry.Connect(ctx, cfg.Telemetry)
			if err != nil {
				log.Error().Err(err).Msg("Telemetry disabled")
				return
			}
			interval := time.Duration(cfg.Telemetry.PublishIntervalMs) * time.Millisecond
			telemetry.NewReporter(pub, cfg.Telemetry.Topic, channel, interval).Run(ctx)
		}()
	}

	server := api.NewServer(api.Options{
		Channel:         channel,
		Files:           os.DirFS(cfg.HTTP.WebRoot),
		DefaultDocument: cfg.HTTP.DefaultDocument,
		Limits:          api.Limits{MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes, MaxBodyBytes: cfg.HTTP.MaxBodyBytes},
		ReadTimeout:     cfg.HTTP.ReadTimeout(),
		AcceptTimeout:   cfg.HTTP.AcceptTimeout(),
		Observer:        promMetrics,
	})
	serveControlPlane(ctx, server, cfg.HTTP.Port)

	wg.Wait()
	shutdown.Shutdown(actuatorStore, pins)
	log.Info().Msg("Incubator controller stopped")
}

// serveControlPlane re-listens after socket failures until ctx is cancelled. The
// control loop keeps running throughout.
func serveControlPlane(ctx context.Context, server *api.Server, port int) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = 30 * time.Second

	backoff.RetryNotify(func() error {
		err := server.ListenAndServe(ctx, port)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("control plane exited")
		}
		return err
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		log.Error().Err(err).Dur("retry_in", wait).Msg("Control plane failed, restarting listener")
	})
}

// restore picks the start mode and the actuator states to drive at startup.
// Persisted manual states only apply when resuming in MANUAL.
func restore(cfg config.Config, dbConn *sql.DB) (model.Mode, map[model.ActuatorID]model.State) {
	mode, err := model.ParseMode(cfg.InitialMode)
	if err != nil {
		mode = model.ModeManual
	}
	initial := make(map[model.ActuatorID]model.State)
	if dbConn == nil {
		return mode, initial
	}

	saved, ok, err := db.GetSystemMode(dbConn)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load persisted mode, using configured mode")
	} else if ok {
		mode = saved
	}

	if mode == model.ModeManual {
		states, err := db.GetActuatorStates(dbConn)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load persisted actuator states")
		}
		for id, st := range states {
			initial[id] = st
		}
	}

	log.Info().
		Str("mode", string(mode)).
		Int("restored_actuators", len(initial)).
		Msg("Loaded system state")
	return mode, initial
}

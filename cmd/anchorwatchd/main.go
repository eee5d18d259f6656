package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/alarm"
	"github.com/anchorwatch/anchorwatch/pkg/api"
	"github.com/anchorwatch/anchorwatch/pkg/audit"
	"github.com/anchorwatch/anchorwatch/pkg/bottom"
	"github.com/anchorwatch/anchorwatch/pkg/gps"
	"github.com/anchorwatch/anchorwatch/pkg/health"
	"github.com/anchorwatch/anchorwatch/pkg/i18n"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
	"github.com/anchorwatch/anchorwatch/pkg/metrics"
	"github.com/anchorwatch/anchorwatch/pkg/mqtt"
	"github.com/anchorwatch/anchorwatch/pkg/notifications"
	"github.com/anchorwatch/anchorwatch/pkg/store"
	"github.com/anchorwatch/anchorwatch/pkg/telem"
	"github.com/anchorwatch/anchorwatch/pkg/uci"
	"github.com/anchorwatch/anchorwatch/pkg/watch"
)

const (
	version = "1.0.0-dev"
	appName = "anchorwatchd"

	housekeepingInterval = 30 * time.Second
)

func main() {
	var (
		configFile  = flag.String("config", uci.DefaultConfigPath, "UCI config file path")
		logLevel    = flag.String("log-level", "", "Log level (debug|info|warn|error), overrides the config")
		showVersion = flag.Bool("version", false, "Show version and exit")
		trace       = flag.Bool("trace", false, "Enable trace logging")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	logger := logx.New("info")
	if logger == nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger\n")
		os.Exit(1)
	}

	config, err := uci.LoadConfig(*configFile)
	if err != nil {
		logger.Error("Failed to load UCI config", "error", err, "config_file", *configFile)
		os.Exit(1)
	}
	applyLogLevel(logger, config, *logLevel, *trace)
	if config.Syslog {
		if err := logger.EnableSyslog(appName); err != nil {
			logger.Warn("Syslog not available", "error", err)
		}
	}
	if !config.Enable {
		logger.Info("anchorwatch disabled in config, exiting", "config", *configFile)
		return
	}

	logger.Info("starting anchorwatch daemon",
		"version", version,
		"config", *configFile,
		"log_level", logger.Level(),
	)

	if err := run(config, *configFile, *logLevel, *trace, logger); err != nil {
		logger.Error("Daemon failed", "error", err)
		os.Exit(1)
	}
}

func applyLogLevel(logger *logx.Logger, config *uci.Config, flagLevel string, trace bool) {
	switch {
	case trace:
		logger.SetLevel("debug")
	case flagLevel != "":
		logger.SetLevel(flagLevel)
	case config.LogLevel != "":
		logger.SetLevel(config.LogLevel)
	}
}

// daemon holds the wired components for reload and shutdown
type daemon struct {
	logger    *logx.Logger
	config    *uci.Config
	db        *store.Store
	journal   *audit.Journal
	telemetry *telem.Store
	collector *gps.Collector
	notifier  *notifications.Manager
	events    *notifications.EventBuilder
	broker    *mqtt.Client
	metrics   *metrics.Server
	health    *health.Tracker
	watch     *watch.Controller
	api       *api.Server
}

func run(config *uci.Config, configFile, flagLevel string, trace bool, logger *logx.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &daemon{logger: logger, config: config}
	defer d.shutdown()

	db, err := store.Open(config.DBPath, config.MaxObservations, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	d.db = db

	// settings changed through the API survive restarts even when UCI could not be written
	if saved, err := db.LoadSettings(ctx); err == nil {
		if err := config.ApplySettings(saved); err != nil {
			logger.Warn("Ignoring invalid persisted settings", "error", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Warn("Failed to load persisted settings", "error", err)
	}

	observations := bottom.NewLog(config.MaxObservations)
	if saved, err := db.Observations(ctx); err != nil {
		logger.Warn("Failed to load bottom observations", "error", err)
	} else if err := observations.Append(saved...); err != nil {
		logger.Warn("Skipping stored bottom observations", "error", err)
	}
	logger.LogDataFlow("store", "load", "bottom_observation", observations.Len(), nil)

	d.telemetry = telem.NewStore(telem.Config{
		RetentionHours: config.RetentionHours,
		MaxRAMMB:       config.MaxRAMMB,
	})
	d.health = health.NewTracker(version, logger)
	bundle := i18n.New()

	sources, err := gps.SourcesFromUCI(config, logger)
	if err != nil {
		return fmt.Errorf("configure gps sources: %w", err)
	}
	if len(sources) == 0 {
		logger.Warn("No GPS sources enabled, the watch can only be armed at explicit coordinates")
	}
	d.collector = gps.NewCollector(gps.Config{
		MaxFixAge:     time.Duration(config.MaxFixAgeS) * time.Second,
		SourceTimeout: 10 * time.Second,
	}, logger, sources...)

	monitor, err := alarm.NewMonitor(&alarm.Config{
		DragThresholdM:        config.DragThresholdM,
		SmoothingWindow:       config.SmoothingWindow,
		UpdateIntervalSeconds: config.UpdateIntervalS,
		Debounce:              time.Duration(config.DebounceS) * time.Second,
	}, logger, nil)
	if err != nil {
		return fmt.Errorf("create alarm monitor: %w", err)
	}

	d.notifier = notifications.NewManager(notifications.ConfigFromUCI(config), logger)
	d.events = notifications.NewEventBuilder(bundle, config.Language)
	d.metrics = metrics.NewServer(d.telemetry, logger, version)
	hub := api.NewHub(logger)

	if config.AuditDir != "" {
		d.journal, err = audit.Open(audit.Config{Dir: config.AuditDir}, logger)
		if err != nil {
			logger.Warn("Event journal unavailable", "dir", config.AuditDir, "error", err)
			d.health.RecordError("open", "journal", err.Error())
		}
	}

	deps := watch.Deps{
		Monitor:   monitor,
		Locator:   d.collector,
		Metrics:   d.metrics,
		Store:     db,
		Telemetry: d.telemetry,
		Health:    d.health,
		Hub:       hub,
		Bundle:    bundle,
	}
	if d.notifier.IsEnabled() {
		deps.Notifier = d.notifier
	}
	if d.journal != nil {
		deps.Journal = d.journal
	}
	mqttConfig := mqtt.ConfigFromUCI(config.MQTT)
	if mqttConfig.Enabled {
		d.broker = mqtt.NewClient(mqttConfig, logger)
		if err := d.broker.Connect(); err != nil {
			logger.Error("MQTT connect failed", "error", err)
			d.health.RecordError("connect", "mqtt", err.Error())
		}
		deps.Publisher = d.broker
	}

	d.watch, err = watch.New(deps, logger, config.Language)
	if err != nil {
		return err
	}
	if d.broker != nil {
		if err := d.broker.SubscribeCommands(d.watch.HandleCommand); err != nil {
			logger.Warn("MQTT command subscription failed", "error", err)
		}
	}

	if config.MetricsPort > 0 {
		if err := d.metrics.Start(config.MetricsPort); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	apiDeps := api.Deps{
		Watch:        d.watch,
		Store:        db,
		Observations: observations,
		Telemetry:    d.telemetry,
		Health:       d.health,
		Hub:          hub,
		Config:       uci.NewUCI(logger, nil),
		Metrics:      d.metrics,
	}
	if d.journal != nil {
		apiDeps.Journal = d.journal
	}
	d.api, err = api.New(apiDeps, config.Settings(), logger)
	if err != nil {
		return err
	}
	if err := d.api.Start(config.APIListen); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}

	if resumed, err := d.watch.Resume(ctx); err != nil {
		logger.Warn("Could not resume open anchor watch", "error", err)
	} else if resumed {
		logger.Info("Anchor watch resumed after restart")
	}

	d.health.UpdateComponentHealth("store", health.StatusHealthy, "open")
	logger.Info("anchorwatch daemon started",
		"api", config.APIListen,
		"metrics_port", config.MetricsPort,
		"sources", d.collector.Sources(),
		"notifications", d.notifier.IsEnabled(),
		"mqtt", d.broker != nil,
		"journal", d.journal != nil,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, shutting down")
			return nil
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				d.reload(configFile, flagLevel, trace)
				continue
			}
			logger.Info("Received signal, shutting down", "signal", sig)
			return nil
		case <-ticker.C:
			d.housekeeping(ctx)
		}
	}
}

// reload re-reads the UCI file and applies what can change at runtime.
// Sources, listeners and the database path need a restart.
func (d *daemon) reload(configFile, flagLevel string, trace bool) {
	config, err := uci.LoadConfig(configFile)
	if err != nil {
		d.logger.Error("Config reload failed, keeping current config", "error", err)
		return
	}
	applyLogLevel(d.logger, config, flagLevel, trace)

	settings := config.Settings()
	if err := d.watch.UpdateSettings(settings); err != nil {
		d.logger.Error("Reloaded settings rejected", "error", err)
		return
	}
	d.notifier.UpdateConfig(notifications.ConfigFromUCI(config))
	d.events.SetLanguage(settings.Language)
	if err := d.telemetry.SetMaxRAMMB(config.MaxRAMMB); err != nil {
		d.logger.Warn("Invalid telemetry RAM cap", "error", err)
	}
	d.config = config

	now := time.Now()
	d.telemetry.AddEvent(telem.Event{
		Timestamp: now,
		Level:     "info",
		Type:      pkg.EventConfigReload,
		Message:   "configuration reloaded",
		Data:      settings,
	})
	if d.journal != nil {
		ev := pkg.Event{
			ID:        fmt.Sprintf("%s-%d", pkg.EventConfigReload, now.UnixNano()),
			Type:      pkg.EventConfigReload,
			Timestamp: now,
			Reason:    "configuration reloaded",
		}
		if err := d.journal.Record(ev); err != nil {
			d.logger.Warn("Failed to journal reload", "error", err)
		}
	}
	d.logger.Info("Configuration reloaded", "config", configFile, "modified", config.LastModified())
}

func (d *daemon) housekeeping(ctx context.Context) {
	d.telemetry.Cleanup()
	d.metrics.UpdateMetrics()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.db.Ping(pingCtx); err != nil {
		d.logger.Error("Database unreachable", "error", err)
		d.health.UpdateComponentHealth("store", health.StatusUnhealthy, err.Error())
		if d.notifier.IsEnabled() {
			ev := d.events.CriticalErrorEvent("store", err, time.Now())
			if err := d.notifier.SendNotification(ctx, ev); err != nil {
				d.logger.Warn("Critical error notification failed", "error", err)
			}
		}
		return
	}
	d.health.UpdateComponentHealth("store", health.StatusHealthy, "ok")
	d.logger.Debug("Daemon heartbeat", "status", d.watch.Status().State)
}

// shutdown stops components in reverse dependency order. An armed watch is
// left open in the database and resumed on the next start.
func (d *daemon) shutdown() {
	if d.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.api.Stop(ctx); err != nil {
			d.logger.Warn("API shutdown", "error", err)
		}
		cancel()
	}
	if d.watch != nil {
		d.watch.Close()
	}
	if d.collector != nil {
		if err := d.collector.Close(); err != nil {
			d.logger.Warn("GPS source shutdown", "error", err)
		}
	}
	if d.metrics != nil {
		if err := d.metrics.Stop(); err != nil {
			d.logger.Warn("Metrics shutdown", "error", err)
		}
	}
	if d.broker != nil {
		d.broker.Disconnect()
	}
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.logger.Warn("Event journal close", "error", err)
		}
	}
	if d.notifier != nil {
		d.notifier.Close()
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.logger.Warn("Database close", "error", err)
		}
	}
	d.logger.Info("anchorwatch daemon stopped")
}

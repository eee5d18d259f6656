package metrics

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anchorwatch/anchorwatch/pkg/alarm"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
	"github.com/anchorwatch/anchorwatch/pkg/telem"
)

const namespace = "anchorwatch"

// Server exposes anchor watch metrics for Prometheus
type Server struct {
	store     *telem.Store
	logger    *logx.Logger
	registry  *prometheus.Registry
	server    *http.Server
	startTime time.Time
	version   string

	distance      prometheus.Gauge
	threshold     prometheus.Gauge
	triggered     prometheus.Gauge
	watchState    *prometheus.GaugeVec
	gpsAccuracy   prometheus.Gauge
	driftRate     prometheus.Gauge
	excursionSecs prometheus.Gauge

	fixes         *prometheus.CounterVec
	fixErrors     *prometheus.CounterVec
	alarms        prometheus.Counter
	predictions   *prometheus.CounterVec
	notifications *prometheus.CounterVec

	telemetrySamples *prometheus.GaugeVec
	telemetryEvents  prometheus.Gauge
	telemetryMemory  prometheus.Gauge

	daemonUptime  prometheus.Gauge
	daemonVersion *prometheus.GaugeVec
}

// NewServer creates the metrics on a private registry. store may be nil.
func NewServer(store *telem.Store, logger *logx.Logger, version string) *Server {
	s := &Server{
		store:     store,
		logger:    logger,
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		version:   version,
	}
	s.registerMetrics()
	return s
}

func (s *Server) registerMetrics() {
	s.distance = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "distance_meters",
		Help:      "Distance from the anchor point of the smoothed position",
	})
	s.threshold = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "drag_threshold_meters",
		Help:      "Configured drag threshold of the active watch",
	})
	s.triggered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "alarm_triggered",
		Help:      "1 while the drag alarm is latched",
	})
	s.watchState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "watch_state",
		Help:      "Current watch state (1 for the active state)",
	}, []string{"state"})
	s.gpsAccuracy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gps_accuracy_meters",
		Help:      "Reported horizontal accuracy of the latest fix",
	})
	s.driftRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "drift_rate_meters_per_minute",
		Help:      "Least-squares trend of distance from the anchor",
	})
	s.excursionSecs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "excursion_seconds",
		Help:      "Time the boat has been continuously outside the threshold",
	})

	s.fixes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fixes_total",
		Help:      "Position fixes processed, by source",
	}, []string{"source"})
	s.fixErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fix_errors_total",
		Help:      "Failed or rejected position fixes, by source and reason",
	}, []string{"source", "reason"})
	s.alarms = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alarms_total",
		Help:      "Drag alarms raised",
	})
	s.predictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bottom_predictions_total",
		Help:      "Bottom type predictions served, by predicted type",
	}, []string{"bottom_type"})
	s.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notifications attempted, by type and result",
	}, []string{"type", "result"})

	s.telemetrySamples = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "telemetry_samples",
		Help:      "Number of samples in the telemetry store",
	}, []string{"session"})
	s.telemetryEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "telemetry_events",
		Help:      "Number of events in the telemetry store",
	})
	s.telemetryMemory = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "telemetry_memory_bytes",
		Help:      "Estimated memory used by the telemetry store",
	})

	s.daemonUptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daemon_uptime_seconds",
		Help:      "Daemon uptime in seconds",
	})
	s.daemonVersion = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daemon_version_info",
		Help:      "Daemon version information",
	}, []string{"version", "go_version"})

	s.registry.MustRegister(
		s.distance,
		s.threshold,
		s.triggered,
		s.watchState,
		s.gpsAccuracy,
		s.driftRate,
		s.excursionSecs,
		s.fixes,
		s.fixErrors,
		s.alarms,
		s.predictions,
		s.notifications,
		s.telemetrySamples,
		s.telemetryEvents,
		s.telemetryMemory,
		s.daemonUptime,
		s.daemonVersion,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s.daemonVersion.With(prometheus.Labels{
		"version":    s.version,
		"go_version": runtime.Version(),
	}).Set(1)
}

// Registry returns the registry holding the daemon metrics
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns the /metrics handler for the private registry
func (s *Server) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Start starts the metrics server on its own port
func (s *Server) Start(port int) error {
	s.logger.Info("Starting metrics server", "port", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	mux.HandleFunc("/health", s.healthHandler)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info("Stopping metrics server")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

// ObserveWatch updates the watch gauges from a monitor status snapshot
func (s *Server) ObserveWatch(status alarm.Status) {
	for _, st := range []alarm.State{alarm.Disarmed, alarm.ArmedSafe, alarm.ArmedExceeding, alarm.ArmedTriggered} {
		v := 0.0
		if st == status.State {
			v = 1
		}
		s.watchState.With(prometheus.Labels{"state": st.String()}).Set(v)
	}

	s.threshold.Set(status.Alarm.DragThreshold)
	s.distance.Set(status.Alarm.DistanceFromAnchor)
	s.excursionSecs.Set(status.ExcursionFor.Seconds())
	if status.Alarm.IsAlarmTriggered {
		s.triggered.Set(1)
	} else {
		s.triggered.Set(0)
	}
	if status.Alarm.GPSAccuracy != nil {
		s.gpsAccuracy.Set(*status.Alarm.GPSAccuracy)
	}
	if status.Drift != nil {
		s.driftRate.Set(status.Drift.RateMPerMin)
	} else {
		s.driftRate.Set(0)
	}
}

// RecordFix counts a processed fix from source
func (s *Server) RecordFix(source string) {
	s.fixes.With(prometheus.Labels{"source": source}).Inc()
}

// RecordFixError counts a failed or rejected fix
func (s *Server) RecordFixError(source, reason string) {
	s.fixErrors.With(prometheus.Labels{"source": source, "reason": reason}).Inc()
}

// RecordAlarm counts a raised drag alarm
func (s *Server) RecordAlarm() {
	s.alarms.Inc()
}

// RecordPrediction counts a served bottom type prediction
func (s *Server) RecordPrediction(bottomType string) {
	s.predictions.With(prometheus.Labels{"bottom_type": bottomType}).Inc()
}

// RecordNotification counts a notification attempt; result is "sent" or "failed"
func (s *Server) RecordNotification(notificationType, result string) {
	s.notifications.With(prometheus.Labels{"type": notificationType, "result": result}).Inc()
}

// UpdateMetrics refreshes the gauges derived from the telemetry store
func (s *Server) UpdateMetrics() {
	s.daemonUptime.Set(time.Since(s.startTime).Seconds())
	if s.store == nil {
		return
	}

	s.telemetrySamples.Reset()
	for _, session := range s.store.GetSessions() {
		s.telemetrySamples.With(prometheus.Labels{"session": session}).Set(float64(len(s.store.GetSamples(session, 0))))
	}

	stats := s.store.GetStats()
	if n, ok := stats["total_events"].(int); ok {
		s.telemetryEvents.Set(float64(n))
	}
	if b, ok := stats["estimated_bytes"].(int); ok {
		s.telemetryMemory.Set(float64(b))
	}
}

package alarm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
	"github.com/anchorwatch/anchorwatch/pkg/smoothing"
)

// ErrNoAnchor is returned when a fix arrives while no anchor is set
var ErrNoAnchor = errors.New("no anchor point set")

// Clock returns the current time
type Clock func() time.Time

// Config holds monitor settings
type Config struct {
	DragThresholdM        float64       `json:"drag_threshold_m"`
	SmoothingWindow       int           `json:"smoothing_window"`
	UpdateIntervalSeconds int           `json:"update_interval_s"`
	Debounce              time.Duration `json:"debounce"`
	DriftSamples          int           `json:"drift_samples"`
}

// DefaultConfig returns the default monitor configuration
func DefaultConfig() *Config {
	return &Config{
		DragThresholdM:        30,
		SmoothingWindow:       5,
		UpdateIntervalSeconds: 5,
		Debounce:              DefaultDebounce,
		DriftSamples:          DefaultDriftSamples,
	}
}

// Transition describes a state change caused by a fix or a caller action
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
	Result Result    `json:"result"`
}

// Status is a point-in-time view of the monitor
type Status struct {
	State        State          `json:"state"`
	Alarm        pkg.AlarmState `json:"alarm"`
	Debounce     time.Duration  `json:"debounce"`
	ExcursionFor time.Duration  `json:"excursion_for"`
	MaxDistance  float64        `json:"max_distance_m"`
	FixCount     int            `json:"fix_count"`
	Drift        *DriftEstimate `json:"drift,omitempty"`
	LastFixAt    *time.Time     `json:"last_fix_at,omitempty"`
}

// Monitor owns the position history and alarm state of one watch session
type Monitor struct {
	mu       sync.Mutex
	logger   *logx.Logger
	clock    Clock
	config   Config
	history  *smoothing.History
	state    pkg.AlarmState
	drift    []distanceSample
	maxDist  float64
	fixCount int
}

// NewMonitor creates a disarmed monitor
func NewMonitor(config *Config, logger *logx.Logger, clock Clock) (*Monitor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if clock == nil {
		clock = time.Now
	}
	cfg := *config
	if cfg.DriftSamples < 3 {
		cfg.DriftSamples = DefaultDriftSamples
	}
	if cfg.DragThresholdM <= 0 {
		return nil, fmt.Errorf("drag threshold must be positive, got %v", cfg.DragThresholdM)
	}

	history, err := smoothing.NewHistory(cfg.SmoothingWindow)
	if err != nil {
		return nil, fmt.Errorf("create position history: %w", err)
	}

	return &Monitor{
		logger:  logger,
		clock:   clock,
		config:  cfg,
		history: history,
		state: pkg.AlarmState{
			DragThreshold:         cfg.DragThresholdM,
			UpdateIntervalSeconds: cfg.UpdateIntervalSeconds,
			SmoothingWindowSize:   cfg.SmoothingWindow,
		},
	}, nil
}

// Arm sets the anchor point and starts monitoring. A threshold of 0 keeps the configured one.
func (m *Monitor) Arm(anchor pkg.Geopoint, thresholdM float64) (*Transition, error) {
	if err := anchor.Validate(); err != nil {
		return nil, fmt.Errorf("arm: %w", err)
	}
	if thresholdM < 0 {
		return nil, fmt.Errorf("arm: drag threshold must be positive, got %v", thresholdM)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	from := StateOf(&m.state)
	Reset(&m.state)
	m.history.Reset()
	m.drift = m.drift[:0]
	m.maxDist = 0
	m.fixCount = 0

	if thresholdM > 0 {
		m.state.DragThreshold = thresholdM
	}
	a := anchor
	m.state.AnchorPoint = &a
	m.state.IsActive = true

	tr := &Transition{From: from, To: ArmedSafe, At: m.clock(), Reason: "armed"}
	m.logger.LogStateChange("alarm", from.String(), tr.To.String(), tr.Reason, map[string]interface{}{
		"anchor_lat":  anchor.Latitude,
		"anchor_lon":  anchor.Longitude,
		"threshold_m": m.state.DragThreshold,
	})
	return tr, nil
}

// Disarm stops monitoring and clears the session state
func (m *Monitor) Disarm() *Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := StateOf(&m.state)
	if from == Disarmed {
		return nil
	}
	Reset(&m.state)
	m.history.Reset()
	m.drift = m.drift[:0]

	tr := &Transition{From: from, To: Disarmed, At: m.clock(), Reason: "disarmed"}
	m.logger.LogStateChange("alarm", from.String(), tr.To.String(), tr.Reason, nil)
	return tr
}

// ProcessFix runs one fix through history, smoothing and evaluation.
// The returned transition is nil when the state did not change.
func (m *Monitor) ProcessFix(fix pkg.Geopoint) (Result, *Transition, error) {
	if err := fix.Validate(); err != nil {
		return Result{}, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if StateOf(&m.state) == Disarmed {
		return Result{State: Disarmed}, nil, ErrNoAnchor
	}
	if err := m.history.Add(fix); err != nil {
		return Result{}, nil, err
	}

	now := m.clock()
	from := StateOf(&m.state)
	m.state.SmoothedPosition = m.history.Smoothed()

	result := Evaluate(&m.state, &fix, now, m.config.Debounce)
	Apply(&m.state, &fix, result)

	m.fixCount++
	if result.Distance > m.maxDist {
		m.maxDist = result.Distance
	}
	m.drift = append(m.drift, distanceSample{at: fix.Timestamp, distance: result.Distance})
	if len(m.drift) > m.config.DriftSamples {
		m.drift = m.drift[len(m.drift)-m.config.DriftSamples:]
	}

	m.logger.LogDataFlow("alarm", "evaluate", "fix", 1, map[string]interface{}{
		"distance_m": result.Distance,
		"state":      result.State.String(),
	})

	if result.State == from {
		return result, nil, nil
	}

	tr := &Transition{From: from, To: result.State, At: now, Reason: transitionReason(from, result.State), Result: result}
	m.logger.LogStateChange("alarm", from.String(), tr.To.String(), tr.Reason, map[string]interface{}{
		"distance_m":  result.Distance,
		"threshold_m": m.state.DragThreshold,
	})
	return result, tr, nil
}

func transitionReason(from, to State) string {
	switch {
	case to == ArmedExceeding:
		return "threshold_exceeded"
	case to == ArmedTriggered:
		return "debounce_elapsed"
	case to == ArmedSafe && from == ArmedTriggered:
		return "returned_inside_threshold"
	case to == ArmedSafe:
		return "excursion_ended"
	default:
		return "update"
	}
}

// UpdateSettings changes threshold, smoothing window and debounce of a running monitor
func (m *Monitor) UpdateSettings(thresholdM float64, window int, debounce time.Duration) error {
	if thresholdM <= 0 {
		return fmt.Errorf("drag threshold must be positive, got %v", thresholdM)
	}
	if debounce < 0 {
		return fmt.Errorf("debounce must not be negative, got %s", debounce)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.history.Resize(window); err != nil {
		return err
	}
	m.config.DragThresholdM = thresholdM
	m.config.SmoothingWindow = window
	m.config.Debounce = debounce
	m.state.DragThreshold = thresholdM
	m.state.SmoothingWindowSize = window
	return nil
}

// AlarmState returns a copy of the current alarm state
func (m *Monitor) AlarmState() pkg.AlarmState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot including the drift estimate
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:       StateOf(&m.state),
		Alarm:       m.state,
		Debounce:    m.config.Debounce,
		MaxDistance: m.maxDist,
		FixCount:    m.fixCount,
	}
	if m.state.AlarmTriggerTime != nil {
		st.ExcursionFor = m.clock().Sub(*m.state.AlarmTriggerTime)
	}
	if latest := m.history.Latest(); latest != nil {
		ts := latest.Timestamp
		st.LastFixAt = &ts
	}
	if est, ok := estimateDrift(m.drift); ok {
		st.Drift = &est
	}
	return st
}

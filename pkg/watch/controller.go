// Package watch runs an anchor watch: it feeds polled fixes to the alarm
// monitor and fans the outcome out to notifications, MQTT, metrics, the live
// websocket stream and session storage.
package watch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/alarm"
	"github.com/anchorwatch/anchorwatch/pkg/gps"
	"github.com/anchorwatch/anchorwatch/pkg/gpsquality"
	"github.com/anchorwatch/anchorwatch/pkg/health"
	"github.com/anchorwatch/anchorwatch/pkg/i18n"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
	"github.com/anchorwatch/anchorwatch/pkg/mqtt"
	"github.com/anchorwatch/anchorwatch/pkg/notifications"
	"github.com/anchorwatch/anchorwatch/pkg/sampling"
	"github.com/anchorwatch/anchorwatch/pkg/telem"
)

// ErrNoPosition is returned by Arm when no coordinates are given and no fix is available
var ErrNoPosition = errors.New("no position available to arm at")

// Component names reported to the health tracker
const (
	ComponentGPS   = "gps"
	ComponentWatch = "watch"
)

// Locator supplies fixes
type Locator interface {
	Fetch(ctx context.Context) (*pkg.Geopoint, error)
	Subscribe(interval time.Duration, fn gps.FixHandler) gps.WatchID
	Cancel(id gps.WatchID) bool
}

// Notifier delivers push notifications
type Notifier interface {
	SendNotification(ctx context.Context, event *notifications.NotificationEvent) error
}

// Publisher publishes status and events to a broker
type Publisher interface {
	PublishStatus(ctx context.Context, status interface{}) error
	PublishEvent(ctx context.Context, event interface{}) error
	PublishAlarm(ctx context.Context, triggered bool) error
}

// Recorder receives metric observations
type Recorder interface {
	ObserveWatch(status alarm.Status)
	RecordFix(source string)
	RecordFixError(source, reason string)
	RecordAlarm()
	RecordNotification(notificationType, result string)
}

// SessionStore persists sessions and their tracks
type SessionStore interface {
	StartSession(ctx context.Context, session *pkg.AnchoringSession) error
	UpdateSessionStats(ctx context.Context, id int64, maxDistance float64, alarmCount int) error
	EndSession(ctx context.Context, id int64, endedAt time.Time, maxDistance float64, alarmCount int) error
	AddTrackPoint(ctx context.Context, tp pkg.TrackPoint) error
	OpenSession(ctx context.Context) (*pkg.AnchoringSession, error)
}

// Broadcaster pushes a value to live subscribers
type Broadcaster interface {
	Broadcast(v interface{})
}

// Journal keeps the event history on disk
type Journal interface {
	Record(ev pkg.Event) error
}

// Deps are the collaborators of a controller. Only Monitor is required.
type Deps struct {
	Monitor   *alarm.Monitor
	Locator   Locator
	Notifier  Notifier
	Publisher Publisher
	Metrics   Recorder
	Store     SessionStore
	Telemetry *telem.Store
	Health    *health.Tracker
	Hub       Broadcaster
	Journal   Journal
	Bundle    *i18n.Bundle
}

// ArmRequest arms the watch at explicit coordinates or, when both are nil, at the current fix
type ArmRequest struct {
	Latitude   *float64        `json:"latitude,omitempty"`
	Longitude  *float64        `json:"longitude,omitempty"`
	ThresholdM float64         `json:"threshold_m,omitempty"`
	DepthM     float64         `json:"depth_m,omitempty"`
	RodeM      float64         `json:"rode_m,omitempty"`
	BottomType *pkg.BottomType `json:"bottom_type,omitempty"`
}

// View is the status snapshot served to clients
type View struct {
	State     string                `json:"state"`
	Status    alarm.Status          `json:"status"`
	GPS       gpsquality.Quality    `json:"gps"`
	Session   *pkg.AnchoringSession `json:"session,omitempty"`
	Language  string                `json:"language"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Controller owns one anchor watch at a time
type Controller struct {
	deps   Deps
	logger *logx.Logger
	events *notifications.EventBuilder
	clock  func() time.Time

	mu        sync.Mutex
	session   *pkg.AnchoringSession
	nextLocal int64
	alarms    int
	alarmAt   *time.Time
	quality   gpsquality.Quality
	language  string
	policy    sampling.Policy
	interval  time.Duration
	watchID   gps.WatchID
	polling   bool

	wg sync.WaitGroup
}

// New creates a controller. language selects notification and advisory texts.
func New(deps Deps, logger *logx.Logger, language string) (*Controller, error) {
	if deps.Monitor == nil {
		return nil, fmt.Errorf("watch controller needs a monitor")
	}
	if deps.Bundle == nil {
		deps.Bundle = i18n.New()
	}
	if language == "" {
		language = "en"
	}
	interval := time.Duration(deps.Monitor.AlarmState().UpdateIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Controller{
		deps:     deps,
		logger:   logger,
		events:   notifications.NewEventBuilder(deps.Bundle, language),
		clock:    time.Now,
		language: language,
		policy:   sampling.NewPolicy(interval),
		interval: interval,
	}, nil
}

// Arm starts a watch. A running watch is replaced.
func (c *Controller) Arm(ctx context.Context, req ArmRequest) (*alarm.Transition, error) {
	anchor, err := c.anchorFor(ctx, req)
	if err != nil {
		return nil, err
	}

	if c.isArmed() {
		if _, err := c.Disarm(ctx); err != nil {
			return nil, err
		}
	}

	tr, err := c.deps.Monitor.Arm(*anchor, req.ThresholdM)
	if err != nil {
		return nil, err
	}
	threshold := c.deps.Monitor.AlarmState().DragThreshold

	session := &pkg.AnchoringSession{
		AnchorPoint:   *anchor,
		DragThreshold: threshold,
		StartedAt:     tr.At,
		DepthM:        req.DepthM,
		RodeM:         req.RodeM,
		BottomType:    req.BottomType,
	}
	if c.deps.Store != nil {
		if err := c.deps.Store.StartSession(ctx, session); err != nil {
			c.logger.Error("Failed to persist session", "error", err)
			c.recordError("store", err)
		}
	}

	c.mu.Lock()
	if session.ID == 0 {
		c.nextLocal++
		session.ID = c.nextLocal
	}
	c.session = session
	c.alarms = 0
	c.alarmAt = nil
	c.interval = c.policy.Base
	c.mu.Unlock()

	c.logger.Info("Anchor watch armed",
		"session", session.ID,
		"latitude", anchor.Latitude,
		"longitude", anchor.Longitude,
		"threshold_m", threshold,
	)
	c.emit(ctx, tr, pkg.EventWatchArmed, map[string]interface{}{
		"anchor":      anchor,
		"threshold_m": threshold,
	})
	c.notify(c.events.WatchArmedEvent(*anchor, threshold, tr.At))
	c.updateHealth(ComponentWatch, health.StatusHealthy, "armed")
	c.startPolling()
	c.publishStatus(ctx)
	return tr, nil
}

func (c *Controller) anchorFor(ctx context.Context, req ArmRequest) (*pkg.Geopoint, error) {
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return nil, fmt.Errorf("latitude and longitude must be given together")
	}
	if req.Latitude != nil {
		anchor := &pkg.Geopoint{
			Latitude:  *req.Latitude,
			Longitude: *req.Longitude,
			Timestamp: c.clock(),
			Source:    pkg.SourceManual,
		}
		if err := anchor.Validate(); err != nil {
			return nil, err
		}
		return anchor, nil
	}
	if c.deps.Locator == nil {
		return nil, ErrNoPosition
	}
	fix, err := c.deps.Locator.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPosition, err)
	}
	return fix, nil
}

// Disarm stops the running watch and closes its session. Disarming an idle
// controller returns a nil transition.
func (c *Controller) Disarm(ctx context.Context) (*alarm.Transition, error) {
	c.stopPolling()
	before := c.deps.Monitor.Status()
	tr := c.deps.Monitor.Disarm()
	if tr == nil {
		return nil, nil
	}

	c.mu.Lock()
	session := c.session
	alarms := c.alarms
	c.session = nil
	c.alarmAt = nil
	c.interval = c.policy.Base
	c.mu.Unlock()

	var duration time.Duration
	if session != nil {
		duration = tr.At.Sub(session.StartedAt)
		end := tr.At
		session.EndedAt = &end
		session.MaxDistance = before.MaxDistance
		session.AlarmCount = alarms
		if c.deps.Store != nil {
			if err := c.deps.Store.EndSession(ctx, session.ID, end, before.MaxDistance, alarms); err != nil {
				c.logger.Warn("Failed to close session", "session", session.ID, "error", err)
			}
		}
		if c.deps.Telemetry != nil {
			c.deps.Telemetry.DropSession(sessionKey(session.ID))
		}
	}

	c.logger.Info("Anchor watch disarmed", "max_distance_m", before.MaxDistance, "alarms", alarms)
	c.emit(ctx, tr, pkg.EventWatchDisarmed, map[string]interface{}{
		"max_distance_m": before.MaxDistance,
		"alarm_count":    alarms,
		"duration_s":     duration.Seconds(),
	})
	if before.State == alarm.ArmedTriggered && c.deps.Publisher != nil {
		if err := c.deps.Publisher.PublishAlarm(ctx, false); err != nil {
			c.logger.Warn("Failed to clear alarm topic", "error", err)
		}
	}
	c.notify(c.events.WatchDisarmedEvent(duration, before.MaxDistance, alarms, tr.At))
	c.updateHealth(ComponentWatch, health.StatusHealthy, "disarmed")
	c.publishStatus(ctx)
	return tr, nil
}

// Resume re-arms the session left open by a previous run
func (c *Controller) Resume(ctx context.Context) (bool, error) {
	if c.deps.Store == nil {
		return false, nil
	}
	session, err := c.deps.Store.OpenSession(ctx)
	if err != nil || session == nil {
		return false, nil
	}

	if _, err := c.deps.Monitor.Arm(session.AnchorPoint, session.DragThreshold); err != nil {
		return false, fmt.Errorf("resume session %d: %w", session.ID, err)
	}
	c.mu.Lock()
	c.session = session
	c.alarms = session.AlarmCount
	c.mu.Unlock()

	c.logger.Info("Resumed open anchor watch", "session", session.ID, "started_at", session.StartedAt)
	c.startPolling()
	return true, nil
}

func (c *Controller) isArmed() bool {
	return c.deps.Monitor.Status().State != alarm.Disarmed
}

func (c *Controller) startPolling() {
	if c.deps.Locator == nil || !c.isArmed() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.polling {
		return
	}
	c.watchID = c.deps.Locator.Subscribe(c.interval, c.onFix)
	c.polling = true
}

func (c *Controller) onFix(fix *pkg.Geopoint, err error) {
	c.HandleFix(context.Background(), fix, err)
}

// resubscribe replaces the running subscription with one at interval. It
// reports false and changes nothing when polling has stopped.
func (c *Controller) resubscribe(interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.polling {
		return false
	}
	c.deps.Locator.Cancel(c.watchID)
	c.interval = interval
	c.watchID = c.deps.Locator.Subscribe(interval, c.onFix)
	return true
}

func (c *Controller) stopPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.polling {
		return
	}
	c.deps.Locator.Cancel(c.watchID)
	c.polling = false
}

// HandleFix processes one polled fix or a failed poll
func (c *Controller) HandleFix(ctx context.Context, fix *pkg.Geopoint, fetchErr error) {
	if fetchErr != nil {
		c.logger.Warn("Position fix failed", "error", fetchErr)
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordFixError("any", "unavailable")
		}
		c.updateHealth(ComponentGPS, health.StatusUnhealthy, fetchErr.Error())
		return
	}
	if fix == nil {
		return
	}

	result, tr, err := c.deps.Monitor.ProcessFix(*fix)
	if err != nil {
		if errors.Is(err, alarm.ErrNoAnchor) {
			return
		}
		c.logger.Warn("Fix rejected", "source", fix.Source, "error", err)
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordFixError(fix.Source, "rejected")
		}
		return
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordFix(fix.Source)
	}

	c.checkGPSQuality(ctx, fix)

	if tr != nil {
		c.handleTransition(ctx, tr, fix)
	}

	c.record(ctx, fix, result)
	c.adaptInterval(result)
	c.publishStatus(ctx)
}

// adaptInterval resubscribes when the boat moves between sampling zones
func (c *Controller) adaptInterval(result alarm.Result) {
	threshold := c.deps.Monitor.AlarmState().DragThreshold

	c.mu.Lock()
	decision := c.policy.Decide(result.Distance, threshold, result.State)
	current := c.interval
	c.mu.Unlock()

	if decision.Interval == current || !c.resubscribe(decision.Interval) {
		return
	}
	c.logger.LogStateChange("sampling", current.String(), decision.Interval.String(), decision.Reason, map[string]interface{}{
		"zone":       decision.Zone.String(),
		"distance_m": result.Distance,
	})
}

func (c *Controller) checkGPSQuality(ctx context.Context, fix *pkg.Geopoint) {
	c.mu.Lock()
	lang := c.language
	prev := c.quality
	c.mu.Unlock()

	q := gpsquality.Classify(fix.Accuracy, c.deps.Bundle.Translator(lang))

	c.mu.Lock()
	c.quality = q
	c.mu.Unlock()

	switch {
	case q.Poor && !prev.Poor:
		c.logger.LogStateChange("gps_quality", prev.Level.String(), q.Level.String(), "accuracy_degraded", map[string]interface{}{
			"accuracy_m": *fix.Accuracy,
		})
		c.event(ctx, pkg.EventGPSDegraded, "warn", q.Advisory, map[string]interface{}{"accuracy_m": *fix.Accuracy})
		c.notify(c.events.GPSDegradedEvent(*fix.Accuracy, q.Advisory, c.clock()))
		c.updateHealth(ComponentGPS, health.StatusDegraded, q.Advisory)
	case !q.Poor && prev.Poor:
		c.logger.LogStateChange("gps_quality", prev.Level.String(), q.Level.String(), "accuracy_restored", nil)
		c.event(ctx, pkg.EventGPSRestored, "info", "GPS accuracy restored", nil)
		c.updateHealth(ComponentGPS, health.StatusHealthy, "accuracy restored")
	case !q.Poor:
		c.updateHealth(ComponentGPS, health.StatusHealthy, q.Level.String())
	}
}

func (c *Controller) handleTransition(ctx context.Context, tr *alarm.Transition, fix *pkg.Geopoint) {
	st := c.deps.Monitor.AlarmState()
	payload := notifications.DragPayload{
		Distance:        tr.Result.Distance,
		Threshold:       st.DragThreshold,
		CurrentPosition: fix,
	}
	if st.AnchorPoint != nil {
		payload.AnchorPoint = *st.AnchorPoint
	}
	if tr.Result.SmoothedPosition != nil {
		payload.CurrentPosition = tr.Result.SmoothedPosition
	}
	data := map[string]interface{}{
		"distance_m":  tr.Result.Distance,
		"threshold_m": st.DragThreshold,
	}

	switch {
	case tr.To == alarm.ArmedExceeding:
		c.emit(ctx, tr, pkg.EventExcursion, data)

	case tr.To == alarm.ArmedTriggered:
		c.mu.Lock()
		c.alarms++
		at := tr.At
		c.alarmAt = &at
		c.mu.Unlock()

		c.logger.Warn("Drag alarm", "distance_m", tr.Result.Distance, "threshold_m", st.DragThreshold)
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordAlarm()
		}
		c.emit(ctx, tr, pkg.EventDragAlarm, data)
		if c.deps.Publisher != nil {
			if err := c.deps.Publisher.PublishAlarm(ctx, true); err != nil {
				c.logger.Warn("Failed to publish alarm", "error", err)
			}
		}
		c.notify(c.events.DragAlarmEvent(payload, tr.At))
		c.updateHealth(ComponentWatch, health.StatusDegraded, "drag alarm active")

	case tr.From == alarm.ArmedTriggered && tr.To == alarm.ArmedSafe:
		c.mu.Lock()
		var alarmedFor time.Duration
		if c.alarmAt != nil {
			alarmedFor = tr.At.Sub(*c.alarmAt)
		}
		c.alarmAt = nil
		c.mu.Unlock()

		c.emit(ctx, tr, pkg.EventRecovered, data)
		if c.deps.Publisher != nil {
			if err := c.deps.Publisher.PublishAlarm(ctx, false); err != nil {
				c.logger.Warn("Failed to clear alarm", "error", err)
			}
		}
		c.notify(c.events.DragRecoveredEvent(payload, alarmedFor, tr.At))
		c.updateHealth(ComponentWatch, health.StatusHealthy, "inside threshold")

	default:
		c.emit(ctx, tr, tr.Reason, data)
	}
}

// record stores the evaluated fix in telemetry and the session track
func (c *Controller) record(ctx context.Context, fix *pkg.Geopoint, result alarm.Result) {
	c.mu.Lock()
	session := c.session
	alarms := c.alarms
	c.mu.Unlock()
	if session == nil {
		return
	}
	st := c.deps.Monitor.Status()

	if c.deps.Telemetry != nil {
		c.deps.Telemetry.AddSample(telem.Sample{
			Timestamp:  fix.Timestamp,
			Session:    sessionKey(session.ID),
			Fix:        *fix,
			Smoothed:   result.SmoothedPosition,
			DistanceM:  result.Distance,
			ThresholdM: st.Alarm.DragThreshold,
			State:      result.State.String(),
			Triggered:  result.Triggered,
		})
	}

	if c.deps.Store != nil {
		pos := fix
		if result.SmoothedPosition != nil {
			pos = result.SmoothedPosition
		}
		err := c.deps.Store.AddTrackPoint(ctx, pkg.TrackPoint{
			SessionID: session.ID,
			Timestamp: fix.Timestamp,
			Latitude:  pos.Latitude,
			Longitude: pos.Longitude,
			Accuracy:  fix.Accuracy,
			Distance:  result.Distance,
			Triggered: result.Triggered,
		})
		if err != nil {
			c.logger.Warn("Failed to store track point", "error", err)
		}
		if err := c.deps.Store.UpdateSessionStats(ctx, session.ID, st.MaxDistance, alarms); err != nil {
			c.logger.Debug("Failed to update session stats", "error", err)
		}
	}
}

// Status returns the current snapshot
func (c *Controller) Status() View {
	st := c.deps.Monitor.Status()
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		State:     st.State.String(),
		Status:    st,
		GPS:       c.quality,
		Language:  c.language,
		UpdatedAt: c.clock(),
	}
	if c.session != nil {
		s := *c.session
		s.MaxDistance = st.MaxDistance
		s.AlarmCount = c.alarms
		v.Session = &s
	}
	return v
}

// SessionKey returns the telemetry key of the running session, or "" when idle
func (c *Controller) SessionKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return sessionKey(c.session.ID)
}

// UpdateSettings applies new user settings to the running monitor
func (c *Controller) UpdateSettings(s pkg.AppSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := c.deps.Monitor.UpdateSettings(s.DragThreshold, s.SmoothingWindowSize, time.Duration(s.DebounceSeconds)*time.Second); err != nil {
		return err
	}

	interval := time.Duration(s.UpdateIntervalSeconds) * time.Second
	c.mu.Lock()
	restart := c.polling && interval != c.policy.Base
	c.policy.Base = interval
	c.interval = interval
	if s.Language != "" {
		c.language = s.Language
	}
	lang := c.language
	c.mu.Unlock()

	c.events.SetLanguage(lang)
	if restart {
		c.resubscribe(interval)
	}
	c.logger.Info("Watch settings updated",
		"threshold_m", s.DragThreshold,
		"interval_s", s.UpdateIntervalSeconds,
		"window", s.SmoothingWindowSize,
		"debounce_s", s.DebounceSeconds,
		"language", lang,
	)
	return nil
}

// HandleCommand executes an arm/disarm command received over MQTT
func (c *Controller) HandleCommand(ctx context.Context, cmd mqtt.Command) error {
	switch cmd.Action {
	case "arm":
		_, err := c.Arm(ctx, ArmRequest{Latitude: cmd.Latitude, Longitude: cmd.Longitude, ThresholdM: cmd.Threshold})
		return err
	case "disarm":
		_, err := c.Disarm(ctx)
		return err
	default:
		return fmt.Errorf("%w: %s", mqtt.ErrUnknownCommand, cmd.Action)
	}
}

// Close stops polling and waits for pending notifications
func (c *Controller) Close() {
	c.stopPolling()
	c.wg.Wait()
}

func (c *Controller) emit(ctx context.Context, tr *alarm.Transition, eventType string, data map[string]interface{}) {
	ev := pkg.Event{
		ID:        fmt.Sprintf("%s-%d", eventType, tr.At.UnixNano()),
		Type:      eventType,
		Timestamp: tr.At,
		From:      tr.From.String(),
		To:        tr.To.String(),
		Reason:    tr.Reason,
		Data:      data,
	}
	level := "info"
	if eventType == pkg.EventDragAlarm {
		level = "critical"
	}
	c.addTelemetryEvent(eventType, level, tr.Reason, ev)
	c.journal(ev)
	if c.deps.Publisher != nil {
		if err := c.deps.Publisher.PublishEvent(ctx, ev); err != nil {
			c.logger.Warn("Failed to publish event", "type", eventType, "error", err)
		}
	}
	if c.deps.Hub != nil {
		c.deps.Hub.Broadcast(map[string]interface{}{"type": "event", "event": ev})
	}
}

// event records a non-transition event
func (c *Controller) event(ctx context.Context, eventType, level, message string, data map[string]interface{}) {
	now := c.clock()
	ev := pkg.Event{
		ID:        fmt.Sprintf("%s-%d", eventType, now.UnixNano()),
		Type:      eventType,
		Timestamp: now,
		Reason:    message,
		Data:      data,
	}
	c.addTelemetryEvent(eventType, level, message, ev)
	c.journal(ev)
	if c.deps.Publisher != nil {
		if err := c.deps.Publisher.PublishEvent(ctx, ev); err != nil {
			c.logger.Warn("Failed to publish event", "type", eventType, "error", err)
		}
	}
}

func (c *Controller) journal(ev pkg.Event) {
	if c.deps.Journal == nil {
		return
	}
	if err := c.deps.Journal.Record(ev); err != nil {
		c.logger.Warn("Failed to journal event", "type", ev.Type, "error", err)
	}
}

func (c *Controller) addTelemetryEvent(eventType, level, message string, data interface{}) {
	if c.deps.Telemetry == nil {
		return
	}
	c.deps.Telemetry.AddEvent(telem.Event{
		Timestamp: c.clock(),
		Level:     level,
		Type:      eventType,
		Session:   c.SessionKey(),
		Message:   message,
		Data:      data,
	})
}

func (c *Controller) publishStatus(ctx context.Context) {
	view := c.Status()
	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveWatch(view.Status)
	}
	if c.deps.Publisher != nil {
		if err := c.deps.Publisher.PublishStatus(ctx, view); err != nil {
			c.logger.Debug("Failed to publish status", "error", err)
		}
	}
	if c.deps.Hub != nil {
		c.deps.Hub.Broadcast(map[string]interface{}{"type": "status", "status": view})
	}
}

// notify sends in the background so retries do not hold up fix processing
func (c *Controller) notify(ev *notifications.NotificationEvent) {
	if c.deps.Notifier == nil || ev == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		result := "sent"
		if err := c.deps.Notifier.SendNotification(ctx, ev); err != nil {
			result = "failed"
			c.logger.Warn("Notification failed", "type", ev.Type, "error", err)
			c.recordError("notification", err)
		}
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordNotification(string(ev.Type), result)
		}
	}()
}

func (c *Controller) updateHealth(component, status, message string) {
	if c.deps.Health != nil {
		c.deps.Health.UpdateComponentHealth(component, status, message)
	}
}

func (c *Controller) recordError(component string, err error) {
	if c.deps.Health != nil {
		c.deps.Health.RecordError("error", component, err.Error())
	}
}

func sessionKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
	"github.com/anchorwatch/anchorwatch/pkg/retry"
)

// NotificationType represents different types of notifications
type NotificationType string

const (
	NotificationDragAlarm     NotificationType = "drag_alarm"
	NotificationDragRecovered NotificationType = "drag_recovered"
	NotificationGPSDegraded   NotificationType = "gps_degraded"
	NotificationWatchArmed    NotificationType = "watch_armed"
	NotificationWatchDisarmed NotificationType = "watch_disarmed"
	NotificationCriticalError NotificationType = "critical_error"
)

// Priority levels matching Pushover API
const (
	PriorityLowest    = -2 // No notification/sound
	PriorityLow       = -1 // Quiet notification
	PriorityNormal    = 0
	PriorityHigh      = 1
	PriorityEmergency = 2 // Repeats until acknowledged
)

// DefaultAPIURL is the Pushover message endpoint
const DefaultAPIURL = "https://api.pushover.net/1/messages.json"

// NotificationConfig holds configuration for the notification manager
type NotificationConfig struct {
	PushoverEnabled bool   `json:"pushover_enabled"`
	PushoverToken   string `json:"-"`
	PushoverUser    string `json:"-"`
	PushoverDevice  string `json:"pushover_device,omitempty"`
	APIURL          string `json:"api_url"`

	// Events below this Pushover priority are dropped
	PriorityThreshold int  `json:"priority_threshold"`
	LocationEnabled   bool `json:"location_enabled"`

	NotifyOnDragAlarm     bool `json:"notify_on_drag_alarm"`
	NotifyOnDragRecovered bool `json:"notify_on_drag_recovered"`
	NotifyOnGPSDegraded   bool `json:"notify_on_gps_degraded"`
	NotifyOnWatchArmed    bool `json:"notify_on_watch_armed"`
	NotifyOnWatchDisarmed bool `json:"notify_on_watch_disarmed"`
	NotifyOnCritical      bool `json:"notify_on_critical"`

	PriorityDragAlarm     int `json:"priority_drag_alarm"`
	PriorityDragRecovered int `json:"priority_drag_recovered"`
	PriorityGPSDegraded   int `json:"priority_gps_degraded"`
	PriorityWatchArmed    int `json:"priority_watch_armed"`
	PriorityWatchDisarmed int `json:"priority_watch_disarmed"`
	PriorityCritical      int `json:"priority_critical"`

	CooldownPeriod         time.Duration `json:"cooldown_period"`
	MaxNotificationsHour   int           `json:"max_notifications_hour"`
	EmergencyRetryInterval time.Duration `json:"emergency_retry_interval"`
	EmergencyRetry         int           `json:"emergency_retry_s"`
	EmergencyExpire        int           `json:"emergency_expire_s"`

	Retry            retry.Config  `json:"-"`
	HTTPTimeout      time.Duration `json:"http_timeout"`
	IncludeHostname  bool          `json:"include_hostname"`
	IncludeTimestamp bool          `json:"include_timestamp"`
}

// DefaultNotificationConfig returns default notification configuration
func DefaultNotificationConfig() *NotificationConfig {
	return &NotificationConfig{
		APIURL:            DefaultAPIURL,
		PriorityThreshold: PriorityLow,
		LocationEnabled:   true,

		NotifyOnDragAlarm:     true,
		NotifyOnDragRecovered: true,
		NotifyOnGPSDegraded:   true,
		NotifyOnWatchArmed:    true,
		NotifyOnWatchDisarmed: false,
		NotifyOnCritical:      true,

		PriorityDragAlarm:     PriorityEmergency,
		PriorityDragRecovered: PriorityHigh,
		PriorityGPSDegraded:   PriorityNormal,
		PriorityWatchArmed:    PriorityLow,
		PriorityWatchDisarmed: PriorityLow,
		PriorityCritical:      PriorityHigh,

		CooldownPeriod:         5 * time.Minute,
		MaxNotificationsHour:   20,
		EmergencyRetryInterval: 60 * time.Second,
		EmergencyRetry:         60,
		EmergencyExpire:        3600,

		Retry: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  2 * time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
		},
		HTTPTimeout:      10 * time.Second,
		IncludeHostname:  true,
		IncludeTimestamp: true,
	}
}

// DragPayload is the position context attached to watch notifications
type DragPayload struct {
	Distance        float64       `json:"distance"`
	Threshold       float64       `json:"threshold"`
	AnchorPoint     pkg.Geopoint  `json:"anchorPoint"`
	CurrentPosition *pkg.Geopoint `json:"currentPosition,omitempty"`
}

// NotificationEvent represents a notification event
type NotificationEvent struct {
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Priority  *int                   `json:"priority,omitempty"` // nil uses the configured priority for Type
	Sound     string                 `json:"sound,omitempty"`
	URL       string                 `json:"url,omitempty"`
	URLTitle  string                 `json:"url_title,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   *DragPayload           `json:"payload,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Manager handles all notification operations
type Manager struct {
	config   *NotificationConfig
	logger   *logx.Logger
	hostname string
	runner   *retry.Runner
	now      func() time.Time

	// Rate limiting
	mu                sync.Mutex
	lastNotification  map[NotificationType]time.Time
	notificationCount map[string]int // hour-based counting
	lastEmergency     time.Time

	httpClient *http.Client

	stats struct {
		TotalSent       int64
		TotalFailed     int64
		RateLimited     int64
		LastSentTime    time.Time
		LastFailureTime time.Time
	}
}

// NewManager creates a new notification manager
func NewManager(config *NotificationConfig, logger *logx.Logger) *Manager {
	if config == nil {
		config = DefaultNotificationConfig()
	}
	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}

	hostname := "anchorwatch"
	if h, err := os.Hostname(); err == nil && h != "" {
		hostname = h
	}

	return &Manager{
		config:            config,
		logger:            logger,
		hostname:          hostname,
		runner:            retry.NewRunner(config.Retry),
		now:               time.Now,
		lastNotification:  make(map[NotificationType]time.Time),
		notificationCount: make(map[string]int),
		httpClient: &http.Client{
			Timeout: config.HTTPTimeout,
		},
	}
}

// IsEnabled returns whether notifications are enabled
func (m *Manager) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabledLocked()
}

func (m *Manager) enabledLocked() bool {
	return m.config.PushoverEnabled &&
		m.config.PushoverToken != "" &&
		m.config.PushoverUser != ""
}

// SendNotification runs event through the type, priority and rate filters and
// posts it to Pushover. Filtered events return nil.
func (m *Manager) SendNotification(ctx context.Context, event *NotificationEvent) error {
	if !m.IsEnabled() {
		m.logger.Debug("Notifications disabled, skipping", "type", event.Type)
		return nil
	}

	if !m.isNotificationTypeEnabled(event.Type) {
		m.logger.Debug("Notification type disabled", "type", event.Type)
		return nil
	}

	priority := m.priorityOf(event)
	if !m.meetsPriorityThreshold(priority) {
		m.logger.Debug("Notification below priority threshold", "type", event.Type, "priority", priority)
		return nil
	}

	if !m.shouldSendSmart(event.Type, priority) {
		m.logger.Debug("Notification rate limited", "type", event.Type)
		return nil
	}

	m.formatNotification(event, priority)

	return m.sendWithRetry(ctx, event, priority)
}

func (m *Manager) isNotificationTypeEnabled(notType NotificationType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch notType {
	case NotificationDragAlarm:
		return m.config.NotifyOnDragAlarm
	case NotificationDragRecovered:
		return m.config.NotifyOnDragRecovered
	case NotificationGPSDegraded:
		return m.config.NotifyOnGPSDegraded
	case NotificationWatchArmed:
		return m.config.NotifyOnWatchArmed
	case NotificationWatchDisarmed:
		return m.config.NotifyOnWatchDisarmed
	case NotificationCriticalError:
		return m.config.NotifyOnCritical
	default:
		return true
	}
}

func (m *Manager) priorityOf(event *NotificationEvent) int {
	if event.Priority != nil {
		return clampPriority(*event.Priority)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return clampPriority(m.getPriorityForType(event.Type))
}

func (m *Manager) getPriorityForType(notType NotificationType) int {
	switch notType {
	case NotificationDragAlarm:
		return m.config.PriorityDragAlarm
	case NotificationDragRecovered:
		return m.config.PriorityDragRecovered
	case NotificationGPSDegraded:
		return m.config.PriorityGPSDegraded
	case NotificationWatchArmed:
		return m.config.PriorityWatchArmed
	case NotificationWatchDisarmed:
		return m.config.PriorityWatchDisarmed
	case NotificationCriticalError:
		return m.config.PriorityCritical
	default:
		return PriorityNormal
	}
}

func clampPriority(p int) int {
	if p < PriorityLowest {
		return PriorityLowest
	}
	if p > PriorityEmergency {
		return PriorityEmergency
	}
	return p
}

func (m *Manager) meetsPriorityThreshold(priority int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return priority >= m.config.PriorityThreshold
}

// shouldSendSmart applies the per-type cooldown and the hourly cap. Emergency
// events only honour their own retry interval.
func (m *Manager) shouldSendSmart(notType NotificationType, priority int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if priority == PriorityEmergency {
		if !m.lastEmergency.IsZero() && now.Sub(m.lastEmergency) < m.config.EmergencyRetryInterval {
			m.stats.RateLimited++
			return false
		}
		m.lastEmergency = now
		return true
	}

	if lastSent, exists := m.lastNotification[notType]; exists {
		if now.Sub(lastSent) < m.config.CooldownPeriod {
			m.stats.RateLimited++
			return false
		}
	}

	hourKey := now.Format("2006-01-02-15")
	if m.notificationCount[hourKey] >= m.config.MaxNotificationsHour {
		m.stats.RateLimited++
		return false
	}

	m.lastNotification[notType] = now
	m.notificationCount[hourKey]++

	for key := range m.notificationCount {
		if keyTime, err := time.Parse("2006-01-02-15", key); err == nil && now.Sub(keyTime) > 24*time.Hour {
			delete(m.notificationCount, key)
		}
	}

	return true
}

func (m *Manager) formatNotification(event *NotificationEvent, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.Sound == "" {
		event.Sound = getSoundForPriority(priority)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}

	if m.config.IncludeHostname {
		event.Title = fmt.Sprintf("%s - %s", m.hostname, event.Title)
	}

	if m.config.IncludeTimestamp && !strings.Contains(event.Message, "Time:") {
		timeStr := event.Timestamp.Format("2006-01-02 15:04:05")
		event.Message = fmt.Sprintf("%s\n\nTime: %s", event.Message, timeStr)
	}
}

func getSoundForPriority(priority int) string {
	switch priority {
	case PriorityEmergency:
		return "siren"
	case PriorityHigh:
		return "persistent"
	case PriorityNormal:
		return "pushover"
	case PriorityLowest:
		return "none"
	default:
		return "pushover"
	}
}

func (m *Manager) sendWithRetry(ctx context.Context, event *NotificationEvent, priority int) error {
	err := m.runner.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			m.logger.Debug("Retrying notification", "type", event.Type, "attempt", attempt)
		}
		err := m.sendPushoverNotification(ctx, event, priority)
		if err != nil {
			m.logger.Warn("Notification send failed", "type", event.Type, "attempt", attempt, "error", err)
		}
		return err
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.stats.TotalFailed++
		m.stats.LastFailureTime = m.now()
		m.logger.Error("Notification failed", "type", event.Type, "error", err)
		return fmt.Errorf("send %s notification: %w", event.Type, err)
	}
	m.stats.TotalSent++
	m.stats.LastSentTime = m.now()
	m.logger.Info("Notification sent", "type", event.Type, "priority", priority)
	return nil
}

// pushoverResponse is the JSON body returned by the messages endpoint
type pushoverResponse struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Receipt string   `json:"receipt,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func (m *Manager) sendPushoverNotification(ctx context.Context, event *NotificationEvent, priority int) error {
	m.mu.Lock()
	cfg := *m.config
	m.mu.Unlock()

	data := url.Values{}
	data.Set("token", cfg.PushoverToken)
	data.Set("user", cfg.PushoverUser)
	data.Set("title", event.Title)
	data.Set("message", event.Message)
	data.Set("priority", fmt.Sprintf("%d", priority))
	data.Set("timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))

	if event.Sound != "" {
		data.Set("sound", event.Sound)
	}
	if cfg.PushoverDevice != "" {
		data.Set("device", cfg.PushoverDevice)
	}
	if event.URL != "" {
		data.Set("url", event.URL)
		if event.URLTitle != "" {
			data.Set("url_title", event.URLTitle)
		}
	}

	if priority == PriorityEmergency {
		data.Set("retry", fmt.Sprintf("%d", cfg.EmergencyRetry))
		data.Set("expire", fmt.Sprintf("%d", cfg.EmergencyExpire))
	}

	// Pushover shows a map link for the boat's last position
	if cfg.LocationEnabled && event.Payload != nil && event.Payload.CurrentPosition != nil {
		pos := event.Payload.CurrentPosition
		if event.URL == "" {
			data.Set("url", fmt.Sprintf("https://www.openstreetmap.org/?mlat=%.6f&mlon=%.6f#map=17/%.6f/%.6f",
				pos.Latitude, pos.Longitude, pos.Latitude, pos.Longitude))
			data.Set("url_title", fmt.Sprintf("%.6f,%.6f", pos.Latitude, pos.Longitude))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIURL, strings.NewReader(data.Encode()))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "anchorwatch/1.0")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		apiErr := fmt.Errorf("pushover API error: %s - %s", resp.Status, strings.TrimSpace(buf.String()))
		// 4xx means the request itself was rejected; resending will not help
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.Permanent(apiErr)
		}
		return apiErr
	}

	var pushoverResp pushoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushoverResp); err != nil {
		return nil
	}
	if pushoverResp.Status != 1 {
		return retry.Permanent(fmt.Errorf("pushover API returned status %d: %v", pushoverResp.Status, pushoverResp.Errors))
	}
	return nil
}

// GetStats returns notification statistics
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]interface{}{
		"total_sent":        m.stats.TotalSent,
		"total_failed":      m.stats.TotalFailed,
		"rate_limited":      m.stats.RateLimited,
		"last_sent_time":    m.stats.LastSentTime,
		"last_failure_time": m.stats.LastFailureTime,
		"enabled":           m.enabledLocked(),
		"config": map[string]interface{}{
			"cooldown_period":        m.config.CooldownPeriod,
			"max_notifications_hour": m.config.MaxNotificationsHour,
			"priority_threshold":     m.config.PriorityThreshold,
		},
	}
}

// UpdateConfig updates the notification configuration
func (m *Manager) UpdateConfig(config *NotificationConfig) {
	if config == nil {
		return
	}
	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}

	m.mu.Lock()
	m.config = config
	m.httpClient.Timeout = config.HTTPTimeout
	m.runner = retry.NewRunner(config.Retry)
	m.mu.Unlock()

	m.logger.Info("Notification configuration updated",
		"enabled", config.PushoverEnabled,
		"cooldown", config.CooldownPeriod,
		"max_per_hour", config.MaxNotificationsHour)
}

// Close cleans up the notification manager
func (m *Manager) Close() error {
	m.httpClient.CloseIdleConnections()
	m.logger.Info("Notification manager closed")
	return nil
}

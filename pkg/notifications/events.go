package notifications

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/i18n"
)

// Localizer formats catalog messages for a language
type Localizer interface {
	Sprintf(lang, key string, args ...interface{}) string
}

// EventBuilder creates localized notification events
type EventBuilder struct {
	localizer Localizer

	mu   sync.RWMutex
	lang string
}

// NewEventBuilder creates a new event builder. A nil localizer uses the
// built-in catalog.
func NewEventBuilder(localizer Localizer, lang string) *EventBuilder {
	if localizer == nil {
		localizer = i18n.New()
	}
	if lang == "" {
		lang = "en"
	}
	return &EventBuilder{localizer: localizer, lang: lang}
}

// SetLanguage switches the language of subsequent events
func (eb *EventBuilder) SetLanguage(lang string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.lang = lang
}

func (eb *EventBuilder) tr(key string, args ...interface{}) string {
	eb.mu.RLock()
	lang := eb.lang
	eb.mu.RUnlock()
	return eb.localizer.Sprintf(lang, key, args...)
}

// DragAlarmEvent creates the emergency notification for a confirmed drag
func (eb *EventBuilder) DragAlarmEvent(payload DragPayload, at time.Time) *NotificationEvent {
	var message strings.Builder
	message.WriteString(eb.tr(i18n.KeyDragAlarmBody, payload.Distance, payload.Threshold))
	message.WriteString("\n\n")
	writePositions(&message, payload)

	return &NotificationEvent{
		Type:      NotificationDragAlarm,
		Title:     "🚨 " + eb.tr(i18n.KeyDragAlarmTitle),
		Message:   message.String(),
		Timestamp: at,
		Payload:   &payload,
		Details: map[string]interface{}{
			"distance":  payload.Distance,
			"threshold": payload.Threshold,
		},
	}
}

// DragRecoveredEvent creates the notification sent when the boat is back
// inside the swing circle after an alarm
func (eb *EventBuilder) DragRecoveredEvent(payload DragPayload, alarmedFor time.Duration, at time.Time) *NotificationEvent {
	var message strings.Builder
	message.WriteString(eb.tr(i18n.KeyRecoveredBody, payload.Distance, payload.Threshold))
	message.WriteString("\n\n")
	writePositions(&message, payload)
	if alarmedFor > 0 {
		message.WriteString(fmt.Sprintf("⏱️ %s\n", formatDuration(alarmedFor)))
	}

	return &NotificationEvent{
		Type:      NotificationDragRecovered,
		Title:     "✅ " + eb.tr(i18n.KeyRecoveredTitle),
		Message:   message.String(),
		Timestamp: at,
		Payload:   &payload,
		Details: map[string]interface{}{
			"alarmed_for_s": alarmedFor.Seconds(),
		},
	}
}

// GPSDegradedEvent creates the notification for an accuracy drop while armed.
// advisory is the already localized quality message.
func (eb *EventBuilder) GPSDegradedEvent(accuracy float64, advisory string, at time.Time) *NotificationEvent {
	message := advisory
	if message == "" {
		message = eb.tr(i18n.KeyGPSPoor)
	}
	message = fmt.Sprintf("%s\n\n📡 ±%.0f m", message, accuracy)

	return &NotificationEvent{
		Type:      NotificationGPSDegraded,
		Title:     "📡 " + eb.tr(i18n.KeyGPSDegradedTitle),
		Message:   message,
		Timestamp: at,
		Details: map[string]interface{}{
			"accuracy_m": accuracy,
		},
	}
}

// WatchArmedEvent creates the notification for a newly armed watch
func (eb *EventBuilder) WatchArmedEvent(anchor pkg.Geopoint, threshold float64, at time.Time) *NotificationEvent {
	message := fmt.Sprintf("%s\n\n⚓ %.6f, %.6f",
		eb.tr(i18n.KeyWatchArmedBody, threshold), anchor.Latitude, anchor.Longitude)

	return &NotificationEvent{
		Type:      NotificationWatchArmed,
		Title:     "⚓ " + eb.tr(i18n.KeyWatchArmedTitle),
		Message:   message,
		Timestamp: at,
		Payload:   &DragPayload{Threshold: threshold, AnchorPoint: anchor},
	}
}

// WatchDisarmedEvent creates the notification for a stopped watch
func (eb *EventBuilder) WatchDisarmedEvent(duration time.Duration, maxDistance float64, alarms int, at time.Time) *NotificationEvent {
	message := fmt.Sprintf("⏱️ %s\n📏 max %.0f m\n🚨 %d", formatDuration(duration), maxDistance, alarms)

	return &NotificationEvent{
		Type:      NotificationWatchDisarmed,
		Title:     eb.tr(i18n.KeyWatchDisarmedTitle),
		Message:   message,
		Timestamp: at,
		Details: map[string]interface{}{
			"duration_s":     duration.Seconds(),
			"max_distance_m": maxDistance,
			"alarm_count":    alarms,
		},
	}
}

// CriticalErrorEvent creates a notification for a failure that stops the watch
// from working, such as every GPS source failing
func (eb *EventBuilder) CriticalErrorEvent(component string, err error, at time.Time) *NotificationEvent {
	message := fmt.Sprintf("Component: %s", component)
	if err != nil {
		message = fmt.Sprintf("%s\nError: %s", message, err.Error())
	}
	return &NotificationEvent{
		Type:      NotificationCriticalError,
		Title:     "💥 anchorwatch error",
		Message:   message,
		Timestamp: at,
		Details: map[string]interface{}{
			"component": component,
		},
	}
}

func writePositions(b *strings.Builder, payload DragPayload) {
	b.WriteString(fmt.Sprintf("⚓ %.6f, %.6f\n", payload.AnchorPoint.Latitude, payload.AnchorPoint.Longitude))
	if pos := payload.CurrentPosition; pos != nil {
		b.WriteString(fmt.Sprintf("🛥️ %.6f, %.6f", pos.Latitude, pos.Longitude))
		if pos.Accuracy != nil {
			b.WriteString(fmt.Sprintf(" (±%.0f m)", *pos.Accuracy))
		}
		b.WriteString("\n")
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

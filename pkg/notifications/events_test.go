package notifications

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/i18n"
)

func TestEventBuilder_Localized(t *testing.T) {
	at := time.Date(2026, 7, 1, 3, 0, 0, 0, time.UTC)
	payload := DragPayload{
		Distance:    55,
		Threshold:   30,
		AnchorPoint: pkg.Geopoint{Latitude: 1, Longitude: 2},
	}

	tests := []struct {
		lang  string
		title string
		body  string
	}{
		{"en", "Anchor drag alarm", "55 m"},
		{"de", "Ankeralarm", "55 m vom Anker"},
		{"sv-SE", "Ankarlarm", "55 m från ankaret"},
		{"xx", "Anchor drag alarm", "55 m"},
	}

	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			eb := NewEventBuilder(i18n.New(), tt.lang)
			ev := eb.DragAlarmEvent(payload, at)
			if ev.Type != NotificationDragAlarm {
				t.Errorf("type = %s", ev.Type)
			}
			if !strings.Contains(ev.Title, tt.title) {
				t.Errorf("title = %q, want it to contain %q", ev.Title, tt.title)
			}
			if !strings.Contains(ev.Message, tt.body) {
				t.Errorf("message = %q, want it to contain %q", ev.Message, tt.body)
			}
			if ev.Payload == nil || ev.Payload.Distance != 55 {
				t.Errorf("payload = %+v", ev.Payload)
			}
		})
	}
}

func TestEventBuilder_SetLanguage(t *testing.T) {
	eb := NewEventBuilder(nil, "")
	ev := eb.WatchArmedEvent(pkg.Geopoint{Latitude: 59, Longitude: 18}, 35, time.Now())
	if !strings.Contains(ev.Title, "Anchor watch armed") {
		t.Errorf("title = %q", ev.Title)
	}
	if !strings.Contains(ev.Message, "35 m") {
		t.Errorf("message = %q", ev.Message)
	}

	eb.SetLanguage("de")
	ev = eb.WatchArmedEvent(pkg.Geopoint{Latitude: 59, Longitude: 18}, 35, time.Now())
	if !strings.Contains(ev.Title, "Ankerwache aktiv") {
		t.Errorf("title = %q", ev.Title)
	}
}

func TestEventBuilder_Other(t *testing.T) {
	eb := NewEventBuilder(nil, "en")
	at := time.Now()

	rec := eb.DragRecoveredEvent(DragPayload{Distance: 20, Threshold: 30}, 90*time.Second, at)
	if rec.Type != NotificationDragRecovered || !strings.Contains(rec.Message, "1m 30s") {
		t.Errorf("recovered = %+v", rec)
	}

	gps := eb.GPSDegradedEvent(22, "", at)
	if !strings.Contains(gps.Message, "GPS accuracy is poor") || !strings.Contains(gps.Message, "±22 m") {
		t.Errorf("gps message = %q", gps.Message)
	}

	dis := eb.WatchDisarmedEvent(3*time.Hour+5*time.Minute, 18.2, 1, at)
	if !strings.Contains(dis.Message, "3h 5m") || dis.Details["alarm_count"] != 1 {
		t.Errorf("disarmed = %+v", dis)
	}

	crit := eb.CriticalErrorEvent("gps", errors.New("no fix"), at)
	if !strings.Contains(crit.Message, "no fix") {
		t.Errorf("critical = %q", crit.Message)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{12 * time.Second, "12s"},
		{61 * time.Second, "1m 1s"},
		{2*time.Hour + 30*time.Minute, "2h 30m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

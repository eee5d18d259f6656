package notifications

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
	"github.com/anchorwatch/anchorwatch/pkg/retry"
	"github.com/anchorwatch/anchorwatch/pkg/uci"
)

// pushoverStub records posted forms and answers with a fixed status
type pushoverStub struct {
	mu     sync.Mutex
	forms  []url.Values
	status int
	body   string
}

func (p *pushoverStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1/messages.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		p.mu.Lock()
		p.forms = append(p.forms, r.PostForm)
		status, body := p.status, p.body
		p.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		if body == "" {
			body = `{"status":1,"request":"abc"}`
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (p *pushoverStub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.forms)
}

func (p *pushoverStub) last() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.forms[len(p.forms)-1]
}

func newTestManager(t *testing.T, stub *pushoverStub) (*Manager, *time.Time) {
	t.Helper()
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	config := DefaultNotificationConfig()
	config.PushoverEnabled = true
	config.PushoverToken = "token"
	config.PushoverUser = "user"
	config.APIURL = srv.URL + "/1/messages.json"
	config.IncludeHostname = false
	config.NotifyOnWatchDisarmed = true
	config.Retry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}

	m := NewManager(config, logx.New("error"))
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestManager_IsEnabled(t *testing.T) {
	tests := []struct {
		name   string
		config *NotificationConfig
		want   bool
	}{
		{"nil config uses defaults", nil, false},
		{"enabled with credentials", &NotificationConfig{PushoverEnabled: true, PushoverToken: "token", PushoverUser: "user"}, true},
		{"disabled", &NotificationConfig{PushoverEnabled: false, PushoverToken: "token", PushoverUser: "user"}, false},
		{"enabled but no token", &NotificationConfig{PushoverEnabled: true, PushoverUser: "user"}, false},
		{"enabled but no user", &NotificationConfig{PushoverEnabled: true, PushoverToken: "token"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(tt.config, logx.New("error"))
			if got := manager.IsEnabled(); got != tt.want {
				t.Errorf("IsEnabled() = %v, want %v", got, tt.want)
			}
			if manager.hostname == "" {
				t.Error("hostname should not be empty")
			}
		})
	}
}

func TestManager_SendDragAlarm(t *testing.T) {
	stub := &pushoverStub{}
	m, now := newTestManager(t, stub)
	eb := NewEventBuilder(nil, "en")

	payload := DragPayload{
		Distance:        42.4,
		Threshold:       30,
		AnchorPoint:     pkg.Geopoint{Latitude: 59.3, Longitude: 18.1},
		CurrentPosition: &pkg.Geopoint{Latitude: 59.3004, Longitude: 18.1, Accuracy: pkg.AccuracyOf(4)},
	}
	if err := m.SendNotification(context.Background(), eb.DragAlarmEvent(payload, *now)); err != nil {
		t.Fatalf("SendNotification: %v", err)
	}

	if stub.count() != 1 {
		t.Fatalf("expected 1 request, got %d", stub.count())
	}
	form := stub.last()
	checks := map[string]string{
		"token":    "token",
		"user":     "user",
		"priority": "2",
		"retry":    "60",
		"expire":   "3600",
		"sound":    "siren",
	}
	for key, want := range checks {
		if got := form.Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
	if !strings.Contains(form.Get("title"), "Anchor drag alarm") {
		t.Errorf("title = %q", form.Get("title"))
	}
	if !strings.Contains(form.Get("message"), "42 m") || !strings.Contains(form.Get("message"), "30 m") {
		t.Errorf("message = %q", form.Get("message"))
	}
	if !strings.Contains(form.Get("url"), "mlat=59.300400") {
		t.Errorf("url = %q", form.Get("url"))
	}

	stats := m.GetStats()
	if stats["total_sent"].(int64) != 1 {
		t.Errorf("total_sent = %v", stats["total_sent"])
	}
}

func TestManager_Filters(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NotificationConfig)
		event  *NotificationEvent
		want   int
	}{
		{
			name:   "disabled",
			mutate: func(c *NotificationConfig) { c.PushoverEnabled = false },
			event:  &NotificationEvent{Type: NotificationWatchArmed, Title: "t", Message: "m"},
			want:   0,
		},
		{
			name:   "type disabled",
			mutate: func(c *NotificationConfig) { c.NotifyOnGPSDegraded = false },
			event:  &NotificationEvent{Type: NotificationGPSDegraded, Title: "t", Message: "m"},
			want:   0,
		},
		{
			name:   "below priority threshold",
			mutate: func(c *NotificationConfig) { c.PriorityThreshold = PriorityHigh },
			event:  &NotificationEvent{Type: NotificationWatchArmed, Title: "t", Message: "m"},
			want:   0,
		},
		{
			name:   "explicit priority overrides type default",
			mutate: func(c *NotificationConfig) { c.PriorityThreshold = PriorityHigh },
			event:  &NotificationEvent{Type: NotificationWatchArmed, Title: "t", Message: "m", Priority: intPtr(PriorityHigh)},
			want:   1,
		},
		{
			name:   "passes",
			mutate: func(c *NotificationConfig) {},
			event:  &NotificationEvent{Type: NotificationWatchDisarmed, Title: "t", Message: "m"},
			want:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &pushoverStub{}
			m, _ := newTestManager(t, stub)
			tt.mutate(m.config)

			if err := m.SendNotification(context.Background(), tt.event); err != nil {
				t.Fatalf("SendNotification: %v", err)
			}
			if stub.count() != tt.want {
				t.Errorf("requests = %d, want %d", stub.count(), tt.want)
			}
		})
	}
}

func intPtr(v int) *int { return &v }

func TestManager_RateLimiting(t *testing.T) {
	stub := &pushoverStub{}
	m, now := newTestManager(t, stub)
	ctx := context.Background()

	send := func() {
		t.Helper()
		if err := m.SendNotification(ctx, &NotificationEvent{Type: NotificationWatchArmed, Title: "t", Message: "m"}); err != nil {
			t.Fatalf("SendNotification: %v", err)
		}
	}

	send()
	send()
	if stub.count() != 1 {
		t.Fatalf("second send inside cooldown should be dropped, got %d requests", stub.count())
	}

	*now = now.Add(m.config.CooldownPeriod)
	send()
	if stub.count() != 2 {
		t.Fatalf("send after cooldown should pass, got %d requests", stub.count())
	}

	if got := m.GetStats()["rate_limited"].(int64); got != 1 {
		t.Errorf("rate_limited = %d, want 1", got)
	}
}

func TestManager_EmergencyRetryInterval(t *testing.T) {
	stub := &pushoverStub{}
	m, now := newTestManager(t, stub)
	ctx := context.Background()
	eb := NewEventBuilder(nil, "en")
	payload := DragPayload{Distance: 40, Threshold: 30}

	_ = m.SendNotification(ctx, eb.DragAlarmEvent(payload, *now))
	*now = now.Add(10 * time.Second)
	_ = m.SendNotification(ctx, eb.DragAlarmEvent(payload, *now))
	if stub.count() != 1 {
		t.Fatalf("emergency inside retry interval should be dropped, got %d", stub.count())
	}

	*now = now.Add(time.Minute)
	_ = m.SendNotification(ctx, eb.DragAlarmEvent(payload, *now))
	if stub.count() != 2 {
		t.Fatalf("emergency after retry interval should pass, got %d", stub.count())
	}
}

func TestManager_RetryBehaviour(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		requests int
	}{
		{"server error retried", http.StatusBadGateway, "bad gateway", 3},
		{"client error not retried", http.StatusBadRequest, `{"status":0,"errors":["user key is invalid"]}`, 1},
		{"api status zero not retried", http.StatusOK, `{"status":0,"errors":["application token is invalid"]}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &pushoverStub{status: tt.status, body: tt.body}
			m, _ := newTestManager(t, stub)

			err := m.SendNotification(context.Background(), &NotificationEvent{Type: NotificationWatchArmed, Title: "t", Message: "m"})
			if err == nil {
				t.Fatal("expected error")
			}
			if stub.count() != tt.requests {
				t.Errorf("requests = %d, want %d", stub.count(), tt.requests)
			}
			if got := m.GetStats()["total_failed"].(int64); got != 1 {
				t.Errorf("total_failed = %d, want 1", got)
			}
		})
	}
}

func TestManager_FormatAddsHostnameAndTime(t *testing.T) {
	stub := &pushoverStub{}
	m, now := newTestManager(t, stub)
	m.config.IncludeHostname = true
	m.hostname = "boat"

	if err := m.SendNotification(context.Background(), &NotificationEvent{Type: NotificationWatchArmed, Title: "Armed", Message: "m"}); err != nil {
		t.Fatal(err)
	}
	form := stub.last()
	if form.Get("title") != "boat - Armed" {
		t.Errorf("title = %q", form.Get("title"))
	}
	if !strings.Contains(form.Get("message"), "Time: "+now.Format("2006-01-02 15:04:05")) {
		t.Errorf("message = %q", form.Get("message"))
	}
}

func TestConfigFromUCI(t *testing.T) {
	cfg := uci.DefaultConfig()
	cfg.Pushover = uci.PushoverConfig{
		Enabled:           true,
		Token:             "tok",
		User:              "usr",
		PriorityThreshold: 5,
		CooldownS:         120,
	}

	nc := ConfigFromUCI(cfg)
	if !nc.PushoverEnabled {
		t.Error("expected pushover enabled")
	}
	if nc.PriorityThreshold != PriorityEmergency {
		t.Errorf("threshold = %d, want clamped to %d", nc.PriorityThreshold, PriorityEmergency)
	}
	if nc.CooldownPeriod != 2*time.Minute {
		t.Errorf("cooldown = %v", nc.CooldownPeriod)
	}

	cfg.Pushover.User = ""
	if ConfigFromUCI(cfg).PushoverEnabled {
		t.Error("missing user should disable pushover")
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/alarm"
	"github.com/anchorwatch/anchorwatch/pkg/audit"
	"github.com/anchorwatch/anchorwatch/pkg/bottom"
	"github.com/anchorwatch/anchorwatch/pkg/health"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
	"github.com/anchorwatch/anchorwatch/pkg/store"
	"github.com/anchorwatch/anchorwatch/pkg/telem"
	"github.com/anchorwatch/anchorwatch/pkg/watch"
)

var t0 = time.Date(2026, 8, 3, 18, 0, 0, 0, time.UTC)

type fakeWatcher struct {
	armed    bool
	lastReq  watch.ArmRequest
	armErr   error
	settings *pkg.AppSettings
}

func (w *fakeWatcher) Arm(ctx context.Context, req watch.ArmRequest) (*alarm.Transition, error) {
	if w.armErr != nil {
		return nil, w.armErr
	}
	w.armed = true
	w.lastReq = req
	return &alarm.Transition{From: alarm.Disarmed, To: alarm.ArmedSafe, At: t0, Reason: "armed"}, nil
}

func (w *fakeWatcher) Disarm(ctx context.Context) (*alarm.Transition, error) {
	if !w.armed {
		return nil, nil
	}
	w.armed = false
	return &alarm.Transition{From: alarm.ArmedSafe, To: alarm.Disarmed, At: t0, Reason: "disarmed"}, nil
}

func (w *fakeWatcher) Status() watch.View {
	state := alarm.Disarmed
	if w.armed {
		state = alarm.ArmedSafe
	}
	return watch.View{State: state.String(), Status: alarm.Status{State: state}, Language: "en"}
}

func (w *fakeWatcher) SessionKey() string {
	if w.armed {
		return "1"
	}
	return ""
}

func (w *fakeWatcher) UpdateSettings(s pkg.AppSettings) error {
	w.settings = &s
	return nil
}

type fakeStore struct {
	observations []pkg.BottomObservation
	sessions     map[int64]*pkg.AnchoringSession
	track        map[int64][]pkg.TrackPoint
	settings     *pkg.AppSettings
	// rejects observations once this many are stored, when > 0
	capacity int
}

func (s *fakeStore) AddObservation(ctx context.Context, obs pkg.BottomObservation) (int64, error) {
	if s.capacity > 0 && len(s.observations) >= s.capacity {
		return 0, errors.New("database is locked")
	}
	s.observations = append(s.observations, obs)
	return int64(len(s.observations)), nil
}

func (s *fakeStore) ListSessions(ctx context.Context, limit int) ([]pkg.AnchoringSession, error) {
	var out []pkg.AnchoringSession
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out, nil
}

func (s *fakeStore) GetSession(ctx context.Context, id int64) (*pkg.AnchoringSession, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sess, nil
}

func (s *fakeStore) TrackPoints(ctx context.Context, sessionID int64) ([]pkg.TrackPoint, error) {
	return s.track[sessionID], nil
}

func (s *fakeStore) SaveSettings(ctx context.Context, settings pkg.AppSettings) error {
	s.settings = &settings
	return nil
}

type fakeConfig struct{ saved int }

func (c *fakeConfig) SaveSettings(ctx context.Context, s pkg.AppSettings) error {
	c.saved++
	return errors.New("uci not available")
}

type testServer struct {
	srv       *Server
	watcher   *fakeWatcher
	store     *fakeStore
	config    *fakeConfig
	telemetry *telem.Store
	log       *bottom.Log
	journal   *audit.Journal
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logx.NewWithWriter("error", io.Discard)
	ts := &testServer{
		watcher: &fakeWatcher{},
		store: &fakeStore{
			sessions: map[int64]*pkg.AnchoringSession{
				3: {ID: 3, AnchorPoint: pkg.Geopoint{Latitude: 59.3, Longitude: 18.1}, DragThreshold: 30, StartedAt: t0},
			},
			track: map[int64][]pkg.TrackPoint{
				3: {{SessionID: 3, Timestamp: t0, Latitude: 59.3, Longitude: 18.1, Distance: 1.5}},
			},
		},
		config:    &fakeConfig{},
		telemetry: telem.NewStore(telem.Config{MaxSamplesPerSession: 100, MaxEvents: 100, RetentionHours: 24, MaxRAMMB: 4}),
		log:       bottom.NewLog(100),
	}
	tracker := health.NewTracker("test", logger)
	tracker.UpdateComponentHealth("gps", health.StatusHealthy, "ok")
	journal, err := audit.Open(audit.Config{Dir: t.TempDir()}, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { journal.Close() })
	ts.journal = journal

	srv, err := New(Deps{
		Watch:        ts.watcher,
		Store:        ts.store,
		Observations: ts.log,
		Telemetry:    ts.telemetry,
		Health:       tracker,
		Journal:      journal,
		Config:       ts.config,
	}, pkg.DefaultAppSettings(), logger)
	if err != nil {
		t.Fatal(err)
	}
	ts.srv = srv
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode(t, rec)["status"]; got != health.StatusHealthy {
		t.Errorf("health = %v", got)
	}

	rec = ts.do(t, http.MethodGet, "/health/live", "")
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "alive" {
		t.Errorf("live = %d %s", rec.Code, rec.Body.String())
	}
}

func TestArmDisarm(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		armErr   error
		wantCode int
	}{
		{name: "current fix", wantCode: http.StatusOK},
		{name: "explicit coordinates", body: `{"latitude":59.3,"longitude":18.1,"threshold_m":40}`, wantCode: http.StatusOK},
		{name: "bad json", body: `{"latitude":`, wantCode: http.StatusBadRequest},
		{name: "no position", armErr: watch.ErrNoPosition, wantCode: http.StatusServiceUnavailable},
		{name: "invalid anchor", armErr: errors.New("invalid coordinate"), wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.watcher.armErr = tt.armErr
			rec := ts.do(t, http.MethodPost, "/api/watch/arm", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			status := decode(t, rec)["status"].(map[string]interface{})
			if status["state"] != "armed_safe" {
				t.Errorf("state = %v", status["state"])
			}
		})
	}

	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/watch/arm", `{"latitude":59.3,"longitude":18.1,"threshold_m":40}`)
	if ts.watcher.lastReq.ThresholdM != 40 || *ts.watcher.lastReq.Latitude != 59.3 {
		t.Errorf("arm request = %+v", ts.watcher.lastReq)
	}
	rec := ts.do(t, http.MethodPost, "/api/watch/disarm", "")
	if rec.Code != http.StatusOK || decode(t, rec)["transition"] == nil {
		t.Errorf("disarm = %d %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodPost, "/api/watch/disarm", "")
	if rec.Code != http.StatusOK || decode(t, rec)["transition"] != nil {
		t.Errorf("idle disarm = %d %s", rec.Code, rec.Body.String())
	}
}

func TestTrack(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/watch/track", "")
	if samples := decode(t, rec)["samples"].([]interface{}); len(samples) != 0 {
		t.Errorf("idle samples = %v", samples)
	}

	ts.watcher.armed = true
	now := time.Now()
	for i := 0; i < 5; i++ {
		ts.telemetry.AddSample(telem.Sample{Timestamp: now.Add(time.Duration(i-4) * time.Second), Session: "1", DistanceM: float64(i)})
	}
	rec = ts.do(t, http.MethodGet, "/api/watch/track?limit=2", "")
	if samples := decode(t, rec)["samples"].([]interface{}); len(samples) != 2 {
		t.Errorf("limited samples = %d, want 2", len(samples))
	}
	rec = ts.do(t, http.MethodGet, "/api/watch/track", "")
	if samples := decode(t, rec)["samples"].([]interface{}); len(samples) != 5 {
		t.Errorf("recent samples = %d, want 5", len(samples))
	}
	if rec := ts.do(t, http.MethodGet, "/api/watch/track?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit code = %d", rec.Code)
	}
}

func TestEventHistory(t *testing.T) {
	ts := newTestServer(t)
	for i, typ := range []string{pkg.EventWatchArmed, pkg.EventDragAlarm, pkg.EventRecovered} {
		ev := pkg.Event{ID: typ, Type: typ, Timestamp: t0.Add(time.Duration(i) * time.Minute)}
		if err := ts.journal.Record(ev); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		query string
		code  int
		want  int
	}{
		{"all", "", http.StatusOK, 3},
		{"since", "?since=2026-08-03T18:01:00Z", http.StatusOK, 2},
		{"by type", "?type=drag_alarm&type=drag_recovered", http.StatusOK, 2},
		{"limit", "?limit=1", http.StatusOK, 1},
		{"bad since", "?since=yesterday", http.StatusBadRequest, 0},
		{"negative limit", "?limit=-1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/events/history"+tt.query, "")
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d: %s", rec.Code, tt.code, rec.Body.String())
			}
			if tt.code != http.StatusOK {
				return
			}
			if events := decode(t, rec)["events"].([]interface{}); len(events) != tt.want {
				t.Errorf("events = %d, want %d", len(events), tt.want)
			}
		})
	}
}

func TestTelemetryDump(t *testing.T) {
	ts := newTestServer(t)
	ts.telemetry.AddSample(telem.Sample{Timestamp: time.Now(), Session: "4", DistanceM: 12})

	rec := ts.do(t, http.MethodGet, "/api/telemetry/dump", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "telemetry.json") {
		t.Errorf("content disposition = %q", cd)
	}
	body := decode(t, rec)
	samples, ok := body["samples"].(map[string]interface{})
	if !ok || samples["4"] == nil {
		t.Errorf("dump samples = %v", body["samples"])
	}
}

func TestAddObservationsStoreFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.store.capacity = 2

	body := `{"observations":[
		{"latitude":59.3,"longitude":18.1,"bottom_type":"sand","confidence":"high"},
		{"latitude":59.3001,"longitude":18.1,"bottom_type":"rock","confidence":"high"},
		{"latitude":59.3002,"longitude":18.1001,"bottom_type":"mud","confidence":"low"}
	]}`
	rec := ts.do(t, http.MethodPost, "/api/bottom/observations", body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
	}
	if len(ts.store.observations) != 2 || ts.log.Len() != 2 {
		t.Errorf("stored %d, logged %d, want 2 each", len(ts.store.observations), ts.log.Len())
	}

	// an invalid entry after a valid one must not reach either side
	ts.store.capacity = 0
	body = `{"observations":[
		{"latitude":59.3,"longitude":18.1,"bottom_type":"sand","confidence":"high"},
		{"latitude":59.3,"longitude":18.1,"bottom_type":"lava","confidence":"high"}
	]}`
	if rec := ts.do(t, http.MethodPost, "/api/bottom/observations", body); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid batch code = %d", rec.Code)
	}
	if len(ts.store.observations) != 2 || ts.log.Len() != 2 {
		t.Errorf("after invalid batch stored %d, logged %d", len(ts.store.observations), ts.log.Len())
	}
}

func TestBottomEndpoints(t *testing.T) {
	ts := newTestServer(t)

	body := `{"observations":[
		{"latitude":59.3,"longitude":18.1,"bottom_type":"sand","confidence":"high"},
		{"latitude":59.3001,"longitude":18.1,"bottom_type":"sand"},
		{"latitude":59.3002,"longitude":18.1001,"bottom_type":"mud","confidence":"low"}
	]}`
	rec := ts.do(t, http.MethodPost, "/api/bottom/observations", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add code = %d: %s", rec.Code, rec.Body.String())
	}
	if len(ts.store.observations) != 3 || ts.log.Len() != 3 {
		t.Errorf("stored %d, logged %d", len(ts.store.observations), ts.log.Len())
	}
	if ts.store.observations[1].Confidence != pkg.ConfidenceMedium || ts.store.observations[1].Timestamp.IsZero() {
		t.Errorf("defaults not applied: %+v", ts.store.observations[1])
	}

	invalid := []string{
		`{"observations":[]}`,
		`{"observations":[{"latitude":95,"longitude":0,"bottom_type":"sand","confidence":"high"}]}`,
		`{"observations":[{"latitude":1,"longitude":0,"bottom_type":"lava","confidence":"high"}]}`,
	}
	for _, b := range invalid {
		if rec := ts.do(t, http.MethodPost, "/api/bottom/observations", b); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: code = %d", b, rec.Code)
		}
	}
	if ts.log.Len() != 3 {
		t.Errorf("invalid observations were logged: %d", ts.log.Len())
	}

	rec = ts.do(t, http.MethodGet, "/api/bottom/predict?lat=59.3&lon=18.1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("predict code = %d: %s", rec.Code, rec.Body.String())
	}
	prediction := decode(t, rec)["prediction"].(map[string]interface{})
	if prediction["bottom_type"] != "sand" || prediction["nearby_record_count"].(float64) != 3 {
		t.Errorf("prediction = %v", prediction)
	}

	rec = ts.do(t, http.MethodGet, "/api/bottom/predict?lat=0&lon=0", "")
	if rec.Code != http.StatusOK || decode(t, rec)["prediction"] != nil {
		t.Errorf("empty area = %d %s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodGet, "/api/bottom/predict?lat=59.3", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing lon code = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/bottom/heatmap?lat=59.3&lon=18.1&radius_km=0.5&grid=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("heatmap code = %d", rec.Code)
	}
	fc := decode(t, rec)
	if fc["type"] != "FeatureCollection" {
		t.Errorf("heatmap type = %v", fc["type"])
	}
	features := fc["features"].([]interface{})
	if len(features) == 0 {
		t.Fatal("heatmap has no features")
	}
	props := features[0].(map[string]interface{})["properties"].(map[string]interface{})
	if _, ok := props["bottom_type"]; !ok {
		t.Errorf("feature properties = %v", props)
	}
}

func TestScope(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/scope?rode=40&depth=7&bow_height=1&boat_length=12&lat=59.3&lon=18.1&segments=8", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	plan := out["plan"].(map[string]interface{})
	if plan["ratio"].(float64) != 5 || plan["adequate"] != true {
		t.Errorf("plan = %v", plan)
	}
	if circle := out["swing_circle"].([]interface{}); len(circle) != 8 {
		t.Errorf("circle points = %d, want 8", len(circle))
	}

	for _, q := range []string{"", "rode=-1&depth=5", "rode=abc"} {
		if rec := ts.do(t, http.MethodGet, "/api/scope?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%q: code = %d", q, rec.Code)
		}
	}
}

func TestSessionsAndExport(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/sessions", "")
	if sessions := decode(t, rec)["sessions"].([]interface{}); len(sessions) != 1 {
		t.Errorf("sessions = %v", sessions)
	}

	rec = ts.do(t, http.MethodGet, "/api/sessions/3/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("csv code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "anchorwatch_session_3_") {
		t.Errorf("disposition = %q", cd)
	}
	if lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n"); len(lines) != 2 {
		t.Errorf("csv lines = %d, want 2", len(lines))
	}

	rec = ts.do(t, http.MethodGet, "/api/sessions/3/export?format=xlsx", "")
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Errorf("xlsx export = %d, %d bytes", rec.Code, rec.Body.Len())
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/sessions/99/export", http.StatusNotFound},
		{"/api/sessions/abc/export", http.StatusBadRequest},
		{"/api/sessions/3/export?format=pdf", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := ts.do(t, http.MethodGet, tt.path, ""); rec.Code != tt.want {
			t.Errorf("%s: code = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestSettings(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get code = %d", rec.Code)
	}
	if got := decode(t, rec)["drag_threshold_m"].(float64); got != pkg.DefaultAppSettings().DragThreshold {
		t.Errorf("threshold = %v", got)
	}

	rec = ts.do(t, http.MethodPut, "/api/settings", `{"drag_threshold_m":55,"language":"de"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put code = %d: %s", rec.Code, rec.Body.String())
	}
	if ts.watcher.settings == nil || ts.watcher.settings.DragThreshold != 55 {
		t.Errorf("watch settings = %+v", ts.watcher.settings)
	}
	if ts.store.settings == nil || ts.store.settings.Language != "de" {
		t.Errorf("stored settings = %+v", ts.store.settings)
	}
	if ts.config.saved != 1 {
		t.Errorf("uci saves = %d, want 1", ts.config.saved)
	}
	if ts.store.settings.UpdateIntervalSeconds != pkg.DefaultAppSettings().UpdateIntervalSeconds {
		t.Error("partial update dropped unchanged fields")
	}

	rec = ts.do(t, http.MethodPut, "/api/settings", `{"drag_threshold_m":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid put code = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/api/settings", "")
	if got := decode(t, rec)["drag_threshold_m"].(float64); got != 55 {
		t.Errorf("threshold after rejected update = %v", got)
	}
}

func TestWebsocketStream(t *testing.T) {
	ts := newTestServer(t)
	httpSrv := httptest.NewServer(ts.srv.Handler())
	defer httpSrv.Close()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first map[string]interface{}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first["type"] != "status" {
		t.Errorf("first message = %v", first)
	}

	hub := ts.srv.Hub()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	hub.Broadcast(map[string]string{"type": "event", "event": "drag_alarm"})

	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg["event"] != "drag_alarm" {
		t.Errorf("broadcast = %v", msg)
	}

	hub.Close()
	if hub.ClientCount() != 0 {
		t.Errorf("clients after close = %d", hub.ClientCount())
	}
}

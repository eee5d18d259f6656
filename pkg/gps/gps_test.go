package gps

import (
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"googlemaps.github.io/maps"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
)

// fakeExecutor answers commands from a table keyed by the joined command line
type fakeExecutor struct {
	mu      sync.Mutex
	outputs map[string]string
	calls   []string
}

func (f *fakeExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	out, ok := f.outputs[cmd]
	if !ok {
		return nil, errors.New("exit status 1")
	}
	return []byte(out), nil
}

type fakeCaller struct {
	resp string
	err  error
}

func (f *fakeCaller) Call(ctx context.Context, method, request string) ([]byte, error) {
	if method != StarlinkHandleMethod || request != `{"get_location":{}}` {
		return nil, errors.New("unexpected call")
	}
	return []byte(f.resp), f.err
}

type fakeGeolocator struct {
	got *maps.GeolocationRequest
}

func (f *fakeGeolocator) Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error) {
	f.got = r
	return &maps.GeolocationResult{Location: maps.LatLng{Lat: 59.33, Lng: 18.07}, Accuracy: 850}, nil
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestParseCGPSINFO(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		output  string
		wantLat float64
		wantLon float64
		wantTS  time.Time
		wantErr bool
	}{
		{
			name:    "north east",
			output:  "+CGPSINFO: 5928.803108,N,01816.792594,E,010726,115930.0,21.5,0.0,0.0\nOK\n",
			wantLat: 59 + 28.803108/60,
			wantLon: 18 + 16.792594/60,
			wantTS:  time.Date(2026, 7, 1, 11, 59, 30, 0, time.UTC),
		},
		{
			name:    "south west without time",
			output:  "+CGPSINFO: 3352.128,S,15112.558,W,,,0,0,0",
			wantLat: -(33 + 52.128/60),
			wantLon: -(151 + 12.558/60),
			wantTS:  now,
		},
		{name: "no fix", output: "+CGPSINFO: ,,,,,,,,\nOK", wantErr: true},
		{name: "no line", output: "ERROR", wantErr: true},
		{name: "garbage", output: "+CGPSINFO: abc,N,def,E,,,,,", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix, err := parseCGPSINFO(tt.output, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !near(fix.Latitude, tt.wantLat) || !near(fix.Longitude, tt.wantLon) {
				t.Errorf("fix = %v,%v want %v,%v", fix.Latitude, fix.Longitude, tt.wantLat, tt.wantLon)
			}
			if !fix.Timestamp.Equal(tt.wantTS) {
				t.Errorf("timestamp = %v, want %v", fix.Timestamp, tt.wantTS)
			}
			if fix.Accuracy != nil {
				t.Errorf("accuracy should be unknown, got %v", *fix.Accuracy)
			}
		})
	}
}

func TestRutOSSourceFallsBackToUbus(t *testing.T) {
	exec := &fakeExecutor{outputs: map[string]string{
		"which gsmctl":          "/usr/sbin/gsmctl",
		"gsmctl -A AT+CGPSINFO": "+CGPSINFO: ,,,,,,,,",
		"ubus call gps info":    `{"latitude":59.48,"longitude":18.28,"altitude":12,"accuracy":4.5,"satellites":9}`,
	}}
	src := NewRutOSSource(exec, 1, logx.New("error"))

	if !src.Available(context.Background()) {
		t.Fatal("source should be available")
	}
	fix, err := src.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fix.Latitude != 59.48 || fix.Accuracy == nil || *fix.Accuracy != 4.5 || fix.Source != pkg.SourceRutOS {
		t.Errorf("fix = %+v", fix)
	}

	exec.outputs["ubus call gps info"] = `{"latitude":0,"longitude":0}`
	if _, err := src.Collect(context.Background()); !errors.Is(err, ErrNoFix) {
		t.Errorf("zero position err = %v, want ErrNoFix", err)
	}
}

func TestStarlinkSource(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	caller := &fakeCaller{resp: `{"getLocation":{"lla":{"lat":59.480051,"lon":18.279876,"alt":21.4},"sigmaM":3.2,"source":"GNC_FUSED"}}`}
	src := NewStarlinkSource(ln.Addr().String(), caller, 2, logx.New("error"))

	if !src.Available(context.Background()) {
		t.Error("listening dish should be available")
	}
	fix, err := src.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fix.Latitude != 59.480051 || fix.Accuracy == nil || *fix.Accuracy != 3.2 || fix.Source != pkg.SourceStarlink {
		t.Errorf("fix = %+v", fix)
	}

	caller.resp = `{"getLocation":{}}`
	if _, err := src.Collect(context.Background()); !errors.Is(err, ErrNoFix) {
		t.Errorf("empty location err = %v", err)
	}

	closed := NewStarlinkSource("127.0.0.1:1", caller, 2, logx.New("error"))
	if closed.Available(context.Background()) {
		t.Error("closed port should be unavailable")
	}
}

func TestParseServingCell(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    ServingCell
		wantErr bool
	}{
		{
			name:   "lte",
			output: `+QENG: "servingcell","NOCONN","LTE","FDD",240,01,18BCF1F,443,1300,3,5,5,2A3,-84,-8,-53,17,0,-,43` + "\nOK",
			want:   ServingCell{Radio: "lte", MCC: 240, MNC: 1, CellID: 0x18BCF1F, LAC: 0x2A3, Signal: -84},
		},
		{
			name:   "wcdma",
			output: `+QENG: "servingcell","NOCONN","WCDMA",240,07,2A3,5F1,10737,279,1,-79,-6,-,-,-,-,-`,
			want:   ServingCell{Radio: "wcdma", MCC: 240, MNC: 7, CellID: 0x5F1, LAC: 0x2A3, Signal: -79},
		},
		{
			name:   "missing tac",
			output: `+QENG: "servingcell","NOCONN","LTE","FDD",240,01,18BCF1F,443,1300,3,5,5,-,-84,-8,-53,17,0,-,43`,
			want:   ServingCell{Radio: "lte", MCC: 240, MNC: 1, CellID: 0x18BCF1F, LAC: 0x18BCF1F >> 8, Signal: -84},
		},
		{name: "nr5g", output: `+QENG: "servingcell","NOCONN","NR5G-SA","TDD",240,01,1,2,3`, wantErr: true},
		{name: "no report", output: "OK", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseServingCell(tt.output)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && *got != tt.want {
				t.Errorf("cell = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestCellularSource(t *testing.T) {
	exec := &fakeExecutor{outputs: map[string]string{
		`gsmctl -A AT+QENG="servingcell"`: `+QENG: "servingcell","NOCONN","LTE","FDD",240,01,18BCF1F,443,1300,3,5,5,2A3,-84,-8,-53,17,0,-,43`,
	}}
	geo := &fakeGeolocator{}
	src := NewCellularSource(exec, geo, 3, logx.New("error"))

	fix, err := src.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fix.Accuracy == nil || *fix.Accuracy != 850 || fix.Source != pkg.SourceCellular {
		t.Errorf("fix = %+v", fix)
	}
	if geo.got == nil || len(geo.got.CellTowers) != 1 || geo.got.CellTowers[0].MobileCountryCode != 240 || geo.got.ConsiderIP {
		t.Errorf("request = %+v", geo.got)
	}
	if src.Available(context.Background()) {
		t.Error("gsmctl missing, source should be unavailable")
	}
}

// stubSource returns a fixed result
type stubSource struct {
	name      string
	priority  int
	available bool
	fix       *pkg.Geopoint
	err       error
	calls     int
	mu        sync.Mutex
}

func (s *stubSource) Name() string                       { return s.name }
func (s *stubSource) Priority() int                      { return s.priority }
func (s *stubSource) Available(ctx context.Context) bool { return s.available }
func (s *stubSource) Collect(ctx context.Context) (*pkg.Geopoint, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.fix
	return &cp, nil
}

func TestCollectorFetchPriorityAndValidation(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		sources    []*stubSource
		wantSource string
		wantErr    bool
	}{
		{
			name: "lowest priority number wins",
			sources: []*stubSource{
				{name: "b", priority: 2, available: true, fix: &pkg.Geopoint{Latitude: 2, Longitude: 2, Timestamp: now}},
				{name: "a", priority: 1, available: true, fix: &pkg.Geopoint{Latitude: 1, Longitude: 1, Timestamp: now}},
			},
			wantSource: "a",
		},
		{
			name: "unavailable skipped",
			sources: []*stubSource{
				{name: "a", priority: 1, available: false},
				{name: "b", priority: 2, available: true, fix: &pkg.Geopoint{Latitude: 2, Longitude: 2, Timestamp: now}},
			},
			wantSource: "b",
		},
		{
			name: "failing source falls through",
			sources: []*stubSource{
				{name: "a", priority: 1, available: true, err: errors.New("timeout")},
				{name: "b", priority: 2, available: true, fix: &pkg.Geopoint{Latitude: 2, Longitude: 2, Timestamp: now}},
			},
			wantSource: "b",
		},
		{
			name: "stale fix rejected",
			sources: []*stubSource{
				{name: "a", priority: 1, available: true, fix: &pkg.Geopoint{Latitude: 1, Longitude: 1, Timestamp: now.Add(-2 * time.Minute)}},
				{name: "b", priority: 2, available: true, fix: &pkg.Geopoint{Latitude: 2, Longitude: 2, Timestamp: now}},
			},
			wantSource: "b",
		},
		{
			name: "coarse fix rejected",
			sources: []*stubSource{
				{name: "a", priority: 1, available: true, fix: &pkg.Geopoint{Latitude: 1, Longitude: 1, Accuracy: pkg.AccuracyOf(900), Timestamp: now}},
			},
			wantErr: true,
		},
		{
			name: "invalid coordinate rejected",
			sources: []*stubSource{
				{name: "a", priority: 1, available: true, fix: &pkg.Geopoint{Latitude: 95, Longitude: 1, Timestamp: now}},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sources := make([]Source, len(tt.sources))
			for i, s := range tt.sources {
				sources[i] = s
			}
			c := NewCollector(Config{MaxFixAge: time.Minute, MaxAccuracyM: 500}, logx.New("error"), sources...)
			c.now = func() time.Time { return now }

			fix, err := c.Fetch(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if c.LastFix() != nil {
					t.Error("LastFix set after failure")
				}
				return
			}
			if fix.Source != tt.wantSource {
				t.Errorf("source = %q, want %q", fix.Source, tt.wantSource)
			}
			if last := c.LastFix(); last == nil || last.Source != tt.wantSource {
				t.Errorf("LastFix = %+v", last)
			}
		})
	}
}

func TestCollectorNoSources(t *testing.T) {
	c := NewCollector(DefaultConfig(), logx.New("error"))
	if _, err := c.Fetch(context.Background()); !errors.Is(err, ErrNoSources) {
		t.Errorf("err = %v, want ErrNoSources", err)
	}
}

func TestCollectorSubscribeCancel(t *testing.T) {
	src := &stubSource{name: "a", priority: 1, available: true, fix: &pkg.Geopoint{Latitude: 1, Longitude: 1}}
	c := NewCollector(Config{}, logx.New("error"), src)

	fixes := make(chan *pkg.Geopoint, 16)
	id := c.Subscribe(5*time.Millisecond, func(fix *pkg.Geopoint, err error) {
		if err == nil {
			select {
			case fixes <- fix:
			default:
			}
		}
	})

	for i := 0; i < 3; i++ {
		select {
		case <-fixes:
		case <-time.After(2 * time.Second):
			t.Fatalf("fix %d not delivered", i)
		}
	}

	if !c.Cancel(id) {
		t.Fatal("Cancel returned false for a live subscription")
	}
	if c.Cancel(id) {
		t.Error("second Cancel should report false")
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	src.mu.Lock()
	before := src.calls
	src.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	src.mu.Lock()
	after := src.calls
	src.mu.Unlock()
	if after != before {
		t.Errorf("source polled after cancel: %d -> %d", before, after)
	}
}

func TestShellJoin(t *testing.T) {
	got := shellJoin("gsmctl", []string{"-A", `AT+QENG="servingcell"`, "it's"})
	want := `gsmctl '-A' 'AT+QENG="servingcell"' 'it'\''s'`
	if got != want {
		t.Errorf("shellJoin = %s, want %s", got, want)
	}
}

package audit

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
)

func newJournal(t *testing.T, cfg Config) *Journal {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	j, err := Open(cfg, logx.NewWithWriter("error", io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func event(typ string, at time.Time) pkg.Event {
	return pkg.Event{ID: typ + at.Format("150405"), Type: typ, Timestamp: at, Reason: "test"}
}

func TestRecordAndQuery(t *testing.T) {
	j := newJournal(t, Config{})
	t0 := time.Date(2026, 7, 1, 22, 0, 0, 0, time.UTC)

	for i, typ := range []string{pkg.EventWatchArmed, pkg.EventExcursion, pkg.EventDragAlarm, pkg.EventRecovered} {
		if err := j.Record(event(typ, t0.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		since time.Time
		types []string
		limit int
		want  []string
	}{
		{"all", time.Time{}, nil, 0, []string{pkg.EventWatchArmed, pkg.EventExcursion, pkg.EventDragAlarm, pkg.EventRecovered}},
		{"since", t0.Add(2 * time.Minute), nil, 0, []string{pkg.EventDragAlarm, pkg.EventRecovered}},
		{"by type", time.Time{}, []string{pkg.EventDragAlarm}, 0, []string{pkg.EventDragAlarm}},
		{"newest within limit", time.Time{}, nil, 2, []string{pkg.EventDragAlarm, pkg.EventRecovered}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.Query(tt.since, tt.types, tt.limit)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(got), len(tt.want))
			}
			for i, ev := range got {
				if ev.Type != tt.want[i] {
					t.Errorf("event %d = %s, want %s", i, ev.Type, tt.want[i])
				}
			}
		})
	}
}

func TestRotationKeepsNewestFiles(t *testing.T) {
	dir := t.TempDir()
	j := newJournal(t, Config{Dir: dir, MaxFileSize: 200, MaxFiles: 2})
	tick := time.Now().Add(time.Hour)
	j.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	base := time.Date(2026, 7, 1, 4, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		if err := j.Record(event(pkg.EventGPSDegraded, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, "events-*.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("%d journal files after rotation, want 2", len(files))
	}

	got, err := j.Query(time.Time{}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || len(got) >= 10 {
		t.Fatalf("kept %d events, want some but not all", len(got))
	}
	if last := got[len(got)-1]; !last.Timestamp.Equal(base.Add(9 * time.Minute)) {
		t.Errorf("newest event at %v, want %v", last.Timestamp, base.Add(9*time.Minute))
	}
}

func TestQuerySkipsTornLines(t *testing.T) {
	dir := t.TempDir()
	j := newJournal(t, Config{Dir: dir})
	at := time.Date(2026, 7, 1, 3, 0, 0, 0, time.UTC)
	if err := j.Record(event(pkg.EventDragAlarm, at)); err != nil {
		t.Fatal(err)
	}

	torn := filepath.Join(dir, "events-0000000000000000001.jsonl")
	if err := os.WriteFile(torn, []byte("{\"id\":\"half\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := j.Query(time.Time{}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Type != pkg.EventDragAlarm {
		t.Errorf("got %+v", got)
	}
}

func TestRecordAfterClose(t *testing.T) {
	j := newJournal(t, Config{})
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	if err := j.Record(event(pkg.EventWatchArmed, time.Now())); err == nil {
		t.Error("record after close succeeded")
	}
	if err := j.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestOpenWithoutDir(t *testing.T) {
	if _, err := Open(Config{}, nil); err == nil {
		t.Error("open without directory succeeded")
	}
}

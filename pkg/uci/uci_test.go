package uci

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
	"github.com/anchorwatch/anchorwatch/pkg/retry"
)

// fakeUCI puts a uci script on PATH that appends its arguments to a log file
func fakeUCI(t *testing.T, failOn string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	dir := t.TempDir()
	logFile := filepath.Join(dir, "calls.log")
	script := `#!/bin/sh
echo "$@" >> "` + logFile + `"
case "$*" in
  *` + failOn + `*) exit 1 ;;
esac
if [ "$1" = "-q" ] && [ "$2" = "get" ]; then
  echo "30"
fi
`
	if err := os.WriteFile(filepath.Join(dir, "uci"), []byte(script), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	t.Setenv("PATH", dir)
	return logFile
}

func newTestUCI() *UCI {
	return NewUCI(logx.NewWithWriter("error", io.Discard), retry.NewRunner(retry.Config{MaxAttempts: 1}))
}

func readCalls(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestSaveSettings(t *testing.T) {
	logFile := fakeUCI(t, "never-matches")
	u := newTestUCI()

	s := pkg.DefaultAppSettings()
	s.DragThreshold = 37.5
	if err := u.SaveSettings(context.Background(), s); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	calls := readCalls(t, logFile)
	want := []string{
		"set anchorwatch.main.drag_threshold_m=37.5",
		"set anchorwatch.main.update_interval_s=5",
		"set anchorwatch.main.smoothing_window=5",
		"set anchorwatch.main.debounce_s=25",
		"set anchorwatch.main.language=en",
		"commit anchorwatch",
	}
	if strings.Join(calls, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v\nwant %v", calls, want)
	}
}

func TestSaveSettingsRevertsOnFailure(t *testing.T) {
	logFile := fakeUCI(t, "smoothing_window")
	u := newTestUCI()

	if err := u.SaveSettings(context.Background(), pkg.DefaultAppSettings()); err == nil {
		t.Fatal("expected error")
	}
	calls := readCalls(t, logFile)
	if calls[len(calls)-1] != "revert anchorwatch" {
		t.Errorf("last call = %q, want revert", calls[len(calls)-1])
	}
}

func TestGet(t *testing.T) {
	fakeUCI(t, "never-matches")
	v, err := newTestUCI().Get(context.Background(), "main", "drag_threshold_m")
	if err != nil || v != "30" {
		t.Errorf("Get = %q, %v", v, err)
	}
}

func TestSaveSettingsValidates(t *testing.T) {
	s := pkg.DefaultAppSettings()
	s.DragThreshold = -1
	if err := newTestUCI().SaveSettings(context.Background(), s); err == nil {
		t.Error("invalid settings accepted")
	}
}

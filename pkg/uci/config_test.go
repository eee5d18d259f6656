package uci

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anchorwatch")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cfg.Enable || cfg.DragThresholdM != 30 || cfg.DebounceS != 25 || cfg.SmoothingWindow != 5 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if got := cfg.EnabledSources(); !reflect.DeepEqual(got, []string{"rutos", "starlink"}) {
		t.Errorf("EnabledSources = %v", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
# anchorwatch config
config anchorwatch 'main'
	option enable '1'
	option log_level 'debug'
	option drag_threshold_m '42.5'
	option smoothing_window '8'
	option debounce_s '40'
	option language 'de'
	option db_path '/tmp/aw.db'
	option audit_dir ''
	option api_listen '127.0.0.1:9000'

config source 'starlink'
	option priority '0'
	option host '10.0.0.1:9200'

config source 'cellular'
	option enabled '1'
	option api_key 'secret key'

config pushover 'pushover'
	option enabled '1'
	option token 'tok'
	option user 'usr'
	option priority_threshold '0'

config mqtt 'mqtt'
	option enabled 'yes'
	option broker 'tcp://broker:1883'
	option topic_prefix 'boat/anchor/'
	option qos '2'
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.DragThresholdM != 42.5 || cfg.SmoothingWindow != 8 || cfg.DebounceS != 40 {
		t.Errorf("main overrides not applied: %+v", cfg)
	}
	if cfg.Language != "de" || cfg.DBPath != "/tmp/aw.db" || cfg.AuditDir != "" || cfg.APIListen != "127.0.0.1:9000" {
		t.Errorf("string options not applied: %+v", cfg)
	}
	if cfg.Sources["starlink"].Host != "10.0.0.1:9200" || cfg.Sources["cellular"].APIKey != "secret key" {
		t.Errorf("source options not applied: %+v %+v", cfg.Sources["starlink"], cfg.Sources["cellular"])
	}
	if got := cfg.EnabledSources(); !reflect.DeepEqual(got, []string{"starlink", "rutos", "cellular"}) {
		t.Errorf("EnabledSources = %v", got)
	}
	if !cfg.Pushover.Enabled || cfg.Pushover.Token != "tok" || cfg.Pushover.PriorityThreshold != 0 {
		t.Errorf("pushover = %+v", cfg.Pushover)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.TopicPrefix != "boat/anchor" || cfg.MQTT.QoS != 2 {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if cfg.LastModified().IsZero() {
		t.Error("LastModified not recorded")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"threshold too small": "config anchorwatch 'main'\n\toption drag_threshold_m '1'\n",
		"zero window":         "config anchorwatch 'main'\n\toption smoothing_window '0'\n",
		"pushover no creds":   "config pushover 'pushover'\n\toption enabled '1'\n",
		"mqtt no broker":      "config mqtt 'mqtt'\n\toption enabled '1'\n",
		"garbage line":        "config anchorwatch 'main'\nbogus line\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.Settings()
	s.DragThreshold = 55
	s.Language = "sv"
	if err := cfg.ApplySettings(s); err != nil {
		t.Fatal(err)
	}
	if cfg.DragThresholdM != 55 || cfg.Language != "sv" {
		t.Errorf("settings not applied: %+v", cfg)
	}
	bad := s
	bad.UpdateIntervalSeconds = 0
	if err := cfg.ApplySettings(bad); err == nil {
		t.Error("invalid settings accepted")
	}
}

func TestUnquoteAndSplit(t *testing.T) {
	if got := unquote(`'a b'`); got != "a b" {
		t.Errorf("unquote = %q", got)
	}
	if got := unquote(`"x'`); got != `"x'` {
		t.Errorf("mismatched quotes = %q", got)
	}
	w, rest := splitWord("option  name   'v'")
	if w != "option" || !strings.HasPrefix(rest, "name") {
		t.Errorf("splitWord = %q, %q", w, rest)
	}
}

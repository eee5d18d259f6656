package uci

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/anchorwatch/anchorwatch/pkg"
)

// DefaultConfigPath is where the daemon looks for its UCI file
const DefaultConfigPath = "/etc/config/anchorwatch"

// Config represents the anchorwatch configuration
type Config struct {
	// Main configuration
	Enable          bool    `json:"enable"`
	LogLevel        string  `json:"log_level"`
	Syslog          bool    `json:"syslog"`
	UpdateIntervalS int     `json:"update_interval_s"`
	SmoothingWindow int     `json:"smoothing_window"`
	DragThresholdM  float64 `json:"drag_threshold_m"`
	DebounceS       int     `json:"debounce_s"`
	MaxFixAgeS      int     `json:"max_fix_age_s"`
	Language        string  `json:"language"`
	DBPath          string  `json:"db_path"`
	AuditDir        string  `json:"audit_dir"`
	MaxObservations int     `json:"max_observations"`
	RetentionHours  int     `json:"retention_hours"`
	MaxRAMMB        int     `json:"max_ram_mb"`
	APIListen       string  `json:"api_listen"`
	MetricsPort     int     `json:"metrics_port"`

	// GPS sources by name (rutos, starlink, cellular)
	Sources map[string]*SourceConfig `json:"sources"`

	Pushover PushoverConfig `json:"pushover"`
	MQTT     MQTTConfig     `json:"mqtt"`

	lastModified time.Time
}

// SourceConfig configures one GPS source
type SourceConfig struct {
	Enabled    bool   `json:"enabled"`
	Priority   int    `json:"priority"`
	TimeoutS   int    `json:"timeout_s"`
	Host       string `json:"host,omitempty"`
	SSHHost    string `json:"ssh_host,omitempty"`
	SSHPort    int    `json:"ssh_port,omitempty"`
	SSHUser    string `json:"ssh_user,omitempty"`
	SSHKeyPath string `json:"ssh_key,omitempty"`
	APIKey     string `json:"-"`
}

// PushoverConfig holds Pushover credentials and policy
type PushoverConfig struct {
	Enabled           bool   `json:"enabled"`
	Token             string `json:"-"`
	User              string `json:"-"`
	Device            string `json:"device,omitempty"`
	PriorityThreshold int    `json:"priority_threshold"`
	CooldownS         int    `json:"cooldown_s"`
}

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"-"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
}

// Default configuration values
const (
	DefaultUpdateIntervalS = 5
	DefaultSmoothingWindow = 5
	DefaultDragThresholdM  = 30.0
	DefaultDebounceS       = 25
	DefaultMaxFixAgeS      = 60
	DefaultLanguage        = "en"
	DefaultDBPath          = "/etc/anchorwatch/anchorwatch.db"
	DefaultAuditDir        = "/var/log/anchorwatch"
	DefaultMaxObservations = 1000
	DefaultRetentionHours  = 24
	DefaultMaxRAMMB        = 8
	DefaultAPIListen       = ":8088"
	DefaultMetricsPort     = 9101
	DefaultLogLevel        = "info"
	DefaultStarlinkHost    = "192.168.100.1:9200"
	DefaultTopicPrefix     = "anchorwatch"
)

// LoadConfig loads and validates the configuration. A missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	cfg.lastModified = info.ModTime()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read UCI config: %w", err)
	}
	if err := cfg.parseUCI(string(data)); err != nil {
		return nil, fmt.Errorf("failed to parse UCI config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the configuration used when no file exists
func DefaultConfig() *Config {
	return &Config{
		Enable:          true,
		LogLevel:        DefaultLogLevel,
		Syslog:          true,
		UpdateIntervalS: DefaultUpdateIntervalS,
		SmoothingWindow: DefaultSmoothingWindow,
		DragThresholdM:  DefaultDragThresholdM,
		DebounceS:       DefaultDebounceS,
		MaxFixAgeS:      DefaultMaxFixAgeS,
		Language:        DefaultLanguage,
		DBPath:          DefaultDBPath,
		AuditDir:        DefaultAuditDir,
		MaxObservations: DefaultMaxObservations,
		RetentionHours:  DefaultRetentionHours,
		MaxRAMMB:        DefaultMaxRAMMB,
		APIListen:       DefaultAPIListen,
		MetricsPort:     DefaultMetricsPort,
		Sources: map[string]*SourceConfig{
			pkg.SourceRutOS:    {Enabled: true, Priority: 1, TimeoutS: 10},
			pkg.SourceStarlink: {Enabled: true, Priority: 2, TimeoutS: 10, Host: DefaultStarlinkHost},
			pkg.SourceCellular: {Enabled: false, Priority: 3, TimeoutS: 15},
		},
		Pushover: PushoverConfig{PriorityThreshold: -1, CooldownS: 300},
		MQTT:     MQTTConfig{ClientID: "anchorwatchd", TopicPrefix: DefaultTopicPrefix, QoS: 1},
	}
}

// LastModified returns the modification time of the loaded file
func (c *Config) LastModified() time.Time { return c.lastModified }

// parseUCI parses `config <type> '<name>'` sections and their `option` lines
func (c *Config) parseUCI(data string) error {
	var sectionType, sectionName string

	for n, raw := range strings.Split(data, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		keyword, rest := splitWord(line)
		switch keyword {
		case "config":
			sectionType, rest = splitWord(rest)
			sectionName = unquote(rest)
			if sectionType == "" {
				return fmt.Errorf("line %d: config without type", n+1)
			}
			if sectionType == "source" && sectionName != "" && c.Sources[sectionName] == nil {
				c.Sources[sectionName] = &SourceConfig{Priority: 10, TimeoutS: 10}
			}
		case "option":
			option, value := splitWord(rest)
			if option == "" {
				return fmt.Errorf("line %d: option without name", n+1)
			}
			value = unquote(value)

			switch sectionType {
			case "anchorwatch":
				c.parseMainOption(option, value)
			case "source":
				c.parseSourceOption(c.Sources[sectionName], option, value)
			case "pushover":
				c.parsePushoverOption(option, value)
			case "mqtt":
				c.parseMQTTOption(option, value)
			}
		case "list":
			// no list options are defined
		default:
			return fmt.Errorf("line %d: unexpected %q", n+1, keyword)
		}
	}
	return nil
}

func splitWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on", "enabled":
		return true
	}
	return false
}

// parseMainOption parses a main configuration option
func (c *Config) parseMainOption(option, value string) {
	switch option {
	case "enable":
		c.Enable = parseBool(value)
	case "log_level":
		if isValidLogLevel(value) {
			c.LogLevel = value
		}
	case "syslog":
		c.Syslog = parseBool(value)
	case "update_interval_s":
		if v, err := strconv.Atoi(value); err == nil {
			c.UpdateIntervalS = v
		}
	case "smoothing_window":
		if v, err := strconv.Atoi(value); err == nil {
			c.SmoothingWindow = v
		}
	case "drag_threshold_m":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			c.DragThresholdM = v
		}
	case "debounce_s":
		if v, err := strconv.Atoi(value); err == nil {
			c.DebounceS = v
		}
	case "max_fix_age_s":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.MaxFixAgeS = v
		}
	case "language":
		if value != "" {
			c.Language = value
		}
	case "db_path":
		c.DBPath = value
	case "audit_dir":
		c.AuditDir = value
	case "max_observations":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.MaxObservations = v
		}
	case "retention_hours":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.RetentionHours = v
		}
	case "max_ram_mb":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.MaxRAMMB = v
		}
	case "api_listen":
		c.APIListen = value
	case "metrics_port":
		if v, err := strconv.Atoi(value); err == nil && v >= 0 {
			c.MetricsPort = v
		}
	}
}

func (c *Config) parseSourceOption(src *SourceConfig, option, value string) {
	if src == nil {
		return
	}
	switch option {
	case "enabled":
		src.Enabled = parseBool(value)
	case "priority":
		if v, err := strconv.Atoi(value); err == nil {
			src.Priority = v
		}
	case "timeout_s":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			src.TimeoutS = v
		}
	case "host":
		src.Host = value
	case "ssh_host":
		src.SSHHost = value
	case "ssh_port":
		if v, err := strconv.Atoi(value); err == nil && v > 0 && v < 65536 {
			src.SSHPort = v
		}
	case "ssh_user":
		src.SSHUser = value
	case "ssh_key":
		src.SSHKeyPath = value
	case "api_key":
		src.APIKey = value
	}
}

func (c *Config) parsePushoverOption(option, value string) {
	switch option {
	case "enabled":
		c.Pushover.Enabled = parseBool(value)
	case "token":
		c.Pushover.Token = value
	case "user":
		c.Pushover.User = value
	case "device":
		c.Pushover.Device = value
	case "priority_threshold":
		if v, err := strconv.Atoi(value); err == nil && v >= -2 && v <= 2 {
			c.Pushover.PriorityThreshold = v
		}
	case "cooldown_s":
		if v, err := strconv.Atoi(value); err == nil && v >= 0 {
			c.Pushover.CooldownS = v
		}
	}
}

func (c *Config) parseMQTTOption(option, value string) {
	switch option {
	case "enabled":
		c.MQTT.Enabled = parseBool(value)
	case "broker":
		c.MQTT.Broker = value
	case "client_id":
		c.MQTT.ClientID = value
	case "username":
		c.MQTT.Username = value
	case "password":
		c.MQTT.Password = value
	case "topic_prefix":
		c.MQTT.TopicPrefix = strings.TrimSuffix(value, "/")
	case "qos":
		if v, err := strconv.Atoi(value); err == nil && v >= 0 && v <= 2 {
			c.MQTT.QoS = v
		}
	case "retain":
		c.MQTT.Retain = parseBool(value)
	}
}

// Validate checks ranges that would make the watch unsafe or the daemon unusable
func (c *Config) Validate() error {
	if err := c.Settings().Validate(); err != nil {
		return err
	}
	if c.MaxObservations < 1 || c.MaxObservations > 100000 {
		return fmt.Errorf("max_observations must be between 1 and 100000")
	}
	if c.RetentionHours < 1 || c.RetentionHours > 168 {
		return fmt.Errorf("retention_hours must be between 1 and 168")
	}
	if c.MaxRAMMB < 1 || c.MaxRAMMB > 128 {
		return fmt.Errorf("max_ram_mb must be between 1 and 128")
	}
	if c.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port must be at most 65535")
	}
	if c.Pushover.Enabled && (c.Pushover.Token == "" || c.Pushover.User == "") {
		return fmt.Errorf("pushover enabled without token and user")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt enabled without broker")
	}
	return nil
}

// Settings returns the user-adjustable part of the configuration
func (c *Config) Settings() pkg.AppSettings {
	return pkg.AppSettings{
		DragThreshold:         c.DragThresholdM,
		UpdateIntervalSeconds: c.UpdateIntervalS,
		SmoothingWindowSize:   c.SmoothingWindow,
		DebounceSeconds:       c.DebounceS,
		Language:              c.Language,
	}
}

// ApplySettings copies validated settings into the configuration
func (c *Config) ApplySettings(s pkg.AppSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.DragThresholdM = s.DragThreshold
	c.UpdateIntervalS = s.UpdateIntervalSeconds
	c.SmoothingWindow = s.SmoothingWindowSize
	c.DebounceS = s.DebounceSeconds
	if s.Language != "" {
		c.Language = s.Language
	}
	return nil
}

// EnabledSources returns the enabled source names ordered by priority
func (c *Config) EnabledSources() []string {
	var names []string
	for name, src := range c.Sources {
		if src.Enabled {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := c.Sources[names[i]], c.Sources[names[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return names[i] < names[j]
	})
	return names
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

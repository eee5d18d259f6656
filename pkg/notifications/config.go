package notifications

import (
	"time"

	"github.com/anchorwatch/anchorwatch/pkg/uci"
)

// ConfigFromUCI converts the pushover section of the daemon config
func ConfigFromUCI(uciConfig *uci.Config) *NotificationConfig {
	config := DefaultNotificationConfig()
	if uciConfig == nil {
		return config
	}

	p := uciConfig.Pushover
	config.PushoverEnabled = p.Enabled && p.Token != "" && p.User != ""
	config.PushoverToken = p.Token
	config.PushoverUser = p.User
	config.PushoverDevice = p.Device
	config.PriorityThreshold = p.PriorityThreshold
	if p.CooldownS > 0 {
		config.CooldownPeriod = time.Duration(p.CooldownS) * time.Second
	}

	ValidateConfig(config)
	return config
}

// ValidateConfig clamps out-of-range values in place
func ValidateConfig(config *NotificationConfig) {
	if config == nil {
		return
	}

	if config.PushoverToken == "" || config.PushoverUser == "" {
		config.PushoverEnabled = false
	}

	priorities := []*int{
		&config.PriorityThreshold,
		&config.PriorityDragAlarm,
		&config.PriorityDragRecovered,
		&config.PriorityGPSDegraded,
		&config.PriorityWatchArmed,
		&config.PriorityWatchDisarmed,
		&config.PriorityCritical,
	}
	for _, priority := range priorities {
		*priority = clampPriority(*priority)
	}

	if config.CooldownPeriod < 0 {
		config.CooldownPeriod = 5 * time.Minute
	}
	if config.EmergencyRetryInterval < 0 {
		config.EmergencyRetryInterval = time.Minute
	}
	// Pushover rejects emergency retry below 30 s and expiry above 3 h
	if config.EmergencyRetry < 30 {
		config.EmergencyRetry = 30
	}
	if config.EmergencyExpire <= 0 || config.EmergencyExpire > 10800 {
		config.EmergencyExpire = 3600
	}
	if config.MaxNotificationsHour < 1 {
		config.MaxNotificationsHour = 20
	}
	if config.HTTPTimeout < time.Second {
		config.HTTPTimeout = 10 * time.Second
	}
}

// Package sampling adapts the fix polling interval to how close the boat is
// to its drag threshold. Polling never gets slower than the configured
// interval, only faster near or beyond the threshold.
package sampling

import (
	"time"

	"github.com/anchorwatch/anchorwatch/pkg/alarm"
)

// Defaults
const (
	DefaultMinInterval = time.Second
	DefaultNearRatio   = 0.8
)

// Zone is the position of the boat relative to the threshold circle
type Zone int

const (
	ZoneInside Zone = iota
	ZoneNear
	ZoneOutside
)

func (z Zone) String() string {
	switch z {
	case ZoneNear:
		return "near"
	case ZoneOutside:
		return "outside"
	default:
		return "inside"
	}
}

// Policy maps a watch state to a polling interval
type Policy struct {
	Base      time.Duration // the user's update interval
	Min       time.Duration
	NearRatio float64 // distance/threshold at which polling speeds up
}

// NewPolicy returns a policy with default floor and near ratio
func NewPolicy(base time.Duration) Policy {
	return Policy{Base: base, Min: DefaultMinInterval, NearRatio: DefaultNearRatio}
}

// Decision is the recommended interval and why
type Decision struct {
	Interval time.Duration
	Zone     Zone
	Reason   string
}

// ZoneOf classifies a distance against the threshold. An open excursion or a
// latched alarm is outside regardless of the smoothed distance.
func ZoneOf(distanceM, thresholdM float64, state alarm.State, nearRatio float64) Zone {
	switch {
	case state == alarm.ArmedExceeding || state == alarm.ArmedTriggered:
		return ZoneOutside
	case thresholdM > 0 && distanceM > thresholdM:
		return ZoneOutside
	case thresholdM > 0 && distanceM >= thresholdM*nearRatio:
		return ZoneNear
	default:
		return ZoneInside
	}
}

// Decide returns the polling interval for the current watch state. A
// disarmed watch polls at the base interval.
func (p Policy) Decide(distanceM, thresholdM float64, state alarm.State) Decision {
	base := p.Base
	if base <= 0 {
		base = 5 * time.Second
	}
	minInterval := p.Min
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	ratio := p.NearRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = DefaultNearRatio
	}

	if state == alarm.Disarmed {
		return Decision{Interval: base, Zone: ZoneInside, Reason: "disarmed"}
	}

	zone := ZoneOf(distanceM, thresholdM, state, ratio)
	interval := base
	reason := "inside threshold"
	switch zone {
	case ZoneNear:
		interval = base / 2
		reason = "approaching threshold"
	case ZoneOutside:
		interval = base / 4
		reason = "outside threshold"
	}
	if interval < minInterval {
		interval = minInterval
	}
	// a base already below the floor is kept
	if interval > base {
		interval = base
	}
	return Decision{Interval: interval, Zone: zone, Reason: reason}
}

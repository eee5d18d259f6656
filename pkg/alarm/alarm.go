// Package alarm implements the debounced anchor-drag state machine
package alarm

import (
	"time"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/geo"
)

// DefaultDebounce is how long the boat must stay outside the threshold before the alarm latches
const DefaultDebounce = 25 * time.Second

// State is a position in the drag-alarm lifecycle
type State int

const (
	Disarmed State = iota
	ArmedSafe
	ArmedExceeding
	ArmedTriggered
)

func (s State) String() string {
	switch s {
	case Disarmed:
		return "disarmed"
	case ArmedSafe:
		return "armed_safe"
	case ArmedExceeding:
		return "armed_exceeding"
	case ArmedTriggered:
		return "armed_triggered"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the decision for one fix
type Result struct {
	Triggered        bool          `json:"triggered"`
	Distance         float64       `json:"distance_m"`
	SmoothedPosition *pkg.Geopoint `json:"smoothed_position,omitempty"`
	State            State         `json:"state"`
	// ExcursionStart is when the current threshold excursion began, nil when inside threshold
	ExcursionStart *time.Time `json:"excursion_start,omitempty"`
}

// StateOf derives the lifecycle state from a stored alarm state
func StateOf(state *pkg.AlarmState) State {
	switch {
	case state == nil || !state.IsActive || state.AnchorPoint == nil:
		return Disarmed
	case state.IsAlarmTriggered:
		return ArmedTriggered
	case state.AlarmTriggerTime != nil:
		return ArmedExceeding
	default:
		return ArmedSafe
	}
}

// Evaluate decides the alarm outcome for a new fix without touching state.
//
// The position compared against the anchor is the smoothed position already
// stored in state; fix is only used when no smoothed position exists yet.
// state.AlarmTriggerTime holds the excursion start. A latched alarm stays
// latched while outside the threshold and clears on the first fix inside it.
func Evaluate(state *pkg.AlarmState, fix *pkg.Geopoint, now time.Time, debounce time.Duration) Result {
	if StateOf(state) == Disarmed {
		return Result{State: Disarmed}
	}

	position := state.SmoothedPosition
	if position == nil {
		position = fix
	}
	if position == nil {
		return Result{
			Triggered:      state.IsAlarmTriggered,
			Distance:       state.DistanceFromAnchor,
			State:          StateOf(state),
			ExcursionStart: state.AlarmTriggerTime,
		}
	}

	pos := *position
	result := Result{
		Distance:         geo.Distance(*state.AnchorPoint, pos),
		SmoothedPosition: &pos,
	}

	if result.Distance <= state.DragThreshold {
		result.State = ArmedSafe
		return result
	}

	start := now
	if state.AlarmTriggerTime != nil {
		start = *state.AlarmTriggerTime
	}
	result.ExcursionStart = &start

	if debounce < 0 {
		debounce = 0
	}
	if state.IsAlarmTriggered || now.Sub(start) >= debounce {
		result.Triggered = true
		result.State = ArmedTriggered
		return result
	}

	result.State = ArmedExceeding
	return result
}

// Apply writes an evaluation result back into state
func Apply(state *pkg.AlarmState, fix *pkg.Geopoint, result Result) {
	if state == nil {
		return
	}
	if fix != nil {
		f := *fix
		state.CurrentPosition = &f
		state.GPSAccuracy = f.Accuracy
	}
	if result.State == Disarmed {
		return
	}
	if result.SmoothedPosition != nil {
		state.SmoothedPosition = result.SmoothedPosition
	}
	state.DistanceFromAnchor = result.Distance
	state.IsAlarmTriggered = result.Triggered
	state.AlarmTriggerTime = result.ExcursionStart
}

// Reset returns state to the disarmed shape, keeping the configured settings
func Reset(state *pkg.AlarmState) {
	if state == nil {
		return
	}
	state.IsActive = false
	state.AnchorPoint = nil
	state.CurrentPosition = nil
	state.SmoothedPosition = nil
	state.DistanceFromAnchor = 0
	state.IsAlarmTriggered = false
	state.AlarmTriggerTime = nil
	state.GPSAccuracy = nil
}

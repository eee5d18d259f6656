package bottom

import (
	"fmt"
	"sync"

	"github.com/anchorwatch/anchorwatch/pkg"
)

// DefaultMaxObservations is the ring capacity of the observation log
const DefaultMaxObservations = 1000

// Log is an append-only, capacity-bounded observation log. When full the
// oldest observation is evicted.
type Log struct {
	mu    sync.RWMutex
	items []pkg.BottomObservation
	max   int
}

// NewLog creates a log holding at most max observations
func NewLog(max int) *Log {
	if max <= 0 {
		max = DefaultMaxObservations
	}
	return &Log{items: make([]pkg.BottomObservation, 0, min(max, 64)), max: max}
}

// Append validates and adds observations in order, evicting the oldest as needed
func (l *Log) Append(obs ...pkg.BottomObservation) error {
	if err := Validate(obs...); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = append(l.items, obs...)
	if len(l.items) > l.max {
		l.items = l.items[len(l.items)-l.max:]
	}
	return nil
}

// Validate checks every observation without storing any
func Validate(obs ...pkg.BottomObservation) error {
	for i, o := range obs {
		if err := validateObservation(o); err != nil {
			return fmt.Errorf("observation %d: %w", i, err)
		}
	}
	return nil
}

func validateObservation(o pkg.BottomObservation) error {
	if err := o.Point().Validate(); err != nil {
		return err
	}
	if !o.BottomType.Valid() {
		return fmt.Errorf("invalid bottom type %d", int(o.BottomType))
	}
	if !o.Confidence.Valid() {
		return fmt.Errorf("invalid confidence %q", o.Confidence)
	}
	return nil
}

// Snapshot returns a copy of the log, oldest first
func (l *Log) Snapshot() []pkg.BottomObservation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]pkg.BottomObservation, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of observations held
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Cap returns the configured capacity
func (l *Log) Cap() int { return l.max }

// Predict runs Predict against a snapshot of the log
func (l *Log) Predict(location pkg.Geopoint, searchRadiusM float64) *pkg.BottomTypePrediction {
	return Predict(location, l.Snapshot(), searchRadiusM)
}

// Heatmap runs Heatmap against a snapshot of the log
func (l *Log) Heatmap(center pkg.Geopoint, radiusKm float64, gridSize int) []HeatmapCell {
	return Heatmap(center, radiusKm, gridSize, l.Snapshot())
}

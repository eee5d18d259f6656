// Package smoothing reduces GPS jitter with a rolling average over recent fixes
package smoothing

import (
	"errors"
	"fmt"

	"github.com/anchorwatch/anchorwatch/pkg"
)

var (
	// ErrInvalidWindow is returned for a window size below 1
	ErrInvalidWindow = errors.New("smoothing window must be at least 1")
	// ErrOutOfOrder is returned when a fix is older than the newest one in the history
	ErrOutOfOrder = errors.New("fix is older than the newest history entry")
)

// Smooth averages latitude and longitude over the last windowSize entries of
// history. Accuracy, timestamp and source come from the newest entry. An empty
// history yields nil; a single entry is returned unchanged.
func Smooth(history []pkg.Geopoint, windowSize int) (*pkg.Geopoint, error) {
	if windowSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWindow, windowSize)
	}
	if len(history) == 0 {
		return nil, nil
	}
	if len(history) == 1 {
		p := history[0]
		return &p, nil
	}

	n := windowSize
	if n > len(history) {
		n = len(history)
	}
	window := history[len(history)-n:]

	var sumLat, sumLon float64
	for _, p := range window {
		sumLat += p.Latitude
		sumLon += p.Longitude
	}

	latest := window[len(window)-1]
	return &pkg.Geopoint{
		Latitude:  sumLat / float64(n),
		Longitude: sumLon / float64(n),
		Accuracy:  latest.Accuracy,
		Timestamp: latest.Timestamp,
		Source:    latest.Source,
	}, nil
}

// History is a bounded, time-ascending position history for one watch session.
// It keeps twice the smoothing window so a window resize never starves the average.
type History struct {
	windowSize int
	points     []pkg.Geopoint
}

// NewHistory creates an empty history for the given smoothing window
func NewHistory(windowSize int) (*History, error) {
	if windowSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWindow, windowSize)
	}
	return &History{
		windowSize: windowSize,
		points:     make([]pkg.Geopoint, 0, 2*windowSize),
	}, nil
}

// Add appends a fix, evicting the oldest entry when the history is full
func (h *History) Add(fix pkg.Geopoint) error {
	if n := len(h.points); n > 0 && fix.Timestamp.Before(h.points[n-1].Timestamp) {
		return fmt.Errorf("%w: %s before %s", ErrOutOfOrder,
			fix.Timestamp.Format("15:04:05.000"), h.points[n-1].Timestamp.Format("15:04:05.000"))
	}

	h.points = append(h.points, fix)
	if max := h.Capacity(); len(h.points) > max {
		h.points = h.points[len(h.points)-max:]
	}
	return nil
}

// Smoothed returns the rolling average of the current history
func (h *History) Smoothed() *pkg.Geopoint {
	p, _ := Smooth(h.points, h.windowSize)
	return p
}

// Points returns a copy of the history, oldest first
func (h *History) Points() []pkg.Geopoint {
	out := make([]pkg.Geopoint, len(h.points))
	copy(out, h.points)
	return out
}

// Latest returns the newest fix, or nil when the history is empty
func (h *History) Latest() *pkg.Geopoint {
	if len(h.points) == 0 {
		return nil
	}
	p := h.points[len(h.points)-1]
	return &p
}

// Len returns the number of fixes held
func (h *History) Len() int { return len(h.points) }

// Capacity returns the maximum number of fixes held
func (h *History) Capacity() int { return 2 * h.windowSize }

// WindowSize returns the smoothing window
func (h *History) WindowSize() int { return h.windowSize }

// Resize changes the smoothing window, trimming the oldest entries if needed
func (h *History) Resize(windowSize int) error {
	if windowSize < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidWindow, windowSize)
	}
	h.windowSize = windowSize
	if max := h.Capacity(); len(h.points) > max {
		h.points = h.points[len(h.points)-max:]
	}
	return nil
}

// Reset clears the history
func (h *History) Reset() {
	h.points = h.points[:0]
}

// Package telem keeps short-term watch telemetry and events in memory
package telem

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anchorwatch/anchorwatch/pkg"
)

// Sample is one evaluated fix of a watch session
type Sample struct {
	Timestamp  time.Time     `json:"timestamp"`
	Session    string        `json:"session"`
	Fix        pkg.Geopoint  `json:"fix"`
	Smoothed   *pkg.Geopoint `json:"smoothed,omitempty"`
	DistanceM  float64       `json:"distance_m"`
	ThresholdM float64       `json:"threshold_m"`
	State      string        `json:"state"`
	Triggered  bool          `json:"triggered"`
}

// Event represents a watch or system event
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	Level     string      `json:"level"`
	Type      string      `json:"type"`
	Session   string      `json:"session,omitempty"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
}

// Store manages in-memory telemetry with bounded retention
type Store struct {
	mu            sync.RWMutex
	samples       map[string][]Sample // session -> samples
	events        []Event
	maxSamples    int
	maxEvents     int
	retentionTime time.Duration
	maxRAMMB      int
	now           func() time.Time
}

// Config for telemetry store
type Config struct {
	MaxSamplesPerSession int `uci:"max_samples_per_session"`
	MaxEvents            int `uci:"max_events"`
	RetentionHours       int `uci:"retention_hours"`
	MaxRAMMB             int `uci:"max_ram_mb"`
}

// NewStore creates a new telemetry store with the given configuration
func NewStore(config Config) *Store {
	if config.MaxSamplesPerSession <= 0 {
		// 12h at a 5s interval
		config.MaxSamplesPerSession = 8640
	}
	if config.MaxEvents <= 0 {
		config.MaxEvents = 500
	}
	if config.RetentionHours <= 0 {
		config.RetentionHours = 24
	}
	if config.MaxRAMMB <= 0 {
		config.MaxRAMMB = 10
	}

	return &Store{
		samples:       make(map[string][]Sample),
		events:        make([]Event, 0, config.MaxEvents),
		maxSamples:    config.MaxSamplesPerSession,
		maxEvents:     config.MaxEvents,
		retentionTime: time.Duration(config.RetentionHours) * time.Hour,
		maxRAMMB:      config.MaxRAMMB,
		now:           time.Now,
	}
}

// AddSample stores a sample for its session
func (s *Store) AddSample(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	arr := append(s.samples[sample.Session], sample)
	if len(arr) > s.maxSamples {
		arr = arr[len(arr)-s.maxSamples:]
	}
	s.samples[sample.Session] = arr

	s.cleanOldSamples(sample.Session)
	s.enforceRAMCapLocked()
}

// AddEvent stores an event
func (s *Store) AddEvent(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	s.events = append(s.events, event)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}

	s.enforceRAMCapLocked()
}

// GetSamples returns the most recent samples of a session, all when limit <= 0
func (s *Store) GetSamples(session string, limit int) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.samples[session], limit)
}

// GetRecentSamples returns samples of a session newer than since
func (s *Store) GetRecentSamples(session string, since time.Duration) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-since)
	var result []Sample
	for _, sample := range s.samples[session] {
		if sample.Timestamp.After(cutoff) {
			result = append(result, sample)
		}
	}
	return result
}

// GetEvents returns the most recent events, all when limit <= 0
func (s *Store) GetEvents(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.events, limit)
}

func lastN[T any](in []T, limit int) []T {
	if in == nil {
		return nil
	}
	if limit <= 0 || limit > len(in) {
		limit = len(in)
	}
	out := make([]T, limit)
	copy(out, in[len(in)-limit:])
	return out
}

// GetSessions returns the sessions that have samples
func (s *Store) GetSessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.samples))
	for session := range s.samples {
		sessions = append(sessions, session)
	}
	return sessions
}

// DropSession forgets all samples of a session
func (s *Store) DropSession(session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.samples, session)
}

// Cleanup removes data older than the retention window
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for session := range s.samples {
		s.cleanOldSamples(session)
	}
	s.events = dropBefore(s.events, s.now().Add(-s.retentionTime), func(e Event) time.Time { return e.Timestamp })
}

func (s *Store) cleanOldSamples(session string) {
	cutoff := s.now().Add(-s.retentionTime)
	kept := dropBefore(s.samples[session], cutoff, func(x Sample) time.Time { return x.Timestamp })
	if len(kept) == 0 {
		delete(s.samples, session)
		return
	}
	s.samples[session] = kept
}

// dropBefore removes the leading items not after cutoff. Items are time-ascending.
func dropBefore[T any](in []T, cutoff time.Time, ts func(T) time.Time) []T {
	keep := 0
	for keep < len(in) && !ts(in[keep]).After(cutoff) {
		keep++
	}
	if keep == 0 {
		return in
	}
	return append(in[:0], in[keep:]...)
}

// GetStats returns storage statistics
func (s *Store) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked()
}

func (s *Store) statsLocked() map[string]interface{} {
	sessionStats := make(map[string]int)
	totalSamples := 0
	for session, samples := range s.samples {
		sessionStats[session] = len(samples)
		totalSamples += len(samples)
	}

	return map[string]interface{}{
		"total_samples":   totalSamples,
		"total_events":    len(s.events),
		"session_samples": sessionStats,
		"retention_hours": s.retentionTime.Hours(),
		"max_ram_mb":      s.maxRAMMB,
		"estimated_bytes": s.estimateBytesLocked(),
	}
}

// ExportJSON exports all data as JSON for debugging
func (s *Store) ExportJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	export := struct {
		Timestamp time.Time              `json:"timestamp"`
		Samples   map[string][]Sample    `json:"samples"`
		Events    []Event                `json:"events"`
		Stats     map[string]interface{} `json:"stats"`
	}{
		Timestamp: s.now(),
		Samples:   s.samples,
		Events:    s.events,
		Stats:     s.statsLocked(),
	}

	return json.Marshal(export)
}

// estimateBytesLocked returns an approximate memory usage of the store
func (s *Store) estimateBytesLocked() int {
	const (
		bytesPerSample = 256
		bytesPerEvent  = 160
	)
	totalSamples := 0
	for _, arr := range s.samples {
		totalSamples += len(arr)
	}
	return totalSamples*bytesPerSample + len(s.events)*bytesPerEvent
}

// enforceRAMCapLocked thins old samples and events until the estimate fits
// under maxRAMMB. Must be called with s.mu locked.
func (s *Store) enforceRAMCapLocked() {
	if s.maxRAMMB <= 0 {
		return
	}
	capBytes := s.maxRAMMB * 1024 * 1024
	for i := 0; i < 5; i++ {
		if s.estimateBytesLocked() <= capBytes {
			return
		}
		for session, arr := range s.samples {
			if len(arr) <= 200 {
				continue
			}
			s.samples[session] = downsampleKeepRecent(arr, 2, 100)
		}
		if len(s.events) > 200 && s.estimateBytesLocked() > capBytes {
			s.events = s.events[len(s.events)-len(s.events)/2:]
		}
	}
}

// downsampleKeepRecent keeps the last recentKeep items intact and keeps every
// nth item of the older part. Order is preserved.
func downsampleKeepRecent[T any](in []T, n int, recentKeep int) []T {
	if n <= 1 || len(in) <= recentKeep {
		return in
	}
	if recentKeep < 0 {
		recentKeep = 0
	}
	cutoff := len(in) - recentKeep
	older := in[:cutoff]
	newer := in[cutoff:]

	kept := make([]T, 0, len(older)/n+len(newer)+1)
	for i := 0; i < len(older); i += n {
		kept = append(kept, older[i])
	}
	return append(kept, newer...)
}

// SetMaxRAMMB updates the RAM cap and enforces it immediately
func (s *Store) SetMaxRAMMB(mb int) error {
	if mb < 1 || mb > 128 {
		return fmt.Errorf("max_ram_mb must be between 1-128, got %d", mb)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxRAMMB = mb
	s.enforceRAMCapLocked()
	return nil
}

package pkg

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidCoordinate is returned when a coordinate is NaN, infinite or out of range
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Geopoint is a single position fix
type Geopoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"` // meters, nil when the source does not report it
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// Validate checks that the coordinate is finite and within WGS84 bounds
func (g Geopoint) Validate() error {
	if math.IsNaN(g.Latitude) || math.IsInf(g.Latitude, 0) || g.Latitude < -90 || g.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, g.Latitude)
	}
	if math.IsNaN(g.Longitude) || math.IsInf(g.Longitude, 0) || g.Longitude < -180 || g.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, g.Longitude)
	}
	if g.Accuracy != nil && (math.IsNaN(*g.Accuracy) || math.IsInf(*g.Accuracy, 0) || *g.Accuracy < 0) {
		return fmt.Errorf("%w: accuracy %v", ErrInvalidCoordinate, *g.Accuracy)
	}
	return nil
}

// AccuracyOf returns a pointer to v, for building fixes with a known accuracy
func AccuracyOf(v float64) *float64 {
	return &v
}

// BottomType is a seabed composition category
type BottomType int

const (
	BottomSand BottomType = iota
	BottomMud
	BottomClay
	BottomGravel
	BottomRock
	BottomWeed
	BottomCoral
	BottomShell
	numBottomTypes
)

// Holding quality of a bottom type
const (
	HoldingExcellent = "excellent"
	HoldingGood      = "good"
	HoldingFair      = "fair"
	HoldingPoor      = "poor"
)

// BottomTypeInfo is the static metadata for a bottom type
type BottomTypeInfo struct {
	Name              string `json:"name"`
	Holding           string `json:"holding"`
	RecommendedAnchor string `json:"recommended_anchor"`
}

// The array length ties this table to the enum: adding a BottomType without
// an entry here fails to compile.
var bottomTypeInfo = [numBottomTypes]BottomTypeInfo{
	BottomSand:   {Name: "sand", Holding: HoldingExcellent, RecommendedAnchor: "plough"},
	BottomMud:    {Name: "mud", Holding: HoldingGood, RecommendedAnchor: "fluke"},
	BottomClay:   {Name: "clay", Holding: HoldingExcellent, RecommendedAnchor: "plough"},
	BottomGravel: {Name: "gravel", Holding: HoldingFair, RecommendedAnchor: "claw"},
	BottomRock:   {Name: "rock", Holding: HoldingPoor, RecommendedAnchor: "grapnel"},
	BottomWeed:   {Name: "weed", Holding: HoldingPoor, RecommendedAnchor: "fisherman"},
	BottomCoral:  {Name: "coral", Holding: HoldingPoor, RecommendedAnchor: "grapnel"},
	BottomShell:  {Name: "shell", Holding: HoldingFair, RecommendedAnchor: "claw"},
}

// BottomTypes returns every bottom type in declaration order
func BottomTypes() []BottomType {
	types := make([]BottomType, 0, numBottomTypes)
	for t := BottomType(0); t < numBottomTypes; t++ {
		types = append(types, t)
	}
	return types
}

// Valid reports whether t is a declared bottom type
func (t BottomType) Valid() bool {
	return t >= 0 && t < numBottomTypes
}

// Info returns the metadata for t
func (t BottomType) Info() BottomTypeInfo {
	if !t.Valid() {
		return BottomTypeInfo{Name: "unknown", Holding: HoldingPoor}
	}
	return bottomTypeInfo[t]
}

func (t BottomType) String() string {
	return t.Info().Name
}

// ParseBottomType converts a name like "sand" into a BottomType
func ParseBottomType(name string) (BottomType, error) {
	for t := BottomType(0); t < numBottomTypes; t++ {
		if bottomTypeInfo[t].Name == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown bottom type %q", name)
}

// MarshalText encodes the bottom type by name
func (t BottomType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid bottom type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a bottom type name
func (t *BottomType) UnmarshalText(text []byte) error {
	parsed, err := ParseBottomType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ObservationConfidence is how sure the observer was about a bottom type
type ObservationConfidence string

const (
	ConfidenceHigh   ObservationConfidence = "high"
	ConfidenceMedium ObservationConfidence = "medium"
	ConfidenceLow    ObservationConfidence = "low"
)

// Weight returns the vote weight of the confidence level
func (c ObservationConfidence) Weight() float64 {
	switch c {
	case ConfidenceHigh:
		return 1.0
	case ConfidenceMedium:
		return 0.7
	case ConfidenceLow:
		return 0.4
	default:
		return 0.4
	}
}

// Valid reports whether c is a known confidence level
func (c ObservationConfidence) Valid() bool {
	return c == ConfidenceHigh || c == ConfidenceMedium || c == ConfidenceLow
}

// BottomObservation is a single reported bottom type at a location
type BottomObservation struct {
	ID         int64                 `json:"id,omitempty"`
	Latitude   float64               `json:"latitude"`
	Longitude  float64               `json:"longitude"`
	BottomType BottomType            `json:"bottom_type"`
	Timestamp  time.Time             `json:"timestamp"`
	Confidence ObservationConfidence `json:"confidence"`
}

// Point returns the observation location as a Geopoint
func (o BottomObservation) Point() Geopoint {
	return Geopoint{Latitude: o.Latitude, Longitude: o.Longitude, Timestamp: o.Timestamp}
}

// BottomTypePrediction is the inferred bottom type near a location
type BottomTypePrediction struct {
	BottomType            BottomType `json:"bottom_type"`
	Confidence            float64    `json:"confidence"`
	NearbyRecordCount     int        `json:"nearby_record_count"`
	AverageDistanceMeters float64    `json:"average_distance_m"`
}

// AlarmState is the state of one anchor watch
type AlarmState struct {
	IsActive              bool       `json:"is_active"`
	AnchorPoint           *Geopoint  `json:"anchor_point,omitempty"`
	DragThreshold         float64    `json:"drag_threshold_m"`
	UpdateIntervalSeconds int        `json:"update_interval_s"`
	SmoothingWindowSize   int        `json:"smoothing_window"`
	CurrentPosition       *Geopoint  `json:"current_position,omitempty"`
	SmoothedPosition      *Geopoint  `json:"smoothed_position,omitempty"`
	DistanceFromAnchor    float64    `json:"distance_from_anchor_m"`
	IsAlarmTriggered      bool       `json:"is_alarm_triggered"`
	AlarmTriggerTime      *time.Time `json:"alarm_trigger_time,omitempty"`
	GPSAccuracy           *float64   `json:"gps_accuracy,omitempty"`
}

// AnchoringSession is the persisted record of one armed watch
type AnchoringSession struct {
	ID            int64       `json:"id"`
	AnchorPoint   Geopoint    `json:"anchor_point"`
	DragThreshold float64     `json:"drag_threshold_m"`
	StartedAt     time.Time   `json:"started_at"`
	EndedAt       *time.Time  `json:"ended_at,omitempty"`
	MaxDistance   float64     `json:"max_distance_m"`
	AlarmCount    int         `json:"alarm_count"`
	DepthM        float64     `json:"depth_m,omitempty"`
	RodeM         float64     `json:"rode_m,omitempty"`
	BottomType    *BottomType `json:"bottom_type,omitempty"`
}

// TrackPoint is one evaluated fix of a session
type TrackPoint struct {
	SessionID int64     `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Distance  float64   `json:"distance_m"`
	Triggered bool      `json:"triggered"`
}

// AppSettings are the user-adjustable watch settings
type AppSettings struct {
	DragThreshold         float64 `json:"drag_threshold_m"`
	UpdateIntervalSeconds int     `json:"update_interval_s"`
	SmoothingWindowSize   int     `json:"smoothing_window"`
	DebounceSeconds       int     `json:"debounce_s"`
	Language              string  `json:"language"`
}

// DefaultAppSettings returns the settings used before the user changes anything
func DefaultAppSettings() AppSettings {
	return AppSettings{
		DragThreshold:         30,
		UpdateIntervalSeconds: 5,
		SmoothingWindowSize:   5,
		DebounceSeconds:       25,
		Language:              "en",
	}
}

// Validate checks the settings ranges
func (s AppSettings) Validate() error {
	if math.IsNaN(s.DragThreshold) || s.DragThreshold < 5 || s.DragThreshold > 1000 {
		return fmt.Errorf("drag_threshold_m must be between 5 and 1000, got %v", s.DragThreshold)
	}
	if s.UpdateIntervalSeconds < 1 || s.UpdateIntervalSeconds > 300 {
		return fmt.Errorf("update_interval_s must be between 1 and 300, got %d", s.UpdateIntervalSeconds)
	}
	if s.SmoothingWindowSize < 1 || s.SmoothingWindowSize > 60 {
		return fmt.Errorf("smoothing_window must be between 1 and 60, got %d", s.SmoothingWindowSize)
	}
	if s.DebounceSeconds < 0 || s.DebounceSeconds > 600 {
		return fmt.Errorf("debounce_s must be between 0 and 600, got %d", s.DebounceSeconds)
	}
	return nil
}

// Event represents a watch event
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	From      string                 `json:"from,omitempty"`
	To        string                 `json:"to,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types
const (
	EventWatchArmed    = "watch_armed"
	EventWatchDisarmed = "watch_disarmed"
	EventExcursion     = "excursion_started"
	EventDragAlarm     = "drag_alarm"
	EventRecovered     = "drag_recovered"
	EventGPSDegraded   = "gps_degraded"
	EventGPSRestored   = "gps_restored"
	EventError         = "error"
	EventConfigReload  = "config_reload"
)

// GPS source names
const (
	SourceRutOS    = "rutos"
	SourceStarlink = "starlink"
	SourceCellular = "cellular"
	SourceManual   = "manual"
)

// Package gpsquality turns a GPS accuracy reading into a user-facing advisory
package gpsquality

// Accuracy bands in meters
const (
	ModerateThresholdM = 10.0
	PoorThresholdM     = 15.0
)

// Translation keys
const (
	KeyPoor     = "gps.accuracy.poor"
	KeyModerate = "gps.accuracy.moderate"
)

var englishDefaults = map[string]string{
	KeyPoor:     "GPS accuracy is poor. Drag alarm reliability is degraded.",
	KeyModerate: "GPS accuracy is moderate. Monitor your position more closely.",
}

// Translator resolves a message key to localized text. An empty result means "not translated".
type Translator func(key string) string

// Level is the accuracy band of a reading
type Level int

const (
	LevelGood Level = iota
	LevelModerate
	LevelPoor
)

func (l Level) String() string {
	switch l {
	case LevelModerate:
		return "moderate"
	case LevelPoor:
		return "poor"
	default:
		return "good"
	}
}

// Quality is the classification of one accuracy reading
type Quality struct {
	Level    Level  `json:"level"`
	Poor     bool   `json:"poor"`
	Advisory string `json:"advisory,omitempty"`
}

// Classify maps an accuracy in meters to a quality band. A nil accuracy
// produces no advisory. tr may be nil.
func Classify(accuracy *float64, tr Translator) Quality {
	if accuracy == nil {
		return Quality{Level: LevelGood}
	}

	switch acc := *accuracy; {
	case acc > PoorThresholdM:
		return Quality{Level: LevelPoor, Poor: true, Advisory: translate(tr, KeyPoor)}
	case acc > ModerateThresholdM:
		return Quality{Level: LevelModerate, Advisory: translate(tr, KeyModerate)}
	default:
		return Quality{Level: LevelGood}
	}
}

func translate(tr Translator, key string) string {
	if tr != nil {
		if s := tr(key); s != "" {
			return s
		}
	}
	return englishDefaults[key]
}

package health

// Level buckets a usage percentage for presentation colouring.
type Level int

// Level constants from least to most concerning.
const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText renders the level name in JSON and YAML output.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Thresholds defines the usage percentages at which a value turns warning and
// critical.
type Thresholds struct {
	Warning  float64
	Critical float64
}

// DefaultThresholds returns 50% warning and 80% critical.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:  50.0,
		Critical: 80.0,
	}
}

// Classify returns the level for a usage percentage.
func (t Thresholds) Classify(percent float64) Level {
	switch {
	case percent >= t.Critical:
		return LevelCritical
	case percent >= t.Warning:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// ClassifyScore rates a health score; low scores are the concerning ones.
func (t Thresholds) ClassifyScore(score int) Level {
	return t.Classify(float64(MaxScore - score))
}

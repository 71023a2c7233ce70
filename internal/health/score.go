// Package health fuses resource usage and login failures into a 0-100 score.
package health

import "math"

const (
	MaxScore = 100
	MinScore = 0

	// maxLoginPenalty caps the deduction for failed logins.
	maxLoginPenalty = 20
)

// Inputs are the signals the score is computed from.
type Inputs struct {
	CPUPercent   float64
	RAMPercent   float64
	DiskPercent  float64
	FailedLogins int
}

// Score starts at 100 and subtracts floor(cpu/2), floor(ram/3), floor(disk/4)
// and, when there were failed logins, min(20, 2*failed). Percentages are
// clamped to [0,100] first so no single term exceeds its cap, and the result
// is clamped to [0,100].
func Score(in Inputs) int {
	score := MaxScore

	score -= int(math.Floor(clampPercent(in.CPUPercent) / 2))
	score -= int(math.Floor(clampPercent(in.RAMPercent) / 3))
	score -= int(math.Floor(clampPercent(in.DiskPercent) / 4))

	if in.FailedLogins > 0 {
		penalty := maxLoginPenalty
		if in.FailedLogins < maxLoginPenalty/2 {
			penalty = in.FailedLogins * 2
		}
		score -= penalty
	}

	return clampScore(score)
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func clampScore(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

package health

import (
	"math"
	"testing"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want int
	}{
		{
			name: "idle host",
			in:   Inputs{},
			want: 100,
		},
		{
			name: "saturated host clamps to zero",
			in:   Inputs{CPUPercent: 100, RAMPercent: 99, DiskPercent: 100, FailedLogins: 5},
			want: 0,
		},
		{
			name: "moderate load",
			in:   Inputs{CPUPercent: 25, RAMPercent: 40, DiskPercent: 60},
			want: 100 - 12 - 13 - 15,
		},
		{
			name: "fractions floor",
			in:   Inputs{CPUPercent: 3.9, RAMPercent: 5.99, DiskPercent: 7.99},
			want: 100 - 1 - 1 - 1,
		},
		{
			name: "single failed login",
			in:   Inputs{FailedLogins: 1},
			want: 98,
		},
		{
			name: "login penalty caps at twenty",
			in:   Inputs{FailedLogins: 1000},
			want: 80,
		},
		{
			name: "negative failed logins ignored",
			in:   Inputs{FailedLogins: -4},
			want: 100,
		},
		{
			name: "NaN treated as zero",
			in:   Inputs{CPUPercent: math.NaN()},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.in); got != tt.want {
				t.Errorf("Score(%+v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestScore_OutOfDomainStaysBounded(t *testing.T) {
	inputs := []Inputs{
		{CPUPercent: 150, RAMPercent: -10, DiskPercent: 500, FailedLogins: 1000},
		{CPUPercent: -1e9, RAMPercent: -1e9, DiskPercent: -1e9, FailedLogins: -1e9},
		{CPUPercent: math.Inf(1), RAMPercent: math.Inf(-1), DiskPercent: math.NaN()},
	}

	for _, in := range inputs {
		got := Score(in)
		if got < MinScore || got > MaxScore {
			t.Errorf("Score(%+v) = %d, outside [%d,%d]", in, got, MinScore, MaxScore)
		}
	}
}

func TestScore_NonIncreasing(t *testing.T) {
	base := Inputs{CPUPercent: 30, RAMPercent: 30, DiskPercent: 30, FailedLogins: 2}

	vary := map[string]func(Inputs, float64) Inputs{
		"cpu": func(in Inputs, v float64) Inputs { in.CPUPercent = v; return in },
		"ram": func(in Inputs, v float64) Inputs { in.RAMPercent = v; return in },
		"disk": func(in Inputs, v float64) Inputs { in.DiskPercent = v; return in },
		"failed_logins": func(in Inputs, v float64) Inputs {
			in.FailedLogins = int(v)
			return in
		},
	}

	for name, set := range vary {
		t.Run(name, func(t *testing.T) {
			prev := Score(set(base, -20))
			for v := -19.5; v <= 160; v += 0.5 {
				got := Score(set(base, v))
				if got > prev {
					t.Fatalf("Score increased from %d to %d when %s rose to %v", prev, got, name, v)
				}
				prev = got
			}
		})
	}
}

func TestScore_Deterministic(t *testing.T) {
	in := Inputs{CPUPercent: 47.3, RAMPercent: 61.2, DiskPercent: 88.8, FailedLogins: 3}
	first := Score(in)

	for i := 0; i < 100; i++ {
		if got := Score(in); got != first {
			t.Fatalf("Score() = %d on run %d, first run was %d", got, i, first)
		}
	}
}

func TestThresholdsClassify(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		percent float64
		want    Level
	}{
		{0, LevelNormal},
		{49.9, LevelNormal},
		{50, LevelWarning},
		{79.9, LevelWarning},
		{80, LevelCritical},
		{120, LevelCritical},
	}

	for _, tt := range tests {
		if got := th.Classify(tt.percent); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.percent, got, tt.want)
		}
	}
}

func TestThresholdsClassifyScore(t *testing.T) {
	th := DefaultThresholds()

	if got := th.ClassifyScore(100); got != LevelNormal {
		t.Errorf("ClassifyScore(100) = %v, want normal", got)
	}
	if got := th.ClassifyScore(40); got != LevelWarning {
		t.Errorf("ClassifyScore(40) = %v, want warning", got)
	}
	if got := th.ClassifyScore(5); got != LevelCritical {
		t.Errorf("ClassifyScore(5) = %v, want critical", got)
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelNormal, "normal"},
		{LevelWarning, "warning"},
		{LevelCritical, "critical"},
		{Level(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

package sm2

import (
	"errors"
	"math"
	"testing"

	"github.com/memoai/memopush/internal/domain"
)

const epsilon = 1e-9

func baseParams() Params {
	return Params{EF: 2.5, Repetitions: 0, IntervalDays: 1, Importance: domain.ImportanceMedium}
}

func TestUpdateRejectsOutOfRangeGrade(t *testing.T) {
	for _, grade := range []int{-1, 6, 100} {
		if _, err := Update(grade, baseParams()); !errors.Is(err, ErrInvalidGrade) {
			t.Errorf("Update(%d) error = %v, want ErrInvalidGrade", grade, err)
		}
	}
}

func TestUpdateEFFormula(t *testing.T) {
	// grade 3: EF' = 2.5 + 0.1 - 2*(0.08 + 2*0.02) = 2.36
	res, err := Update(3, baseParams())
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if math.Abs(res.EF-2.36) > epsilon {
		t.Errorf("EF = %.4f, want 2.36", res.EF)
	}
}

func TestUpdateEFNeverBelowFloor(t *testing.T) {
	p := baseParams()
	p.EF = 1.3
	for grade := 0; grade <= 5; grade++ {
		res, err := Update(grade, p)
		if err != nil {
			t.Fatalf("Update(%d) returned error: %v", grade, err)
		}
		if res.EF < MinEF {
			t.Errorf("Update(%d) EF = %.4f, below floor %.1f", grade, res.EF, MinEF)
		}
	}
}

func TestUpdateResultsAlwaysValid(t *testing.T) {
	for grade := 0; grade <= 5; grade++ {
		res, err := Update(grade, Params{EF: 1.3, Repetitions: 3, IntervalDays: 10, Importance: domain.ImportanceLow})
		if err != nil {
			t.Fatalf("Update(%d) returned error: %v", grade, err)
		}
		if res.EF < MinEF || res.IntervalDays < 1 || res.Repetitions < 0 {
			t.Errorf("Update(%d) = %+v, violates bounds", grade, res)
		}
	}
}

func TestUpdateGraduatedIntervals(t *testing.T) {
	// Repeated grade 5 from a fresh chunk: intervals go 1 -> 6 -> round(6*ef).
	p := baseParams()
	var intervals []int
	for i := 0; i < 4; i++ {
		res, err := Update(5, p)
		if err != nil {
			t.Fatalf("Update returned error: %v", err)
		}
		intervals = append(intervals, res.IntervalDays)
		p.EF = res.EF
		p.Repetitions = res.Repetitions
		p.IntervalDays = res.IntervalDays
	}

	if intervals[0] != 1 {
		t.Errorf("first interval = %d, want 1", intervals[0])
	}
	if intervals[1] != 6 {
		t.Errorf("second interval = %d, want 6", intervals[1])
	}
	// EF entering the third review is 2.7 (two grade-5 bumps of +0.1), so
	// the third interval is round(6 * 2.7) = 16.
	if intervals[2] != 16 {
		t.Errorf("third interval = %d, want 16", intervals[2])
	}
	for i := 1; i < len(intervals); i++ {
		if intervals[i] < intervals[i-1] {
			t.Errorf("intervals not non-decreasing: %v", intervals)
		}
	}
}

func TestUpdateFailureResetsStreak(t *testing.T) {
	p := Params{EF: 2.5, Repetitions: 8, IntervalDays: 120, Importance: domain.ImportanceMedium}
	for grade := 0; grade < 3; grade++ {
		res, err := Update(grade, p)
		if err != nil {
			t.Fatalf("Update(%d) returned error: %v", grade, err)
		}
		if res.Repetitions != 0 {
			t.Errorf("Update(%d) repetitions = %d, want 0", grade, res.Repetitions)
		}
		if res.IntervalDays != 1 {
			t.Errorf("Update(%d) interval = %d, want 1", grade, res.IntervalDays)
		}
	}
}

func TestUpdateImportanceMultiplier(t *testing.T) {
	// Third successful repetition with EF 2.0 and interval 10 gives a base
	// interval of 20 days before the importance adjustment.
	base := Params{EF: 2.0, Repetitions: 2, IntervalDays: 10}

	tests := []struct {
		level domain.ImportanceLevel
		want  int
	}{
		{domain.ImportanceLow, 30},    // 20 * 1.5
		{domain.ImportanceMedium, 20}, // 20 * 1.0
		{domain.ImportanceHigh, 14},   // 20 * 0.7
	}
	for _, tt := range tests {
		p := base
		p.Importance = tt.level
		res, err := Update(4, p)
		if err != nil {
			t.Fatalf("Update returned error: %v", err)
		}
		if res.IntervalDays != tt.want {
			t.Errorf("importance %s: interval = %d, want %d", tt.level, res.IntervalDays, tt.want)
		}
	}
}

func TestUpdateIntervalFlooredAtOneDay(t *testing.T) {
	// First repetition (interval 1) with the high-importance 0.7 multiplier
	// would round to 1, never 0.
	res, err := Update(5, Params{EF: 2.5, Repetitions: 0, IntervalDays: 1, Importance: domain.ImportanceHigh})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if res.IntervalDays < 1 {
		t.Errorf("interval = %d, want >= 1", res.IntervalDays)
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	p := Params{EF: 2.1, Repetitions: 3, IntervalDays: 15, Importance: domain.ImportanceHigh}
	first, err := Update(4, p)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	second, err := Update(4, p)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if first != second {
		t.Errorf("identical inputs gave different results: %+v vs %+v", first, second)
	}
}

func TestFamiliarScoreFixedPoint(t *testing.T) {
	// When prev already equals grade/5, the EMA must not drift.
	got := FamiliarScore(0.8, 4, DefaultAlpha)
	if math.Abs(got-0.8) > epsilon {
		t.Errorf("FamiliarScore(0.8, 4) = %.6f, want 0.8", got)
	}
}

func TestFamiliarScoreMovesTowardGrade(t *testing.T) {
	tests := []struct {
		prev  float64
		grade int
	}{
		{0.2, 5},
		{0.9, 1},
		{0.5, 3},
	}
	for _, tt := range tests {
		got := FamiliarScore(tt.prev, tt.grade, DefaultAlpha)
		target := float64(tt.grade) / 5
		lo, hi := math.Min(tt.prev, target), math.Max(tt.prev, target)
		if got < lo-epsilon || got > hi+epsilon {
			t.Errorf("FamiliarScore(%.1f, %d) = %.4f, outside [%.4f, %.4f]",
				tt.prev, tt.grade, got, lo, hi)
		}
	}
}

func TestFamiliarScoreClampsBadPrev(t *testing.T) {
	// Out-of-range prev is treated as 0, not rejected.
	got := FamiliarScore(1.7, 5, DefaultAlpha)
	want := DefaultAlpha // (1-a)*0 + a*1
	if math.Abs(got-want) > epsilon {
		t.Errorf("FamiliarScore(1.7, 5) = %.4f, want %.4f", got, want)
	}

	got = FamiliarScore(-0.3, 0, DefaultAlpha)
	if math.Abs(got) > epsilon {
		t.Errorf("FamiliarScore(-0.3, 0) = %.4f, want 0", got)
	}
}

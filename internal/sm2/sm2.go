package sm2

import (
	"errors"
	"math"

	"github.com/memoai/memopush/internal/domain"
)

// ErrInvalidGrade is returned for grades outside the 0..5 range.
// Check with errors.Is.
var ErrInvalidGrade = errors.New("sm2: grade must be in range 0..5")

const (
	// MinEF is the floor of the difficulty factor.
	MinEF = 1.3

	// DefaultAlpha is the smoothing factor for the familiar-score
	// moving average.
	DefaultAlpha = 0.3
)

// Params holds the scheduling state of a chunk going into a review.
type Params struct {
	EF           float64
	Repetitions  int
	IntervalDays int
	Importance   domain.ImportanceLevel
}

// Result holds the scheduling state coming out of a review.
type Result struct {
	EF           float64
	Repetitions  int
	IntervalDays int
}

// Update computes the next EF, repetition streak, and interval for a review
// graded 0..5. It is pure: identical inputs always yield identical outputs.
func Update(grade int, p Params) (Result, error) {
	if grade < 0 || grade > 5 {
		return Result{}, ErrInvalidGrade
	}

	// EF' = max(1.3, EF + 0.1 - (5-g)*(0.08 + (5-g)*0.02))
	// The penalty grows quadratically in (5-g), so low grades cost more
	// per point than near-perfect ones.
	q := float64(5 - grade)
	ef := math.Max(MinEF, p.EF+0.1-q*(0.08+q*0.02))

	reps := p.Repetitions
	interval := p.IntervalDays
	if grade < 3 {
		// Incorrect answer: the streak resets and the chunk comes back
		// tomorrow.
		reps = 0
		interval = 1
	} else {
		reps++
		switch reps {
		case 1:
			interval = 1
		case 2:
			interval = 6
		default:
			// Graduated interval: grow by the pre-update EF.
			interval = max(1, int(math.Round(float64(p.IntervalDays)*p.EF)))
		}
	}

	interval = max(1, int(math.Round(float64(interval)*ImportanceMultiplier(p.Importance))))

	return Result{EF: ef, Repetitions: reps, IntervalDays: interval}, nil
}

// ImportanceMultiplier stretches or shrinks intervals by importance level.
// High-importance chunks come back sooner, low-importance ones later.
func ImportanceMultiplier(level domain.ImportanceLevel) float64 {
	switch level {
	case domain.ImportanceLow:
		return 1.5
	case domain.ImportanceHigh:
		return 0.7
	default:
		return 1.0
	}
}

// FamiliarScore blends a single review grade into the running [0,1] mastery
// estimate with an exponential moving average. A prev outside [0,1] is
// treated as 0 before blending.
func FamiliarScore(prev float64, grade int, alpha float64) float64 {
	if prev < 0 || prev > 1 {
		prev = 0
	}
	mapped := math.Min(1, math.Max(0, float64(grade)/5))
	return (1-alpha)*prev + alpha*mapped
}

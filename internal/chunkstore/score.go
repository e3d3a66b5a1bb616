package chunkstore

import (
	"math"
	"time"

	"github.com/memoai/memopush/internal/domain"
)

// Score components. Overdue-ness saturates after a week; unfamiliarity and
// importance contribute fixed ranges. Total range is [0, 7].
const (
	overdueWeight    = 4.0
	overdueCapDays   = 7.0
	unfamiliarWeight = 2.0
)

// Score computes a chunk's push priority in [0, 7]; higher means more urgent.
// It is deterministic for a given chunk state and time, monotonically
// non-decreasing in overdue-ness and non-increasing in familiar score, and
// biased upward for high importance.
func Score(c domain.Chunk, now time.Time) float64 {
	var overdue float64
	if now.After(c.DueAt) {
		days := now.Sub(c.DueAt).Hours() / 24
		overdue = math.Min(days/overdueCapDays, 1) * overdueWeight
	}

	familiar := c.FamiliarScore
	if familiar < 0 {
		familiar = 0
	} else if familiar > 1 {
		familiar = 1
	}
	unfamiliar := (1 - familiar) * unfamiliarWeight

	return overdue + unfamiliar + importanceBonus(c.Importance)
}

func importanceBonus(level domain.ImportanceLevel) float64 {
	switch level {
	case domain.ImportanceHigh:
		return 1.0
	case domain.ImportanceMedium:
		return 0.5
	default:
		return 0
	}
}

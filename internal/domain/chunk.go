package domain

import "time"

// ImportanceLevel weights how aggressively a chunk is re-reviewed.
type ImportanceLevel string

const (
	ImportanceLow    ImportanceLevel = "low"
	ImportanceMedium ImportanceLevel = "medium"
	ImportanceHigh   ImportanceLevel = "high"
)

// Chunk is a fragment of note content subject to spaced-repetition review.
// The SM2* fields carry the scheduler state; FamiliarScore is a smoothed
// [0,1] mastery estimate and ChunkScore a cached 0-7 push priority.
type Chunk struct {
	ID              string          `json:"id"`
	NotePath        string          `json:"notePath"`
	Content         string          `json:"content"`
	ContentHash     string          `json:"contentHash"`
	Importance      ImportanceLevel `json:"importanceLevel"`
	FamiliarScore   float64         `json:"familiarScore"`
	NeedsReview     bool            `json:"needsReview"`
	SM2EF           float64         `json:"sm2EF"`
	SM2Repetitions  int             `json:"sm2Repetitions"`
	SM2IntervalDays int             `json:"sm2IntervalDays"`
	DueAt           time.Time       `json:"dueAt"`
	ChunkScore      float64         `json:"chunkScore"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

package domain

import "time"

// PushState is the lifecycle state of a push.
// Transitions: pending -> active -> completed. Completed is terminal.
type PushState string

const (
	PushPending   PushState = "pending"
	PushActive    PushState = "active"
	PushCompleted PushState = "completed"
)

// Open reports whether the state still accepts conversation turns.
func (s PushState) Open() bool {
	return s == PushPending || s == PushActive
}

// Sender identifies who authored a push message.
type Sender string

const (
	SenderSystem Sender = "system"
	SenderUser   Sender = "user"
)

// Evaluation is the outcome of a completed review conversation.
// Confidence is reported by the reasoning service and may be absent.
type Evaluation struct {
	Grade          int       `json:"grade"`
	Recommendation string    `json:"recommendation"`
	NextDueAt      time.Time `json:"nextDueAt,omitzero"`
	Confidence     *float64  `json:"confidence,omitempty"`
}

// Push is one scheduled review session tied to a single chunk.
// At most one open (pending or active) push may exist per chunk.
type Push struct {
	ID           string      `json:"id"`
	ChunkID      string      `json:"chunkId"`
	State        PushState   `json:"state"`
	CreatedAt    time.Time   `json:"createdAt"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	LastQuestion string      `json:"lastQuestion,omitempty"`
	Evaluation   *Evaluation `json:"evaluation,omitempty"`
}

// PushMessage is one turn in a push conversation. Messages are append-only
// and are deleted together with their push.
type PushMessage struct {
	ID        string    `json:"id"`
	PushID    string    `json:"pushId"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Package conversation drives the per-push review dialogue: opening
// question, turn-taking against the reasoning service, and evaluation
// feeding back into the chunk's spaced-repetition state.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/memoai/memopush/internal/domain"
	"github.com/memoai/memopush/internal/llm"
	"github.com/memoai/memopush/internal/pushstore"
)

var (
	// ErrInvalidState is returned when a push is in the wrong lifecycle
	// state for the requested operation.
	ErrInvalidState = errors.New("conversation: push in wrong state")
	// ErrEmptyMessage is returned for blank user messages.
	ErrEmptyMessage = errors.New("conversation: empty message")
)

// ChunkStore is the slice of the chunk store the engine consumes. Review
// applies the spaced-repetition update and returns the updated chunk.
type ChunkStore interface {
	GetByID(id string) (*domain.Chunk, error)
	Review(id string, grade int) (*domain.Chunk, error)
}

// Adapter is the reasoning-service boundary. Both calls are treated as
// unreliable; the engine never lets a failure stall a conversation.
type Adapter interface {
	GenerateQuestion(ctx context.Context, req llm.QuestionRequest) (string, error)
	GenerateTurn(ctx context.Context, req llm.TurnRequest) (llm.Turn, error)
}

const (
	fallbackExcerptRunes = 80
	fallbackResponse     = "I can't process that right now. Please try again in a moment."
	praiseMessage        = "Great job! Keep going."
	practiceMessage      = "Needs more practice."
)

// Engine is the push conversation state machine. Callers are responsible
// for serializing operations against the same push; the engine persists
// exactly once per operation.
type Engine struct {
	pushes   *pushstore.Store
	chunks   ChunkStore
	adapter  Adapter
	language string
}

// New creates an Engine.
func New(pushes *pushstore.Store, chunks ChunkStore, adapter Adapter, language string) *Engine {
	return &Engine{pushes: pushes, chunks: chunks, adapter: adapter, language: language}
}

// Start opens the conversation for a pending push: generates the opening
// question, records it as a system message, and activates the push. On
// adapter failure a templated question from a content excerpt is used
// instead; the conversation never stalls on an external failure.
func (e *Engine) Start(ctx context.Context, pushID string) (string, error) {
	p, err := e.pushes.Get(pushID)
	if err != nil {
		return "", err
	}
	if p.State != domain.PushPending {
		return "", fmt.Errorf("%w: push %s is %s, want pending", ErrInvalidState, pushID, p.State)
	}

	chunk, err := e.chunks.GetByID(p.ChunkID)
	if err != nil {
		return "", fmt.Errorf("failed to load chunk for push %s: %w", pushID, err)
	}

	question := e.question(ctx, chunk)
	if err := e.pushes.SetActive(pushID, question); err != nil {
		return "", err
	}
	if _, err := e.pushes.AppendMessage(pushID, domain.SenderSystem, question); err != nil {
		return "", err
	}
	if err := e.pushes.Persist(); err != nil {
		return "", err
	}
	return question, nil
}

// SendUserMessage appends the user's reply, obtains the next system turn,
// and completes the push when the reasoning service ends the conversation
// with an evaluation. Adapter failures degrade to an apologetic response
// that keeps the conversation open.
func (e *Engine) SendUserMessage(ctx context.Context, pushID, content string) (llm.Turn, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return llm.Turn{}, ErrEmptyMessage
	}

	p, err := e.pushes.Get(pushID)
	if err != nil {
		return llm.Turn{}, err
	}
	if p.State == domain.PushCompleted {
		return llm.Turn{}, fmt.Errorf("%w: push %s already completed", ErrInvalidState, pushID)
	}

	chunk, err := e.chunks.GetByID(p.ChunkID)
	if err != nil {
		return llm.Turn{}, fmt.Errorf("failed to load chunk for push %s: %w", pushID, err)
	}

	if _, err := e.pushes.AppendMessage(pushID, domain.SenderUser, trimmed); err != nil {
		return llm.Turn{}, err
	}

	turn := e.turn(ctx, chunk, e.history(pushID), false)
	if _, err := e.pushes.AppendMessage(pushID, domain.SenderSystem, turn.Response); err != nil {
		return llm.Turn{}, err
	}

	// Apply the evaluation only if the push is still active: guards
	// against a double evaluation when a forced end races a natural one.
	if turn.ShouldEnd && turn.Evaluation != nil {
		if cur, err := e.pushes.Get(pushID); err == nil && cur.State == domain.PushActive {
			if err := e.applyEvaluation(pushID, chunk.ID, *turn.Evaluation); err != nil {
				return llm.Turn{}, err
			}
		}
	}

	if err := e.pushes.Persist(); err != nil {
		return llm.Turn{}, err
	}
	return turn, nil
}

// ForceEvaluate asks the reasoning service to conclude and grade an active
// push immediately. It is a no-op on pushes in any other state.
func (e *Engine) ForceEvaluate(ctx context.Context, pushID string) error {
	p, err := e.pushes.Get(pushID)
	if err != nil {
		return err
	}
	if p.State != domain.PushActive {
		return nil
	}

	chunk, err := e.chunks.GetByID(p.ChunkID)
	if err != nil {
		return fmt.Errorf("failed to load chunk for push %s: %w", pushID, err)
	}

	turn := e.turn(ctx, chunk, e.history(pushID), true)
	if turn.Response != "" {
		if _, err := e.pushes.AppendMessage(pushID, domain.SenderSystem, turn.Response); err != nil {
			return err
		}
	}

	if turn.ShouldEnd && turn.Evaluation != nil {
		if cur, err := e.pushes.Get(pushID); err == nil && cur.State == domain.PushActive {
			if err := e.applyEvaluation(pushID, chunk.ID, *turn.Evaluation); err != nil {
				return err
			}
		}
	}

	return e.pushes.Persist()
}

// ManualEvaluate bypasses the reasoning service: the caller supplies the
// grade directly. The grade is rounded and clamped to [0,5]; an empty
// recommendation is defaulted by grade.
func (e *Engine) ManualEvaluate(pushID string, grade float64, recommendation string) error {
	p, err := e.pushes.Get(pushID)
	if err != nil {
		return err
	}
	if p.State == domain.PushCompleted {
		return fmt.Errorf("%w: push %s already completed", ErrInvalidState, pushID)
	}
	if _, err := e.chunks.GetByID(p.ChunkID); err != nil {
		return fmt.Errorf("failed to load chunk for push %s: %w", pushID, err)
	}

	safe := float64(clampGrade(int(math.Round(grade))))
	if recommendation == "" {
		if safe >= 3 {
			recommendation = praiseMessage
		} else {
			recommendation = practiceMessage
		}
	}
	if err := e.applyEvaluation(pushID, p.ChunkID, llm.Evaluation{
		Grade:          &safe,
		Recommendation: recommendation,
	}); err != nil {
		return err
	}
	return e.pushes.Persist()
}

// applyEvaluation is the single path through which a push completes:
// exactly one chunk review and one state transition. Persisting and
// notifying are left to the outer operation so a turn that both responds
// and evaluates still snapshots once.
func (e *Engine) applyEvaluation(pushID, chunkID string, ev llm.Evaluation) error {
	grade := 3
	if ev.Grade != nil {
		grade = clampGrade(int(math.Round(*ev.Grade)))
	}

	updated, err := e.chunks.Review(chunkID, grade)
	if err != nil {
		return fmt.Errorf("failed to review chunk %s: %w", chunkID, err)
	}

	eval := domain.Evaluation{
		Grade:          grade,
		Recommendation: ev.Recommendation,
		Confidence:     ev.Confidence,
	}
	if updated != nil {
		eval.NextDueAt = updated.DueAt
	}
	return e.pushes.Complete(pushID, eval)
}

func (e *Engine) history(pushID string) []llm.Message {
	msgs := e.pushes.Messages(pushID)
	history := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, llm.Message{Sender: string(m.Sender), Content: m.Content})
	}
	return history
}

func (e *Engine) question(ctx context.Context, chunk *domain.Chunk) string {
	q, err := e.adapter.GenerateQuestion(ctx, llm.QuestionRequest{
		Content:       chunk.Content,
		FamiliarScore: chunk.FamiliarScore,
		Language:      e.language,
	})
	if err != nil {
		slog.Error("failed to generate push question", "chunk", chunk.ID, "error", err)
		return fmt.Sprintf("Explain the following in your own words: %s...", excerpt(chunk.Content, fallbackExcerptRunes))
	}
	return q
}

func (e *Engine) turn(ctx context.Context, chunk *domain.Chunk, history []llm.Message, force bool) llm.Turn {
	turn, err := e.adapter.GenerateTurn(ctx, llm.TurnRequest{
		Content:       chunk.Content,
		FamiliarScore: chunk.FamiliarScore,
		History:       history,
		Language:      e.language,
		ForceEvaluate: force,
	})
	if err != nil {
		slog.Error("failed to generate push response", "chunk", chunk.ID, "error", err)
		return llm.Turn{Response: fallbackResponse, ShouldEnd: false}
	}
	return turn
}

func clampGrade(g int) int {
	return min(5, max(0, g))
}

func excerpt(s string, runes int) string {
	r := []rune(s)
	if len(r) <= runes {
		return s
	}
	return string(r[:runes])
}

// Package scheduler decides which chunks get surfaced as review pushes.
// Refresh sweeps dead pushes and tops the open set back up to the cap;
// Schedule ranks due chunks by score and creates pending pushes for the
// best of them.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/memoai/memopush/internal/domain"
	"github.com/memoai/memopush/internal/pushstore"
)

// ErrNotConfigured is returned when scheduling is requested without a
// reasoning-service credential. Nothing is created.
var ErrNotConfigured = errors.New("scheduler: reasoning service not configured")

// ChunkSource is the slice of the chunk store the scheduler consumes.
// Score must be deterministic for a given chunk state and time; the
// scheduler treats it as an opaque comparator.
type ChunkSource interface {
	GetAll() ([]domain.Chunk, error)
	SetScore(id string, score float64) error
	MarkDue(now time.Time) (int, error)
	Score(c domain.Chunk, now time.Time) float64
}

// Config bounds the scheduler. Zero values fall back to defaults; out of
// range values are clamped.
type Config struct {
	// MaxActive is the cap on concurrently open pushes, clamped to [1,50].
	MaxActive int
	// DueHours is how long a push stays open before expiring, clamped to
	// [1,720].
	DueHours int
	// ScoreThreshold is the minimum chunk score eligible for a push.
	ScoreThreshold float64
	// Configured reports whether the reasoning service has a credential.
	Configured bool
}

const (
	defaultMaxActive = 5
	defaultDueHours  = 24
)

func (c Config) maxActive() int {
	v := c.MaxActive
	if v == 0 {
		v = defaultMaxActive
	}
	return min(50, max(1, v))
}

func (c Config) dueDuration() time.Duration {
	v := c.DueHours
	if v == 0 {
		v = defaultDueHours
	}
	return time.Duration(min(720, max(1, v))) * time.Hour
}

// Stats summarizes one Refresh pass.
type Stats struct {
	Deleted int `json:"deleted"`
	Created int `json:"created"`
	Kept    int `json:"kept"`
}

// Scheduler creates pushes from due chunks. A single mutex serializes
// Refresh and Schedule so concurrent triggers (cron, HTTP) cannot race the
// open-push cap.
type Scheduler struct {
	mu     sync.Mutex
	pushes *pushstore.Store
	chunks ChunkSource
	cfg    Config
	now    func() time.Time
}

// New creates a Scheduler.
func New(pushes *pushstore.Store, chunks ChunkSource, cfg Config) *Scheduler {
	return &Scheduler{pushes: pushes, chunks: chunks, cfg: cfg, now: time.Now}
}

// Refresh sweeps completed and expired pushes (expired actives are
// abandoned mid-conversation, not re-queued), flags newly due chunks, and
// tops the open set back up to the cap. A missing reasoning-service
// credential only suppresses the top-up; the sweep still runs.
func (s *Scheduler) Refresh(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	deleted, kept, err := s.pushes.Sweep(now)
	if err != nil {
		return Stats{}, err
	}
	if deleted > 0 {
		slog.Debug("swept dead pushes", "deleted", deleted, "kept", kept)
	}

	if n, err := s.chunks.MarkDue(now); err != nil {
		slog.Warn("failed to flag due chunks", "error", err)
	} else if n > 0 {
		slog.Info("flagged due chunks for review", "count", n)
	}

	created := 0
	needed := s.cfg.maxActive() - s.pushes.OpenCount()
	if needed > 0 {
		created, err = s.scheduleLocked(ctx, needed, false)
		if err != nil && !errors.Is(err, ErrNotConfigured) {
			return Stats{}, err
		}
	}

	return Stats{Deleted: deleted, Created: created, Kept: kept}, nil
}

// Schedule creates up to maxCount pending pushes from the highest-scoring
// candidate chunks. In debug mode every chunk is a candidate, not just the
// ones flagged for review. Returns the number created.
func (s *Scheduler) Schedule(ctx context.Context, maxCount int, debug bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(ctx, maxCount, debug)
}

func (s *Scheduler) scheduleLocked(ctx context.Context, maxCount int, debug bool) (int, error) {
	if !s.cfg.Configured {
		slog.Warn("configure reasoning service credentials before scheduling pushes")
		return 0, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	all, err := s.chunks.GetAll()
	if err != nil {
		return 0, err
	}

	now := s.now()

	type candidate struct {
		chunk domain.Chunk
		score float64
	}
	var candidates []candidate
	for _, c := range all {
		if !debug && !c.NeedsReview {
			continue
		}
		if s.pushes.HasOpenForChunk(c.ID) {
			continue
		}
		// Score every remaining candidate and persist it, selected or
		// not, so cached scores stay fresh for display.
		score := s.chunks.Score(c, now)
		if err := s.chunks.SetScore(c.ID, score); err != nil {
			slog.Warn("failed to cache chunk score", "chunk", c.ID, "error", err)
		}
		if score >= s.cfg.ScoreThreshold {
			candidates = append(candidates, candidate{chunk: c, score: score})
		}
	}

	// Stable sort: equal scores keep discovery order (chunk creation
	// order, since GetAll returns ulid-ascending).
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if maxCount < 0 {
		maxCount = 0
	}
	if len(candidates) > maxCount {
		candidates = candidates[:maxCount]
	}

	created := 0
	for _, cand := range candidates {
		// Re-check the cap per creation: scoring and persisting above
		// yield control, so the open set may have grown since the
		// needed count was computed.
		if s.pushes.OpenCount() >= s.cfg.maxActive() {
			break
		}
		p := s.pushes.CreatePending(cand.chunk.ID, s.cfg.dueDuration())
		slog.Info("scheduled push", "push", p.ID, "chunk", cand.chunk.ID, "score", cand.score)
		created++
	}

	if created > 0 {
		if err := s.pushes.Persist(); err != nil {
			return 0, err
		}
	}
	return created, nil
}

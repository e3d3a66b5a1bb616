package chunkstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/memoai/memopush/internal/domain"
	"github.com/memoai/memopush/internal/sm2"
)

// ErrNotFound is returned when a chunk id does not exist.
var ErrNotFound = errors.New("chunkstore: chunk not found")

// DB is the SQLite-backed chunk store. It owns the chunks and their
// spaced-repetition state; pushes only reference chunks by id.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Open creates a new chunk store connection and ensures the schema exists.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to chunk database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply chunk schema: %w", err)
	}

	return &DB{
		conn: conn,
		now:  time.Now,
	}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// newID mints a ulid. DefaultEntropy is locked, so concurrent Create
// calls are safe.
func (db *DB) newID() string {
	return ulid.MustNew(ulid.Timestamp(db.now()), ulid.DefaultEntropy()).String()
}

const chunkColumns = `id, note_path, content, content_hash, importance, familiar_score,
	needs_review, sm2_ef, sm2_repetitions, sm2_interval_days, due_at, chunk_score,
	created_at, updated_at`

func scanChunk(row interface{ Scan(...any) error }) (*domain.Chunk, error) {
	var c domain.Chunk
	err := row.Scan(
		&c.ID,
		&c.NotePath,
		&c.Content,
		&c.ContentHash,
		&c.Importance,
		&c.FamiliarScore,
		&c.NeedsReview,
		&c.SM2EF,
		&c.SM2Repetitions,
		&c.SM2IntervalDays,
		&c.DueAt,
		&c.ChunkScore,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new chunk with fresh SM-2 state, due immediately.
func (db *DB) Create(notePath, content, contentHash string, importance domain.ImportanceLevel) (*domain.Chunk, error) {
	now := db.now()
	c := &domain.Chunk{
		ID:              db.newID(),
		NotePath:        notePath,
		Content:         content,
		ContentHash:     contentHash,
		Importance:      importance,
		FamiliarScore:   0,
		NeedsReview:     true,
		SM2EF:           2.5,
		SM2Repetitions:  0,
		SM2IntervalDays: 1,
		DueAt:           now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := db.conn.Exec(`
		INSERT INTO chunks (`+chunkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.NotePath, c.Content, c.ContentHash, c.Importance, c.FamiliarScore,
		c.NeedsReview, c.SM2EF, c.SM2Repetitions, c.SM2IntervalDays, c.DueAt,
		c.ChunkScore, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert chunk for %s: %w", notePath, err)
	}
	return c, nil
}

// GetAll returns every chunk, oldest first (ulid ids sort by creation time).
func (db *DB) GetAll() ([]domain.Chunk, error) {
	return db.queryChunks(`SELECT ` + chunkColumns + ` FROM chunks ORDER BY id`)
}

// GetByNotePath returns the chunks extracted from a single note.
func (db *DB) GetByNotePath(path string) ([]domain.Chunk, error) {
	return db.queryChunks(`SELECT `+chunkColumns+` FROM chunks WHERE note_path = ? ORDER BY id`, path)
}

func (db *DB) queryChunks(query string, args ...any) ([]domain.Chunk, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

// GetByID returns a single chunk or ErrNotFound.
func (db *DB) GetByID(id string) (*domain.Chunk, error) {
	row := db.conn.QueryRow(`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find chunk %s: %w", id, err)
	}
	return c, nil
}

// Patch holds optional chunk field updates. Nil fields are left untouched.
type Patch struct {
	Content       *string
	ContentHash   *string
	Importance    *domain.ImportanceLevel
	FamiliarScore *float64
	NeedsReview   *bool
	ChunkScore    *float64
}

// Update applies a partial update to a chunk.
func (db *DB) Update(id string, p Patch) (*domain.Chunk, error) {
	c, err := db.GetByID(id)
	if err != nil {
		return nil, err
	}
	if p.Content != nil {
		c.Content = *p.Content
	}
	if p.ContentHash != nil {
		c.ContentHash = *p.ContentHash
	}
	if p.Importance != nil {
		c.Importance = *p.Importance
	}
	if p.FamiliarScore != nil {
		c.FamiliarScore = *p.FamiliarScore
	}
	if p.NeedsReview != nil {
		c.NeedsReview = *p.NeedsReview
	}
	if p.ChunkScore != nil {
		c.ChunkScore = *p.ChunkScore
	}
	c.UpdatedAt = db.now()
	if err := db.write(c); err != nil {
		return nil, err
	}
	return c, nil
}

// SetScore caches a freshly computed push score on a chunk.
func (db *DB) SetScore(id string, score float64) error {
	_, err := db.Update(id, Patch{ChunkScore: &score})
	return err
}

// Review applies a 0..5 grade to a chunk: SM-2 state and the familiar score
// are updated, the next due date is computed from the new interval, and the
// needs-review flag is cleared. Returns the updated chunk.
func (db *DB) Review(id string, grade int) (*domain.Chunk, error) {
	c, err := db.GetByID(id)
	if err != nil {
		return nil, err
	}

	res, err := sm2.Update(grade, sm2.Params{
		EF:           c.SM2EF,
		Repetitions:  c.SM2Repetitions,
		IntervalDays: c.SM2IntervalDays,
		Importance:   c.Importance,
	})
	if err != nil {
		return nil, err
	}

	now := db.now()
	c.SM2EF = res.EF
	c.SM2Repetitions = res.Repetitions
	c.SM2IntervalDays = res.IntervalDays
	c.FamiliarScore = sm2.FamiliarScore(c.FamiliarScore, grade, sm2.DefaultAlpha)
	c.DueAt = now.Add(time.Duration(res.IntervalDays) * 24 * time.Hour)
	c.NeedsReview = false
	c.UpdatedAt = now

	if err := db.write(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (db *DB) write(c *domain.Chunk) error {
	_, err := db.conn.Exec(`
		UPDATE chunks
		SET note_path = ?, content = ?, content_hash = ?, importance = ?,
		    familiar_score = ?, needs_review = ?, sm2_ef = ?, sm2_repetitions = ?,
		    sm2_interval_days = ?, due_at = ?, chunk_score = ?, updated_at = ?
		WHERE id = ?
	`,
		c.NotePath, c.Content, c.ContentHash, c.Importance,
		c.FamiliarScore, c.NeedsReview, c.SM2EF, c.SM2Repetitions,
		c.SM2IntervalDays, c.DueAt, c.ChunkScore, c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update chunk %s: %w", c.ID, err)
	}
	return nil
}

// MarkDue flags every chunk whose due date has passed as needing review.
// Returns the number of newly flagged chunks.
func (db *DB) MarkDue(now time.Time) (int, error) {
	res, err := db.conn.Exec(`
		UPDATE chunks SET needs_review = 1, updated_at = ?
		WHERE due_at <= ? AND needs_review = 0
	`, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark due chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count marked chunks: %w", err)
	}
	return int(n), nil
}

// Delete removes a chunk. The caller is responsible for cascading any pushes
// that reference it.
func (db *DB) Delete(id string) error {
	_, err := db.conn.Exec(`DELETE FROM chunks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chunk %s: %w", id, err)
	}
	return nil
}

// Score implements the push priority policy for a chunk; see score.go.
func (db *DB) Score(c domain.Chunk, now time.Time) float64 {
	return Score(c, now)
}

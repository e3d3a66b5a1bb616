package pushstore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/memoai/memopush/internal/domain"
)

const snapshotSchema = `
-- Durable snapshot of the in-memory push collections. Both tables are
-- rewritten wholesale on every save; they are never updated row by row.
CREATE TABLE IF NOT EXISTS pushes (
    id TEXT PRIMARY KEY,
    chunk_id TEXT NOT NULL,
    state TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    expires_at DATETIME,
    last_question TEXT,
    eval_grade INTEGER,
    eval_recommendation TEXT,
    eval_next_due_at DATETIME,
    eval_confidence REAL
);

CREATE TABLE IF NOT EXISTS push_messages (
    id TEXT PRIMARY KEY,
    push_id TEXT NOT NULL,
    sender TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
`

// SQLiteSnapshot persists the push collections to SQLite.
type SQLiteSnapshot struct {
	conn *sql.DB
}

// OpenSnapshot opens (or creates) the snapshot database.
func OpenSnapshot(dsn string) (*SQLiteSnapshot, error) {
	conn, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open push database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to push database: %w", err)
	}
	if _, err := conn.Exec(snapshotSchema); err != nil {
		return nil, fmt.Errorf("failed to apply push schema: %w", err)
	}
	return &SQLiteSnapshot{conn: conn}, nil
}

// Close closes the database connection.
func (s *SQLiteSnapshot) Close() error {
	return s.conn.Close()
}

// Load reads the full snapshot.
func (s *SQLiteSnapshot) Load() (map[string]domain.Push, []domain.PushMessage, error) {
	pushes := make(map[string]domain.Push)

	rows, err := s.conn.Query(`
		SELECT id, chunk_id, state, created_at, expires_at, last_question,
		       eval_grade, eval_recommendation, eval_next_due_at, eval_confidence
		FROM pushes
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load pushes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p            domain.Push
			expiresAt    sql.NullTime
			lastQuestion sql.NullString
			grade        sql.NullInt64
			rec          sql.NullString
			nextDue      sql.NullTime
			confidence   sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.ChunkID, &p.State, &p.CreatedAt, &expiresAt,
			&lastQuestion, &grade, &rec, &nextDue, &confidence); err != nil {
			return nil, nil, fmt.Errorf("failed to scan push row: %w", err)
		}
		if expiresAt.Valid {
			p.ExpiresAt = expiresAt.Time
		}
		p.LastQuestion = lastQuestion.String
		if grade.Valid {
			eval := domain.Evaluation{
				Grade:          int(grade.Int64),
				Recommendation: rec.String,
			}
			if nextDue.Valid {
				eval.NextDueAt = nextDue.Time
			}
			if confidence.Valid {
				c := confidence.Float64
				eval.Confidence = &c
			}
			p.Evaluation = &eval
		}
		pushes[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate push rows: %w", err)
	}

	msgRows, err := s.conn.Query(`
		SELECT id, push_id, sender, content, created_at
		FROM push_messages ORDER BY created_at, id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load push messages: %w", err)
	}
	defer msgRows.Close()

	var messages []domain.PushMessage
	for msgRows.Next() {
		var m domain.PushMessage
		if err := msgRows.Scan(&m.ID, &m.PushID, &m.Sender, &m.Content, &m.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan push message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate push message rows: %w", err)
	}

	return pushes, messages, nil
}

// Save rewrites both tables inside a single transaction.
func (s *SQLiteSnapshot) Save(pushes map[string]domain.Push, messages []domain.PushMessage) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM pushes`); err != nil {
		return fmt.Errorf("failed to clear pushes: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM push_messages`); err != nil {
		return fmt.Errorf("failed to clear push messages: %w", err)
	}

	for _, p := range pushes {
		var (
			grade      sql.NullInt64
			rec        sql.NullString
			nextDue    sql.NullTime
			confidence sql.NullFloat64
		)
		if p.Evaluation != nil {
			grade = sql.NullInt64{Int64: int64(p.Evaluation.Grade), Valid: true}
			rec = sql.NullString{String: p.Evaluation.Recommendation, Valid: true}
			if !p.Evaluation.NextDueAt.IsZero() {
				nextDue = sql.NullTime{Time: p.Evaluation.NextDueAt, Valid: true}
			}
			if p.Evaluation.Confidence != nil {
				confidence = sql.NullFloat64{Float64: *p.Evaluation.Confidence, Valid: true}
			}
		}
		_, err := tx.Exec(`
			INSERT INTO pushes (id, chunk_id, state, created_at, expires_at,
				last_question, eval_grade, eval_recommendation, eval_next_due_at, eval_confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.ChunkID, p.State, p.CreatedAt, p.ExpiresAt, p.LastQuestion,
			grade, rec, nextDue, confidence)
		if err != nil {
			return fmt.Errorf("failed to save push %s: %w", p.ID, err)
		}
	}

	for _, m := range messages {
		_, err := tx.Exec(`
			INSERT INTO push_messages (id, push_id, sender, content, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, m.ID, m.PushID, m.Sender, m.Content, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to save push message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

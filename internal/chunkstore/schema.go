package chunkstore

const schema = `
-- The 'chunks' table stores reviewable note fragments together with their
-- spaced-repetition state.
CREATE TABLE IF NOT EXISTS chunks (
    id TEXT PRIMARY KEY,
    note_path TEXT NOT NULL,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    importance TEXT NOT NULL DEFAULT 'medium',
    familiar_score REAL NOT NULL DEFAULT 0,
    needs_review INTEGER NOT NULL DEFAULT 0,
    sm2_ef REAL NOT NULL DEFAULT 2.5,
    sm2_repetitions INTEGER NOT NULL DEFAULT 0,
    sm2_interval_days INTEGER NOT NULL DEFAULT 1,
    due_at DATETIME NOT NULL,
    chunk_score REAL NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_note_path ON chunks(note_path);
CREATE INDEX IF NOT EXISTS idx_chunks_due_at ON chunks(due_at);
`

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/memoai/memopush/internal/chunkstore"
	"github.com/memoai/memopush/internal/conversation"
	"github.com/memoai/memopush/internal/domain"
	"github.com/memoai/memopush/internal/llm"
	"github.com/memoai/memopush/internal/pushstore"
	"github.com/memoai/memopush/internal/scheduler"
)

type memSnapshot struct{}

func (memSnapshot) Load() (map[string]domain.Push, []domain.PushMessage, error) {
	return map[string]domain.Push{}, nil, nil
}

func (memSnapshot) Save(map[string]domain.Push, []domain.PushMessage) error { return nil }

type scriptedAdapter struct {
	question string
	turn     llm.Turn
}

func (a *scriptedAdapter) GenerateQuestion(context.Context, llm.QuestionRequest) (string, error) {
	return a.question, nil
}

func (a *scriptedAdapter) GenerateTurn(context.Context, llm.TurnRequest) (llm.Turn, error) {
	return a.turn, nil
}

type fixture struct {
	server  *Server
	chunks  *chunkstore.DB
	pushes  *pushstore.Store
	adapter *scriptedAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chunks, err := chunkstore.Open(filepath.Join(t.TempDir(), "chunks.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { chunks.Close() })

	pushes := pushstore.New(memSnapshot{})
	adapter := &scriptedAdapter{question: "What is a goroutine?"}
	engine := conversation.New(pushes, chunks, adapter, "en")
	sched := scheduler.New(pushes, chunks, scheduler.Config{Configured: true})
	return &fixture{
		server:  NewServer(chunks, pushes, engine, sched),
		chunks:  chunks,
		pushes:  pushes,
		adapter: adapter,
	}
}

func (f *fixture) addChunk(t *testing.T) *domain.Chunk {
	t.Helper()
	chunk, err := f.chunks.Create("go.md", "Goroutines are lightweight threads.", "hash-1", domain.ImportanceMedium)
	if err != nil {
		t.Fatal(err)
	}
	return chunk
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestListChunks(t *testing.T) {
	f := newFixture(t)
	f.addChunk(t)

	rec := f.do(t, http.MethodGet, "/chunks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	chunks := decode[[]domain.Chunk](t, rec)
	if len(chunks) != 1 || chunks[0].NotePath != "go.md" {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestGetChunkNotFound(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodGet, "/chunks/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListPushesFiltersByState(t *testing.T) {
	f := newFixture(t)
	chunk := f.addChunk(t)
	f.pushes.CreatePending(chunk.ID, time.Hour)
	p2 := f.pushes.CreatePending("other", time.Hour)
	if err := f.pushes.Complete(p2.ID, domain.Evaluation{Grade: 4}); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/pushes?state=pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	pushes := decode[[]domain.Push](t, rec)
	if len(pushes) != 1 || pushes[0].State != domain.PushPending {
		t.Errorf("pushes = %+v", pushes)
	}

	if rec := f.do(t, http.MethodGet, "/pushes?state=bogus", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bogus state status = %d, want 400", rec.Code)
	}
}

func TestStartAndConverse(t *testing.T) {
	f := newFixture(t)
	chunk := f.addChunk(t)
	p := f.pushes.CreatePending(chunk.ID, time.Hour)

	rec := f.do(t, http.MethodPost, "/pushes/"+p.ID+"/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %q", rec.Code, rec.Body.String())
	}
	started := decode[map[string]string](t, rec)
	if started["question"] != "What is a goroutine?" {
		t.Errorf("question = %q", started["question"])
	}

	f.adapter.turn = llm.Turn{Response: "Tell me more.", ShouldEnd: false}
	rec = f.do(t, http.MethodPost, "/pushes/"+p.ID+"/messages", map[string]string{"content": "A lightweight thread."})
	if rec.Code != http.StatusOK {
		t.Fatalf("message status = %d, body %q", rec.Code, rec.Body.String())
	}
	turn := decode[llm.Turn](t, rec)
	if turn.Response != "Tell me more." || turn.ShouldEnd {
		t.Errorf("turn = %+v", turn)
	}

	rec = f.do(t, http.MethodGet, "/pushes/"+p.ID+"/messages", nil)
	msgs := decode[[]domain.PushMessage](t, rec)
	if len(msgs) != 3 {
		t.Errorf("message count = %d, want 3", len(msgs))
	}
}

func TestStartConflictOnActivePush(t *testing.T) {
	f := newFixture(t)
	chunk := f.addChunk(t)
	p := f.pushes.CreatePending(chunk.ID, time.Hour)

	if rec := f.do(t, http.MethodPost, "/pushes/"+p.ID+"/start", nil); rec.Code != http.StatusOK {
		t.Fatal(rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/pushes/"+p.ID+"/start", nil); rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", rec.Code)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	f := newFixture(t)
	chunk := f.addChunk(t)
	p := f.pushes.CreatePending(chunk.ID, time.Hour)

	rec := f.do(t, http.MethodPost, "/pushes/"+p.ID+"/messages", map[string]string{"content": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestManualEvaluate(t *testing.T) {
	f := newFixture(t)
	chunk := f.addChunk(t)
	p := f.pushes.CreatePending(chunk.ID, time.Hour)

	rec := f.do(t, http.MethodPost, "/pushes/"+p.ID+"/evaluate", map[string]any{"grade": 4, "recommendation": "solid"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	push := decode[domain.Push](t, rec)
	if push.State != domain.PushCompleted || push.Evaluation == nil || push.Evaluation.Grade != 4 {
		t.Errorf("push = %+v", push)
	}

	// Evaluating again conflicts.
	rec = f.do(t, http.MethodPost, "/pushes/"+p.ID+"/evaluate", map[string]any{"grade": 2})
	if rec.Code != http.StatusConflict {
		t.Errorf("second evaluate status = %d, want 409", rec.Code)
	}
}

func TestForceEvaluate(t *testing.T) {
	f := newFixture(t)
	chunk := f.addChunk(t)
	p := f.pushes.CreatePending(chunk.ID, time.Hour)
	if rec := f.do(t, http.MethodPost, "/pushes/"+p.ID+"/start", nil); rec.Code != http.StatusOK {
		t.Fatal(rec.Code)
	}

	grade := 2.0
	f.adapter.turn = llm.Turn{
		Response:   "Wrapping up.",
		ShouldEnd:  true,
		Evaluation: &llm.Evaluation{Grade: &grade, Recommendation: "Review again soon."},
	}
	rec := f.do(t, http.MethodPost, "/pushes/"+p.ID+"/force-evaluate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	push := decode[domain.Push](t, rec)
	if push.State != domain.PushCompleted || push.Evaluation == nil || push.Evaluation.Grade != 2 {
		t.Errorf("push = %+v", push)
	}
}

func TestDeletePush(t *testing.T) {
	f := newFixture(t)
	chunk := f.addChunk(t)
	p := f.pushes.CreatePending(chunk.ID, time.Hour)

	if rec := f.do(t, http.MethodDelete, "/pushes/"+p.ID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/pushes/"+p.ID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", rec.Code)
	}
}

func TestRefreshCreatesPushes(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		if _, err := f.chunks.Create("go.md", fmt.Sprintf("section %d", i), fmt.Sprintf("hash-%d", i), domain.ImportanceHigh); err != nil {
			t.Fatal(err)
		}
	}

	rec := f.do(t, http.MethodPost, "/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	stats := decode[scheduler.Stats](t, rec)
	if stats.Created != 3 {
		t.Errorf("created = %d, want 3", stats.Created)
	}
	if got := len(f.pushes.List(domain.PushPending)); got != 3 {
		t.Errorf("pending pushes = %d, want 3", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodPut, "/pushes", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/refresh", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

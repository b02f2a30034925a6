package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/user/sagecodex/internal/orchestrator"
	"github.com/user/sagecodex/internal/stage"
	"github.com/user/sagecodex/internal/store"
	"github.com/user/sagecodex/internal/tools"
	"github.com/user/sagecodex/pkg/llm"
	"github.com/user/sagecodex/pkg/sse"
)

const testSecret = "test-secret"

// scriptedProvider replays one stream round per call.
type scriptedProvider struct {
	mu     sync.Mutex
	rounds [][]llm.StreamEvent
	calls  int
}

func (p *scriptedProvider) Complete(_ context.Context, _ []llm.Message, _ []llm.Tool) (*llm.Response, error) {
	return &llm.Response{Content: "unused"}, nil
}

func (p *scriptedProvider) Stream(_ context.Context, _ []llm.Message, _ []llm.Tool) (<-chan llm.StreamEvent, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.mu.Unlock()

	var events []llm.StreamEvent
	if idx < len(p.rounds) {
		events = p.rounds[idx]
	} else {
		events = []llm.StreamEvent{{Content: "fallback"}, {Done: true}}
	}
	ch := make(chan llm.StreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, provider llm.Provider) *Server {
	t.Helper()
	return newTestServerIn(t, t.TempDir(), provider)
}

func newTestServerIn(t *testing.T, dir string, provider llm.Provider) *Server {
	t.Helper()
	sessions := store.NewSessionStore(dir)
	messages := store.NewMessageStore(dir)
	states := store.NewStateStore(dir)
	usage := store.NewUsageLog(dir)

	registry := tools.NewRegistry()
	if err := tools.RegisterAll(registry, states); err != nil {
		t.Fatal(err)
	}

	orch := orchestrator.New(provider, sessions, messages, states, usage,
		registry, orchestrator.NewGate(4), "gpt-4o", 5, zerolog.Nop())

	return New(orch, sessions, messages, states, prometheus.NewRegistry(), Options{
		JWTSecret:   testSecret,
		CORSOrigins: []string{"*"},
	}, zerolog.Nop())
}

func TestCreateSessionStoreFailureIsNotConflict(t *testing.T) {
	dir := t.TempDir()
	// A regular file where the session store expects its directory makes
	// every index read fail with an I/O error.
	if err := os.WriteFile(filepath.Join(dir, "sessions"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := newTestServerIn(t, dir, &scriptedProvider{})

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions", token(t, "user1"), "")
	if rec.Code == http.StatusConflict {
		t.Fatalf("store failure reported as 409: %s", rec.Body.String())
	}
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for a store failure, got %d: %s", rec.Code, rec.Body.String())
	}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func doRequest(t *testing.T, srv *Server, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, srv *Server, tok string) string {
	t.Helper()
	rec := doRequest(t, srv, http.MethodPost, "/api/sessions", tok, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Session.ID
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{})

	if rec := doRequest(t, srv, http.MethodGet, "/api/sessions", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", rec.Code)
	}
	if rec := doRequest(t, srv, http.MethodGet, "/api/sessions", "not-a-jwt", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", rec.Code)
	}

	// Wrong secret
	claims := jwt.RegisteredClaims{Subject: "user1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	if rec := doRequest(t, srv, http.MethodGet, "/api/sessions", forged, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("forged token: expected 401, got %d", rec.Code)
	}

	if rec := doRequest(t, srv, http.MethodGet, "/api/sessions", token(t, "user1"), ""); rec.Code != http.StatusOK {
		t.Errorf("valid token: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{})
	if rec := doRequest(t, srv, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec := doRequest(t, srv, http.MethodGet, "/metrics", "", ""); rec.Code != http.StatusOK {
		t.Errorf("metrics: expected 200, got %d", rec.Code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{})
	tok := token(t, "user1")

	id := createSession(t, srv, tok)

	// A second active session conflicts.
	if rec := doRequest(t, srv, http.MethodPost, "/api/sessions", tok, ""); rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/sessions/"+id, tok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get session: status %d", rec.Code)
	}
	var got struct {
		Session struct {
			Stage string `json:"stage"`
		} `json:"session"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Session.Stage != stage.Invoking.String() {
		t.Errorf("expected stage invoking, got %s", got.Session.Stage)
	}

	// Another user cannot see it.
	if rec := doRequest(t, srv, http.MethodGet, "/api/sessions/"+id, token(t, "user2"), ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for foreign session, got %d", rec.Code)
	}

	if rec := doRequest(t, srv, http.MethodPost, "/api/sessions/"+id+"/deactivate", tok, ""); rec.Code != http.StatusOK {
		t.Errorf("deactivate: expected 200, got %d", rec.Code)
	}
}

func TestAdvanceStageOverHTTP(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{})
	tok := token(t, "user1")
	id := createSession(t, srv, tok)

	// Advance through the whole pipeline.
	for range stage.All()[1:] {
		if rec := doRequest(t, srv, http.MethodPost, "/api/sessions/"+id+"/advance", tok, ""); rec.Code != http.StatusOK {
			t.Fatalf("advance: status %d: %s", rec.Code, rec.Body.String())
		}
	}

	// The terminal stage rejects with a structured 409.
	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/"+id+"/advance", tok, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 at final stage, got %d", rec.Code)
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(errResp.Error.Message, "final stage") {
		t.Errorf("expected descriptive rejection, got %q", errResp.Error.Message)
	}
}

func decodeStream(t *testing.T, body string) []sse.DecodedEvent {
	t.Helper()
	return sse.NewDecoder().Feed(body)
}

func TestMessageStreamsTurn(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]llm.StreamEvent{{
		{Content: "Well met, "},
		{Content: "adventurer."},
		{Done: true, Usage: &llm.Usage{InputTokens: 8, OutputTokens: 3}},
	}}}
	srv := newTestServer(t, provider)
	tok := token(t, "user1")
	id := createSession(t, srv, tok)

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/"+id+"/messages", tok, `{"message": "hail"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event-stream content type, got %q", ct)
	}

	events := decodeStream(t, rec.Body.String())
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	want := []string{sse.TypeChatStart, sse.TypeChatDelta, sse.TypeChatDelta, sse.TypeChatEnd, sse.TypeUIReady}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Errorf("event order mismatch:\ngot  %v\nwant %v", types, want)
	}
}

func TestEmptyMessageTriggersGreetingOnce(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]llm.StreamEvent{
		{{Content: "Welcome to the codex."}, {Done: true}},
		{{Content: "again?"}, {Done: true}},
	}}
	srv := newTestServer(t, provider)
	tok := token(t, "user1")
	id := createSession(t, srv, tok)

	// First empty message on a fresh session yields the greeting.
	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/"+id+"/messages", tok, `{"message": ""}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("greeting: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Once history exists, an empty message is a validation failure.
	rec = doRequest(t, srv, http.MethodPost, "/api/sessions/"+id+"/messages", tok, `{"message": ""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty message with history, got %d", rec.Code)
	}
}

func TestMessageStreamErrorEvent(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]llm.StreamEvent{{
		{Content: "part"},
		{Err: llm.NewError(llm.CodeServer, "upstream fell over")},
	}}}
	srv := newTestServer(t, provider)
	tok := token(t, "user1")
	id := createSession(t, srv, tok)

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/"+id+"/messages", tok, `{"message": "hail"}`)
	// Headers were already committed, so the failure is an SSE event.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	events := decodeStream(t, rec.Body.String())
	last := events[len(events)-1]
	if last.Type != sse.TypeError {
		t.Fatalf("expected terminal error event, got %s", last.Type)
	}
	data, ok := last.Data.(map[string]any)
	if !ok || data["code"] != string(llm.CodeServer) {
		t.Errorf("expected SERVER_ERROR payload, got %v", last.Data)
	}
}

func TestMessageValidationBeforeStream(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{})
	tok := token(t, "user1")
	id := createSession(t, srv, tok)

	// Malformed body fails with a JSON error, not a stream.
	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/"+id+"/messages", tok, `{`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("expected JSON error response, got %q", ct)
	}

	// Unknown session id.
	rec = doRequest(t, srv, http.MethodPost, "/api/sessions/nope/messages", tok, `{"message": "hi"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

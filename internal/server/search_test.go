package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/switchboard/internal/engine"
	"github.com/mohammad-safakhou/switchboard/internal/quota"
	"github.com/mohammad-safakhou/switchboard/internal/runtime"
	"github.com/mohammad-safakhou/switchboard/internal/stream"
)

type stubEngine struct {
	lastQuery engine.Query
	run       func(em *stream.Emitter) error
}

func (s *stubEngine) Process(ctx context.Context, q engine.Query, em *stream.Emitter) error {
	s.lastQuery = q
	if s.run != nil {
		return s.run(em)
	}
	return nil
}

func newSearchServer(eng QueryProcessor) *echo.Echo {
	e := echo.New()
	h := &SearchHandler{Engine: eng, Secret: testSecret}
	h.Register(e.Group("/api"))
	return e
}

func TestSearchStreamsNDJSON(t *testing.T) {
	eng := &stubEngine{run: func(em *stream.Emitter) error {
		_ = em.Quota(stream.QuotaData{Remaining: 4, Max: 5})
		_ = em.Category("Movie")
		_ = em.Agents(nil)
		_ = em.Final("answer")
		return nil
	}}
	e := newSearchServer(eng)

	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"best sci-fi movies of 2023"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/x-ndjson" {
		t.Fatalf("unexpected content type %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 event lines, got %d: %q", len(lines), rec.Body.String())
	}
	for i, want := range []string{`"quota"`, `"category"`, `"agents"`, `"final"`} {
		if !strings.Contains(lines[i], want) {
			t.Fatalf("line %d: expected %s event, got %s", i, want, lines[i])
		}
	}
}

func TestSearchGuestCaller(t *testing.T) {
	eng := &stubEngine{}
	e := newSearchServer(eng)

	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"q"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if eng.lastQuery.Caller.Class != quota.ClassGuest {
		t.Fatalf("expected guest caller, got %+v", eng.lastQuery.Caller)
	}
	// fingerprint, not the raw address
	if len(eng.lastQuery.Caller.Key) != 64 {
		t.Fatalf("expected sha256 fingerprint key, got %q", eng.lastQuery.Caller.Key)
	}
}

func TestSearchAuthenticatedCaller(t *testing.T) {
	eng := &stubEngine{}
	e := newSearchServer(eng)

	tok, err := runtime.SignJWT("user-42", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"q"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if eng.lastQuery.Caller.Class != quota.ClassUser || eng.lastQuery.Caller.Key != "user-42" {
		t.Fatalf("expected authenticated caller user-42, got %+v", eng.lastQuery.Caller)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	e := newSearchServer(&stubEngine{})
	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"  "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

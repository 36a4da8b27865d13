package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/PigStep/Vibe-BPMN-studio/internal/model/diagram"
)

func limitedRouter(perMinute, burst int) *chi.Mux {
	r := chi.NewRouter()
	r.With(NewRateLimiter(perMinute, burst).Middleware).Post("/generate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func doGenerate(r http.Handler, session string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	if session != "" {
		req.Header.Set(diagram.SessionHeader, session)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestRateLimitPerSession(t *testing.T) {
	r := limitedRouter(1, 2)

	for i := 0; i < 2; i++ {
		if resp := doGenerate(r, "a"); resp.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.Code)
		}
	}

	resp := doGenerate(r, "a")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	if resp := doGenerate(r, "b"); resp.Code != http.StatusOK {
		t.Fatalf("expected other session to pass, got %d", resp.Code)
	}
}

func TestRateLimitFallsBackToClientAddr(t *testing.T) {
	r := limitedRouter(1, 1)

	if resp := doGenerate(r, ""); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := doGenerate(r, ""); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for same address, got %d", resp.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	r := limitedRouter(0, 1)
	for i := 0; i < 20; i++ {
		if resp := doGenerate(r, "a"); resp.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.Code)
		}
	}
}

func TestCORSExposesSessionHeader(t *testing.T) {
	r := chi.NewRouter()
	r.Use(CORS([]string{"http://localhost:8000"}))
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:8000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", diagram.SessionHeader)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:8000" {
		t.Fatalf("expected allowed origin, got %q", got)
	}
}

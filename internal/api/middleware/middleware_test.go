package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/goartstore/fileshare/internal/ratelimit"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/health/ready", "/health/ready"},
		{"/metrics", "/metrics"},
		{"/files/upload", "/files/upload"},
		{"/admin/purge", "/admin/purge"},
		{"/files/3f2a9c1e-0000-4000-8000-000000000001", "/files/{id}"},
		{"/files/abc/download", "/files/{id}/download"},
		{"/files/abc/send", "/files/{id}/send"},
		{"/admin/files/abc", "/admin/files/{id}"},
		{"/files/abc/unknown", "other"},
		{"/random", "other"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q): хотели %q, получили %q", tt.path, tt.want, got)
		}
	}
}

// logRecord — поля строки журнала запросов.
type logRecord struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	RequestID string `json:"request_id"`
	Route     string `json:"route"`
	Status    int    `json:"status"`
	BytesOut  int64  `json:"bytes_out"`
	FileID    string `json:"file_id"`
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	status := func(code int) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte("body"))
		}
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(RequestLogger(logger))
	router.Get("/health/live", status(http.StatusOK))
	router.Route("/files", func(r chi.Router) {
		r.Post("/upload", status(http.StatusCreated))
		r.Get("/{id}/download", status(http.StatusGone))
		r.Post("/{id}/send", status(http.StatusBadRequest))
	})
	router.Delete("/admin/files/{id}", status(http.StatusInternalServerError))

	tests := []struct {
		name      string
		method    string
		path      string
		wantLevel string
		wantRoute string
		wantFile  string
	}{
		{"загрузка", http.MethodPost, "/files/upload", "INFO", "/files/upload", ""},
		{"истёкшая ссылка", http.MethodGet, "/files/f-1/download", "INFO", "/files/{id}/download", "f-1"},
		{"невалидная отправка", http.MethodPost, "/files/f-2/send", "WARN", "/files/{id}/send", "f-2"},
		{"сбой удаления", http.MethodDelete, "/admin/files/f-3", "ERROR", "/admin/files/{id}", "f-3"},
		{"liveness", http.MethodGet, "/health/live", "DEBUG", "/health/live", ""},
		{"неизвестный путь", http.MethodGet, "/nowhere", "INFO", "other", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			var got logRecord
			if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
				t.Fatalf("разбор строки журнала %q: %v", buf.String(), err)
			}
			if got.Level != tt.wantLevel {
				t.Errorf("уровень: хотели %s, получили %s (%s)", tt.wantLevel, got.Level, got.Msg)
			}
			if got.Route != tt.wantRoute {
				t.Errorf("route: хотели %q, получили %q", tt.wantRoute, got.Route)
			}
			if got.FileID != tt.wantFile {
				t.Errorf("file_id: хотели %q, получили %q", tt.wantFile, got.FileID)
			}
			if got.RequestID == "" {
				t.Error("request_id отсутствует")
			}
		})
	}
}

func TestMetricsMiddleware_PassesStatus(t *testing.T) {
	handler := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/files/upload", nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("статус: хотели 201, получили %d", rec.Code)
	}
}

func TestRateLimit_Rejects(t *testing.T) {
	limiter := ratelimit.NewMemory(ratelimit.Policy{Name: "test", Limit: 2, Window: time.Minute}, 100)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := RateLimit(limiter, "test", logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/files/upload", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := range 2 {
		if rec := do("10.0.0.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("запрос %d: хотели 200, получили %d", i+1, rec.Code)
		}
	}

	// Другой порт того же клиента учитывается в том же окне
	rec := do("10.0.0.1:5555")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("третий запрос: хотели 429, получили %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("нет заголовка Retry-After")
	}
	if !strings.Contains(rec.Body.String(), "RATE_LIMITED") {
		t.Errorf("тело: нет кода RATE_LIMITED: %s", rec.Body.String())
	}

	if rec := do("10.0.0.2:1234"); rec.Code != http.StatusOK {
		t.Errorf("другой клиент: хотели 200, получили %d", rec.Code)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := RateLimit(failingLimiter{}, "test", logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/files/upload", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("статус: хотели 200, получили %d", rec.Code)
	}
}

// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/fileshare/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// readyCheckTimeout — таймаут одной проверки готовности.
const readyCheckTimeout = 3 * time.Second

// Pinger — проверка доступности хранилища записей.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker — проверка доступности blob-хранилища.
type Checker interface {
	Check(ctx context.Context) error
}

// DependencyHealth — состояние внешних зависимостей (dephealth).
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler реализует /health, /health/live, /health/ready.
type HealthHandler struct {
	version string
	files   Pinger
	blobs   Checker
	// deps — мониторинг зависимостей (nil — не настроен)
	deps DependencyHealth
}

// NewHealthHandler создаёт обработчик health endpoints.
// deps может быть nil.
func NewHealthHandler(files Pinger, blobs Checker, deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		files:   files,
		blobs:   blobs,
		deps:    deps,
	}
}

// Health обрабатывает GET /health: {"ok": true}.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "fileshare",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет хранилище записей и blob-хранилище. Внешние зависимости
// (dephealth) выводятся для информации и на статус не влияют.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	recordsCheck := runCheck(r.Context(), h.files.Ping)
	blobsCheck := runCheck(r.Context(), h.blobs.Check)
	if recordsCheck["status"] != "ok" || blobsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	checks := map[string]any{
		"records": recordsCheck,
		"blobs":   blobsCheck,
	}
	if h.deps != nil {
		checks["dependencies"] = h.deps.Health()
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "fileshare",
		"checks":    checks,
	})
}

// runCheck выполняет проверку с таймаутом.
func runCheck(ctx context.Context, check func(context.Context) error) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, readyCheckTimeout)
	defer cancel()

	if err := check(ctx); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": err.Error(),
		}
	}
	return map[string]any{"status": "ok"}
}

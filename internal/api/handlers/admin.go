// admin.go — административные операции: ручная очистка и удаление файла.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/fileshare/internal/api/middleware"
	"github.com/bigkaa/goartstore/fileshare/internal/service"
)

// AdminHandler — обработчик административных endpoints.
type AdminHandler struct {
	lifecycle *service.Lifecycle
	sweeper   *service.Sweeper
	logger    *slog.Logger
}

// NewAdminHandler создаёт обработчик административных endpoints.
func NewAdminHandler(lifecycle *service.Lifecycle, sweeper *service.Sweeper, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		lifecycle: lifecycle,
		sweeper:   sweeper,
		logger:    logger.With(slog.String("component", "admin_handler")),
	}
}

// purgeResponse — результат ручной очистки.
type purgeResponse struct {
	Purged     int   `json:"purged"`
	Found      int   `json:"found"`
	Errors     int   `json:"errors"`
	DurationMs int64 `json:"durationMs"`
}

// Purge обрабатывает POST /admin/purge: синхронный запуск очистки.
func (h *AdminHandler) Purge(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Ручной запуск очистки",
		slog.String("subject", middleware.SubjectFromContext(r.Context())),
	)

	res := h.sweeper.RunOnce(r.Context())

	writeJSON(w, http.StatusOK, purgeResponse{
		Purged:     res.Purged,
		Found:      res.Found,
		Errors:     res.Errors,
		DurationMs: res.Duration.Milliseconds(),
	})
}

// DeleteFile обрабатывает DELETE /admin/files/{id}.
// Идемпотентен: для отсутствующего файла removed=false.
func (h *AdminHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	removed, err := h.lifecycle.Purge(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, id)
		return
	}

	h.logger.Info("Файл удалён администратором",
		slog.String("file_id", id),
		slog.Bool("removed", removed),
		slog.String("subject", middleware.SubjectFromContext(r.Context())),
	)

	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// Пакет handlers — HTTP-обработчики файлового обменника.
// handler.go — общие помощники: JSON-ответы и сопоставление ошибок
// сервисного слоя HTTP-кодам.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/fileshare/internal/api/errors"
	"github.com/bigkaa/goartstore/fileshare/internal/service"
)

// writeJSON вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// formatTime форматирует время для API-ответов.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// writeServiceError сопоставляет ошибку сервисного слоя ответу API.
// Внутренние ошибки логируются, клиенту отдаётся общий текст.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error, fileID string) {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrCorruptRecord):
		apierrors.NotFound(w, "Файл не найден")
	case errors.Is(err, service.ErrExpired):
		apierrors.Gone(w, "Срок действия ссылки истёк")
	case errors.Is(err, service.ErrInvalidRequest):
		apierrors.ValidationError(w, err.Error())
	default:
		logger.Error("Ошибка обработки запроса",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

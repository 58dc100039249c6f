// logging.go — журнал HTTP-запросов файлового обменника.
// Строка журнала несёт идентификатор запроса, шаблон маршрута и file_id,
// если запрос адресует конкретный файл.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// statusRecorder запоминает статус и количество отданных байт.
// Используется журналом и метриками.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wroteHeader {
		sr.status = code
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.wroteHeader = true
	n, err := sr.ResponseWriter.Write(b)
	sr.written += int64(n)
	return n, err
}

// Unwrap нужен http.ResponseController (Flush при скачивании).
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// servicePaths опрашиваются оркестратором и Prometheus каждые несколько секунд.
var servicePaths = map[string]bool{
	"/health":       true,
	"/health/live":  true,
	"/health/ready": true,
	"/metrics":      true,
}

// RequestLogger возвращает middleware журнала запросов.
//
// Уровни: 5xx — ERROR; 404 и 410 — INFO (неизвестная или истёкшая ссылка
// у получателя — обычная ситуация); остальные 4xx — WARN; успешные
// служебные запросы — DEBUG.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			route := routePattern(r)
			attrs := make([]slog.Attr, 0, 9)
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				attrs = append(attrs, slog.String("request_id", reqID))
			}
			attrs = append(attrs,
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes_out", rec.written),
				slog.String("client", r.RemoteAddr),
			)
			if r.ContentLength > 0 {
				attrs = append(attrs, slog.Int64("bytes_in", r.ContentLength))
			}
			if id := fileID(r); id != "" {
				attrs = append(attrs, slog.String("file_id", id))
			}

			level, msg := requestOutcome(route, rec.status)
			logger.LogAttrs(r.Context(), level, msg, attrs...)
		})
	}
}

func requestOutcome(route string, status int) (slog.Level, string) {
	switch {
	case status >= 500:
		return slog.LevelError, "Ошибка обработки запроса"
	case status == http.StatusNotFound || status == http.StatusGone:
		return slog.LevelInfo, "Не найдено или истекло"
	case status >= 400:
		return slog.LevelWarn, "Запрос отклонён"
	case servicePaths[route]:
		return slog.LevelDebug, "Служебный запрос"
	default:
		return slog.LevelInfo, "Запрос обработан"
	}
}

// routePattern возвращает шаблон маршрута chi (/files/{id}/download).
// Вне маршрутизатора chi или для несовпавшего пути — normalizePath.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return normalizePath(r.URL.Path)
}

// fileID — параметр {id} маршрута, пусто для запросов без файла.
func fileID(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.URLParam("id")
	}
	return ""
}

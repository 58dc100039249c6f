// ratelimit.go — ограничение частоты запросов по адресу клиента.
// Адрес берётся из r.RemoteAddr: за прокси его подставляет chi middleware.RealIP.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/goartstore/fileshare/internal/api/errors"
	"github.com/bigkaa/goartstore/fileshare/internal/ratelimit"
)

// rateLimitedTotal — отклонённые запросы по политике.
var rateLimitedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fs_rate_limited_total",
		Help: "Количество запросов, отклонённых ограничением частоты",
	},
	[]string{"policy"},
)

// RateLimit возвращает middleware, применяющий limiter к адресу клиента.
// Ошибка хранилища счётчиков не блокирует запрос: она логируется,
// запрос пропускается.
func RateLimit(limiter ratelimit.Limiter, policy string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			d, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("Ошибка ограничителя частоты, запрос пропущен",
					slog.String("policy", policy),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				rateLimitedTotal.WithLabelValues(policy).Inc()
				logger.Debug("Запрос отклонён ограничителем частоты",
					slog.String("policy", policy),
					slog.String("client", key),
				)
				apierrors.RateLimited(w, d.RetryAfter, "Слишком много запросов, попробуйте позже")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey возвращает IP клиента без порта.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Пакет server — HTTP-сервер файлового обменника с graceful shutdown.
// Без TLS — TLS termination на ingress/прокси.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/fileshare/internal/api/handlers"
	"github.com/bigkaa/goartstore/fileshare/internal/api/middleware"
	"github.com/bigkaa/goartstore/fileshare/internal/ratelimit"
)

// Routes — зависимости маршрутизатора.
type Routes struct {
	Files  *handlers.FilesHandler
	Admin  *handlers.AdminHandler
	Health *handlers.HealthHandler

	// JWT — необязательная аутентификация загрузок (nil — только анонимно)
	JWT *middleware.JWTAuth
	// AdminAuth — проверка административных полномочий
	AdminAuth *middleware.AdminAuth

	UploadLimiter ratelimit.Limiter
	AuthLimiter   ratelimit.Limiter

	// RequestTimeout — таймаут загрузки и админ-операций (0 — без таймаута).
	// К скачиванию не применяется: поток может быть долгим.
	RequestTimeout time.Duration

	// CORSOrigins — origin браузерных клиентов (пусто — CORS выключен)
	CORSOrigins []string
}

// NewRouter собирает chi-маршрутизатор со всеми endpoints.
func NewRouter(rt Routes, logger *slog.Logger) http.Handler {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)
	if len(rt.CORSOrigins) > 0 {
		// Аутентификация только через заголовок Authorization, cookies не нужны
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: rt.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders: []string{
				"Content-Disposition", "Content-Length", "ETag", "Retry-After",
				"X-RateLimit-Limit", "X-RateLimit-Remaining",
			},
			MaxAge: 86400,
		}))
	}
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Get("/health", rt.Health.Health)
	router.Get("/health/live", rt.Health.HealthLive)
	router.Get("/health/ready", rt.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	timeout := func(next http.Handler) http.Handler { return next }
	if rt.RequestTimeout > 0 {
		timeout = chimw.Timeout(rt.RequestTimeout)
	}

	router.Route("/files", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeout)
			if rt.UploadLimiter != nil {
				r.Use(middleware.RateLimit(rt.UploadLimiter, ratelimit.UploadPolicy.Name, logger))
			}
			if rt.JWT != nil {
				r.Use(rt.JWT.Optional())
			}
			r.Post("/upload", rt.Files.UploadFile)
		})

		r.Get("/{id}", rt.Files.GetFileMetadata)
		r.Get("/{id}/download", rt.Files.DownloadFile)
		r.With(timeout).Post("/{id}/send", rt.Files.SendLink)
	})

	router.Route("/admin", func(r chi.Router) {
		r.Use(timeout)
		if rt.AuthLimiter != nil {
			r.Use(middleware.RateLimit(rt.AuthLimiter, ratelimit.AuthPolicy.Name, logger))
		}
		r.Use(rt.AdminAuth.Middleware())

		r.Post("/purge", rt.Admin.Purge)
		r.Delete("/files/{id}", rt.Admin.DeleteFile)
	})

	return router
}

// Config — параметры HTTP-сервера.
type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server — HTTP-сервер файлового обменника.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        Config
}

// New создаёт HTTP-сервер поверх готового маршрутизатора.
func New(cfg Config, logger *slog.Logger, handler http.Handler) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}

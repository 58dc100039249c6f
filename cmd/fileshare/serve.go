package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/fileshare/internal/api/handlers"
	"github.com/bigkaa/goartstore/fileshare/internal/api/middleware"
	"github.com/bigkaa/goartstore/fileshare/internal/clock"
	"github.com/bigkaa/goartstore/fileshare/internal/config"
	"github.com/bigkaa/goartstore/fileshare/internal/leader"
	"github.com/bigkaa/goartstore/fileshare/internal/mailer"
	"github.com/bigkaa/goartstore/fileshare/internal/ratelimit"
	"github.com/bigkaa/goartstore/fileshare/internal/server"
	"github.com/bigkaa/goartstore/fileshare/internal/service"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP-сервер и фоновую очистку",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if err := serve(cmd.Context(), cfg, logger); err != nil {
				logger.Error("Ошибка сервера", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}
}

// serve инициализирует компоненты, запускает сервер и фоновые процессы.
// Возвращается после graceful shutdown.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Info("fileshare запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("base_url", cfg.BaseURL),
		slog.String("link_ttl", cfg.LinkTTL.String()),
		slog.String("max_file_size", humanize.IBytes(uint64(cfg.MaxFileSize))), //nolint:gosec // проверено при загрузке
		slog.String("db_driver", cfg.DBDriver),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	// --- Инициализация компонентов ---

	// 1. Blob-хранилище
	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	// 2. Хранилище записей (+ миграции)
	records, err := openRecordStore(ctx, cfg, true, logger)
	if err != nil {
		return err
	}
	defer records.Close()

	// 3. Лимитеры частоты
	uploadPolicy := ratelimit.Policy{Name: ratelimit.UploadPolicy.Name, Limit: cfg.UploadLimit, Window: cfg.UploadWindow}
	authPolicy := ratelimit.Policy{Name: ratelimit.AuthPolicy.Name, Limit: cfg.AuthLimit, Window: cfg.AuthWindow}

	var uploadLimiter, authLimiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
			// Лимитер пропускает запросы при недоступном Redis
			logger.Warn("Redis недоступен при старте",
				slog.String("addr", cfg.RedisAddr),
				slog.String("error", pingErr.Error()),
			)
		}
		uploadLimiter = ratelimit.NewRedis(rdb, uploadPolicy, cfg.RedisPrefix)
		authLimiter = ratelimit.NewRedis(rdb, authPolicy, cfg.RedisPrefix)
	default:
		uploadLimiter = ratelimit.NewMemory(uploadPolicy, cfg.RateLimitMaxClients)
		authLimiter = ratelimit.NewMemory(authPolicy, cfg.RateLimitMaxClients)
	}

	// 4. Отправка писем
	var m mailer.Mailer
	if cfg.SMTPHost != "" {
		m = mailer.NewSMTP(mailer.SMTPConfig{
			Host:          cfg.SMTPHost,
			Port:          cfg.SMTPPort,
			Username:      cfg.SMTPUsername,
			Password:      cfg.SMTPPassword,
			From:          cfg.MailFrom,
			RatePerMinute: cfg.MailRate,
		}, logger)
	} else {
		logger.Warn("FS_SMTP_HOST не задан, письма только пишутся в лог")
		m = mailer.NewLog(logger)
	}

	// 5. Сервисы
	lifecycle := service.NewLifecycle(records.files, blobs, cfg.LinkTTL, logger)
	links := service.NewLinkBuilder(cfg.BaseURL)
	share := service.NewShareService(lifecycle, m, links, logger)

	// 6. Фоновые процессы
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	// 6.1 Очистка истёкших файлов и сверка blob-хранилища
	sweeper := service.NewSweeper(lifecycle, cfg.SweepInterval, cfg.SweepBatchSize, clock.Real{}, logger)
	defer sweeper.Stop()

	var reconcileSvc *service.ReconcileService
	if cfg.ReconcileInterval > 0 {
		reconcileSvc = service.NewReconcileService(
			records.files, blobs, cfg.ReconcileInterval, cfg.ReconcileGrace, clock.Real{}, logger,
		)
		defer reconcileSvc.Stop()
	}

	startBackground := func() {
		sweeper.Start(bgCtx)
		if reconcileSvc != nil {
			reconcileSvc.Start(bgCtx)
		}
	}

	// 6.2 Выбор экземпляра для фоновых задач (несколько реплик на общей FS)
	if cfg.LeaderLockFile != "" {
		election := leader.NewElection(cfg.LeaderLockFile, "", 0, startBackground, logger)
		if err := election.Start(); err != nil {
			return err
		}
		// Stop выполняется раньше sweeper.Stop: после него фоновые задачи не стартуют
		defer election.Stop()
	} else {
		startBackground()
	}

	// 6.3 topologymetrics — мониторинг зависимостей
	var deps handlers.DependencyHealth
	dephealthSvc, err := service.NewDephealthService(service.DephealthParams{
		ServiceID:     "fileshare",
		Group:         cfg.DephealthGroup,
		DB:            records.pgDB,
		PgConnURL:     cfg.PostgresDSN(),
		JWKSURL:       cfg.JWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		logger.Debug("Внешних зависимостей нет, topologymetrics не запускается")
	case err != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	default:
		if startErr := dephealthSvc.Start(bgCtx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		} else {
			defer dephealthSvc.Stop()
			deps = dephealthSvc
			logger.Info("topologymetrics запущен",
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 7. Аутентификация
	var jwtAuth *middleware.JWTAuth
	if cfg.JWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSURL,
			CACertPath:      cfg.JWKSCACert,
			TLSSkipVerify:   cfg.JWKSTLSSkipVerify,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			return err
		}
		logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSURL))
	}
	adminAuth := middleware.NewAdminAuth(cfg.AdminToken, jwtAuth, cfg.AdminScope)
	if !adminAuth.Enabled() {
		logger.Warn("Административный доступ не настроен: /admin недоступен")
	}

	// 8. Handlers и маршрутизатор
	router := server.NewRouter(server.Routes{
		Files:          handlers.NewFilesHandler(lifecycle, share, links, cfg.MaxFileSize, logger),
		Admin:          handlers.NewAdminHandler(lifecycle, sweeper, logger),
		Health:         handlers.NewHealthHandler(records.files, blobs, deps),
		JWT:            jwtAuth,
		AdminAuth:      adminAuth,
		UploadLimiter:  uploadLimiter,
		AuthLimiter:    authLimiter,
		RequestTimeout: cfg.RequestTimeout,
		CORSOrigins:    cfg.CORSAllowedOrigins,
	}, logger)

	// 9. HTTP-сервер
	srv := server.New(server.Config{
		Port:            cfg.Port,
		ReadTimeout:     cfg.HTTPReadTimeout,
		WriteTimeout:    cfg.HTTPWriteTimeout,
		IdleTimeout:     cfg.HTTPIdleTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger, router)

	if err := srv.Run(ctx); err != nil {
		return err
	}

	// Фоновые процессы останавливаются отложенными вызовами
	logger.Info("Остановка фоновых процессов...")
	return nil
}

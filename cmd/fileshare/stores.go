package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/fileshare/internal/config"
	"github.com/bigkaa/goartstore/fileshare/internal/database"
	"github.com/bigkaa/goartstore/fileshare/internal/repository"
	"github.com/bigkaa/goartstore/fileshare/internal/storage/blobstore"
)

// recordStore — хранилище записей и ресурсы, которые нужно закрыть.
type recordStore struct {
	files repository.FileRepository
	// pgDB — адаптер pgxpool → *sql.DB для topologymetrics (только postgres)
	pgDB    *sql.DB
	closers []func()
}

// Close освобождает ресурсы в обратном порядке.
func (s *recordStore) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openRecordStore подключает хранилище записей по FS_DB_DRIVER.
// migrateUp — применить миграции перед использованием.
func openRecordStore(ctx context.Context, cfg *config.Config, migrateUp bool, logger *slog.Logger) (*recordStore, error) {
	switch cfg.DBDriver {
	case "postgres":
		dsn := cfg.PostgresDSN()
		if migrateUp {
			if err := database.MigratePostgres(dsn, logger); err != nil {
				return nil, fmt.Errorf("миграции PostgreSQL: %w", err)
			}
		}

		pool, err := database.ConnectPostgres(ctx, dsn, cfg.DBMaxConns, logger)
		if err != nil {
			return nil, err
		}
		pgDB := stdlib.OpenDBFromPool(pool)

		return &recordStore{
			files: repository.NewPostgres(pool),
			pgDB:  pgDB,
			closers: []func(){
				pool.Close,
				func() { _ = pgDB.Close() },
			},
		}, nil

	case "sqlite":
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if migrateUp {
			if err := database.MigrateSQLite(db, logger); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("миграции SQLite: %w", err)
			}
		}
		logger.Info("SQLite открыта", slog.String("path", cfg.SQLitePath))

		return &recordStore{
			files:   repository.NewSQLite(db),
			closers: []func(){func() { _ = db.Close() }},
		}, nil

	case "memory":
		logger.Warn("Записи хранятся в памяти и теряются при перезапуске")
		return &recordStore{files: repository.NewMemory()}, nil

	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища записей: %q", cfg.DBDriver)
	}
}

// openBlobStore создаёт blob-хранилище по FS_BLOB_BACKEND.
func openBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	return blobstore.New(ctx, blobstore.Config{
		Backend: cfg.BlobBackend,
		Root:    cfg.BlobRoot,
		S3: blobstore.S3Options{
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		},
	})
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
)

// pinger — пул, поддерживающий Ping (*pgxpool.Pool).
type pinger interface {
	Ping(ctx context.Context) error
}

// postgresRepo — реализация FileRepository через pgx.
type postgresRepo struct {
	db DBTX
}

// NewPostgres создаёт репозиторий поверх пула или транзакции pgx.
func NewPostgres(db DBTX) FileRepository {
	return &postgresRepo{db: db}
}

// Create вставляет запись.
func (r *postgresRepo) Create(ctx context.Context, f *model.FileRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO files (`+fileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		f.ID, f.OriginalName, f.StorageKey, f.SizeBytes, f.MimeType,
		f.CreatedAt, f.ExpiresAt, f.SenderEmail, f.ReceiverEmail, f.DownloadCount, f.OwnerID,
		f.Checksum,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

// GetByID возвращает запись по id или ErrNotFound.
func (r *postgresRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	f, err := scanFile(r.db.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return f, nil
}

// IncrementDownloads — одна UPDATE ... RETURNING, строка блокируется
// на время обновления, параллельные инкременты не теряются.
func (r *postgresRepo) IncrementDownloads(ctx context.Context, id string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`UPDATE files SET download_count = download_count + 1 WHERE id = $1 RETURNING download_count`,
		id,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка увеличения счётчика скачиваний: %w", err)
	}
	return count, nil
}

// Delete удаляет запись, RowsAffected показывает, было ли что удалять.
func (r *postgresRepo) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления записи: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpired использует индекс idx_files_expires_at.
func (r *postgresRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE expires_at < $1 ORDER BY expires_at`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки истёкших записей: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// HasStorageKey проверяет наличие записи с ключом blob.
func (r *postgresRepo) HasStorageKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM files WHERE storage_key = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки ключа blob: %w", err)
	}
	return exists, nil
}

// Ping проверяет подключение. Для транзакции (без Ping) выполняет SELECT 1.
func (r *postgresRepo) Ping(ctx context.Context) error {
	if p, ok := r.db.(pinger); ok {
		return p.Ping(ctx)
	}
	_, err := r.db.Exec(ctx, `SELECT 1`)
	return err
}

// scanFile сканирует строку в FileRecord.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	err := row.Scan(
		&f.ID, &f.OriginalName, &f.StorageKey, &f.SizeBytes, &f.MimeType,
		&f.CreatedAt, &f.ExpiresAt, &f.SenderEmail, &f.ReceiverEmail, &f.DownloadCount, &f.OwnerID,
		&f.Checksum,
	)
	if err != nil {
		return nil, err
	}
	f.CreatedAt = f.CreatedAt.UTC()
	f.ExpiresAt = f.ExpiresAt.UTC()
	return f, nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

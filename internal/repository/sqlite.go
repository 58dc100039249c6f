package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
)

// sqliteRepo — реализация FileRepository поверх SQLite.
// Время хранится как Unix-наносекунды (INTEGER), чтобы сравнение
// expires_at < ? выполнялось по индексу без разбора строк.
type sqliteRepo struct {
	db *sql.DB
}

// NewSQLite создаёт репозиторий поверх открытой базы SQLite
// (см. database.OpenSQLite).
func NewSQLite(db *sql.DB) FileRepository {
	return &sqliteRepo{db: db}
}

func (r *sqliteRepo) Create(ctx context.Context, f *model.FileRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OriginalName, f.StorageKey, f.SizeBytes, f.MimeType,
		f.CreatedAt.UnixNano(), f.ExpiresAt.UnixNano(),
		nullString(f.SenderEmail), nullString(f.ReceiverEmail), f.DownloadCount, nullString(f.OwnerID),
		f.Checksum,
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

func (r *sqliteRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	f, err := scanSQLiteFile(r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return f, nil
}

// IncrementDownloads — UPDATE ... RETURNING выполняется одной командой
// под блокировкой записи SQLite.
func (r *sqliteRepo) IncrementDownloads(ctx context.Context, id string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE files SET download_count = download_count + 1 WHERE id = ? RETURNING download_count`,
		id,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка увеличения счётчика скачиваний: %w", err)
	}
	return count, nil
}

func (r *sqliteRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления записи: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ошибка получения числа удалённых строк: %w", err)
	}
	return n > 0, nil
}

// ListExpired читает выборку целиком до возврата: пул SQLite из одного
// соединения не должен оставаться занятым открытым курсором.
func (r *sqliteRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE expires_at < ? ORDER BY expires_at`
	args := []any{now.UnixNano()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки истёкших записей: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f, err := scanSQLiteFile(rows)
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

func (r *sqliteRepo) HasStorageKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM files WHERE storage_key = ?)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки ключа blob: %w", err)
	}
	return exists, nil
}

func (r *sqliteRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// rowScanner — общий интерфейс *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteFile(row rowScanner) (*model.FileRecord, error) {
	var (
		f                         model.FileRecord
		createdAt, expiresAt      int64
		sender, receiver, ownerID sql.NullString
	)
	err := row.Scan(
		&f.ID, &f.OriginalName, &f.StorageKey, &f.SizeBytes, &f.MimeType,
		&createdAt, &expiresAt, &sender, &receiver, &f.DownloadCount, &ownerID, &f.Checksum,
	)
	if err != nil {
		return nil, err
	}
	f.CreatedAt = time.Unix(0, createdAt).UTC()
	f.ExpiresAt = time.Unix(0, expiresAt).UTC()
	f.SenderEmail = stringPtr(sender)
	f.ReceiverEmail = stringPtr(receiver)
	f.OwnerID = stringPtr(ownerID)
	return &f, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// isSQLiteConstraint проверяет нарушение PRIMARY KEY или UNIQUE.
func isSQLiteConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

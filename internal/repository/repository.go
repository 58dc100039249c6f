// Пакет repository — хранилище записей о файлах.
// Три реализации одного интерфейса: PostgreSQL (pgx), SQLite (database/sql)
// и in-memory. Все запросы — чистый SQL, без ORM.
//
// Счётчик скачиваний увеличивается одной атомарной операцией хранилища,
// без чтения-изменения-записи. Удаление идемпотентно.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrAlreadyExists — запись с таким id или storage_key уже есть.
	ErrAlreadyExists = errors.New("запись уже существует")
)

// FileRepository — доступ к записям о файлах.
type FileRepository interface {
	// Create сохраняет новую запись.
	Create(ctx context.Context, f *model.FileRecord) error
	// GetByID возвращает запись по id или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// IncrementDownloads атомарно увеличивает счётчик на 1 и возвращает
	// новое значение. ErrNotFound, если записи нет.
	IncrementDownloads(ctx context.Context, id string) (int64, error)
	// Delete удаляет запись. Возвращает false, если записи уже не было.
	Delete(ctx context.Context, id string) (bool, error)
	// ListExpired возвращает записи с expires_at < now, не более limit
	// (limit <= 0 — без ограничения), по возрастанию expires_at.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.FileRecord, error)
	// HasStorageKey проверяет, ссылается ли какая-либо запись на ключ blob.
	HasStorageKey(ctx context.Context, key string) (bool, error)
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}

// DBTX — интерфейс для выполнения SQL-запросов через pgx.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// fileColumns — список столбцов таблицы files для SELECT-запросов.
const fileColumns = `id, original_name, storage_key, size_bytes, mime_type,
	created_at, expires_at, sender_email, receiver_email, download_count, owner_id, checksum`

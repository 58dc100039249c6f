// Пакет blobstore — хранилище содержимого файлов, адресуемое непрозрачным ключом.
// Запись возвращает ключ, чтение и удаление выполняются по ключу.
// Удаление идемпотентно: отсутствие blob не является ошибкой.
//
// Реализации: filesystem (локальный диск), memory (тесты, dev), s3.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound — blob с указанным ключом отсутствует.
var ErrNotFound = errors.New("blob не найден")

// PutResult — результат записи blob.
type PutResult struct {
	// Key — ключ blob в хранилище
	Key string
	// Size — количество записанных байт
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// BlobInfo — сведения о blob для сверки с записями.
type BlobInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store — интерфейс blob-хранилища.
type Store interface {
	// Put записывает содержимое reader. name используется только
	// для формирования читаемого ключа (расширение, префикс).
	Put(ctx context.Context, r io.Reader, name string) (*PutResult, error)
	// Open открывает blob на чтение. Вызывающий обязан закрыть ReadCloser.
	// Возвращает ErrNotFound, если blob отсутствует.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete удаляет blob. Отсутствующий blob — не ошибка.
	Delete(ctx context.Context, key string) error
	// List перечисляет все blob хранилища.
	List(ctx context.Context) ([]BlobInfo, error)
	// Check проверяет доступность хранилища (для readiness).
	Check(ctx context.Context) error
}

// generateKey генерирует ключ blob.
// Формат: {name}_{timestamp}_{uuid}.{ext}
// Пример: report_20260301120000_1b4e28ba-2fa1-11d2-883f-0016d3cca427.pdf
func generateKey(name string, now time.Time) string {
	ext := sanitizeExt(filepath.Ext(name))
	base := sanitize(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))

	// Ограничиваем длину имени для предотвращения проблем с FS
	if len(base) > 50 {
		base = base[:50]
	}

	return fmt.Sprintf("%s_%s_%s%s", base, now.UTC().Format("20060102150405"), uuid.New().String(), ext)
}

// sanitize убирает небезопасные символы из строки для использования в ключе.
// Оставляет только латиницу, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}

// sanitizeExt оставляет в расширении только латиницу и цифры.
func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" || len(ext) > 16 {
		return ""
	}
	var result strings.Builder
	for _, r := range strings.ToLower(ext) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return ""
	}
	return "." + result.String()
}

// ctxReader прерывает чтение при отмене контекста.
// Нужен, чтобы таймаут запроса обрывал запись незавершённого blob.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// contextReader оборачивает reader проверкой контекста.
func contextReader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

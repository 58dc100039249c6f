// Пакет service — бизнес-логика файлового обменника.
// lifecycle.go — жизненный цикл файла: создание с TTL, чтение метаданных,
// скачивание с учётом счётчика, удаление.
//
// Lifecycle не держит блокировок на время обращений к хранилищам и не
// кэширует записи. Атомарность счётчика и идемпотентность удаления
// обеспечиваются самими хранилищами.
//
// Гонка скачивания и удаления: Purge удаляет безусловно. Скачивание,
// успевшее получить запись и увеличить счётчик до удаления blob, может
// отдать содержимое или завершиться ErrCorruptRecord/ErrNotFound.
// Инкремент при этом не теряется и не дублируется.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/bigkaa/goartstore/fileshare/internal/clock"
	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
	"github.com/bigkaa/goartstore/fileshare/internal/repository"
	"github.com/bigkaa/goartstore/fileshare/internal/storage/blobstore"
)

// sniffLen — сколько байт читается для определения MIME-типа.
const sniffLen = 3072

// compensateTimeout — таймаут компенсирующего удаления blob.
// Выполняется на отдельном контексте: исходный мог быть отменён.
const compensateTimeout = 10 * time.Second

// CreateParams — параметры создания файла.
type CreateParams struct {
	// OriginalName — имя файла от клиента
	OriginalName string
	// MimeType — тип от клиента; пустой или application/octet-stream
	// уточняется по содержимому
	MimeType string
	// Body — поток данных, длина заранее неизвестна
	Body io.Reader
	// TTL — срок жизни ссылки; 0 — значение по умолчанию
	TTL           time.Duration
	SenderEmail   *string
	ReceiverEmail *string
	OwnerID       *string
}

// Download — открытый на чтение файл.
type Download struct {
	// Body — содержимое, вызывающий обязан закрыть
	Body   io.ReadCloser
	Record *model.FileRecord
	View   *model.FileView
}

// LifecycleOption настраивает Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithClock подменяет часы (для тестов).
func WithClock(c clock.Clock) LifecycleOption {
	return func(l *Lifecycle) { l.clock = c }
}

// WithIDGenerator подменяет генератор идентификаторов (для тестов).
func WithIDGenerator(g clock.IDGenerator) LifecycleOption {
	return func(l *Lifecycle) { l.ids = g }
}

// Lifecycle — менеджер жизненного цикла файлов.
type Lifecycle struct {
	files      repository.FileRepository
	blobs      blobstore.Store
	defaultTTL time.Duration
	clock      clock.Clock
	ids        clock.IDGenerator
	logger     *slog.Logger
}

// NewLifecycle создаёт менеджер жизненного цикла.
func NewLifecycle(
	files repository.FileRepository,
	blobs blobstore.Store,
	defaultTTL time.Duration,
	logger *slog.Logger,
	opts ...LifecycleOption,
) *Lifecycle {
	l := &Lifecycle{
		files:      files,
		blobs:      blobs,
		defaultTTL: defaultTTL,
		clock:      clock.Real{},
		ids:        clock.UUIDGenerator{},
		logger:     logger.With(slog.String("component", "lifecycle")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultTTL возвращает срок жизни ссылки по умолчанию.
func (l *Lifecycle) DefaultTTL() time.Duration {
	return l.defaultTTL
}

// Now возвращает текущее время по часам менеджера.
func (l *Lifecycle) Now() time.Time {
	return l.clock.Now()
}

// Create записывает содержимое и сохраняет запись.
//
// Поток:
//  1. Определение MIME-типа по первым байтам (если не задан)
//  2. Запись blob → ключ и размер
//  3. Вставка записи с expires_at = now + ttl
//
// Ошибка записи blob → ErrStorageWrite, запись не создаётся.
// Ошибка вставки → компенсирующее удаление blob, затем ErrPersistence.
func (l *Lifecycle) Create(ctx context.Context, p CreateParams) (*model.FileRecord, error) {
	ttl := p.TTL
	if ttl == 0 {
		ttl = l.defaultTTL
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: срок жизни ссылки должен быть положительным", ErrInvalidRequest)
	}
	if p.Body == nil {
		return nil, fmt.Errorf("%w: отсутствует содержимое файла", ErrInvalidRequest)
	}

	name := strings.TrimSpace(p.OriginalName)
	if name == "" {
		name = "file"
	}

	body, mimeType, err := detectMimeType(p.Body, p.MimeType)
	if err != nil {
		operationsTotal.WithLabelValues("create", "storage_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	put, err := l.blobs.Put(ctx, body, name)
	if err != nil {
		operationsTotal.WithLabelValues("create", "storage_error").Inc()
		l.logger.Error("Ошибка записи содержимого",
			slog.String("filename", name),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	now := l.clock.Now()
	rec := &model.FileRecord{
		ID:            l.ids.New(),
		OriginalName:  name,
		StorageKey:    put.Key,
		SizeBytes:     put.Size,
		Checksum:      put.Checksum,
		MimeType:      mimeType,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
		SenderEmail:   nonEmpty(p.SenderEmail),
		ReceiverEmail: nonEmpty(p.ReceiverEmail),
		OwnerID:       nonEmpty(p.OwnerID),
	}

	if err := l.files.Create(ctx, rec); err != nil {
		operationsTotal.WithLabelValues("create", "persistence_error").Inc()
		l.logger.Error("Ошибка сохранения записи, удаляем содержимое",
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		l.compensate(ctx, rec)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	operationsTotal.WithLabelValues("create", "success").Inc()
	uploadedBytesTotal.Add(float64(rec.SizeBytes))

	l.logger.Info("Файл загружен",
		slog.String("file_id", rec.ID),
		slog.String("filename", rec.OriginalName),
		slog.Int64("size", rec.SizeBytes),
		slog.String("mime_type", rec.MimeType),
		slog.Time("expires_at", rec.ExpiresAt),
	)

	return rec, nil
}

// compensate удаляет blob, для которого не удалось сохранить запись.
// Неудача логируется и не повторяется: сирота будет убрана сверкой.
func (l *Lifecycle) compensate(ctx context.Context, rec *model.FileRecord) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	if err := l.blobs.Delete(cctx, rec.StorageKey); err != nil {
		compensationsTotal.WithLabelValues("error").Inc()
		l.logger.Error("Компенсирующее удаление содержимого не удалось",
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	compensationsTotal.WithLabelValues("success").Inc()
}

// Get возвращает запись по id.
func (l *Lifecycle) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	rec, err := l.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return rec, nil
}

// GetMetadata возвращает проекцию записи. Истёкшие, но ещё не удалённые
// записи читаются с отрицательным ExpiresIn.
func (l *Lifecycle) GetMetadata(ctx context.Context, id string) (*model.FileView, error) {
	rec, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.View(l.clock.Now()), nil
}

// OpenDownload проверяет срок, атомарно увеличивает счётчик и открывает blob.
// Истёкшая запись не удаляется: удаление выполняет только Sweeper.
func (l *Lifecycle) OpenDownload(ctx context.Context, id string) (*Download, error) {
	rec, err := l.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			operationsTotal.WithLabelValues("download", "not_found").Inc()
		}
		return nil, err
	}

	now := l.clock.Now()
	if l.IsExpired(rec, now) {
		operationsTotal.WithLabelValues("download", "expired").Inc()
		return nil, ErrExpired
	}

	count, err := l.files.IncrementDownloads(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Запись удалена между чтением и инкрементом
			operationsTotal.WithLabelValues("download", "not_found").Inc()
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	rec.DownloadCount = count

	body, err := l.blobs.Open(ctx, rec.StorageKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			corruptRecordsTotal.Inc()
			operationsTotal.WithLabelValues("download", "corrupt").Inc()
			l.logger.Error("Запись без содержимого",
				slog.String("file_id", rec.ID),
				slog.String("error", err.Error()),
			)
			return nil, ErrCorruptRecord
		}
		operationsTotal.WithLabelValues("download", "storage_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorageRead, err)
	}

	operationsTotal.WithLabelValues("download", "success").Inc()
	l.logger.Debug("Файл отдан на скачивание",
		slog.String("file_id", rec.ID),
		slog.Int64("downloads", rec.DownloadCount),
	)

	return &Download{Body: body, Record: rec, View: rec.View(now)}, nil
}

// Purge удаляет blob и запись. Идемпотентен: для отсутствующей записи
// возвращает (false, nil). Безопасен при параллельных вызовах.
func (l *Lifecycle) Purge(ctx context.Context, id string) (bool, error) {
	rec, err := l.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return l.PurgeRecord(ctx, rec)
}

// PurgeRecord удаляет blob, затем запись. Используется Sweeper,
// у которого запись уже прочитана. Отсутствие blob или записи не ошибка.
func (l *Lifecycle) PurgeRecord(ctx context.Context, rec *model.FileRecord) (bool, error) {
	if err := l.blobs.Delete(ctx, rec.StorageKey); err != nil {
		operationsTotal.WithLabelValues("purge", "storage_error").Inc()
		return false, fmt.Errorf("%w: удаление содержимого: %v", ErrPersistence, err)
	}

	removed, err := l.files.Delete(ctx, rec.ID)
	if err != nil {
		operationsTotal.WithLabelValues("purge", "persistence_error").Inc()
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if removed {
		operationsTotal.WithLabelValues("purge", "success").Inc()
		l.logger.Debug("Файл удалён",
			slog.String("file_id", rec.ID),
			slog.String("filename", rec.OriginalName),
		)
	} else {
		operationsTotal.WithLabelValues("purge", "noop").Inc()
	}
	return removed, nil
}

// ListExpired возвращает записи с expires_at < now.
func (l *Lifecycle) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.FileRecord, error) {
	recs, err := l.files.ListExpired(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return recs, nil
}

// IsExpired — now > expires_at.
func (l *Lifecycle) IsExpired(rec *model.FileRecord, now time.Time) bool {
	return rec.IsExpired(now)
}

// detectMimeType уточняет MIME-тип по первым байтам содержимого.
// Прочитанные байты возвращаются в начало потока.
func detectMimeType(body io.Reader, declared string) (io.Reader, string, error) {
	declared = normalizeMimeType(declared)
	if declared != "" && declared != "application/octet-stream" {
		return body, declared, nil
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, "", fmt.Errorf("чтение начала файла: %w", err)
	}
	head = head[:n]

	return io.MultiReader(bytes.NewReader(head), body), mimetype.Detect(head).String(), nil
}

// normalizeMimeType убирает параметры у application/octet-stream и пробелы.
func normalizeMimeType(ct string) string {
	ct = strings.TrimSpace(ct)
	if base, _, ok := strings.Cut(ct, ";"); ok && strings.TrimSpace(base) == "application/octet-stream" {
		return "application/octet-stream"
	}
	return ct
}

// nonEmpty возвращает nil для nil или пустой строки.
func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

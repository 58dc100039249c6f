// Пакет model — доменные модели файлового обменника.
// FileRecord — единственная сущность: загруженный файл с ограниченным
// сроком жизни ссылки.
package model

import (
	"time"
)

// FileRecord — запись о загруженном файле.
// StorageKey не входит в API-ответы: это внутренний ключ blob-хранилища.
type FileRecord struct {
	// ID — публичный идентификатор ссылки (UUID v4), никогда не переиспользуется
	ID string `json:"id"`

	// OriginalName — имя файла, присланное клиентом (не доверенное)
	OriginalName string `json:"original_name"`

	// StorageKey — ключ blob-хранилища, клиенту не отдаётся
	StorageKey string `json:"-"`

	// SizeBytes — размер файла в байтах
	SizeBytes int64 `json:"size_bytes"`

	// MimeType — MIME-тип файла
	MimeType string `json:"mime_type"`

	// CreatedAt — время создания (UTC)
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt — CreatedAt + TTL, после создания не меняется
	ExpiresAt time.Time `json:"expires_at"`

	// SenderEmail — адрес отправителя (опционально)
	SenderEmail *string `json:"sender_email,omitempty"`

	// ReceiverEmail — адрес получателя (опционально)
	ReceiverEmail *string `json:"receiver_email,omitempty"`

	// DownloadCount — количество скачиваний, только растёт
	DownloadCount int64 `json:"download_count"`

	// OwnerID — subject из JWT загрузившего пользователя (опционально).
	// Слабая ссылка: запись живёт независимо от пользователя.
	OwnerID *string `json:"owner_id,omitempty"`

	// Checksum — SHA-256 содержимого (hex), пусто у записей до миграции 000002
	Checksum string `json:"checksum,omitempty"`
}

// FileView — проекция записи для чтения метаданных.
type FileView struct {
	Filename  string
	Size      int64
	MimeType  string
	ExpiresAt time.Time
	// ExpiresIn — ExpiresAt - now, может быть отрицательным
	ExpiresIn time.Duration
	Downloads int64
}

// IsExpired проверяет, истёк ли срок жизни ссылки.
func (r *FileRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// TimeRemaining возвращает оставшееся время жизни ссылки.
func (r *FileRecord) TimeRemaining(now time.Time) time.Duration {
	return r.ExpiresAt.Sub(now)
}

// View строит проекцию записи на момент now.
func (r *FileRecord) View(now time.Time) *FileView {
	return &FileView{
		Filename:  r.OriginalName,
		Size:      r.SizeBytes,
		MimeType:  r.MimeType,
		ExpiresAt: r.ExpiresAt,
		ExpiresIn: r.TimeRemaining(now),
		Downloads: r.DownloadCount,
	}
}

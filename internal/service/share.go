package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/goartstore/fileshare/internal/mailer"
)

// LinkBuilder формирует публичные ссылки на файлы.
type LinkBuilder struct {
	baseURL string
}

// NewLinkBuilder создаёт построитель ссылок от базового URL сервиса.
func NewLinkBuilder(baseURL string) LinkBuilder {
	return LinkBuilder{baseURL: strings.TrimRight(baseURL, "/")}
}

// DownloadURL — {baseUrl}/files/{id}/download.
func (b LinkBuilder) DownloadURL(id string) string {
	return fmt.Sprintf("%s/files/%s/download", b.baseURL, id)
}

// SendLinkParams — параметры отправки ссылки по e-mail.
type SendLinkParams struct {
	ID            string
	ReceiverEmail string
	// SenderEmail — необязательный; пустой берётся из записи
	SenderEmail string
}

// ShareService отправляет ссылки на файлы по e-mail.
type ShareService struct {
	lifecycle *Lifecycle
	mailer    mailer.Mailer
	links     LinkBuilder
	logger    *slog.Logger
}

// NewShareService создаёт сервис отправки ссылок.
func NewShareService(lifecycle *Lifecycle, m mailer.Mailer, links LinkBuilder, logger *slog.Logger) *ShareService {
	return &ShareService{
		lifecycle: lifecycle,
		mailer:    m,
		links:     links,
		logger:    logger.With(slog.String("component", "share")),
	}
}

// SendLink отправляет получателю ссылку на файл id.
// Пустой получатель — ErrInvalidRequest, неизвестный id — ErrNotFound,
// истёкшая ссылка — ErrExpired. Формат адреса не проверяется: его
// отклоняет почтовый сервер.
func (s *ShareService) SendLink(ctx context.Context, p SendLinkParams) error {
	to := strings.TrimSpace(p.ReceiverEmail)
	if to == "" {
		return fmt.Errorf("%w: не указан адрес получателя", ErrInvalidRequest)
	}

	rec, err := s.lifecycle.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	if s.lifecycle.IsExpired(rec, s.lifecycle.Now()) {
		return ErrExpired
	}

	from := strings.TrimSpace(p.SenderEmail)
	if from == "" && rec.SenderEmail != nil {
		from = *rec.SenderEmail
	}

	err = s.mailer.SendLink(ctx, mailer.LinkMessage{
		To:        to,
		From:      from,
		Filename:  rec.OriginalName,
		Size:      rec.SizeBytes,
		ExpiresAt: rec.ExpiresAt,
		URL:       s.links.DownloadURL(rec.ID),
	})
	if err != nil {
		operationsTotal.WithLabelValues("send_link", "error").Inc()
		s.logger.Error("Ошибка отправки ссылки",
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	operationsTotal.WithLabelValues("send_link", "success").Inc()
	return nil
}

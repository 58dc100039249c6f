package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// SMTPConfig — параметры SMTP-сервера.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From — адрес в заголовке From
	From string
	// RatePerMinute — максимум писем в минуту (0 — без ограничения)
	RatePerMinute int
}

// sendFunc — сигнатура smtp.SendMail, подменяется в тестах.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTP отправляет письма через SMTP-сервер.
type SMTP struct {
	cfg     SMTPConfig
	limiter *rate.Limiter
	send    sendFunc
	now     func() time.Time
	logger  *slog.Logger
}

// NewSMTP создаёт отправителя. Частота ограничивается token bucket
// с ёмкостью 1: письма уходят равномерно, без всплесков.
func NewSMTP(cfg SMTPConfig, logger *slog.Logger) *SMTP {
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
	}
	return &SMTP{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		send:    smtp.SendMail,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "mailer")),
	}
}

// SendLink ждёт разрешения лимитера (или отмены ctx) и отправляет письмо.
func (s *SMTP) SendLink(ctx context.Context, msg LinkMessage) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mailer: ожидание лимита отправки: %w", err)
	}

	body, err := renderBody(msg, s.now())
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.send(addr, auth, s.cfg.From, []string{msg.To}, s.compose(msg, body)); err != nil {
		return fmt.Errorf("mailer: ошибка отправки через %s: %w", addr, err)
	}

	s.logger.Info("Письмо со ссылкой отправлено",
		slog.String("to", msg.To),
		slog.String("filename", msg.Filename),
	)
	return nil
}

// compose собирает RFC 5322 сообщение.
func (s *SMTP) compose(msg LinkMessage, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + sanitizeHeader(s.cfg.From) + "\r\n")
	b.WriteString("To: " + sanitizeHeader(msg.To) + "\r\n")
	if msg.From != "" {
		b.WriteString("Reply-To: " + sanitizeHeader(msg.From) + "\r\n")
	}
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject(msg)) + "\r\n")
	b.WriteString("Date: " + s.now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

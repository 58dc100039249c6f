package mailer

import (
	"context"
	"log/slog"
	"time"
)

// Log — Mailer, который пишет письмо в лог вместо отправки.
type Log struct {
	logger *slog.Logger
}

// NewLog создаёт Mailer для окружений без SMTP.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With(slog.String("component", "mailer"))}
}

func (l *Log) SendLink(_ context.Context, msg LinkMessage) error {
	body, err := renderBody(msg, time.Now())
	if err != nil {
		return err
	}
	l.logger.Info("SMTP не настроен, письмо записано в лог",
		slog.String("to", msg.To),
		slog.String("subject", subject(msg)),
		slog.String("body", body),
	)
	return nil
}

// Пакет mailer — отправка ссылки на файл по e-mail.
//
// SMTP — рабочая реализация (net/smtp с ограничением частоты отправки),
// Log — записывает письмо в лог, используется когда SMTP не настроен.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
)

// LinkMessage — письмо со ссылкой на скачивание.
type LinkMessage struct {
	To string
	// From — адрес отправителя, указанный пользователем (Reply-To)
	From      string
	Filename  string
	Size      int64
	ExpiresAt time.Time
	URL       string
}

// Mailer отправляет письмо со ссылкой.
type Mailer interface {
	SendLink(ctx context.Context, msg LinkMessage) error
}

var bodyTemplate = template.Must(template.New("link").Parse(
	`{{if .From}}{{.From}} shared a file with you.{{else}}Someone shared a file with you.{{end}}

File:     {{.Filename}} ({{.Size}})
Download: {{.URL}}
The link expires {{.ExpiresIn}} ({{.ExpiresAt}}).
`))

// renderBody формирует текст письма на момент now.
func renderBody(msg LinkMessage, now time.Time) (string, error) {
	var buf bytes.Buffer
	err := bodyTemplate.Execute(&buf, map[string]string{
		"From":      sanitizeHeader(msg.From),
		"Filename":  sanitizeHeader(msg.Filename),
		"Size":      humanize.IBytes(uint64(max(msg.Size, 0))),
		"URL":       msg.URL,
		"ExpiresAt": msg.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"),
		"ExpiresIn": humanize.RelTime(msg.ExpiresAt, now, "ago", "from now"),
	})
	if err != nil {
		return "", fmt.Errorf("ошибка формирования письма: %w", err)
	}
	return buf.String(), nil
}

// subject формирует тему письма.
func subject(msg LinkMessage) string {
	return "File shared with you: " + sanitizeHeader(msg.Filename)
}

// sanitizeHeader убирает переводы строк, чтобы значение нельзя было
// использовать для внедрения заголовков.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

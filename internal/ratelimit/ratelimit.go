// Пакет ratelimit — ограничение частоты запросов фиксированными окнами.
//
// Счётчик привязан к ключу клиента (обычно IP) и политике. Окно
// начинается с первого запроса и длится Policy.Window; по его истечении
// счётчик обнуляется. Превышение лимита возвращает Decision с
// Allowed=false и RetryAfter до конца окна.
package ratelimit

import (
	"context"
	"time"
)

// Policy — лимит Limit запросов за окно Window.
type Policy struct {
	// Name — имя политики, входит в ключ счётчика и метки метрик
	Name   string
	Limit  int
	Window time.Duration
}

// Стандартные политики.
var (
	// UploadPolicy — 20 загрузок в час на клиента.
	UploadPolicy = Policy{Name: "upload", Limit: 20, Window: time.Hour}
	// AuthPolicy — 10 попыток аутентификации за 15 минут на клиента.
	AuthPolicy = Policy{Name: "auth", Limit: 10, Window: 15 * time.Minute}
)

// Decision — результат проверки лимита.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter — время до сброса окна
	RetryAfter time.Duration
}

// Limiter проверяет и учитывает очередной запрос клиента key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// decide строит Decision по номеру запроса в окне.
func decide(p Policy, count int, resetIn time.Duration) Decision {
	if resetIn < 0 {
		resetIn = 0
	}
	d := Decision{
		Allowed:    count <= p.Limit,
		Limit:      p.Limit,
		Remaining:  p.Limit - count,
		RetryAfter: resetIn,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d
}

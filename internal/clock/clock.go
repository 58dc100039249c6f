// Пакет clock — абстракции времени и генерации идентификаторов.
// Бизнес-логика получает их через конструкторы, чтобы тесты
// могли управлять «текущим» временем и идентификаторами.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock возвращает текущее время.
type Clock interface {
	Now() time.Time
}

// Real — системные часы, всегда UTC.
type Real struct{}

// Now возвращает текущее время в UTC.
func (Real) Now() time.Time { return time.Now().UTC() }

// IDGenerator выдаёт уникальные идентификаторы.
type IDGenerator interface {
	New() string
}

// UUIDGenerator генерирует случайные UUID v4.
type UUIDGenerator struct{}

// New возвращает новый UUID v4 в текстовом виде.
func (UUIDGenerator) New() string { return uuid.New().String() }

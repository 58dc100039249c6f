package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// window — состояние окна одного клиента.
type window struct {
	start time.Time
	count int
}

// Memory — лимитер в памяти процесса.
// Окна хранятся в expirable LRU: запись живёт не дольше окна, а размер
// кэша ограничивает память при большом числе клиентов. При вытеснении
// клиент получает новое окно.
type Memory struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	windows *expirable.LRU[string, *window]
}

// NewMemory создаёт лимитер на maxClients отслеживаемых клиентов.
func NewMemory(policy Policy, maxClients int) *Memory {
	return &Memory{
		policy:  policy,
		now:     time.Now,
		windows: expirable.NewLRU[string, *window](maxClients, nil, policy.Window),
	}
}

// Allow учитывает запрос и сообщает, укладывается ли он в лимит.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows.Get(key)
	if !ok || !now.Before(w.start.Add(m.policy.Window)) {
		// Add сбрасывает TTL записи, поэтому вызывается только при открытии окна
		w = &window{start: now}
		m.windows.Add(key, w)
	}
	w.count++

	return decide(m.policy, w.count, w.start.Add(m.policy.Window).Sub(now)), nil
}

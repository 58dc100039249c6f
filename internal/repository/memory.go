package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
)

// Memory — хранилище записей в памяти процесса (dev-режим, тесты).
// Возвращает копии записей: изменения у вызывающего не влияют на хранилище.
type Memory struct {
	mu    sync.Mutex
	files map[string]*model.FileRecord
	// failCreate — ошибка, которую вернёт следующий Create (для тестов
	// компенсирующего удаления).
	failCreate error
}

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{files: make(map[string]*model.FileRecord)}
}

// FailNextCreate заставляет следующий вызов Create вернуть err.
func (m *Memory) FailNextCreate(err error) {
	m.mu.Lock()
	m.failCreate = err
	m.mu.Unlock()
}

func (m *Memory) Create(_ context.Context, f *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCreate != nil {
		err := m.failCreate
		m.failCreate = nil
		return err
	}
	if _, ok := m.files[f.ID]; ok {
		return ErrAlreadyExists
	}
	for _, existing := range m.files {
		if existing.StorageKey == f.StorageKey {
			return ErrAlreadyExists
		}
	}
	m.files[f.ID] = cloneRecord(f)
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(f), nil
}

func (m *Memory) IncrementDownloads(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return 0, ErrNotFound
	}
	f.DownloadCount++
	return f.DownloadCount, nil
}

func (m *Memory) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[id]; !ok {
		return false, nil
	}
	delete(m.files, id)
	return true, nil
}

func (m *Memory) ListExpired(_ context.Context, now time.Time, limit int) ([]*model.FileRecord, error) {
	m.mu.Lock()
	var result []*model.FileRecord
	for _, f := range m.files {
		if f.ExpiresAt.Before(now) {
			result = append(result, cloneRecord(f))
		}
	}
	m.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) HasStorageKey(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.files {
		if f.StorageKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

// Len возвращает количество записей.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

func cloneRecord(f *model.FileRecord) *model.FileRecord {
	c := *f
	c.SenderEmail = cloneString(f.SenderEmail)
	c.ReceiverEmail = cloneString(f.ReceiverEmail)
	c.OwnerID = cloneString(f.OwnerID)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

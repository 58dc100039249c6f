package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"
)

type memBlob struct {
	data    []byte
	modTime time.Time
}

// Memory — blob-хранилище в памяти процесса. Для тестов и dev-режима.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]memBlob
	now   func() time.Time
}

// NewMemory создаёт пустое хранилище в памяти.
func NewMemory() *Memory {
	return &Memory{
		blobs: make(map[string]memBlob),
		now:   time.Now,
	}
}

// Put читает reader целиком и сохраняет копию данных.
// Блокировка берётся только после полного чтения.
func (m *Memory) Put(ctx context.Context, r io.Reader, name string) (*PutResult, error) {
	data, err := io.ReadAll(contextReader(ctx, r))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения данных: %w", err)
	}

	now := m.now()
	key := generateKey(name, now)
	sum := sha256.Sum256(data)

	m.mu.Lock()
	m.blobs[key] = memBlob{data: data, modTime: now}
	m.mu.Unlock()

	return &PutResult{
		Key:      key,
		Size:     int64(len(data)),
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}

// Open возвращает reader поверх сохранённых данных.
func (m *Memory) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	b, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// Delete удаляет blob, отсутствие ключа не ошибка.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.blobs, key)
	m.mu.Unlock()
	return nil
}

// List перечисляет сохранённые blob.
func (m *Memory) List(_ context.Context) ([]BlobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]BlobInfo, 0, len(m.blobs))
	for key, b := range m.blobs {
		result = append(result, BlobInfo{Key: key, Size: int64(len(b.data)), ModTime: b.modTime})
	}
	return result, nil
}

// Check всегда успешен.
func (m *Memory) Check(context.Context) error {
	return nil
}

// Has сообщает, есть ли blob с ключом key.
func (m *Memory) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok
}

// Len возвращает количество blob.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

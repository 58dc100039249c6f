package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMemory_PutOpenDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	res, err := m.Put(ctx, strings.NewReader("hello"), "greeting.txt")
	if err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	if res.Size != 5 {
		t.Errorf("размер: хотели 5, получили %d", res.Size)
	}
	if !m.Has(res.Key) {
		t.Fatal("blob должен присутствовать после записи")
	}

	rc, err := m.Open(ctx, res.Key)
	if err != nil {
		t.Fatalf("ошибка открытия: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" {
		t.Errorf("содержимое: хотели %q, получили %q", "hello", data)
	}

	if err := m.Delete(ctx, res.Key); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if err := m.Delete(ctx, res.Key); err != nil {
		t.Fatalf("повторное удаление не должно быть ошибкой: %v", err)
	}
	if _, err := m.Open(ctx, res.Key); !errors.Is(err, ErrNotFound) {
		t.Errorf("хотели ErrNotFound, получили %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("хранилище должно быть пустым, получили %d", m.Len())
	}
}

func TestMemory_List(t *testing.T) {
	m := NewMemory()
	m.now = func() time.Time { return fixedTime }
	ctx := context.Background()

	for _, name := range []string{"a.txt", "b.txt"} {
		if _, err := m.Put(ctx, strings.NewReader(name), name); err != nil {
			t.Fatalf("ошибка записи: %v", err)
		}
	}

	blobs, err := m.List(ctx)
	if err != nil {
		t.Fatalf("ошибка List: %v", err)
	}
	if len(blobs) != 2 {
		t.Fatalf("хотели 2 blob, получили %d", len(blobs))
	}
	for _, b := range blobs {
		if !b.ModTime.Equal(fixedTime) {
			t.Errorf("ModTime %s: хотели %s, получили %s", b.Key, fixedTime, b.ModTime)
		}
	}
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, Config{Backend: "memory"}); err != nil {
		t.Errorf("memory: неожиданная ошибка %v", err)
	}
	if _, err := New(ctx, Config{Backend: "filesystem", Root: t.TempDir()}); err != nil {
		t.Errorf("filesystem: неожиданная ошибка %v", err)
	}
	if _, err := New(ctx, Config{Backend: "filesystem"}); err == nil {
		t.Error("filesystem без Root: ожидалась ошибка")
	}
	if _, err := New(ctx, Config{Backend: "s3"}); err == nil {
		t.Error("s3 без bucket: ожидалась ошибка")
	}
	if _, err := New(ctx, Config{Backend: "ftp"}); err == nil {
		t.Error("неизвестный backend: ожидалась ошибка")
	}
}

package service

import (
	"context"
	"testing"
	"time"
)

func TestSweeper_NoExpired(t *testing.T) {
	env := newTestEnv(t)
	rec := env.upload(t, "a.txt", "x", time.Hour)

	s := NewSweeper(env.lifecycle, time.Minute, 0, env.clock, testLogger())
	res := s.RunOnce(context.Background())

	if res.Found != 0 || res.Purged != 0 || res.Errors != 0 {
		t.Errorf("результат: хотели 0/0/0, получили %d/%d/%d", res.Found, res.Purged, res.Errors)
	}
	if env.files.Len() != 1 || !env.blobs.Has(rec.StorageKey) {
		t.Error("очистка без истёкших записей изменила хранилища")
	}
}

func TestSweeper_EmptyStore(t *testing.T) {
	env := newTestEnv(t)

	s := NewSweeper(env.lifecycle, time.Minute, 0, env.clock, testLogger())
	res := s.RunOnce(context.Background())

	if res.Purged != 0 || res.Errors != 0 {
		t.Errorf("результат: хотели 0 purged, 0 errors, получили %d, %d", res.Purged, res.Errors)
	}
}

func TestSweeper_PurgesOnlyExpired(t *testing.T) {
	env := newTestEnv(t)
	short := env.upload(t, "short.txt", "x", time.Hour)
	long := env.upload(t, "long.txt", "y", 3*time.Hour)

	env.clock.Advance(2 * time.Hour)

	s := NewSweeper(env.lifecycle, time.Minute, 0, env.clock, testLogger())
	res := s.RunOnce(context.Background())

	if res.Found != 1 || res.Purged != 1 {
		t.Errorf("результат: хотели found=1 purged=1, получили %d/%d", res.Found, res.Purged)
	}
	if env.blobs.Has(short.StorageKey) {
		t.Error("blob истёкшего файла не удалён")
	}
	if !env.blobs.Has(long.StorageKey) {
		t.Error("blob действующего файла удалён")
	}
	if _, err := env.lifecycle.Get(context.Background(), long.ID); err != nil {
		t.Errorf("действующий файл: %v", err)
	}
}

func TestSweeper_BatchSize(t *testing.T) {
	env := newTestEnv(t)
	for range 5 {
		env.upload(t, "a.txt", "x", time.Hour)
	}
	env.clock.Advance(2 * time.Hour)

	s := NewSweeper(env.lifecycle, time.Minute, 2, env.clock, testLogger())
	res := s.RunOnce(context.Background())

	if res.Purged != 2 {
		t.Errorf("Purged: хотели 2, получили %d", res.Purged)
	}
	if env.files.Len() != 3 {
		t.Errorf("записей: хотели 3, получили %d", env.files.Len())
	}
}

func TestSweeper_StartStop(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "a.txt", "x", time.Hour)
	env.clock.Advance(2 * time.Hour)

	s := NewSweeper(env.lifecycle, time.Hour, 0, env.clock, testLogger())
	s.Start(context.Background())
	// Повторный Start ничего не делает
	s.Start(context.Background())

	// Первый запуск выполняется сразу после старта
	deadline := time.Now().Add(2 * time.Second)
	for env.files.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	s.Stop()
	s.Stop()

	if env.files.Len() != 0 {
		t.Errorf("записей после фоновой очистки: хотели 0, получили %d", env.files.Len())
	}
}

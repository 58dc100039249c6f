package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
	"github.com/bigkaa/goartstore/fileshare/internal/mailer"
	"github.com/bigkaa/goartstore/fileshare/internal/repository"
	"github.com/bigkaa/goartstore/fileshare/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/fileshare/internal/testutil"
)

// testEnv — Lifecycle поверх хранилищ в памяти и управляемых часов.
type testEnv struct {
	files     *repository.Memory
	blobs     *blobstore.Memory
	clock     *testutil.StubClock
	lifecycle *Lifecycle
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		files: repository.NewMemory(),
		blobs: blobstore.NewMemory(),
		clock: testutil.FixedClock(),
	}
	env.lifecycle = NewLifecycle(env.files, env.blobs, 24*time.Hour, testLogger(),
		WithClock(env.clock),
		WithIDGenerator(testutil.NewStubIDGenerator("file")),
	)
	return env
}

// upload создаёт файл с заданным содержимым и TTL.
func (e *testEnv) upload(t *testing.T, name, content string, ttl time.Duration) *model.FileRecord {
	t.Helper()
	rec, err := e.lifecycle.Create(context.Background(), CreateParams{
		OriginalName: name,
		MimeType:     "text/plain",
		Body:         strings.NewReader(content),
		TTL:          ttl,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec
}

// recordingMailer запоминает отправленные письма.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.LinkMessage
	err  error
}

func (m *recordingMailer) SendLink(_ context.Context, msg mailer.LinkMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func strPtr(s string) *string { return &s }

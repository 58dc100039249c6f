package blobstore

import (
	"context"
	"fmt"
)

// Config — выбор и параметры реализации blob-хранилища.
type Config struct {
	// Backend — filesystem, memory или s3
	Backend string
	// Root — корневая директория для filesystem
	Root string
	S3   S3Options
}

// New создаёт хранилище по типу из конфигурации.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "filesystem", "":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem: не задана корневая директория")
		}
		return NewFileSystem(cfg.Root)
	case "memory":
		return NewMemory(), nil
	case "s3":
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("неизвестный тип blob-хранилища: %q", cfg.Backend)
	}
}

package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// tmpSuffix — суффикс временных файлов незавершённой записи.
const tmpSuffix = ".tmp"

// FileSystem — blob-хранилище в плоской директории на диске.
type FileSystem struct {
	// root — корневая директория хранения (FS_BLOB_ROOT)
	root string
	now  func() time.Time
}

// NewFileSystem создаёт хранилище. Проверяет и создаёт директорию,
// если она не существует.
func NewFileSystem(root string) (*FileSystem, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию хранения %s: %w", root, err)
	}
	return &FileSystem{root: root, now: time.Now}, nil
}

// Root возвращает путь к корневой директории.
func (s *FileSystem) Root() string {
	return s.root
}

// Put записывает данные на диск с подсчётом SHA-256 на лету.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке (в том числе отмене ctx) temp файл удаляется,
// поэтому частично записанный blob никогда не виден под ключом.
func (s *FileSystem) Put(ctx context.Context, r io.Reader, name string) (*PutResult, error) {
	key := generateKey(name, s.now())
	fullPath := filepath.Join(s.root, key)
	tmpPath := fullPath + tmpSuffix

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	tee := io.TeeReader(contextReader(ctx, r), hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &PutResult{
		Key:      key,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает blob на чтение.
func (s *FileSystem) Open(_ context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка открытия blob %s: %w", key, err)
	}
	return f, nil
}

// Delete удаляет blob с диска. Возвращает nil, если файла уже нет.
func (s *FileSystem) Delete(_ context.Context, key string) error {
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}

	err = os.Remove(fullPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления blob %s: %w", key, err)
	}
	return nil
}

// List перечисляет blob в корневой директории.
// Временные файлы незавершённой записи пропускаются.
func (s *FileSystem) List(ctx context.Context) ([]BlobInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", s.root, err)
	}

	result := make([]BlobInfo, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Файл удалён между ReadDir и Info
			continue
		}
		result = append(result, BlobInfo{
			Key:     e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return result, nil
}

// Check проверяет, что корневая директория существует и доступна.
func (s *FileSystem) Check(_ context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("директория хранения недоступна: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s не является директорией", s.root)
	}
	return nil
}

// path строит абсолютный путь по ключу. Ключи плоские:
// разделители пути и ".." не допускаются.
func (s *FileSystem) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return "", fmt.Errorf("недопустимый ключ blob: %q", key)
	}
	return filepath.Join(s.root, key), nil
}

package service

import "errors"

// Ошибки жизненного цикла файла. Оборачиваются через %w,
// HTTP-слой сопоставляет их кодам ответа через errors.Is.
var (
	// ErrNotFound — записи с таким id нет (или она уже удалена).
	ErrNotFound = errors.New("файл не найден")
	// ErrExpired — запись существует, но срок ссылки истёк.
	ErrExpired = errors.New("срок действия ссылки истёк")
	// ErrInvalidRequest — некорректные входные параметры.
	ErrInvalidRequest = errors.New("некорректный запрос")
	// ErrStorageWrite — не удалось записать содержимое в blob-хранилище.
	ErrStorageWrite = errors.New("ошибка записи в хранилище")
	// ErrStorageRead — не удалось открыть содержимое в blob-хранилище.
	ErrStorageRead = errors.New("ошибка чтения из хранилища")
	// ErrPersistence — сбой хранилища записей или удаления blob.
	ErrPersistence = errors.New("ошибка хранилища записей")
	// ErrCorruptRecord — запись есть, а blob отсутствует.
	// Клиенту отдаётся как ErrNotFound.
	ErrCorruptRecord = errors.New("запись без содержимого")
)

// files.go — HTTP handlers публичных файловых операций.
// Загрузка, метаданные, скачивание, отправка ссылки по e-mail.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/fileshare/internal/api/errors"
	"github.com/bigkaa/goartstore/fileshare/internal/api/middleware"
	"github.com/bigkaa/goartstore/fileshare/internal/service"
)

// multipartMemory — сколько данных формы держится в памяти,
// остальное уходит во временные файлы.
const multipartMemory = 32 << 20

// multipartOverhead — запас на заголовки и текстовые поля формы сверх
// лимита размера файла.
const multipartOverhead = 1 << 20

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	lifecycle *service.Lifecycle
	// share — отправка ссылок (nil — отправка отключена)
	share       *service.ShareService
	links       service.LinkBuilder
	maxFileSize int64
	logger      *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(
	lifecycle *service.Lifecycle,
	share *service.ShareService,
	links service.LinkBuilder,
	maxFileSize int64,
	logger *slog.Logger,
) *FilesHandler {
	return &FilesHandler{
		lifecycle:   lifecycle,
		share:       share,
		links:       links,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "files_handler")),
	}
}

// uploadResponse — ответ на загрузку.
type uploadResponse struct {
	ID          string `json:"id"`
	DownloadURL string `json:"downloadUrl"`
	ExpiresAt   string `json:"expiresAt"`
}

// metadataResponse — метаданные файла.
type metadataResponse struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	// ExpiresIn — секунды до истечения срока, отрицательное у истёкших
	ExpiresIn int64  `json:"expiresIn"`
	ExpiresAt string `json:"expiresAt"`
	Downloads int64  `json:"downloads"`
}

// sendRequest — тело POST /files/{id}/send.
type sendRequest struct {
	ReceiverEmail string `json:"receiverEmail"`
	SenderEmail   string `json:"senderEmail,omitempty"`
}

// UploadFile обрабатывает POST /files/upload.
// Multipart form: file (обязательно), sender_email, receiver_email (опционально).
// Если указан receiver_email, ссылка отправляется сразу; ошибка отправки
// не отменяет загрузку.
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if h.maxFileSize > 0 && h.maxFileSize < math.MaxInt64-multipartOverhead {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w, "Размер файла превышает "+strconv.FormatInt(h.maxFileSize, 10)+" байт")
			return
		}
		apierrors.ValidationError(w, "Ошибка разбора multipart: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	if h.maxFileSize > 0 && header.Size > h.maxFileSize {
		apierrors.FileTooLarge(w, "Размер файла превышает "+strconv.FormatInt(h.maxFileSize, 10)+" байт")
		return
	}

	sender := strings.TrimSpace(r.FormValue("sender_email"))
	receiver := strings.TrimSpace(r.FormValue("receiver_email"))
	owner := middleware.SubjectFromContext(r.Context())

	rec, err := h.lifecycle.Create(r.Context(), service.CreateParams{
		OriginalName:  header.Filename,
		MimeType:      header.Header.Get("Content-Type"),
		Body:          file,
		SenderEmail:   &sender,
		ReceiverEmail: &receiver,
		OwnerID:       &owner,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "")
		return
	}

	if receiver != "" && h.share != nil {
		err := h.share.SendLink(r.Context(), service.SendLinkParams{
			ID:            rec.ID,
			ReceiverEmail: receiver,
			SenderEmail:   sender,
		})
		if err != nil {
			h.logger.Warn("Ссылка не отправлена после загрузки",
				slog.String("file_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		ID:          rec.ID,
		DownloadURL: h.links.DownloadURL(rec.ID),
		ExpiresAt:   formatTime(rec.ExpiresAt),
	})
}

// GetFileMetadata обрабатывает GET /files/{id}.
func (h *FilesHandler) GetFileMetadata(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := h.lifecycle.GetMetadata(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, id)
		return
	}

	writeJSON(w, http.StatusOK, metadataResponse{
		Filename:  view.Filename,
		Size:      view.Size,
		MimeType:  view.MimeType,
		ExpiresIn: int64(math.Floor(view.ExpiresIn.Seconds())),
		ExpiresAt: formatTime(view.ExpiresAt),
		Downloads: view.Downloads,
	})
}

// DownloadFile обрабатывает GET /files/{id}/download.
// 404 — неизвестный id, 410 — срок истёк.
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dl, err := h.lifecycle.OpenDownload(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, id)
		return
	}
	defer dl.Body.Close()

	w.Header().Set("Content-Type", dl.Record.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Record.SizeBytes, 10))
	w.Header().Set("Content-Disposition", contentDisposition(dl.Record.OriginalName))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if dl.Record.Checksum != "" {
		w.Header().Set("ETag", `"`+dl.Record.Checksum+`"`)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, dl.Body); err != nil {
		// Заголовки уже отправлены, остаётся только залогировать
		h.logger.Warn("Скачивание прервано",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// SendLink обрабатывает POST /files/{id}/send.
func (h *FilesHandler) SendLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.share == nil {
		apierrors.InternalError(w, "Отправка ссылок не настроена")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	err := h.share.SendLink(r.Context(), service.SendLinkParams{
		ID:            id,
		ReceiverEmail: req.ReceiverEmail,
		SenderEmail:   req.SenderEmail,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, id)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]bool{"sent": true})
}

// contentDisposition формирует заголовок attachment с исходным именем.
// Имена вне ASCII кодируются по RFC 2231.
func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

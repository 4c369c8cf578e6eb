package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/trunov/captionhub/internal/config"
	"github.com/trunov/captionhub/internal/entities"
)

type UseCase interface {
	Submit(ctx context.Context, sub entities.Submission) (entities.Record, error)
	ListRecords(ctx context.Context) ([]entities.Record, error)
	GetRecord(ctx context.Context, id int64) (entities.Record, error)
	ToggleDone(ctx context.Context, id int64) (entities.Record, error)
	DeleteRecord(ctx context.Context, id int64) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	useCase   UseCase
	cfg       config.UploadConfig
	db        Pinger
	validator *validator.Validate
}

func New(useCase UseCase, cfg config.UploadConfig, db Pinger) *Handler {
	return &Handler{
		useCase:   useCase,
		cfg:       cfg,
		db:        db,
		validator: validator.New(),
	}
}

// errNoFile is returned by readImage when the form has no file part.
var errNoFile = errors.New("no file")

func (h *Handler) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodyMB<<20)

	if err := r.ParseMultipartForm(h.cfg.MaxMultipartMemoryMB << 20); err != nil {
		writeMultipartError(w, err)
		return false
	}
	return true
}

// readImage reads the "file" form part and checks its sniffed type. The
// returned name is the client-side file name.
func (h *Handler) readImage(r *http.Request) (data []byte, contentType, name string, err error) {
	file, fh, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", "", errNoFile
		}
		return nil, "", "", fmt.Errorf("an error occurred while uploading the file: %w", err)
	}
	defer file.Close()

	data, err = io.ReadAll(file)
	if err != nil {
		return nil, "", "", err
	}
	// Browsers send an empty part when no file was picked.
	if len(data) == 0 {
		return nil, "", "", errNoFile
	}

	fileType := mimetype.Detect(data).String()
	if err := validateMimeType(fileType); err != nil {
		return nil, "", "", fmt.Errorf("unsupported file type: %s", fileType)
	}
	return data, fileType, fh.Filename, nil
}

// CreateRecord handles POST /create: a caption with an optional photo.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r) {
		return
	}

	params := CreateRecordParams{Title: strings.TrimSpace(r.FormValue("title"))}
	if err := h.validator.Struct(params); err != nil {
		writeJSON(w, http.StatusBadRequest, validationErrorsToMap(err))
		return
	}
	if !utf8.ValidString(params.Title) {
		writeJSONError(w, "title must be valid UTF-8", http.StatusBadRequest)
		return
	}

	sub := entities.Submission{Caption: params.Title}
	data, contentType, _, err := h.readImage(r)
	switch {
	case errors.Is(err, errNoFile):
	case err != nil:
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	default:
		sub.Image = data
		sub.ContentType = contentType
	}

	rec, err := h.useCase.Submit(r.Context(), sub)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// LoadTestUpload handles POST /api/upload: a photo with a generated caption,
// stored without encryption.
func (h *Handler) LoadTestUpload(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r) {
		return
	}

	data, contentType, name, err := h.readImage(r)
	if err != nil {
		if errors.Is(err, errNoFile) {
			writeJSONError(w, `missing image file: form field key should be "file"`, http.StatusBadRequest)
			return
		}
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.useCase.Submit(r.Context(), entities.Submission{
		Caption:        "LoadTest: " + name,
		Image:          data,
		ContentType:    contentType,
		SkipEncryption: true,
	})
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Status: "queued", ID: rec.ID})
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.useCase.ListRecords(r.Context())
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	if recs == nil {
		recs = []entities.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, err := h.useCase.GetRecord(r.Context(), id)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ToggleDone(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, err := h.useCase.ToggleDone(r.Context(), id)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.useCase.DeleteRecord(r.Context(), id); err != nil {
		writeUseCaseError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			writeJSONError(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/audiosplit-api/internal/task"
)

// maxMemory is how much of a multipart body is buffered in memory before
// spilling to temporary files.
const maxMemory = 32 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        *task.Service
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
	defaultMinutes int
	defaultOverlap int
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes limits the size of a submission body.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithDefaults sets the window parameters used when a request omits them.
func WithDefaults(maxDurationMinutes, overlapSeconds int) HandlerOption {
	return func(h *Handlers) {
		h.defaultMinutes = maxDurationMinutes
		h.defaultOverlap = overlapSeconds
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *task.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()
	v.RegisterStructValidation(validateSubmitForm, SubmitTaskForm{})

	h := &Handlers{
		service:        service,
		validator:      v,
		logger:         logger,
		maxUploadBytes: 512 << 20,
		defaultMinutes: 10,
		defaultOverlap: 60,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// validateSubmitForm rejects an overlap that is not shorter than the chunk.
func validateSubmitForm(sl validator.StructLevel) {
	form := sl.Current().Interface().(SubmitTaskForm)
	if form.OverlapSeconds >= form.MaxDurationMinutes*60 {
		sl.ReportError(form.OverlapSeconds, "OverlapSeconds", "OverlapSeconds", "ltchunk", "")
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// SubmitTask handles POST /tasks requests.
func (h *Handlers) SubmitTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), "PAYLOAD_TOO_LARGE")
			return
		}
		h.logger.Warn("failed to parse multipart form",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	form, err := h.parseForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	if err := h.validator.Struct(form); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded", "MISSING_FILE")
		return
	}
	defer func() { _ = file.Close() }()

	created, err := h.service.Submit(r.Context(), task.SubmitInput{
		Filename:           header.Filename,
		Body:               file,
		MaxDurationMinutes: form.MaxDurationMinutes,
		OverlapSeconds:     form.OverlapSeconds,
	})
	if err != nil {
		if errors.Is(err, task.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to submit task",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to submit task", "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitTaskResponse{
		TaskID: created.ID,
		Status: string(created.Status),
	})
}

// parseForm reads the window parameters, falling back to snake_case field
// names and then to the configured defaults.
func (h *Handlers) parseForm(r *http.Request) (SubmitTaskForm, error) {
	form := SubmitTaskForm{
		MaxDurationMinutes: h.defaultMinutes,
		OverlapSeconds:     h.defaultOverlap,
	}

	var err error
	if form.MaxDurationMinutes, err = intField(r, form.MaxDurationMinutes, "maxDurationMinutes", "max_duration_minutes"); err != nil {
		return form, err
	}
	if form.OverlapSeconds, err = intField(r, form.OverlapSeconds, "overlapSeconds", "overlap_seconds"); err != nil {
		return form, err
	}
	return form, nil
}

func intField(r *http.Request, fallback int, names ...string) (int, error) {
	for _, name := range names {
		raw := r.FormValue(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", name)
		}
		return v, nil
	}
	return fallback, nil
}

// GetTask handles GET /tasks/{taskId} requests.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.Get(r.Context(), r.PathValue("taskId"))
	if err != nil {
		h.writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(found))
}

// DownloadArtifact handles GET /downloads/{taskId}/{filename} requests.
func (h *Handlers) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	name := r.PathValue("filename")

	f, err := h.service.OpenArtifact(r.Context(), taskID, name)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		h.logger.Error("failed to stat artifact",
			slog.String("task_id", taskID),
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read artifact", "INTERNAL_ERROR")
		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// DownloadBundle handles GET /tasks/{taskId}/download requests.
func (h *Handlers) DownloadBundle(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")

	snapshot, name, err := h.service.Bundle(r.Context(), taskID)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)

	if err := h.service.WriteBundle(r.Context(), snapshot, w); err != nil {
		// Headers are already sent; the client sees a truncated archive.
		h.logger.Error("failed to stream bundle",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

// DeleteTask handles DELETE /tasks/{taskId} requests. It always answers 204.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	h.service.Delete(r.Context(), r.PathValue("taskId"))
	w.WriteHeader(http.StatusNoContent)
}

// writeTaskError maps task errors to HTTP responses.
func (h *Handlers) writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found", "TASK_NOT_FOUND")
	case errors.Is(err, task.ErrTaskNotCompleted):
		writeError(w, http.StatusBadRequest, "task is not yet completed", "TASK_NOT_COMPLETED")
	case errors.Is(err, task.ErrArtifactNotFound):
		writeError(w, http.StatusNotFound, "file not found", "ARTIFACT_NOT_FOUND")
	default:
		h.logger.Error("task request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

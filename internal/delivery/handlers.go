package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/dustin/go-humanize"

	"github.com/Vovarama1992/voxa/internal/pipeline"
)

const (
	audioField     = "audio"
	outputFilename = "improved_audio.wav"

	// multipartMemory is how much of a form is kept in memory before
	// spilling to disk.
	multipartMemory = 32 << 20
)

// Processor runs one upload through the pipeline.
type Processor interface {
	Process(ctx context.Context, upload io.Reader, filename string) (*pipeline.Result, error)
}

// ReadinessChecker reports whether speech synthesis can run.
type ReadinessChecker interface {
	Ready() error
}

// Handler serves the HTTP surface of the pipeline.
type Handler struct {
	pipeline  Processor
	synthesis ReadinessChecker
	maxUpload int64
	log       *logger.ZapLogger
}

// NewHandler builds a Handler. maxUpload <= 0 disables the upload size limit.
func NewHandler(p Processor, synthesis ReadinessChecker, maxUpload int64, log *logger.ZapLogger) *Handler {
	return &Handler{
		pipeline:  p,
		synthesis: synthesis,
		maxUpload: maxUpload,
		log:       log,
	}
}

// Process accepts a multipart upload in the "audio" field and answers with
// the improved speech as WAV.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			h.log.Log(logger.LogEntry{Level: "warn", Message: "upload too large", Error: err})
			writeError(w, http.StatusBadRequest, "Audio file exceeds "+humanize.Bytes(uint64(h.maxUpload)))
		case errors.Is(err, http.ErrNotMultipart):
			writeError(w, http.StatusBadRequest, "No audio file provided")
		default:
			h.log.Log(logger.LogEntry{Level: "warn", Message: "invalid multipart", Error: err})
			writeError(w, http.StatusBadRequest, "Invalid multipart form")
		}
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(audioField)
	if err != nil {
		h.log.Log(logger.LogEntry{Level: "warn", Message: "missing file", Error: err})
		writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	res, err := h.pipeline.Process(r.Context(), file, header.Filename)
	if res != nil {
		defer res.Close()
	}
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyUpload) {
			writeError(w, http.StatusBadRequest, "No audio file provided")
			return
		}
		h.log.Log(logger.LogEntry{Level: "error", Message: "processing failed", Error: err})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out, err := res.Open()
	if err != nil {
		h.log.Log(logger.LogEntry{Level: "error", Message: "cannot open output audio", Error: err})
		writeError(w, http.StatusInternalServerError, "Output audio is missing")
		return
	}
	defer out.Close()

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="`+outputFilename+`"`)
	w.Header().Set("X-Job-ID", res.JobID())
	w.Header().Set("X-Passthrough", strconv.FormatBool(res.Passthrough()))
	if info, err := out.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, out); err != nil {
		h.log.Log(logger.LogEntry{Level: "warn", Message: "response write failed", Error: err})
	}
}

// Health is a liveness check.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports synthesis availability. It always answers 200: the service
// can still serve requests in passthrough mode.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]string{"synthesis": "ready"}
	if h.synthesis == nil {
		resp["synthesis"] = "unavailable"
		resp["reason"] = "synthesis is not configured"
	} else if err := h.synthesis.Ready(); err != nil {
		resp["synthesis"] = "unavailable"
		resp["reason"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

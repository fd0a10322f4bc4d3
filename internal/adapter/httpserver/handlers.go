package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/ai-table-enricher/internal/config"
	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
	"github.com/fairyhunter13/ai-table-enricher/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Submit     *usecase.SubmitService
	Control    *usecase.ControlService
	Status     *usecase.StatusService
	Download   *usecase.DownloadService
	Options    *usecase.OptionsService
	Keys       *usecase.KeysService
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs a Server with all handlers wired.
func NewServer(cfg config.Config, submit *usecase.SubmitService, control *usecase.ControlService, status *usecase.StatusService, download *usecase.DownloadService, options *usecase.OptionsService, keys *usecase.KeysService, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Submit: submit, Control: control, Status: status, Download: download, Options: options, Keys: keys, DBCheck: dbCheck, RedisCheck: redisCheck}
}

// userID extracts the tenant from the X-User-Id header. Authentication proper
// sits in front of this service; the header is its contract.
func userID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if id == "" {
		return "", fmt.Errorf("%w: missing X-User-Id header", domain.ErrInvalidArgument)
	}
	return id, nil
}

type jobResponse struct {
	ID               string               `json:"id"`
	Status           string               `json:"status"`
	TotalRows        int                  `json:"totalRows"`
	RowsProcessed    int                  `json:"rowsProcessed"`
	CurrentRow       *int                 `json:"currentRow,omitempty"`
	EnrichedFilePath string               `json:"enrichedFilePath,omitempty"`
	ErrorMessage     string               `json:"errorMessage,omitempty"`
	ErrorDetails     *domain.ErrorDetails `json:"errorDetails,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	FinishedAt       *time.Time           `json:"finishedAt,omitempty"`
}

func toJobResponse(j domain.Job) jobResponse {
	return jobResponse{
		ID:               j.ID,
		Status:           string(j.Status),
		TotalRows:        j.TotalRows,
		RowsProcessed:    j.RowsProcessed,
		CurrentRow:       j.CurrentRow,
		EnrichedFilePath: j.EnrichedFilePath,
		ErrorMessage:     j.ErrorMessage,
		ErrorDetails:     j.ErrorDetails,
		CreatedAt:        j.CreatedAt,
		FinishedAt:       j.FinishedAt,
	}
}

// SubmitHandler accepts a multipart job submission: a CSV under "file", a
// JSON prompt list under "prompts", and an optional JSON controls object
// under "options".
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := userID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
					Code: "PAYLOAD_TOO_LARGE", Message: fmt.Sprintf("upload exceeds %d MB", s.Cfg.MaxUploadMB)}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: missing file field", domain.ErrInvalidArgument), nil)
			return
		}
		defer func() { _ = file.Close() }()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		var prompts []domain.PromptSpec
		if raw := r.FormValue("prompts"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &prompts); err != nil {
				writeError(w, r, fmt.Errorf("%w: prompts: %v", domain.ErrInvalidArgument, err), nil)
				return
			}
		}
		var opts *domain.JobOptions
		if raw := r.FormValue("options"); raw != "" {
			var o domain.JobOptions
			if err := json.Unmarshal([]byte(raw), &o); err != nil {
				writeError(w, r, fmt.Errorf("%w: options: %v", domain.ErrInvalidArgument, err), nil)
				return
			}
			opts = &o
		}

		jobID, err := s.Submit.Submit(r.Context(), usecase.SubmitInput{
			UserID:   uid,
			Filename: header.Filename,
			Data:     data,
			Prompts:  prompts,
			Options:  opts,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": jobID, "status": string(domain.JobQueued)})
	}
}

func (s *Server) controlHandler(do func(ctx domain.Context, userID, jobID string) error, resulting domain.JobStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := userID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		jobID := chi.URLParam(r, "id")
		if err := do(r.Context(), uid, jobID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": jobID, "status": string(resulting)})
	}
}

// PauseHandler requests a pause.
func (s *Server) PauseHandler() http.HandlerFunc {
	return s.controlHandler(s.Control.Pause, domain.JobPaused)
}

// ResumeHandler moves a paused job back to processing.
func (s *Server) ResumeHandler() http.HandlerFunc {
	return s.controlHandler(s.Control.Resume, domain.JobProcessing)
}

// StopHandler terminates a job.
func (s *Server) StopHandler() http.HandlerFunc {
	return s.controlHandler(s.Control.Stop, domain.JobStopped)
}

// GetJobHandler returns status, progress and error details for one job.
func (s *Server) GetJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := userID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		j, err := s.Status.Get(r.Context(), uid, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(j))
	}
}

type logEntryResponse struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// LogsHandler returns the job's log entries in order.
func (s *Server) LogsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := userID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		logs, err := s.Status.Logs(r.Context(), uid, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]logEntryResponse, 0, len(logs))
		for _, l := range logs {
			out = append(out, logEntryResponse{Level: string(l.Level), Message: l.Message, Timestamp: l.Timestamp})
		}
		writeJSON(w, http.StatusOK, map[string]any{"logs": out})
	}
}

// DownloadHandler streams one job artifact; kind defaults to final.
func (s *Server) DownloadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := userID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		kind := r.URL.Query().Get("kind")
		if kind == "" {
			kind = usecase.ArtifactFinal
		}
		art, err := s.Download.Download(r.Context(), uid, chi.URLParam(r, "id"), kind)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Content-Type", art.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(art.Data)
	}
}

// PutOptionsHandler writes the per-job controls blob.
func (s *Server) PutOptionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := userID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		var opts domain.JobOptions
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		if err := s.Options.Set(r.Context(), uid, chi.URLParam(r, "id"), opts); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"skipIfExistingValue": opts.SkipIfExistingValue})
	}
}

// PutKeyHandler stores one provider API key for the tenant.
func (s *Server) PutKeyHandler() http.HandlerFunc {
	type body struct {
		APIKey string `json:"apiKey"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := userID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		var b body
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		provider := chi.URLParam(r, "provider")
		if err := s.Keys.Set(r.Context(), uid, provider, b.APIKey); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"provider": provider})
	}
}

// HealthzHandler is the liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler reports readiness of the backing stores.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := map[string]string{}
		healthy := true
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks["db"] = err.Error()
				healthy = false
			} else {
				checks["db"] = "ok"
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			} else {
				checks["redis"] = "ok"
			}
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"checks": checks})
	}
}

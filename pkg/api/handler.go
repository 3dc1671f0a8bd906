package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"parkinson-voice/pkg/models"
	"parkinson-voice/pkg/sanitize"
	"parkinson-voice/pkg/storage"
)

// Predictor runs requests. *pipeline.Manager satisfies it.
type Predictor interface {
	Predict(ctx context.Context, req *models.Request) (*models.FusionResult, error)
	Submit(req *models.Request) (string, error)
}

type Options struct {
	Pipeline Predictor
	Statuses storage.StatusStore
	// Results may be nil; history endpoints then report nothing.
	Results   storage.ResultStore
	UploadDir string
	// Uploads smaller than MinUploadBytes are rejected before inference.
	MinUploadBytes int64
	MaxUploadBytes int64
	// PollInterval is how often websocket clients get status updates.
	PollInterval time.Duration
	Logger       *slog.Logger
}

type Handlers struct {
	pipeline  Predictor
	statuses  storage.StatusStore
	results   storage.ResultStore
	uploadDir string
	minUpload int64
	maxUpload int64
	poll      time.Duration
	log       *slog.Logger
}

func NewHandlers(opts Options) *Handlers {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handlers{
		pipeline:  opts.Pipeline,
		statuses:  opts.Statuses,
		results:   opts.Results,
		uploadDir: opts.UploadDir,
		minUpload: opts.MinUploadBytes,
		maxUpload: opts.MaxUploadBytes,
		poll:      opts.PollInterval,
		log:       opts.Logger.With("component", "api"),
	}
}

// Router registers every route.
func (h *Handlers) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", h.RootHandler).Methods("GET")
	router.HandleFunc("/upload", h.UploadHandler).Methods("POST")
	router.HandleFunc("/requests/{id}", h.GetRequestHandler).Methods("GET")
	router.HandleFunc("/users/{user_id}/results", h.GetUserResultsHandler).Methods("GET")
	router.HandleFunc("/chat", h.ChatHandler).Methods("POST")
	router.HandleFunc("/ws", h.WebSocketHandler)
	return router
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *Handlers) RootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Parkinson voice inference service is running"})
}

// predictResponse is a FusionResult with the id it was stored under.
type predictResponse struct {
	RequestID string `json:"request_id"`
	models.FusionResult
}

func (h *Handlers) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	userID := r.FormValue("user_id")
	sessionID := r.FormValue("session_id")
	if userID == "" || sessionID == "" {
		writeError(w, http.StatusBadRequest, "user_id and session_id are required")
		return
	}
	cov, err := parseCovariates(r.FormValue("age"), r.FormValue("sex"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	req := models.NewRequest(userID, sessionID, "", cov)
	size, err := h.saveUpload(req, file, filepath.Ext(header.Filename))
	if err != nil {
		h.log.Error("failed to save upload", "request_id", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save audio file")
		return
	}
	if size < h.minUpload {
		os.Remove(req.Path)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("audio file too small (%d bytes)", size))
		return
	}

	h.log.Info("processing started", "request_id", req.ID, "user_id", userID, "bytes", size)

	res, err := h.pipeline.Predict(r.Context(), req)
	if err != nil {
		// A request that was never queued leaves its upload behind.
		os.Remove(req.Path)
		writeInferenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, predictResponse{RequestID: req.ID, FusionResult: sanitize.Result(*res)})
}

// saveUpload writes the upload under uploadDir and sets req.Path.
func (h *Handlers) saveUpload(req *models.Request, src io.Reader, ext string) (int64, error) {
	if ext == "" {
		ext = ".wav"
	}
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return 0, err
	}
	req.Path = filepath.Join(h.uploadDir, req.ID+strings.ToLower(ext))
	f, err := os.Create(req.Path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(req.Path)
		return 0, err
	}
	return n, nil
}

func parseCovariates(age, sex string) (*models.Covariates, error) {
	if age == "" && sex == "" {
		return nil, nil
	}
	cov := &models.Covariates{Sex: strings.TrimSpace(sex)}
	if age != "" {
		v, err := strconv.ParseFloat(age, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid age %q", age)
		}
		cov.Age = &v
	}
	return cov, nil
}

func (h *Handlers) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	status, err := h.statuses.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrRequestNotFound) {
			if h.results == nil {
				writeError(w, http.StatusNotFound, "request not found")
				return
			}
			if rec, rerr := h.results.Get(id); rerr == nil {
				writeJSON(w, http.StatusOK, &models.RequestStatus{
					ID:        rec.ID,
					UserID:    rec.UserID,
					SessionID: rec.SessionID,
					Status:    models.StatusReturned,
					Result:    &rec.Result,
					UpdatedAt: rec.CreatedAt,
				})
				return
			}
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if status.Result != nil {
		res := sanitize.Result(*status.Result)
		status.Result = &res
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) GetUserResultsHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	var records []*models.Record
	var err error
	if h.results != nil {
		records, err = h.results.ListByUser(userID, limit)
	}
	if err != nil {
		h.log.Error("failed to list results", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	for _, rec := range records {
		rec.Result = sanitize.Result(rec.Result)
	}
	if records == nil {
		records = []*models.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"results": records,
		"count":   len(records),
	})
}

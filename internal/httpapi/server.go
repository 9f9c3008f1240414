// Package httpapi serves the test-matrix operations over JSON.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"regrun/internal/matrix"
	"regrun/internal/provision"
	"regrun/internal/records"
	"regrun/internal/scheduler"
	"regrun/internal/suite"
	"regrun/pkg/model"
)

const uploadField = "csv_file"

type Server struct {
	manager        *suite.Manager
	logger         *zap.Logger
	maxUploadBytes int64
}

func NewServer(manager *suite.Manager, maxUploadBytes int64, logger *zap.Logger) *Server {
	return &Server{
		manager:        manager,
		logger:         logger.Named("http"),
		maxUploadBytes: maxUploadBytes,
	}
}

type indexRequest struct {
	Index flexInt `json:"index"`
}

type selectedRequest struct {
	Selected []flexInt `json:"selected"`
}

type statusResponse struct {
	model.Report
	ListingError string `json:"listingError,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/healthz":
		s.writeSuccess(w, http.StatusOK, requestID, map[string]string{"status": "ok"})
	case r.Method == http.MethodGet && r.URL.Path == "/api/status":
		s.handleStatus(w, r, requestID)
	case r.Method == http.MethodGet && r.URL.Path == "/api/testcases":
		s.writeSuccess(w, http.StatusOK, requestID, map[string]any{"testcases": s.manager.Cases()})
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/testcases/"):
		s.handleTestcaseRoutes(w, r, requestID)
	default:
		s.writeError(w, http.StatusNotFound, requestID, "NOT_FOUND", "route not found", nil)
	}
}

func (s *Server) handleTestcaseRoutes(w http.ResponseWriter, r *http.Request, requestID string) {
	switch strings.TrimPrefix(r.URL.Path, "/api/testcases/") {
	case "load":
		s.handleLoad(w, r, requestID)
	case "create":
		s.handleSingle(w, r, requestID, func(index int) (any, error) {
			dir, err := s.manager.Create(r.Context(), index)
			return map[string]string{"status": "created", "dir": dir}, err
		})
	case "run":
		s.handleSingle(w, r, requestID, func(index int) (any, error) {
			jobID, err := s.manager.Run(r.Context(), index)
			return map[string]string{"status": "started", "pid": jobID}, err
		})
	case "delete":
		s.handleSingle(w, r, requestID, func(index int) (any, error) {
			return map[string]string{"status": "deleted"}, s.manager.Delete(r.Context(), index)
		})
	case "create-selected":
		s.handleSelected(w, r, requestID, "created", func(indices []int) suite.BatchResult {
			return s.manager.CreateSelected(r.Context(), indices)
		})
	case "run-selected":
		s.handleSelected(w, r, requestID, "started", func(indices []int) suite.BatchResult {
			return s.manager.RunSelected(r.Context(), indices)
		})
	case "delete-selected":
		s.handleSelected(w, r, requestID, "deleted", func(indices []int) suite.BatchResult {
			return s.manager.DeleteSelected(r.Context(), indices)
		})
	default:
		s.writeError(w, http.StatusNotFound, requestID, "NOT_FOUND", "route not found", nil)
	}
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request, requestID string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, requestID, "NO_FILE", "no CSV file provided", nil)
		return
	}
	defer file.Close()
	if header.Filename == "" {
		s.writeError(w, http.StatusBadRequest, requestID, "NO_FILE", "no selected file", nil)
		return
	}

	views, err := s.manager.Load(r.Context(), file)
	if err != nil {
		s.writeManagerError(w, requestID, err)
		return
	}
	s.logger.Info("matrix uploaded", zap.String("file", header.Filename), zap.Int("cases", len(views)))
	s.writeSuccess(w, http.StatusOK, requestID, map[string]any{"testcases": views})
}

func (s *Server) handleSingle(w http.ResponseWriter, r *http.Request, requestID string, op func(int) (any, error)) {
	var req indexRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, requestID, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	payload, err := op(int(req.Index))
	if err != nil {
		s.writeManagerError(w, requestID, err)
		return
	}
	s.writeSuccess(w, http.StatusOK, requestID, payload)
}

func (s *Server) handleSelected(w http.ResponseWriter, r *http.Request, requestID string, status string, op func([]int) suite.BatchResult) {
	var req selectedRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, requestID, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	indices := make([]int, len(req.Selected))
	for i, v := range req.Selected {
		indices[i] = int(v)
	}
	result := op(indices)
	s.writeSuccess(w, http.StatusOK, requestID, map[string]any{
		"status": status,
		"done":   result.Done,
		"failed": result.Failed,
	})
}

// handleStatus never fails the request: a listing error is reported next to
// the unchanged snapshot and the next poll retries.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, requestID string) {
	report, err := s.manager.Status(r.Context())
	resp := statusResponse{Report: report}
	if err != nil {
		s.logger.Warn("status pass skipped", zap.String("request_id", requestID), zap.Error(err))
		resp.ListingError = err.Error()
	}
	s.writeSuccess(w, http.StatusOK, requestID, resp)
}

func (s *Server) writeManagerError(w http.ResponseWriter, requestID string, err error) {
	var (
		parseErr *matrix.ParseError
		provErr  *provision.ProvisionError
		subErr   *scheduler.SubmissionError
	)
	switch {
	case errors.Is(err, records.ErrIndexOutOfRange):
		s.writeError(w, http.StatusNotFound, requestID, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, suite.ErrAlreadyProvisioned),
		errors.Is(err, suite.ErrAlreadySubmitted),
		errors.Is(err, suite.ErrNotProvisioned):
		s.writeError(w, http.StatusConflict, requestID, "INVALID_STATE", err.Error(), nil)
	case errors.As(err, &parseErr):
		s.writeError(w, http.StatusBadRequest, requestID, "PARSE_ERROR", err.Error(), nil)
	case errors.Is(err, scheduler.ErrBuildFileMissing):
		s.writeError(w, http.StatusBadRequest, requestID, "BUILD_FILE_MISSING", err.Error(), nil)
	case errors.As(err, &subErr):
		s.writeError(w, http.StatusInternalServerError, requestID, "SUBMISSION_FAILED", err.Error(),
			map[string]string{"output": subErr.Output})
	case errors.As(err, &provErr):
		s.writeError(w, http.StatusInternalServerError, requestID, "PROVISION_FAILED", err.Error(),
			map[string]string{"step": provErr.Step})
	default:
		s.writeError(w, http.StatusInternalServerError, requestID, "INTERNAL", err.Error(), nil)
	}
}

func (s *Server) writeSuccess(w http.ResponseWriter, status int, requestID string, data any) {
	envelope := map[string]any{
		"data": data,
		"meta": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"requestId": requestID,
		},
	}
	s.writeJSON(w, status, envelope)
}

func (s *Server) writeError(w http.ResponseWriter, status int, requestID string, code string, message string, details any) {
	envelope := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
		"meta": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"requestId": requestID,
		},
	}
	s.writeJSON(w, status, envelope)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}

func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// flexInt accepts 3 and "3"; table rows post their index either way.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("index %s is not an integer", string(data))
	}
	*f = flexInt(value)
	return nil
}

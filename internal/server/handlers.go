package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	svcerrors "github.com/adverant/nexus/ocr-service/internal/errors"
	"github.com/adverant/nexus/ocr-service/internal/processor"
	"github.com/adverant/nexus/ocr-service/internal/queue"
	"github.com/adverant/nexus/ocr-service/internal/storage"
)

const (
	uploadField           = "image"
	internalErrorDetail   = "Internal server error"
	jobsUnavailableDetail = "Asynchronous jobs are not enabled"
)

type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

type healthResponse struct {
	Status     string `json:"status"`
	EngineName string `json:"engine_name"`
	Version    string `json:"version"`
}

type systemInfo struct {
	GoVersion      string  `json:"go_version"`
	Goroutines     int     `json:"goroutines"`
	CPUCount       int     `json:"cpu_count,omitempty"`
	MemoryTotal    uint64  `json:"memory_total,omitempty"`
	MemoryUsedPct  float64 `json:"memory_used_percent,omitempty"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
	AsyncJobs      bool    `json:"async_jobs"`
	EngineVersion  string  `json:"engine_version,omitempty"`
	MaxUploadBytes int64   `json:"max_upload_bytes"`
}

type rootResponse struct {
	Message    string     `json:"message"`
	Status     string     `json:"status"`
	Version    string     `json:"version"`
	EngineName string     `json:"engine_name"`
	Docs       string     `json:"docs"`
	System     systemInfo `json:"system"`
}

type jobAccepted struct {
	JobID  string            `json:"job_id"`
	Status storage.JobStatus `json:"status"`
}

type routeDoc struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
}

type jobStats struct {
	Jobs map[string]int64 `json:"jobs"`
}

// statsSource is implemented by stores that count jobs per status.
type statsSource interface {
	GetStats(ctx context.Context) (map[string]int64, error)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     s.backend.Health().Status(),
		EngineName: s.backend.EngineName(),
		Version:    s.cfg.AppVersion,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	sys := systemInfo{
		GoVersion:      runtime.Version(),
		Goroutines:     runtime.NumGoroutine(),
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		AsyncJobs:      s.jobsEnabled(),
		EngineVersion:  s.backend.EngineVersion(),
		MaxUploadBytes: s.backend.Validator().MaxSize(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		sys.CPUCount = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sys.MemoryTotal = vm.Total
		sys.MemoryUsedPct = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, rootResponse{
		Message:    fmt.Sprintf("%s is running", s.cfg.AppName),
		Status:     s.backend.Health().Status(),
		Version:    s.cfg.AppVersion,
		EngineName: s.backend.EngineName(),
		Docs:       s.cfg.APIPrefix + "/docs",
		System:     sys,
	})
}

// handleDocs lists every routed path with its methods.
func (s *Server) handleDocs(w http.ResponseWriter, _ *http.Request) {
	var routes []routeDoc
	err := s.router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		tpl, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			return nil
		}
		routes = append(routes, routeDoc{Path: tpl, Methods: methods})
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"routes": routes})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFrom(r.Context())

	// An unavailable engine answers 503 before the upload is even read.
	if !s.backend.IsReady() {
		writeError(w, svcerrors.NewServiceUnavailableError(s.backend.EngineName()))
		return
	}

	req, err := s.readUpload(w, r, requestID)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout())
	defer cancel()

	result, err := s.backend.Extract(ctx, req)
	if err != nil {
		if se, ok := svcerrors.AsServiceError(err); !ok || !se.IsValidation() {
			s.logger.Error("Extraction failed", "request_id", requestID, "error", err)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) jobsEnabled() bool {
	return s.jobs != nil && s.queue != nil
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFrom(r.Context())

	if !s.jobsEnabled() {
		writeDetail(w, http.StatusServiceUnavailable, jobsUnavailableDetail, string(svcerrors.ErrorServiceUnavailable))
		return
	}
	if !s.backend.IsReady() {
		writeError(w, svcerrors.NewServiceUnavailableError(s.backend.EngineName()))
		return
	}

	req, err := s.readUpload(w, r, requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	// Reject bad uploads now rather than after a queue round trip.
	if err := s.backend.Validator().Check(req.Data, req.ContentType); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	job := &storage.JobRecord{
		ID:          uuid.NewString(),
		Status:      storage.JobQueued,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		FileSize:    int64(len(req.Data)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	log := s.logger.With("request_id", requestID, "job_id", job.ID)

	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		log.Error("Failed to create job", "error", err)
		writeError(w, svcerrors.NewStorageFailedError(requestID, err))
		return
	}

	_, err = s.queue.Enqueue(r.Context(), &queue.JobPayload{
		JobID:       job.ID,
		RequestID:   requestID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		FileSize:    job.FileSize,
		FileBuffer:  req.Data,
	})
	if err != nil {
		log.Error("Failed to enqueue job", "error", err)
		if uerr := s.jobs.UpdateJobStatus(r.Context(), &storage.JobUpdate{
			JobID:        job.ID,
			Status:       storage.JobFailed,
			ErrorCode:    string(svcerrors.ErrorStorageFailed),
			ErrorMessage: "failed to enqueue job",
		}); uerr != nil {
			log.Warn("Failed to mark job failed", "error", uerr)
		}
		writeError(w, svcerrors.NewStorageFailedError(requestID, err))
		return
	}

	log.Info("Job queued", "filename", req.Filename, "size", job.FileSize)
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID, Status: job.Status})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeDetail(w, http.StatusServiceUnavailable, jobsUnavailableDetail, string(svcerrors.ErrorServiceUnavailable))
		return
	}

	id := mux.Vars(r)["id"]
	// Job ids are minted as UUIDs; anything else cannot exist.
	if _, err := uuid.Parse(id); err != nil {
		writeDetail(w, http.StatusNotFound, "Job not found", "")
		return
	}

	job, err := s.jobs.GetJob(r.Context(), id)
	if errors.Is(err, storage.ErrJobNotFound) {
		writeDetail(w, http.StatusNotFound, "Job not found", "")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load job", "job_id", id, "error", err)
		writeError(w, svcerrors.NewStorageFailedError(RequestIDFrom(r.Context()), err))
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	src, ok := s.jobs.(statsSource)
	if s.jobs == nil || !ok {
		writeDetail(w, http.StatusServiceUnavailable, jobsUnavailableDetail, string(svcerrors.ErrorServiceUnavailable))
		return
	}

	counts, err := src.GetStats(r.Context())
	if err != nil {
		s.logger.Error("Failed to count jobs", "error", err)
		writeError(w, svcerrors.NewStorageFailedError(RequestIDFrom(r.Context()), err))
		return
	}
	writeJSON(w, http.StatusOK, jobStats{Jobs: counts})
}

// readUpload pulls the "image" part out of a multipart body. The declared
// type and size are checked here so oversized uploads are never buffered.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, requestID string) (*processor.ExtractRequest, error) {
	validator := s.backend.Validator()
	limit := validator.MaxSize()

	r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)
	file, header, err := r.FormFile(uploadField)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, svcerrors.NewPayloadTooLargeError(r.ContentLength, limit)
		}
		return nil, svcerrors.NewValidationError(fmt.Sprintf("Multipart form field %q with an image file is required", uploadField))
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if err := validator.CheckContentType(contentType); err != nil {
		return nil, err
	}
	if err := validator.CheckSize(header.Size); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, svcerrors.NewInvalidImageError(err)
	}

	return &processor.ExtractRequest{
		RequestID:   requestID,
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail, code string) {
	writeJSON(w, status, errorResponse{Detail: detail, ErrorCode: code})
}

// writeError maps err onto its status. 5xx faults other than unavailability
// and timeouts are reported generically so internals never leak.
func writeError(w http.ResponseWriter, err error) {
	se, ok := svcerrors.AsServiceError(err)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, internalErrorDetail, string(svcerrors.ErrorInternal))
		return
	}

	status := se.HTTPStatus()
	detail := se.Message
	if status == http.StatusInternalServerError {
		detail = internalErrorDetail
	}
	writeDetail(w, status, detail, string(se.Code))
}

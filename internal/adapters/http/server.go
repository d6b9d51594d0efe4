// Package httpadapter exposes the scan service over a JSON REST API.
package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"legalscan/internal/domain"
	"legalscan/internal/export"
	"legalscan/internal/ports"
	scansvc "legalscan/internal/services/scans"
	"legalscan/internal/workers/scanrunner"
	"legalscan/internal/workspace"
)

type Server struct {
	scans *scansvc.Service
	log   *slog.Logger
}

func New(scans *scansvc.Service, log *slog.Logger) *Server {
	return &Server{scans: scans, log: log}
}

// Routes mounts the API. All scan operations live under /api/v1.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scans", s.createScan)
		r.Get("/scans", s.listScans)
		r.Get("/scans/{id}", s.getScan)
		r.Delete("/scans/{id}", s.deleteScan)
		r.Get("/scans/{id}/findings", s.getFindings)
		r.Get("/scans/{id}/spdx", s.getSPDX)
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createScanRequest struct {
	GitURL   string `json:"git_url"`
	GitToken string `json:"git_token,omitempty"`
}

func (s *Server) createScan(w http.ResponseWriter, r *http.Request) {
	var req createScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	scan, err := s.scans.StartScan(r.Context(), req.GitURL, req.GitToken)
	if err != nil {
		switch {
		case errors.Is(err, workspace.ErrInvalidURL):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, scanrunner.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "scan queue full, retry later")
		default:
			s.internalError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, scanBody(scan))
}

func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.scans.ListScans(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	out := make([]scanResponse, 0, len(scans))
	for i := range scans {
		out = append(out, scanBody(&scans[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": out})
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scan, err := s.scans.GetScan(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	body := scanBody(scan)
	if scan.Status == domain.StatusCompleted {
		sum, err := s.scans.Summary(r.Context(), id)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		body.Summary = &sum
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) deleteScan(w http.ResponseWriter, r *http.Request) {
	if err := s.scans.DeleteScan(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getFindings(w http.ResponseWriter, r *http.Request) {
	findings, err := s.scans.Findings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	out := make([]findingResponse, 0, len(findings))
	for i := range findings {
		out = append(out, findingBody(&findings[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"findings": out, "total": len(out)})
}

// getSPDX renders the scan's findings as an SPDX 2.3 JSON document. Only
// completed scans have a stable set of findings to export.
func (s *Server) getSPDX(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scan, err := s.scans.GetScan(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if scan.Status != domain.StatusCompleted {
		writeError(w, http.StatusConflict, fmt.Sprintf("scan is %s, SPDX export requires a completed scan", scan.Status))
		return
	}
	findings, err := s.scans.Findings(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	doc := export.BuildDocument(scan, findings)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", scan.ID+".spdx.json"))
	writeJSON(w, http.StatusOK, doc)
}

// Response shapes. The domain scan carries the credential; these types make
// sure it can never reach a response even if the json:"-" tag were lost.

type backendRunResponse struct {
	Status      domain.Status `json:"status"`
	Error       string        `json:"error,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

type scanResponse struct {
	ID          string                        `json:"id"`
	GitURL      string                        `json:"git_url"`
	Status      domain.Status                 `json:"status"`
	Error       string                        `json:"error,omitempty"`
	CreatedAt   time.Time                     `json:"created_at"`
	StartedAt   *time.Time                    `json:"started_at,omitempty"`
	CompletedAt *time.Time                    `json:"completed_at,omitempty"`
	Backends    map[string]backendRunResponse `json:"backends"`
	Risk        *domain.RiskAssessment        `json:"risk,omitempty"`
	Summary     *scansvc.Summary              `json:"summary,omitempty"`
}

func scanBody(scan *domain.Scan) scanResponse {
	resp := scanResponse{
		ID:          scan.ID,
		GitURL:      scan.GitURL,
		Status:      scan.Status,
		Error:       scan.Error,
		CreatedAt:   scan.CreatedAt,
		StartedAt:   scan.StartedAt,
		CompletedAt: scan.CompletedAt,
		Backends:    make(map[string]backendRunResponse, len(scan.Backends)),
		Risk:        scan.Risk,
	}
	for name, run := range scan.Backends {
		resp.Backends[name] = backendRunResponse{
			Status:      run.Status,
			Error:       run.Error,
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
		}
	}
	return resp
}

type findingResponse struct {
	ID       string             `json:"id"`
	Kind     domain.FindingKind `json:"kind"`
	FilePath string             `json:"file_path"`
	Source   string             `json:"source"`
	Severity domain.Severity    `json:"severity,omitempty"`

	License   *domain.LicenseDetail   `json:"license,omitempty"`
	Copyright *domain.CopyrightDetail `json:"copyright,omitempty"`
	Export    *domain.ExportDetail    `json:"export_control,omitempty"`
}

func findingBody(f *domain.Finding) findingResponse {
	return findingResponse{
		ID:        f.ID,
		Kind:      f.Kind,
		FilePath:  f.FilePath,
		Source:    f.Source,
		Severity:  f.Severity,
		License:   f.License,
		Copyright: f.Copyright,
		Export:    f.Export,
	}
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ports.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	s.internalError(w, r, err)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

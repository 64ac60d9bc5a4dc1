// Package api implements the thin REST boundary of spec §6: request and
// response mapping only, with all business logic left to the Queue
// Scheduler. Routing uses chi, matching the rest of the retrieval pack's
// preference for a lightweight router over the standard mux.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/estuary/test-probe/internal/metrics"
	"github.com/estuary/test-probe/internal/model"
	"github.com/estuary/test-probe/internal/scheduler"
)

// Server mounts the Test-Probe REST surface onto a chi.Router.
type Server struct {
	scheduler *scheduler.Scheduler
	log       *log.Entry
}

func NewServer(s *scheduler.Scheduler) *Server {
	return &Server{scheduler: s, log: log.WithField("component", "api")}
}

// Router builds the chi.Router exposing §6's endpoints plus the
// SPEC_FULL ambient /healthz and /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Post("/initialize", s.handleInitialize)
	r.Post("/start", s.handleStart)
	r.Get("/status/{testId}", s.handleStatus)
	r.Get("/queue", s.handleQueue)
	r.Delete("/{testId}", s.handleCancel)

	return r
}

func requestLogger(base *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			base.WithFields(log.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start),
			}).Info("request handled")
		})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type initializeResponse struct {
	TestId string `json:"testId"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	id, err := s.scheduler.Initialize(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, initializeResponse{TestId: id.String()})
}

type startRequest struct {
	TestId   string `json:"testId"`
	Bucket   string `json:"bucket"`
	TestType string `json:"testType,omitempty"`
}

type startResponse struct {
	Accepted bool   `json:"accepted"`
	TestType string `json:"testType,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, startResponse{Accepted: false, Message: "invalid JSON body"})
		return
	}
	id, err := model.ParseTestId(req.TestId)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, startResponse{Accepted: false, Message: "invalid testId"})
		return
	}

	out, err := s.scheduler.StartTest(r.Context(), id, req.Bucket, req.TestType)
	if err != nil {
		writeError(w, err)
		return
	}
	if !out.Accepted {
		writeJSON(w, http.StatusBadRequest, startResponse{Accepted: false, Message: out.Reason})
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{Accepted: true, TestType: req.TestType})
}

type statusResponse struct {
	State     model.State `json:"state"`
	Bucket    string      `json:"bucket,omitempty"`
	TestType  string      `json:"testType,omitempty"`
	StartedAt *time.Time  `json:"startedAt,omitempty"`
	EndedAt   *time.Time  `json:"endedAt,omitempty"`
	Success   *bool       `json:"success,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func statusResponseOf(st model.Status) statusResponse {
	return statusResponse{
		State:     st.State,
		Bucket:    st.Bucket,
		TestType:  st.TestType,
		StartedAt: st.StartedAt,
		EndedAt:   st.EndedAt,
		Success:   st.Success,
		Error:     st.Error,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseTestId(chi.URLParam(r, "testId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid testId"})
		return
	}
	st, err := s.scheduler.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponseOf(st))
}

type queueResponse struct {
	Counts           map[model.State]int `json:"counts"`
	CurrentlyTesting []string            `json:"currentlyTesting,omitempty"`
	Requested        *statusResponse     `json:"requested,omitempty"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	var idPtr *model.TestId
	if raw := r.URL.Query().Get("testId"); raw != "" {
		id, err := model.ParseTestId(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid testId"})
			return
		}
		idPtr = &id
	}

	qs, err := s.scheduler.QueueStatus(r.Context(), idPtr)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := queueResponse{Counts: qs.Counts}
	for _, id := range qs.CurrentlyTesting {
		resp.CurrentlyTesting = append(resp.CurrentlyTesting, id.String())
	}
	if qs.Requested != nil {
		r := statusResponseOf(*qs.Requested)
		resp.Requested = &r
	}
	writeJSON(w, http.StatusOK, resp)
}

type cancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message,omitempty"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseTestId(chi.URLParam(r, "testId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid testId"})
		return
	}
	out, err := s.scheduler.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	msg := ""
	if out.NoOp {
		msg = "already terminal"
	}
	writeJSON(w, http.StatusOK, cancelResponse{Cancelled: out.Cancelled, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case isNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"message": err.Error()})
	case isAdmissionUnavailable(err):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}

func isAdmissionUnavailable(err error) bool {
	return errors.Is(err, model.ErrAdmissionUnavailable)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lifeline/internal/gate"
	"lifeline/internal/session"
	"lifeline/pkg/interfaces"
	"lifeline/pkg/types"
)

// Registry exposes the connection statistics the health endpoint
// reports, without coupling this package to the registry type.
type Registry interface {
	GetStats() map[string]int
}

// Server is the HTTP surface: session lifecycle for the paramedic app,
// guardian access, health and metrics. No business logic lives here.
type Server struct {
	sessions  interfaces.SessionManager
	store     interfaces.SessionStore
	gate      *gate.Gate
	registry  Registry
	wsHandler http.HandlerFunc
	promReg   *prometheus.Registry
	logger    *zap.Logger
	router    *mux.Router
}

// NewServer creates the HTTP server and wires its routes.
func NewServer(
	sessions interfaces.SessionManager,
	store interfaces.SessionStore,
	g *gate.Gate,
	registry Registry,
	wsHandler http.HandlerFunc,
	promReg *prometheus.Registry,
	logger *zap.Logger,
) *Server {
	s := &Server{
		sessions:  sessions,
		store:     store,
		gate:      g,
		registry:  registry,
		wsHandler: wsHandler,
		promReg:   promReg,
		logger:    logger,
		router:    mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.corsMiddleware, s.jsonMiddleware)

	api.HandleFunc("/sessions", s.createSession).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/start", s.startSession).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/stop", s.stopSession).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/end", s.endSession).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/guardian-link", s.issueGuardianLink).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/guardian/verify", s.verifyGuardian).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/ambulances/{id}/sessions", s.listAmbulanceSessions).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/ambulances/{id}/sessions/active", s.getActiveSession).Methods(http.MethodGet, http.MethodOptions)

	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	if s.wsHandler != nil {
		s.router.HandleFunc("/ws", s.wsHandler)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type CreateSessionRequest struct {
	AmbulanceID     string `json:"ambulance_id"`
	ParamedicID     string `json:"paramedic_id"`
	ParamedicName   string `json:"paramedic_name"`
	PatientName     string `json:"patient_name"`
	PatientAge      int    `json:"patient_age"`
	PatientGender   *int   `json:"patient_gender,omitempty"`
	GuardianNIC     string `json:"guardian_nic"`
	GuardianContact string `json:"guardian_contact"`
	Mode            string `json:"mode"`
}

type SessionResponse struct {
	Session *types.Session `json:"session"`
}

type ListSessionsResponse struct {
	Sessions []*types.Session `json:"sessions"`
}

type GuardianLinkResponse struct {
	Link string `json:"link"`
}

type VerifyGuardianRequest struct {
	SessionID string `json:"sessionId"`
	NIC       string `json:"nic"`
	OTP       string `json:"otp"`
	Gender    *int   `json:"gender,omitempty"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /api/sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	created, err := s.sessions.CreateSession(r.Context(), &types.Session{
		AmbulanceID:     req.AmbulanceID,
		ParamedicID:     req.ParamedicID,
		ParamedicName:   req.ParamedicName,
		PatientName:     req.PatientName,
		PatientAge:      req.PatientAge,
		PatientGender:   req.PatientGender,
		GuardianNIC:     req.GuardianNIC,
		GuardianContact: req.GuardianContact,
		Mode:            req.Mode,
	})
	if err != nil {
		if errors.Is(err, session.ErrValidation) {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("session create failed", zap.Error(err))
		s.sendError(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, SessionResponse{Session: created})
}

// GET /api/sessions/{id}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	found, err := s.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendSessionError(w, err, "failed to get session")
		return
	}

	s.writeJSON(w, SessionResponse{Session: found})
}

// POST /api/sessions/{id}/start
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	started, err := s.sessions.StartSession(r.Context(), sessionID)
	if err != nil {
		s.sendSessionError(w, err, "failed to start session")
		return
	}

	s.writeJSON(w, SessionResponse{Session: started})
}

// POST /api/sessions/{id}/stop
func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := s.sessions.StopSession(r.Context(), sessionID); err != nil {
		s.sendSessionError(w, err, "failed to stop session")
		return
	}

	s.writeJSON(w, map[string]string{"message": "session arriving"})
}

// POST /api/sessions/{id}/end
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := s.sessions.EndSession(r.Context(), sessionID); err != nil {
		s.sendSessionError(w, err, "failed to end session")
		return
	}

	s.writeJSON(w, map[string]string{"message": "session ended"})
}

// POST /api/sessions/{id}/guardian-link
func (s *Server) issueGuardianLink(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	_, link, err := s.gate.IssueGuardianLink(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, gate.ErrSessionNotFound) {
			s.sendError(w, "session not found", http.StatusNotFound)
			return
		}
		s.logger.Error("guardian link failed", zap.String("session_id", sessionID), zap.Error(err))
		s.sendError(w, "failed to issue guardian link", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, GuardianLinkResponse{Link: link})
}

// POST /api/guardian/verify
func (s *Server) verifyGuardian(w http.ResponseWriter, r *http.Request) {
	var req VerifyGuardianRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	result, err := s.gate.VerifyGuardian(r.Context(), req.SessionID, req.NIC, req.OTP, req.Gender)
	if err != nil {
		if errors.Is(err, gate.ErrUnauthorized) {
			s.sendError(w, "verification failed", http.StatusUnauthorized)
			return
		}
		s.logger.Error("guardian verify failed", zap.String("session_id", req.SessionID), zap.Error(err))
		s.sendError(w, "verification failed", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, result)
}

// GET /api/ambulances/{id}/sessions
func (s *Server) listAmbulanceSessions(w http.ResponseWriter, r *http.Request) {
	ambulanceID := mux.Vars(r)["id"]

	sessions, err := s.sessions.ListByAmbulance(r.Context(), ambulanceID)
	if err != nil {
		s.logger.Error("session list failed", zap.String("ambulance_id", ambulanceID), zap.Error(err))
		s.sendError(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, ListSessionsResponse{Sessions: sessions})
}

// GET /api/ambulances/{id}/sessions/active
func (s *Server) getActiveSession(w http.ResponseWriter, r *http.Request) {
	ambulanceID := mux.Vars(r)["id"]

	active, err := s.sessions.GetActive(r.Context(), ambulanceID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.sendError(w, "no active session", http.StatusNotFound)
			return
		}
		s.logger.Error("active session lookup failed", zap.String("ambulance_id", ambulanceID), zap.Error(err))
		s.sendError(w, "failed to get active session", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, SessionResponse{Session: active})
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	s.writeJSON(w, HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
	})
}

// sendSessionError maps lifecycle controller errors onto HTTP codes.
func (s *Server) sendSessionError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		s.sendError(w, "session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrInvalidTransition):
		s.sendError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrValidation):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("session operation failed", zap.Error(err))
		s.sendError(w, fallback, http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	s.writeJSON(w, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

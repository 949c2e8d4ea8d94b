package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

var validate = validator.New()

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

type loginResponse struct {
	UserID          string    `json:"user_id"`
	DeviceID        string    `json:"device_id"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

type meResponse struct {
	UserID          string    `json:"user_id"`
	DeviceID        string    `json:"device_id"`
	SessionID       string    `json:"session_id"`
	State           string    `json:"state"`
	Rotated         bool      `json:"rotated"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

type sessionsResponse struct {
	Current  string                 `json:"current"`
	Sessions []goSession.ActiveUnit `json:"sessions"`
}

type server struct {
	engine    *goSession.Engine
	transport *middleware.Transport
	metrics   http.Handler
	// ping reports backend readiness for /healthz.
	ping   func(context.Context) error
	logger *slog.Logger
}

func (s *server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/login", s.login).Methods(http.MethodPost)
	v1.HandleFunc("/logout", s.logout).Methods(http.MethodPost)

	protected := v1.NewRoute().Subrouter()
	protected.Use(middleware.Guard(s.engine, s.transport))
	protected.HandleFunc("/me", s.me).Methods(http.MethodGet)
	protected.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	protected.HandleFunc("/sessions/revoke-all", s.revokeAll).Methods(http.MethodPost)
	protected.HandleFunc("/sessions/{id}", s.revokeSession).Methods(http.MethodDelete)

	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireRole(s.engine, "admin"))
	admin.HandleFunc("/security-report", s.securityReport).Methods(http.MethodGet)

	return router
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "health check failed", slog.Any("error", err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email and password are required"})
		return
	}

	x, err := s.transport.Begin(w, r)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "session load failed", slog.Any("error", err))
		middleware.WriteError(w, goSession.ErrInternalFailure)
		return
	}
	// A successful login always starts a new server-side session.
	x.Session.Renew()
	ac, err := s.engine.LoginWithPassword(r.Context(), x.Request, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, goSession.ErrMissingUserProvider) {
			writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "password login is disabled"})
			return
		}
		middleware.WriteError(w, err)
		return
	}
	if err := x.Commit(r.Context()); err != nil {
		s.logger.ErrorContext(r.Context(), "session save failed", slog.Any("error", err))
		middleware.WriteError(w, goSession.ErrInternalFailure)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		UserID:          ac.UserID(),
		DeviceID:        ac.DeviceID(),
		AccessExpiresAt: ac.AccessExpiresAt(),
	})
}

// logout is not guarded: a client holding stale credentials must still be
// able to clear them.
func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	s.endSession(w, r, goSession.ReasonLogout, nil)
}

func (s *server) revokeAll(w http.ResponseWriter, r *http.Request) {
	ac := mustAuthContext(r)
	n, err := s.engine.RevokeAll(r.Context(), ac.UserID())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	s.endSession(w, r, goSession.ReasonRevokeAll, map[string]int{"revoked": n})
}

// endSession clears the caller's credentials. A nil body answers 204.
func (s *server) endSession(w http.ResponseWriter, r *http.Request, reason goSession.Reason, body any) {
	x, err := s.transport.Begin(w, r)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "session load failed", slog.Any("error", err))
		middleware.WriteError(w, goSession.ErrInternalFailure)
		return
	}
	logoutErr := s.engine.Logout(r.Context(), x.Request, reason)
	if err := x.Commit(r.Context()); err != nil {
		s.logger.ErrorContext(r.Context(), "session save failed", slog.Any("error", err))
		middleware.WriteError(w, goSession.ErrInternalFailure)
		return
	}
	if logoutErr != nil {
		middleware.WriteError(w, logoutErr)
		return
	}
	if body == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	ac := mustAuthContext(r)
	writeJSON(w, http.StatusOK, meResponse{
		UserID:          ac.UserID(),
		DeviceID:        ac.DeviceID(),
		SessionID:       ac.RefreshTokenID(),
		State:           ac.State().String(),
		Rotated:         ac.Rotated(),
		AccessExpiresAt: ac.AccessExpiresAt(),
	})
}

func (s *server) listSessions(w http.ResponseWriter, r *http.Request) {
	ac := mustAuthContext(r)
	units, err := s.engine.ListActiveUnits(r.Context(), ac.UserID())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if units == nil {
		units = []goSession.ActiveUnit{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Current: ac.RefreshTokenID(), Sessions: units})
}

// revokeSession revokes one of the caller's own sessions. Ids belonging to
// other users answer 404 so they cannot be enumerated.
func (s *server) revokeSession(w http.ResponseWriter, r *http.Request) {
	ac := mustAuthContext(r)
	id := mux.Vars(r)["id"]

	units, err := s.engine.ListActiveUnits(r.Context(), ac.UserID())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	owned := slices.ContainsFunc(units, func(u goSession.ActiveUnit) bool { return u.ID == id })
	if !owned {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	if err := s.engine.RevokeOne(r.Context(), id); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) securityReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.SecurityReport())
}

// mustAuthContext is only called behind middleware.Guard.
func mustAuthContext(r *http.Request) *goSession.AuthContext {
	ac, ok := goSession.AuthContextFrom(r.Context())
	if !ok {
		panic("sessiond: handler mounted outside Guard")
	}
	return ac
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

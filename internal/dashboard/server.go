// Package dashboard serves engine snapshots to the browser UI over HTTP and
// WebSocket and accepts operator commands and settings changes.
package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/motordash/internal/controller"
	"codeberg.org/mutker/motordash/internal/errors"
	"codeberg.org/mutker/motordash/internal/logger"
	"codeberg.org/mutker/motordash/internal/settings"
)

const (
	maxBodyBytes    = 1 << 12
	shutdownTimeout = 5 * time.Second
)

// Controls is the engine surface the dashboard drives.
type Controls interface {
	SnapshotSource
	Start(ctx context.Context) bool
	StopMotor(ctx context.Context) bool
	EmergencyStop(ctx context.Context) bool
	SetTargetPWM(ctx context.Context, pwm int) bool
	ReportFault(reason string)
	ClearFault()
}

// SettingsStore is the persisted settings surface.
type SettingsStore interface {
	Current() settings.Settings
	Update(ctx context.Context, p settings.Patch) (settings.Settings, error)
	Reset(ctx context.Context) (settings.Settings, error)
}

type Server struct {
	addr     string
	controls Controls
	settings SettingsStore
	hub      *Hub
	mux      *http.ServeMux
	logger   logger.Logger
}

type commandResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

type speedRequest struct {
	PWM *int `json:"pwm"`
}

type faultRequest struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error   errors.ErrorCode `json:"error"`
	Message string           `json:"message"`
}

func New(addr string, controls Controls, store SettingsStore) *Server {
	s := &Server{
		addr:     addr,
		controls: controls,
		settings: store,
		hub:      NewHub(controls),
		mux:      http.NewServeMux(),
		logger:   logger.Component("dashboard"),
	}

	s.mux.HandleFunc("/api/snapshot", s.method(http.MethodGet, s.handleSnapshot))
	s.mux.HandleFunc("/api/control", s.method(http.MethodPost, s.handleControl))
	s.mux.HandleFunc("/api/speed", s.method(http.MethodPost, s.handleSpeed))
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/api/settings/reset", s.method(http.MethodPost, s.handleSettingsReset))
	s.mux.HandleFunc("/api/fault", s.handleFault)
	s.mux.HandleFunc("/ws", s.hub.ServeWS)
	s.mux.HandleFunc("/healthz", s.handleHealth)

	return s
}

// Handler returns the HTTP routes without starting the WebSocket hub. /ws
// answers 503 until Serve runs it.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.New().Wrap(ErrServe, err)
	}

	return s.Serve(ctx, ln)
}

// Serve runs the WebSocket hub and serves HTTP on ln until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	s.hub.running.Store(true)
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Dashboard listening")

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.New().Wrap(ErrServe, err)
		}
		return nil
	case <-ctx.Done():
	}

	stopHub()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	s.logger.Info().Msg("Dashboard stopped")

	return nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controls.Snapshot())
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controller.ControlRequest
	if !s.decode(w, r, &req) {
		return
	}

	var ok bool
	switch req.Action {
	case controller.ActionStart:
		ok = s.controls.Start(r.Context())
	case controller.ActionStop:
		ok = s.controls.StopMotor(r.Context())
	case controller.ActionEmergencyStop:
		ok = s.controls.EmergencyStop(r.Context())
	default:
		s.fail(w, http.StatusBadRequest, errors.New().WithData(ErrUnknownAction, req.Action))
		return
	}

	s.logger.Info().Str("action", string(req.Action)).Bool("acknowledged", ok).Msg("Control command")
	writeJSON(w, http.StatusOK, commandResponse{Acknowledged: ok})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.PWM == nil {
		s.fail(w, http.StatusBadRequest, errors.New().WithMessage(ErrInvalidRequest, "pwm is required"))
		return
	}

	ok := s.controls.SetTargetPWM(r.Context(), *req.PWM)
	writeJSON(w, http.StatusOK, commandResponse{Acknowledged: ok})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.settings.Current())
	case http.MethodPut, http.MethodPatch:
		var patch settings.Patch
		if !s.decode(w, r, &patch) {
			return
		}
		next, err := s.settings.Update(r.Context(), patch)
		if err != nil {
			s.fail(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, next)
	default:
		s.notAllowed(w, r)
	}
}

func (s *Server) handleSettingsReset(w http.ResponseWriter, r *http.Request) {
	next, err := s.settings.Reset(r.Context())
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleFault(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req faultRequest
		if !s.decode(w, r, &req) {
			return
		}
		s.controls.ReportFault(req.Message)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		s.controls.ClearFault()
		w.WriteHeader(http.StatusNoContent)
	default:
		s.notAllowed(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.controls.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"controller": snap.Status.ControllerStatus,
		"mode":       snap.Status.SystemMode,
		"clients":    s.hub.Clients(),
	})
}

func (s *Server) method(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			s.notAllowed(w, r)
			return
		}
		next(w, r)
	}
}

func (s *Server) notAllowed(w http.ResponseWriter, r *http.Request) {
	s.fail(w, http.StatusMethodNotAllowed, errors.New().WithData(ErrMethodNotAllowed, r.Method))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		s.fail(w, http.StatusBadRequest, errors.New().Wrap(ErrInvalidRequest, err))
		return false
	}

	return true
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	code := errors.ErrInternal
	var coded errors.Error
	if errors.As(err, &coded) {
		code = coded.Code()
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("error_code", string(code)).Msg("Request failed")
	} else {
		s.logger.Debug().Err(err).Str("error_code", string(code)).Msg("Request rejected")
	}

	writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}

func statusFor(err error) int {
	if errors.HasCode(err, settings.ErrInvalidSettings) {
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Package emulator is a stand-in for the motor controller firmware. It
// serves the controller HTTP API from a simulated motor so the dashboard
// can be exercised in prototype mode without hardware.
package emulator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/motordash/internal/controller"
	"codeberg.org/mutker/motordash/internal/errors"
	"codeberg.org/mutker/motordash/internal/logger"
	"codeberg.org/mutker/motordash/internal/motor"
)

const (
	FaultOvertemperature = "overtemperature"
	FaultEmergencyStop   = "emergency_stop"

	maxBodyBytes = 1 << 10
)

// Simulator advances the simulated motor by one step.
type Simulator interface {
	Next(prev motor.Metrics, targetPWM int, running bool) motor.Metrics
}

type Emulator struct {
	sim    Simulator
	logger logger.Logger

	mu        sync.Mutex
	metrics   motor.Metrics
	running   bool
	targetPWM int
	fault     string
}

func New(sim Simulator) *Emulator {
	return &Emulator{
		sim:     sim,
		logger:  logger.Component("emulator"),
		metrics: motor.DefaultMetrics(),
	}
}

// Step advances the motor by one sample. Reaching the maximum operating
// temperature trips an overtemperature fault and stops the motor.
func (e *Emulator) Step() motor.Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.metrics = e.sim.Next(e.metrics, e.targetPWM, e.running)

	if e.running && e.metrics.Temperature >= motor.MaxOperatingTemperature {
		e.running = false
		e.fault = FaultOvertemperature
		e.logger.Warn().Float64("temperature", e.metrics.Temperature).Msg("Overtemperature trip")
	}

	return e.metrics
}

// Run steps the motor every interval until ctx is cancelled.
func (e *Emulator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := e.Step()
			e.logger.Debug().Float64("rpm", m.RPM).Float64("temperature", m.Temperature).Msg("Step")
		}
	}
}

// Status reports the control state.
func (e *Emulator) Status() controller.StatusResponse {
	e.mu.Lock()
	defer e.mu.Unlock()

	return controller.StatusResponse{
		Running: e.running,
		PWM:     e.targetPWM,
		Fault:   e.fault,
	}
}

// Apply executes a control action.
func (e *Emulator) Apply(action controller.Action) error {
	if !action.Valid() {
		return errors.New().WithData(ErrUnknownAction, action)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch action {
	case controller.ActionStart:
		if e.fault == FaultOvertemperature && e.metrics.Temperature >= motor.ThermalCriticalThreshold {
			return errors.New().WithData(ErrFaulted, e.fault)
		}
		e.running = true
		e.fault = ""
	case controller.ActionStop:
		e.running = false
		e.targetPWM = 0
	case controller.ActionEmergencyStop:
		e.running = false
		e.targetPWM = 0
		e.metrics.RPM = 0
		e.metrics.PWMDuty = 0
		e.fault = FaultEmergencyStop
	}

	e.logger.Info().Str("action", string(action)).Msg("Control action applied")

	return nil
}

// SetSpeed sets the PWM target, clamped to [0, 100].
func (e *Emulator) SetSpeed(pwm int) {
	e.mu.Lock()
	e.targetPWM = motor.ClampPWM(pwm)
	e.mu.Unlock()
}

// Handler serves the controller API.
func (e *Emulator) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(controller.MetricsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		e.mu.Lock()
		m := e.metrics
		e.mu.Unlock()
		writeJSON(w, http.StatusOK, controller.MetricsResponseFrom(m))
	})

	mux.HandleFunc(controller.StatusEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, e.Status())
	})

	mux.HandleFunc(controller.SpeedEndpoint, func(w http.ResponseWriter, r *http.Request) {
		var req controller.SpeedRequest
		if !decodePost(w, r, &req) {
			return
		}
		e.SetSpeed(req.PWM)
		writeJSON(w, http.StatusOK, e.Status())
	})

	mux.HandleFunc(controller.ControlEndpoint, func(w http.ResponseWriter, r *http.Request) {
		var req controller.ControlRequest
		if !decodePost(w, r, &req) {
			return
		}
		if err := e.Apply(req.Action); err != nil {
			status := http.StatusBadRequest
			if errors.HasCode(err, ErrFaulted) {
				status = http.StatusConflict
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, http.StatusOK, e.Status())
	})

	return mux
}

func decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

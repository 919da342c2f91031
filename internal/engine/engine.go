// Package engine runs the acquisition loop: on every tick it simulates or
// fetches motor telemetry, derives the system status and records power
// history. It also applies operator commands to the shared state.
package engine

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/motordash/internal/errors"
	"codeberg.org/mutker/motordash/internal/logger"
	"codeberg.org/mutker/motordash/internal/motor"
	"codeberg.org/mutker/motordash/internal/settings"
	"github.com/google/uuid"
)

const historyTimeLayout = "04:05"

// SettingsSource provides the current settings and announces changes.
type SettingsSource interface {
	Current() settings.Settings
	Watch(fn func(settings.Settings))
}

// Simulator produces the next sample in simulation mode.
type Simulator interface {
	Next(prev motor.Metrics, targetPWM int, running bool) motor.Metrics
}

// Remote is the controller link used in prototype mode.
type Remote interface {
	FetchMetrics(ctx context.Context) (motor.Metrics, error)
	SendCommand(ctx context.Context, endpoint string, payload any) bool
}

// Snapshot is a read-only copy of everything the dashboard renders.
type Snapshot struct {
	Metrics   motor.Metrics        `json:"metrics"`
	Status    motor.Status         `json:"status"`
	History   []motor.HistoryPoint `json:"powerHistory"`
	IsRunning bool                 `json:"isRunning"`
	TargetPWM int                  `json:"targetPwm"`
}

type Option func(*Engine)

// WithClock replaces time.Now, used for timestamps and history labels.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the alert ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

type Engine struct {
	settings SettingsSource
	sim      Simulator
	remote   Remote
	logger   logger.Logger
	now      func() time.Time
	newID    func() string

	reconfigure chan struct{}

	mu          sync.Mutex
	metrics     motor.Metrics
	status      motor.Status
	history     *History
	control     motor.Control
	fault       string
	overrides   uint64 // bumped by emergency stop
	stopped     bool
	subscribers map[int]chan Snapshot
	nextSubID   int
}

func New(src SettingsSource, sim Simulator, remote Remote, opts ...Option) *Engine {
	e := &Engine{
		settings:    src,
		sim:         sim,
		remote:      remote,
		logger:      logger.Component("engine"),
		now:         time.Now,
		newID:       uuid.NewString,
		reconfigure: make(chan struct{}, 1),
		history:     NewHistory(motor.HistoryCapacity),
		subscribers: make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.metrics = motor.DefaultMetrics()
	e.status = motor.DefaultStatus(motor.ModeFor(src.Current().SimulationMode), e.now())

	src.Watch(func(settings.Settings) {
		select {
		case e.reconfigure <- struct{}{}:
		default:
		}
	})

	return e
}

// Run ticks at the configured refresh rate until ctx is cancelled, then
// stops the engine. A refresh rate change restarts the ticker.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return errors.New().New(errors.ErrEngineClosed)
	}
	defer e.Stop()

	interval := e.settings.Current().RefreshInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().
		Dur("interval", interval).
		Bool("simulation", e.settings.Current().SimulationMode).
		Msg("Acquisition loop started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Acquisition loop stopped")
			return nil
		case <-e.reconfigure:
			next := e.settings.Current().RefreshInterval()
			if next != interval {
				ticker.Reset(next)
				e.logger.Debug().Dur("from", interval).Dur("to", next).Msg("Refresh interval changed")
				interval = next
			}
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick performs one acquisition step. Control state is read when the step
// executes. In prototype mode the engine lock is released during the fetch
// and the result is discarded if the engine was stopped meanwhile.
func (e *Engine) Tick(ctx context.Context) {
	cfg := e.settings.Current()

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}

	if cfg.SimulationMode {
		e.metrics = e.sim.Next(e.metrics, e.control.TargetPWM, e.control.Running)
		e.status.CommunicationStatus = motor.CommunicationStable
		e.status.ControllerStatus = motor.ControllerOnline
		e.completeTick(cfg)
		e.mu.Unlock()
		return
	}

	overrides := e.overrides
	e.mu.Unlock()

	m, err := e.remote.FetchMetrics(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped || ctx.Err() != nil {
		e.logger.Debug().Msg("Discarding telemetry received after shutdown")
		return
	}

	if err != nil {
		e.logger.Warn().Err(err).Msg("Telemetry fetch failed, keeping last sample")
		e.status.CommunicationStatus = motor.CommunicationInterrupted
		e.status.ControllerStatus = motor.ControllerOffline
		e.pushAlert(motor.AlertError, motor.MsgConnectionLost)
	} else {
		if overrides != e.overrides {
			m.RPM, m.PWMDuty = 0, 0
		}
		e.metrics = m
		e.status.CommunicationStatus = motor.CommunicationStable
		e.status.ControllerStatus = motor.ControllerOnline
	}

	e.completeTick(cfg)
}

// completeTick derives status from the current sample and records history.
// Callers hold e.mu.
func (e *Engine) completeTick(cfg settings.Settings) {
	now := e.now()

	e.status.ThermalState = motor.ThermalStateFor(e.metrics.Temperature)
	e.status.MotorState = motor.MotorStateFor(e.fault != "", e.control.Running, e.metrics.RPM)
	e.status.SystemMode = motor.ModeFor(cfg.SimulationMode)
	e.status.LastUpdate = now

	e.history.Append(motor.HistoryPoint{
		Time:    now.Format(historyTimeLayout),
		Power:   motor.Round(e.metrics.Power, 1),
		Current: motor.Round(e.metrics.Current, 2),
	})

	e.logger.Debug().
		Float64("rpm", e.metrics.RPM).
		Float64("power", e.metrics.Power).
		Float64("temperature", e.metrics.Temperature).
		Str("motor_state", string(e.status.MotorState)).
		Str("thermal_state", string(e.status.ThermalState)).
		Str("communication", string(e.status.CommunicationStatus)).
		Msg("Tick")

	e.publish()
}

// Stop ends the engine. No tick or command mutates state afterwards and
// subscriber channels are closed. It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	e.stopped = true

	for id, ch := range e.subscribers {
		close(ch)
		delete(e.subscribers, id)
	}
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

func (e *Engine) snapshot() Snapshot {
	status := e.status
	status.Alerts = motor.CopyAlerts(e.status.Alerts)

	return Snapshot{
		Metrics:   e.metrics,
		Status:    status,
		History:   e.history.Points(),
		IsRunning: e.control.Running,
		TargetPWM: e.control.TargetPWM,
	}
}

// Subscribe returns a channel receiving a snapshot after every tick and
// command. Slow readers only see the latest snapshot. The returned func
// unsubscribes.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if e.stopped {
		close(ch)
		return ch, func() {}
	}

	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subscribers[id]; ok {
			close(sub)
			delete(e.subscribers, id)
		}
	}
}

// publish hands the current snapshot to subscribers. Callers hold e.mu.
func (e *Engine) publish() {
	if len(e.subscribers) == 0 {
		return
	}

	snap := e.snapshot()
	for _, ch := range e.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// pushAlert prepends an alert, keeping at most motor.MaxAlerts. Callers hold e.mu.
func (e *Engine) pushAlert(kind motor.AlertKind, msg string) {
	e.status.Alerts = motor.PushAlert(e.status.Alerts, motor.Alert{
		ID:        e.newID(),
		Kind:      kind,
		Message:   msg,
		Timestamp: e.now(),
	})
}

package engine

import (
	"context"

	"codeberg.org/mutker/motordash/internal/controller"
	"codeberg.org/mutker/motordash/internal/motor"
)

// Operator commands apply their local effect whether or not the controller
// acknowledges them. The returned bool reports the acknowledgement.

// Start asks the controller to run the motor.
func (e *Engine) Start(ctx context.Context) bool {
	ok := e.send(ctx, controller.ControlEndpoint, controller.ControlRequest{Action: controller.ActionStart})

	e.apply(func() {
		e.control.Running = true
		e.status.Alerts = motor.RemoveAlerts(e.status.Alerts, motor.MsgMotorStopped)
	})

	return ok
}

// StopMotor asks the controller to stop and resets the speed target.
func (e *Engine) StopMotor(ctx context.Context) bool {
	ok := e.send(ctx, controller.ControlEndpoint, controller.ControlRequest{Action: controller.ActionStop})

	e.apply(func() {
		e.control.Running = false
		e.control.TargetPWM = 0
	})

	return ok
}

// EmergencyStop halts the motor. Speed and duty cycle are zeroed in the
// current sample before the command is sent, without waiting for a tick.
func (e *Engine) EmergencyStop(ctx context.Context) bool {
	e.apply(func() {
		e.control.Running = false
		e.control.TargetPWM = 0
		e.metrics.RPM = 0
		e.metrics.PWMDuty = 0
		e.overrides++
		e.status.MotorState = motor.MotorStateFor(e.fault != "", false, 0)
		e.pushAlert(motor.AlertWarning, motor.MsgEmergencyStop)
	})

	e.logger.Warn().Msg("Emergency stop activated")

	return e.send(ctx, controller.ControlEndpoint, controller.ControlRequest{Action: controller.ActionEmergencyStop})
}

// SetTargetPWM clamps pwm to [0, 100] and sets it as the speed target.
func (e *Engine) SetTargetPWM(ctx context.Context, pwm int) bool {
	clamped := motor.ClampPWM(pwm)
	if clamped != pwm {
		e.logger.Debug().Int("requested", pwm).Int("clamped", clamped).Msg("PWM request clamped")
	}

	ok := e.send(ctx, controller.SpeedEndpoint, controller.SpeedRequest{PWM: clamped})

	e.apply(func() {
		e.control.TargetPWM = clamped
	})

	return ok
}

// ReportFault latches an external fault condition, such as an overcurrent
// trip. The motor state stays fault until ClearFault.
func (e *Engine) ReportFault(reason string) {
	if reason == "" {
		reason = "unspecified"
	}

	e.apply(func() {
		e.fault = reason
		e.status.MotorState = motor.MotorFault
		e.pushAlert(motor.AlertError, "Controller fault: "+reason)
	})

	e.logger.Error().Str("reason", reason).Msg("Controller fault reported")
}

// ClearFault releases a latched fault.
func (e *Engine) ClearFault() {
	e.apply(func() {
		if e.fault == "" {
			return
		}
		e.fault = ""
		e.status.MotorState = motor.MotorStateFor(false, e.control.Running, e.metrics.RPM)
		e.pushAlert(motor.AlertInfo, motor.MsgFaultCleared)
	})
}

func (e *Engine) send(ctx context.Context, endpoint string, payload any) bool {
	ok := e.remote.SendCommand(ctx, endpoint, payload)
	if !ok {
		e.logger.Warn().
			Str("endpoint", endpoint).
			Interface("payload", payload).
			Msg("Command not acknowledged by controller, applying locally")
	}

	return ok
}

// apply runs fn under the engine lock unless the engine is stopped, then
// publishes the result.
func (e *Engine) apply(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}

	fn()
	e.publish()
}

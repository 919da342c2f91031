// Package motor holds the telemetry and status types shared by the
// acquisition engine, the controller client and the dashboard.
package motor

import (
	"math"
	"time"
)

const (
	MaxRPM                  = 3000
	MaxVoltage              = 48.0
	MaxCurrent              = 20.0
	MaxEfficiency           = 100.0
	AmbientTemperature      = 25.0
	MaxOperatingTemperature = 85.0
	InitialTemperature      = AmbientTemperature + 3.5

	ThermalWarningThreshold  = 55.0
	ThermalCriticalThreshold = 75.0

	// RunningRPMThreshold is the speed above which a running motor counts as spinning.
	RunningRPMThreshold = 50

	MinPWM = 0
	MaxPWM = 100

	MaxAlerts       = 5
	HistoryCapacity = 30
)

// Alert messages matched by the command dispatcher
const (
	MsgConnectionLost = "Lost connection to controller"
	MsgEmergencyStop  = "Emergency stop activated"
	MsgMotorStopped   = "Motor stopped"
	MsgFaultCleared   = "Fault cleared"
)

type (
	MotorState          string
	ThermalState        string
	ControllerStatus    string
	CommunicationStatus string
	SystemMode          string
	AlertKind           string
)

const (
	MotorIdle    MotorState = "idle"
	MotorRunning MotorState = "running"
	MotorFault   MotorState = "fault"

	ThermalNormal   ThermalState = "normal"
	ThermalWarning  ThermalState = "warning"
	ThermalCritical ThermalState = "critical"

	ControllerOnline  ControllerStatus = "online"
	ControllerOffline ControllerStatus = "offline"

	CommunicationStable      CommunicationStatus = "stable"
	CommunicationInterrupted CommunicationStatus = "interrupted"

	ModePrototype  SystemMode = "prototype"
	ModeSimulation SystemMode = "simulation"

	AlertWarning AlertKind = "warning"
	AlertError   AlertKind = "error"
	AlertInfo    AlertKind = "info"
)

// Metrics is one telemetry sample. It is replaced wholesale on every tick.
type Metrics struct {
	RPM         float64 `json:"rpm"`
	Voltage     float64 `json:"voltage"`
	Current     float64 `json:"current"`
	Power       float64 `json:"power"`
	Efficiency  float64 `json:"efficiency"`
	PWMDuty     float64 `json:"pwmDuty"`
	Temperature float64 `json:"temperature"`
}

type Alert struct {
	ID        string    `json:"id"`
	Kind      AlertKind `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Status struct {
	MotorState          MotorState          `json:"motorState"`
	ThermalState        ThermalState        `json:"thermalState"`
	ControllerStatus    ControllerStatus    `json:"controllerStatus"`
	CommunicationStatus CommunicationStatus `json:"communicationStatus"`
	SystemMode          SystemMode          `json:"systemMode"`
	LastUpdate          time.Time           `json:"lastUpdate"`
	Alerts              []Alert             `json:"alerts"`
}

type HistoryPoint struct {
	Time    string  `json:"time"`
	Power   float64 `json:"power"`
	Current float64 `json:"current"`
}

// Control is the operator intent, independent of measured speed.
type Control struct {
	Running   bool `json:"isRunning"`
	TargetPWM int  `json:"targetPwm"`
}

// DefaultMetrics returns the quiescent sample used at startup.
func DefaultMetrics() Metrics {
	return Metrics{
		RPM:         0,
		Voltage:     24.0,
		Current:     0.12,
		Power:       2.88,
		Efficiency:  0,
		PWMDuty:     0,
		Temperature: InitialTemperature,
	}
}

// DefaultStatus returns the quiescent status for the given mode.
func DefaultStatus(mode SystemMode, now time.Time) Status {
	return Status{
		MotorState:          MotorIdle,
		ThermalState:        ThermalNormal,
		ControllerStatus:    ControllerOnline,
		CommunicationStatus: CommunicationStable,
		SystemMode:          mode,
		LastUpdate:          now,
		Alerts:              []Alert{},
	}
}

// ModeFor maps the simulation flag to a SystemMode.
func ModeFor(simulation bool) SystemMode {
	if simulation {
		return ModeSimulation
	}

	return ModePrototype
}

// ThermalStateFor classifies a temperature. Lower bounds are inclusive.
func ThermalStateFor(temperature float64) ThermalState {
	switch {
	case temperature >= ThermalCriticalThreshold:
		return ThermalCritical
	case temperature >= ThermalWarningThreshold:
		return ThermalWarning
	default:
		return ThermalNormal
	}
}

// MotorStateFor derives the motor state. Fault is only produced by an
// externally reported fault, never from speed or temperature.
func MotorStateFor(faulted, running bool, rpm float64) MotorState {
	if faulted {
		return MotorFault
	}
	if running && rpm > RunningRPMThreshold {
		return MotorRunning
	}

	return MotorIdle
}

// ClampPWM clips a duty cycle request to [MinPWM, MaxPWM].
func ClampPWM(pwm int) int {
	return min(max(pwm, MinPWM), MaxPWM)
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

package controller

import "codeberg.org/mutker/motordash/internal/motor"

// Controller HTTP endpoints, relative to the configured base URL.
const (
	MetricsEndpoint = "/api/metrics"
	SpeedEndpoint   = "/api/speed"
	ControlEndpoint = "/api/control"
	StatusEndpoint  = "/api/status"
)

type Action string

const (
	ActionStart         Action = "start"
	ActionStop          Action = "stop"
	ActionEmergencyStop Action = "emergency_stop"
)

func (a Action) Valid() bool {
	switch a {
	case ActionStart, ActionStop, ActionEmergencyStop:
		return true
	default:
		return false
	}
}

type ControlRequest struct {
	Action Action `json:"action"`
}

type SpeedRequest struct {
	PWM int `json:"pwm"`
}

// MetricsResponse is the body of GET /api/metrics. Only rpm, voltage and
// current are mandatory on the wire; everything else may be omitted.
type MetricsResponse struct {
	RPM         *float64 `json:"rpm"`
	Voltage     *float64 `json:"voltage"`
	Current     *float64 `json:"current"`
	Power       *float64 `json:"power,omitempty"`
	Efficiency  *float64 `json:"efficiency,omitempty"`
	PWM         *float64 `json:"pwm,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Running bool   `json:"running"`
	PWM     int    `json:"pwm"`
	Fault   string `json:"fault,omitempty"`
}

// MetricsResponseFrom encodes m the way the controller firmware reports it.
func MetricsResponseFrom(m motor.Metrics) MetricsResponse {
	return MetricsResponse{
		RPM:         &m.RPM,
		Voltage:     &m.Voltage,
		Current:     &m.Current,
		Power:       &m.Power,
		Efficiency:  &m.Efficiency,
		PWM:         &m.PWMDuty,
		Temperature: &m.Temperature,
	}
}

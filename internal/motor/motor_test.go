package motor_test

import (
	"fmt"
	"testing"
	"time"

	"codeberg.org/mutker/motordash/internal/motor"
	"github.com/stretchr/testify/assert"
)

func TestThermalStateFor(t *testing.T) {
	tests := []struct {
		temperature float64
		want        motor.ThermalState
	}{
		{0, motor.ThermalNormal},
		{25, motor.ThermalNormal},
		{54.9, motor.ThermalNormal},
		{55.0, motor.ThermalWarning},
		{74.9, motor.ThermalWarning},
		{75.0, motor.ThermalCritical},
		{120, motor.ThermalCritical},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.1f", tt.temperature), func(t *testing.T) {
			assert.Equal(t, tt.want, motor.ThermalStateFor(tt.temperature))
		})
	}
}

func TestMotorStateFor(t *testing.T) {
	assert.Equal(t, motor.MotorIdle, motor.MotorStateFor(false, false, 2000))
	assert.Equal(t, motor.MotorIdle, motor.MotorStateFor(false, true, 50))
	assert.Equal(t, motor.MotorRunning, motor.MotorStateFor(false, true, 51))
	assert.Equal(t, motor.MotorFault, motor.MotorStateFor(true, true, 2000))
	assert.Equal(t, motor.MotorFault, motor.MotorStateFor(true, false, 0))
}

func TestClampPWM(t *testing.T) {
	assert.Equal(t, 100, motor.ClampPWM(150))
	assert.Equal(t, 0, motor.ClampPWM(-10))
	assert.Equal(t, 42, motor.ClampPWM(42))
}

func TestPushAlertCapsAndOrders(t *testing.T) {
	var alerts []motor.Alert
	for i := 0; i < 8; i++ {
		alerts = motor.PushAlert(alerts, motor.Alert{
			ID:        fmt.Sprint(i),
			Kind:      motor.AlertError,
			Message:   motor.MsgConnectionLost,
			Timestamp: time.Unix(int64(i), 0),
		})
	}

	assert.Len(t, alerts, motor.MaxAlerts)
	assert.Equal(t, "7", alerts[0].ID)
	assert.Equal(t, "3", alerts[4].ID)
}

func TestRemoveAlertsExactMatch(t *testing.T) {
	alerts := []motor.Alert{
		{ID: "a", Message: motor.MsgMotorStopped},
		{ID: "b", Message: "Motor stopped by operator"},
		{ID: "c", Message: motor.MsgMotorStopped},
	}

	out := motor.RemoveAlerts(alerts, motor.MsgMotorStopped)

	assert.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
	assert.Len(t, alerts, 3, "input must not be modified")
}

func TestDefaults(t *testing.T) {
	m := motor.DefaultMetrics()
	assert.Zero(t, m.RPM)
	assert.Equal(t, 28.5, m.Temperature)

	s := motor.DefaultStatus(motor.ModeFor(true), time.Time{})
	assert.Equal(t, motor.MotorIdle, s.MotorState)
	assert.Equal(t, motor.CommunicationStable, s.CommunicationStatus)
	assert.Equal(t, motor.ModeSimulation, s.SystemMode)
	assert.Empty(t, s.Alerts)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.2, motor.Round(1.24, 1))
	assert.Equal(t, 1.25, motor.Round(1.249, 2))
	assert.Equal(t, 1500.0, motor.Round(1499.6, 0))
}

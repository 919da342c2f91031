// Package simulation models a brushed DC motor driven by a PWM duty cycle:
// first-order speed response, supply sag under load, non-linear current
// draw and a first-order thermal lag.
package simulation

import (
	"math"

	"codeberg.org/mutker/motordash/internal/motor"
)

const (
	spinDownFactor = 0.85 // rpm kept per tick when stopped
	spinUpGain     = 0.15 // fraction of the speed gap closed per tick
	rpmJitter      = 10.0 // peak to peak

	nominalVoltage = 24.0
	voltageSag     = 1.5
	voltageJitter  = 0.3
	standbyVoltage = 0.2

	baseCurrent     = 0.5
	loadCurrent     = 15.0
	currentExponent = 1.3
	currentJitter   = 0.3
	idleCurrent     = 0.1
	idleCurrentSpan = 0.05

	peakEfficiency     = 85.0
	peakEfficiencyLoad = 0.6
	efficiencyPenalty  = 20.0
	efficiencyJitter   = 2.0
	minEfficiencyRPM   = 100.0
	thermalResistance  = 0.08 // °C per W dissipated
	loadHeating        = 35.0 // °C at full load
	temperatureJitter  = 1.0
	thermalGain        = 0.03
	coolingRate        = 0.02
)

// Source supplies uniform samples in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Model computes the next sample from the previous one. It is not safe
// for concurrent use; callers serialise access.
type Model struct {
	rng Source
}

func New(rng Source) *Model {
	return &Model{rng: rng}
}

// jitter returns a symmetric perturbation with the given peak-to-peak span.
func (m *Model) jitter(span float64) float64 {
	return (m.rng.Float64() - 0.5) * span
}

// Next returns the metrics one tick after prev.
func (m *Model) Next(prev motor.Metrics, targetPWM int, running bool) motor.Metrics {
	if !running {
		return m.coast(prev)
	}

	return m.drive(prev, motor.ClampPWM(targetPWM))
}

func (m *Model) coast(prev motor.Metrics) motor.Metrics {
	voltage := motor.Round(nominalVoltage+m.jitter(standbyVoltage), 1)
	current := motor.Round(idleCurrent+m.rng.Float64()*idleCurrentSpan, 2)

	temperature := prev.Temperature - (prev.Temperature-motor.AmbientTemperature)*coolingRate

	return motor.Metrics{
		RPM:         math.Floor(max(0, prev.RPM*spinDownFactor)),
		Voltage:     voltage,
		Current:     current,
		Power:       motor.Round(voltage*current, 1),
		Efficiency:  0,
		PWMDuty:     0,
		Temperature: max(motor.AmbientTemperature, motor.Round(temperature, 1)),
	}
}

func (m *Model) drive(prev motor.Metrics, targetPWM int) motor.Metrics {
	targetRPM := float64(targetPWM) / 100 * motor.MaxRPM
	rpm := prev.RPM + (targetRPM-prev.RPM)*spinUpGain + m.jitter(rpmJitter)
	rpm = motor.Round(min(max(0, rpm), motor.MaxRPM), 0)

	load := rpm / motor.MaxRPM

	voltage := motor.Round(nominalVoltage-load*voltageSag+m.jitter(voltageJitter), 1)
	current := baseCurrent + math.Pow(load, currentExponent)*loadCurrent + m.jitter(currentJitter)
	current = motor.Round(max(0, current), 2)
	power := motor.Round(voltage*current, 1)

	efficiency := peakEfficiency - math.Abs(load-peakEfficiencyLoad)*efficiencyPenalty + m.jitter(efficiencyJitter)
	if rpm <= minEfficiencyRPM {
		efficiency = 0
	}
	efficiency = motor.Round(max(0, efficiency), 1)

	heat := power * (1 - efficiency/100) * thermalResistance
	targetTemp := motor.AmbientTemperature + load*loadHeating + heat + m.jitter(temperatureJitter)
	temperature := prev.Temperature + (targetTemp-prev.Temperature)*thermalGain
	temperature = min(max(temperature, motor.AmbientTemperature), motor.MaxOperatingTemperature)

	return motor.Metrics{
		RPM:         rpm,
		Voltage:     voltage,
		Current:     current,
		Power:       power,
		Efficiency:  efficiency,
		PWMDuty:     float64(targetPWM),
		Temperature: motor.Round(temperature, 1),
	}
}

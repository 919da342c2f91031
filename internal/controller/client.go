// Package controller talks to the motor controller firmware over HTTP.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/motordash/internal/errors"
	"codeberg.org/mutker/motordash/internal/logger"
	"codeberg.org/mutker/motordash/internal/motor"
	"codeberg.org/mutker/motordash/internal/settings"
)

const (
	DefaultTimeout = 3 * time.Second

	maxResponseBytes = 1 << 16
	userAgent        = "motordash/1.0"
)

// SettingsSource provides the settings in effect at call time.
type SettingsSource interface {
	Current() settings.Settings
}

type Client struct {
	settings   SettingsSource
	httpClient *http.Client
	logger     logger.Logger
}

// New returns a Client that resolves the base URL and mode from src on
// every call. A non-positive timeout selects DefaultTimeout.
func New(src SettingsSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		settings:   src,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Component("controller"),
	}
}

// FetchMetrics reads one telemetry sample. Any failure is returned as an
// error carrying ErrCommunication.
func (c *Client) FetchMetrics(ctx context.Context) (motor.Metrics, error) {
	errFactory := errors.New()
	endpoint := c.url(MetricsEndpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return motor.Metrics{}, errFactory.Wrap(ErrCommunication, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			err = errFactory.Wrap(errors.ErrTimeout, err)
		}
		return motor.Metrics{}, errFactory.Wrap(ErrCommunication, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return motor.Metrics{}, errFactory.WithData(ErrCommunication, fmt.Sprintf("GET %s: %s", endpoint, resp.Status))
	}

	var body MetricsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return motor.Metrics{}, errFactory.Wrap(ErrCommunication, err)
	}

	return body.Normalize(), nil
}

// SendCommand posts payload to endpoint and reports whether the controller
// accepted it. In simulation mode it succeeds without touching the network.
// Failures are logged and reported as false, never returned.
func (c *Client) SendCommand(ctx context.Context, endpoint string, payload any) bool {
	if c.settings.Current().SimulationMode {
		return true
	}

	target := c.url(endpoint)
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.ErrorWithCode(errors.New().Wrap(ErrRequestBuild, err)).Str("url", target).Msg("Failed to encode command")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		c.logger.ErrorWithCode(errors.New().Wrap(ErrRequestBuild, err)).Str("url", target).Msg("Failed to build command request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", target).Msg("Command send failed")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().
			Str("url", target).
			Int("status_code", resp.StatusCode).
			Msg("Controller rejected command")
		return false
	}

	c.logger.Debug().Str("url", target).RawJSON("payload", data).Msg("Command sent")

	return true
}

func (c *Client) url(endpoint string) string {
	return strings.TrimRight(c.settings.Current().APIBaseURL, "/") + endpoint
}

// Normalize fills in absent fields: power is derived from voltage and
// current, efficiency and pwm default to zero, temperature to the startup
// reading. Non-finite or negative values are treated as absent and the rest
// are clamped to the motor's operating ranges.
func (r MetricsResponse) Normalize() motor.Metrics {
	m := motor.Metrics{
		RPM:         clamp(value(r.RPM, 0), 0, motor.MaxRPM),
		Voltage:     clamp(value(r.Voltage, 0), 0, motor.MaxVoltage),
		Current:     clamp(value(r.Current, 0), 0, motor.MaxCurrent),
		Efficiency:  clamp(value(r.Efficiency, 0), 0, motor.MaxEfficiency),
		PWMDuty:     clamp(value(r.PWM, 0), motor.MinPWM, motor.MaxPWM),
		Temperature: clamp(value(r.Temperature, motor.InitialTemperature), motor.AmbientTemperature, motor.MaxOperatingTemperature),
	}

	m.Power = value(r.Power, 0)
	if m.Power == 0 {
		m.Power = m.Voltage * m.Current
	}

	return m
}

func value(v *float64, def float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return def
	}

	return *v
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

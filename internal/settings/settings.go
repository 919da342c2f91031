// Package settings holds the operator-editable dashboard settings and
// persists them across restarts.
package settings

import (
	"net/url"
	"time"

	"codeberg.org/mutker/motordash/internal/errors"
)

const (
	DefaultAPIBaseURL     = "http://192.168.1.100"
	DefaultRefreshRateMs  = 1000
	DefaultSimulationMode = true
)

// RecommendedRefreshRates lists the rates offered by the UI. They are not enforced.
var RecommendedRefreshRates = []int{250, 500, 1000, 2000, 5000}

type Settings struct {
	APIBaseURL     string `json:"apiBaseUrl"`
	RefreshRateMs  int    `json:"refreshRate"`
	SimulationMode bool   `json:"simulationMode"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	APIBaseURL     *string `json:"apiBaseUrl,omitempty"`
	RefreshRateMs  *int    `json:"refreshRate,omitempty"`
	SimulationMode *bool   `json:"simulationMode,omitempty"`
}

func Defaults() Settings {
	return Settings{
		APIBaseURL:     DefaultAPIBaseURL,
		RefreshRateMs:  DefaultRefreshRateMs,
		SimulationMode: DefaultSimulationMode,
	}
}

// RefreshInterval returns the acquisition period.
func (s Settings) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshRateMs) * time.Millisecond
}

func (s Settings) Validate() error {
	errFactory := errors.New()

	if s.RefreshRateMs <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, s.RefreshRateMs)
	}

	u, err := url.Parse(s.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errFactory.WithData(errors.ErrInvalidBaseURL, s.APIBaseURL)
	}

	return nil
}

// Apply returns s with the non-nil fields of p applied.
func (s Settings) Apply(p Patch) Settings {
	if p.APIBaseURL != nil {
		s.APIBaseURL = *p.APIBaseURL
	}
	if p.RefreshRateMs != nil {
		s.RefreshRateMs = *p.RefreshRateMs
	}
	if p.SimulationMode != nil {
		s.SimulationMode = *p.SimulationMode
	}

	return s
}

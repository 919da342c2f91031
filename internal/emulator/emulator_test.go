package emulator_test

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"codeberg.org/mutker/motordash/internal/controller"
	"codeberg.org/mutker/motordash/internal/emulator"
	"codeberg.org/mutker/motordash/internal/engine"
	"codeberg.org/mutker/motordash/internal/errors"
	"codeberg.org/mutker/motordash/internal/motor"
	"codeberg.org/mutker/motordash/internal/settings"
	"codeberg.org/mutker/motordash/internal/simulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hotMotor struct{}

func (hotMotor) Next(prev motor.Metrics, targetPWM int, running bool) motor.Metrics {
	prev.Temperature = motor.MaxOperatingTemperature
	return prev
}

func newEmulator(t *testing.T) (*emulator.Emulator, *httptest.Server) {
	t.Helper()
	emu := emulator.New(simulation.New(rand.New(rand.NewSource(11))))
	ts := httptest.NewServer(emu.Handler())
	t.Cleanup(ts.Close)
	return emu, ts
}

func TestApplyActions(t *testing.T) {
	emu := emulator.New(simulation.New(rand.New(rand.NewSource(1))))

	require.NoError(t, emu.Apply(controller.ActionStart))
	emu.SetSpeed(140)
	assert.Equal(t, controller.StatusResponse{Running: true, PWM: 100}, emu.Status())

	for i := 0; i < 10; i++ {
		emu.Step()
	}

	require.NoError(t, emu.Apply(controller.ActionEmergencyStop))
	assert.Equal(t, controller.StatusResponse{Fault: emulator.FaultEmergencyStop}, emu.Status())

	err := emu.Apply(controller.Action("reverse"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, emulator.ErrUnknownAction))
}

func TestOvertemperatureTrip(t *testing.T) {
	emu := emulator.New(hotMotor{})
	require.NoError(t, emu.Apply(controller.ActionStart))

	emu.Step()

	status := emu.Status()
	assert.False(t, status.Running)
	assert.Equal(t, emulator.FaultOvertemperature, status.Fault)

	err := emu.Apply(controller.ActionStart)
	assert.True(t, errors.HasCode(err, emulator.ErrFaulted), "restart refused while still hot")
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	_, ts := newEmulator(t)

	resp, err := http.Post(ts.URL+controller.ControlEndpoint, "application/json", strings.NewReader(`{"action":"reverse"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + controller.SpeedEndpoint)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestClientAgainstEmulator(t *testing.T) {
	emu, ts := newEmulator(t)
	ctx := context.Background()

	defaults := settings.Defaults()
	defaults.APIBaseURL = ts.URL
	defaults.SimulationMode = false
	store, err := settings.Open(ctx, "", defaults)
	require.NoError(t, err)

	client := controller.New(store, 0)
	assert.True(t, client.SendCommand(ctx, controller.ControlEndpoint, controller.ControlRequest{Action: controller.ActionStart}))
	assert.True(t, client.SendCommand(ctx, controller.SpeedEndpoint, controller.SpeedRequest{PWM: 60}))

	var stepped motor.Metrics
	for i := 0; i < 15; i++ {
		stepped = emu.Step()
	}

	got, err := client.FetchMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, stepped, got)
}

func TestEngineInPrototypeMode(t *testing.T) {
	emu, ts := newEmulator(t)
	ctx := context.Background()

	defaults := settings.Defaults()
	defaults.APIBaseURL = ts.URL + "/"
	defaults.SimulationMode = false
	store, err := settings.Open(ctx, "", defaults)
	require.NoError(t, err)

	eng := engine.New(store, simulation.New(rand.New(rand.NewSource(2))), controller.New(store, 0))
	defer eng.Stop()

	require.True(t, eng.Start(ctx))
	require.True(t, eng.SetTargetPWM(ctx, 50))
	for i := 0; i < 20; i++ {
		emu.Step()
		eng.Tick(ctx)
	}

	snap := eng.Snapshot()
	assert.Equal(t, motor.ModePrototype, snap.Status.SystemMode)
	assert.Equal(t, motor.CommunicationStable, snap.Status.CommunicationStatus)
	assert.Equal(t, motor.MotorRunning, snap.Status.MotorState)
	assert.Greater(t, snap.Metrics.RPM, 1000.0)
	assert.Len(t, snap.History, 20)

	require.True(t, eng.EmergencyStop(ctx))
	assert.Equal(t, emulator.FaultEmergencyStop, emu.Status().Fault)

	ts.Close()
	eng.Tick(ctx)

	snap = eng.Snapshot()
	assert.Equal(t, motor.CommunicationInterrupted, snap.Status.CommunicationStatus)
	assert.Equal(t, motor.ControllerOffline, snap.Status.ControllerStatus)
	assert.Equal(t, motor.MsgConnectionLost, snap.Status.Alerts[0].Message)
}

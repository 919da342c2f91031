package dashboard_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/motordash/internal/controller"
	"codeberg.org/mutker/motordash/internal/dashboard"
	"codeberg.org/mutker/motordash/internal/engine"
	"codeberg.org/mutker/motordash/internal/motor"
	"codeberg.org/mutker/motordash/internal/settings"
	"codeberg.org/mutker/motordash/internal/simulation"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine *engine.Engine
	store  *settings.Store
	server *dashboard.Server
	http   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := settings.Open(context.Background(), "", settings.Defaults())
	require.NoError(t, err)

	eng := engine.New(store, simulation.New(rand.New(rand.NewSource(7))), controller.New(store, 0))
	srv := dashboard.New("127.0.0.1:0", eng, store)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		eng.Stop()
	})

	return &fixture{engine: eng, store: store, server: srv, http: ts}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.http.URL+path, &buf)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type ackBody struct {
	Acknowledged bool `json:"acknowledged"`
}

type errBody struct {
	Error string `json:"error"`
}

func TestSnapshotEndpoint(t *testing.T) {
	f := newFixture(t)
	f.engine.Tick(context.Background())

	resp := f.do(t, http.MethodGet, "/api/snapshot", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	for _, key := range []string{"metrics", "status", "powerHistory", "isRunning", "targetPwm"} {
		assert.Contains(t, raw, key)
	}

	var status motor.Status
	require.NoError(t, json.Unmarshal(raw["status"], &status))
	assert.Equal(t, motor.MotorIdle, status.MotorState)
	assert.Equal(t, motor.ModeSimulation, status.SystemMode)
}

func TestControlEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/control", map[string]string{"action": "start"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[ackBody](t, resp).Acknowledged)
	assert.True(t, f.engine.Snapshot().IsRunning)

	resp = f.do(t, http.MethodPost, "/api/control", map[string]string{"action": "emergency_stop"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := f.engine.Snapshot()
	assert.False(t, snap.IsRunning)
	assert.Equal(t, motor.MsgEmergencyStop, snap.Status.Alerts[0].Message)

	resp = f.do(t, http.MethodPost, "/api/control", map[string]string{"action": "reverse"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(dashboard.ErrUnknownAction), decode[errBody](t, resp).Error)

	resp = f.do(t, http.MethodGet, "/api/control", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSpeedEndpointClamps(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/speed", map[string]int{"pwm": 150})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[ackBody](t, resp).Acknowledged)
	assert.Equal(t, 100, f.engine.Snapshot().TargetPWM)

	f.do(t, http.MethodPost, "/api/speed", map[string]int{"pwm": -10})
	assert.Equal(t, 0, f.engine.Snapshot().TargetPWM)

	resp = f.do(t, http.MethodPost, "/api/speed", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(dashboard.ErrInvalidRequest), decode[errBody](t, resp).Error)
}

func TestSettingsEndpoints(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, settings.Defaults(), decode[settings.Settings](t, resp))

	resp = f.do(t, http.MethodPut, "/api/settings", map[string]any{"refreshRate": 500})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[settings.Settings](t, resp)
	assert.Equal(t, 500, got.RefreshRateMs)
	assert.True(t, got.SimulationMode, "fields absent from the patch are kept")
	assert.Equal(t, 500, f.store.Current().RefreshRateMs)

	resp = f.do(t, http.MethodPut, "/api/settings", map[string]any{"refreshRate": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(settings.ErrInvalidSettings), decode[errBody](t, resp).Error)
	assert.Equal(t, 500, f.store.Current().RefreshRateMs)

	resp = f.do(t, http.MethodPost, "/api/settings/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, settings.Defaults(), decode[settings.Settings](t, resp))
}

func TestFaultEndpoints(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/fault", map[string]string{"message": "overtemperature"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, motor.MotorFault, f.engine.Snapshot().Status.MotorState)

	resp = f.do(t, http.MethodDelete, "/api/fault", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, motor.MotorIdle, f.engine.Snapshot().Status.MotorState)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "simulation", body["mode"])
}

func TestWebSocketStreamsSnapshots(t *testing.T) {
	store, err := settings.Open(context.Background(), "", settings.Defaults())
	require.NoError(t, err)
	eng := engine.New(store, simulation.New(rand.New(rand.NewSource(7))), controller.New(store, 0))
	defer eng.Stop()

	srv := dashboard.New("", eng, store)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var first engine.Snapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, motor.MotorIdle, first.Status.MotorState)

	eng.Tick(ctx)
	eng.Tick(ctx)

	require.Eventually(t, func() bool {
		var snap engine.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			return false
		}
		return len(snap.History) == 2
	}, 2*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWebSocketRefusedWithoutHub(t *testing.T) {
	f := newFixture(t)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.http.URL, "http")+"/ws", nil)
	if conn != nil {
		conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/greenhouse-controller/internal/arduino"
	"github.com/thatsimonsguy/greenhouse-controller/internal/config"
	"github.com/thatsimonsguy/greenhouse-controller/internal/controls"
	"github.com/thatsimonsguy/greenhouse-controller/internal/irrigation"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
	"github.com/thatsimonsguy/greenhouse-controller/internal/reconciler"
	"github.com/thatsimonsguy/greenhouse-controller/internal/store"
	"github.com/thatsimonsguy/greenhouse-controller/internal/weather"
)

type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (h *fakeHub) Broadcast(eventType string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

func (h *fakeHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (h *fakeHub) ClientCount() int { return 2 }

func (h *fakeHub) sent() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

type fakeDevice struct {
	mu         sync.Mutex
	connected  bool
	err        error
	pumpWrites []bool
	cleared    int
	lastUpdate time.Time
}

func (d *fakeDevice) IsConnected() bool     { return d.connected }
func (d *fakeDevice) LastUpdate() time.Time { return d.lastUpdate }

func (d *fakeDevice) ControlPump(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.pumpWrites = append(d.pumpWrites, on)
	return nil
}

func (d *fakeDevice) ClearEmergency() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.cleared++
	return nil
}

type fakeWeather struct{}

func (fakeWeather) Current(ctx context.Context) weather.Data {
	return weather.Data{Temperature: 18.5, Location: "Test"}
}

type testServer struct {
	server *Server
	store  *store.SQLite
	hub    *fakeHub
	device *fakeDevice
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mgr := controls.NewManager(st)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go mgr.Run(ctx)

	timers := irrigation.NewTimers(false)
	t.Cleanup(timers.Stop)

	h := &fakeHub{}
	rc := reconciler.New(st, mgr, h, timers, reconciler.Options{})

	cfg := &config.Config{HTTPPort: 0, AllowedOrigins: []string{"http://localhost:5173"}}
	server := NewServer(cfg, st, mgr, rc, h)
	device := &fakeDevice{}
	server.SetDevice(device)
	server.SetWeather(fakeWeather{})

	return &testServer{server: server, store: st, hub: h, device: device}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestLatestReadingEmpty(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/sensor-data/latest", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostSensorData(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/sensor-data", map[string]any{
		"temperature": 24.0, "humidity": 60.0, "lightLevel": 700.0, "soilMoisture": 25.0,
	})
	require.Equal(t, http.StatusOK, w.Code)

	saved := decodeBody[model.SensorReading](t, w)
	assert.NotZero(t, saved.ID)
	assert.Equal(t, 75.0, saved.WaterLevel)
	assert.False(t, saved.PumpStatus)
	assert.Equal(t, []string{model.EventSensorData, model.EventNewAlert}, ts.hub.sent())

	alerts, err := ts.store.Alerts()
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertError, alerts[0].Type)

	w = ts.do(t, http.MethodGet, "/api/sensor-data/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, saved.ID, decodeBody[model.SensorReading](t, w).ID)

	w = ts.do(t, http.MethodGet, "/api/sensor-data/history?hours=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]model.SensorReading](t, w), 1)
}

func TestPostSensorDataInvalid(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"invalid json", "not json"},
		{"missing soil moisture", map[string]any{"temperature": 20.0, "humidity": 50.0, "lightLevel": 100.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/sensor-data", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, w).Error)
		})
	}
}

func TestPutSystemControls(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPut, "/api/system-controls", map[string]bool{"lighting": true})
	require.Equal(t, http.StatusOK, w.Code)

	c := decodeBody[model.ControlState](t, w)
	assert.True(t, c.Lighting)
	assert.True(t, c.Ventilation, "untouched controls keep their value")

	w = ts.do(t, http.MethodGet, "/api/system-controls", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[model.ControlState](t, w).Lighting)

	activity, err := ts.store.RecentActivity(1)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, "Controls changed: lighting", activity[0].Details)
	assert.Contains(t, ts.hub.sent(), model.EventSystemControls)
}

func TestScheduleLifecycle(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/irrigation-schedules", map[string]any{"name": "Noon", "time": "12:00", "duration": 8})
	require.Equal(t, http.StatusOK, w.Code)
	created := decodeBody[model.IrrigationSchedule](t, w)
	assert.True(t, created.IsActive)

	w = ts.do(t, http.MethodPut, "/api/irrigation-schedules/"+itoa(created.ID), map[string]any{"duration": 12})
	require.Equal(t, http.StatusOK, w.Code)
	updated := decodeBody[model.IrrigationSchedule](t, w)
	assert.Equal(t, 12, updated.Duration)
	assert.Equal(t, "Noon", updated.Name)

	w = ts.do(t, http.MethodDelete, "/api/irrigation-schedules/"+itoa(created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[SuccessResponse](t, w).Success)

	w = ts.do(t, http.MethodGet, "/api/irrigation-schedules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]model.IrrigationSchedule](t, w), 3)

	assert.Equal(t, []string{model.EventScheduleCreated, model.EventScheduleUpdated, model.EventScheduleDeleted}, ts.hub.sent())
}

func TestScheduleErrors(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"create missing name", http.MethodPost, "/api/irrigation-schedules", map[string]any{"time": "12:00", "duration": 5}, http.StatusBadRequest},
		{"create bad time", http.MethodPost, "/api/irrigation-schedules", map[string]any{"name": "x", "time": "25:99", "duration": 5}, http.StatusBadRequest},
		{"create zero duration", http.MethodPost, "/api/irrigation-schedules", map[string]any{"name": "x", "time": "12:00", "duration": 0}, http.StatusBadRequest},
		{"update non numeric id", http.MethodPut, "/api/irrigation-schedules/abc", map[string]any{"duration": 5}, http.StatusBadRequest},
		{"update missing", http.MethodPut, "/api/irrigation-schedules/999", map[string]any{"duration": 5}, http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/irrigation-schedules/999", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}
	assert.Empty(t, ts.hub.sent())
}

func TestAlertEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/system-alerts", map[string]any{"title": "Door", "message": "Open", "type": "info"})
	require.Equal(t, http.StatusOK, w.Code)
	alert := decodeBody[model.SystemAlert](t, w)

	w = ts.do(t, http.MethodPut, "/api/system-alerts/"+itoa(alert.ID)+"/read", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/system-alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	alerts := decodeBody[[]model.SystemAlert](t, w)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].IsRead)

	w = ts.do(t, http.MethodDelete, "/api/system-alerts/"+itoa(alert.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/system-alerts/"+itoa(alert.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/system-alerts", map[string]any{"title": "x", "message": "y", "type": "critical"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, []string{model.EventNewAlert, model.EventAlertRead, model.EventAlertDeleted}, ts.hub.sent())
}

func TestActivityLimit(t *testing.T) {
	ts := setupTestServer(t)
	for i := 0; i < 12; i++ {
		_, err := ts.store.LogActivity(model.SystemActivity{Description: "entry", Icon: "fas fa-cog"})
		require.NoError(t, err)
	}

	w := ts.do(t, http.MethodGet, "/api/system-activity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]model.SystemActivity](t, w), 10)

	w = ts.do(t, http.MethodGet, "/api/system-activity?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]model.SystemActivity](t, w), 3)
}

func TestIrrigateDefaultsToFiveMinutes(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/actions/irrigate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Irrigation started for 5 minutes", decodeBody[SuccessResponse](t, w).Message)

	c, err := ts.store.Controls()
	require.NoError(t, err)
	assert.True(t, c.Irrigation)

	w = ts.do(t, http.MethodGet, "/api/actions/pending-timers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pending := decodeBody[[]irrigation.Pending](t, w)
	require.Len(t, pending, 1)
	assert.Equal(t, irrigation.ManualKey, pending[0].Key)

	w = ts.do(t, http.MethodPost, "/api/actions/irrigate", map[string]int{"duration": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmergencyStopEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/actions/emergency-stop", nil)
	require.Equal(t, http.StatusOK, w.Code)

	c, err := ts.store.Controls()
	require.NoError(t, err)
	assert.False(t, c.Irrigation)
	assert.False(t, c.Ventilation)
	assert.False(t, c.Lighting)
	assert.False(t, c.Heating)
	assert.Contains(t, ts.hub.sent(), model.EventEmergencyStop)
}

func TestArduinoPump(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		noDevice  bool
		err       error
		status    int
		writes    int
	}{
		{"connected", true, false, nil, http.StatusOK, 1},
		{"disconnected", false, false, nil, http.StatusServiceUnavailable, 0},
		{"no device", false, true, nil, http.StatusServiceUnavailable, 0},
		{"lost mid write", true, false, arduino.ErrNotConnected, http.StatusServiceUnavailable, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t)
			ts.device.connected = tt.connected
			ts.device.err = tt.err
			if tt.noDevice {
				ts.server.SetDevice(nil)
			}

			w := ts.do(t, http.MethodPost, "/api/arduino/pump", PumpRequest{State: true})
			assert.Equal(t, tt.status, w.Code)
			assert.Len(t, ts.device.pumpWrites, tt.writes)

			if tt.status == http.StatusOK {
				resp := decodeBody[PumpResponse](t, w)
				assert.True(t, resp.Success)
				assert.True(t, resp.PumpState)
			} else {
				assert.Equal(t, notConnectedMessage, decodeBody[ErrorResponse](t, w).Error)
			}
		})
	}
}

func TestClearEmergency(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/arduino/clear-emergency", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ts.device.connected = true
	w = ts.do(t, http.MethodPost, "/api/arduino/clear-emergency", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.device.cleared)
}

func TestArduinoStatus(t *testing.T) {
	ts := setupTestServer(t)
	ts.device.connected = true
	ts.device.lastUpdate = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	w := ts.do(t, http.MethodGet, "/api/arduino/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[ArduinoStatusResponse](t, w)
	assert.True(t, resp.Connected)
	assert.True(t, resp.LastUpdate.Equal(ts.device.lastUpdate))
}

func TestWeatherAndHealth(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/weather", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 18.5, decodeBody[weather.Data](t, w).Temperature)

	w = ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decodeBody[map[string]any](t, w)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 2.0, health["clients"])
}

func TestCORSPreflight(t *testing.T) {
	ts := setupTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/system-controls", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

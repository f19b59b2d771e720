package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

func startHub(t *testing.T, connected bool) (*Hub, string) {
	t.Helper()
	h := New(func() bool { return connected })
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readEvent(t *testing.T, conn *websocket.Conn) model.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev model.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func TestNewClientReceivesStatusFirst(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
	}{
		{"disconnected", false},
		{"connected", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, url := startHub(t, tt.connected)

			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			require.NoError(t, err)
			defer conn.Close()

			ev := readEvent(t, conn)
			assert.Equal(t, model.EventArduinoStatus, ev.Type)
			var status map[string]bool
			require.NoError(t, json.Unmarshal(ev.Data, &status))
			assert.Equal(t, tt.connected, status["connected"])

			require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
		})
	}
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	h, url := startHub(t, false)

	var conns []*websocket.Conn
	for i := 0; i < 3; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()
		readEvent(t, conn)
		conns = append(conns, conn)
	}
	require.Eventually(t, func() bool { return h.ClientCount() == 3 }, time.Second, 10*time.Millisecond)

	h.Broadcast(model.EventSensorData, model.SensorReading{ID: 9, SoilMoisture: 41})

	for _, conn := range conns {
		ev := readEvent(t, conn)
		assert.Equal(t, model.EventSensorData, ev.Type)
		var r model.SensorReading
		require.NoError(t, json.Unmarshal(ev.Data, &r))
		assert.Equal(t, int64(9), r.ID)
		assert.Equal(t, 41.0, r.SoilMoisture)
	}
}

func TestClosedClientIsRemoved(t *testing.T) {
	h, url := startHub(t, false)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	readEvent(t, conn)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Broadcasting with nobody listening is harmless.
	h.Broadcast(model.EventAlertDeleted, map[string]int64{"id": 1})
}

func TestEncode(t *testing.T) {
	msg, err := Encode(model.EventAlertRead, map[string]int64{"id": 4})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"alert-read","data":{"id":4}}`, string(msg))
}

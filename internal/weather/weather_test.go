package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCurrentCachesWithinTTL(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/forecast", r.URL.Path)
		assert.Equal(t, "51.5", r.URL.Query().Get("latitude"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"current":{"temperature_2m":18.44,"relative_humidity_2m":71.6,"wind_speed_10m":12.06,"weather_code":61}}`))
	}))
	defer srv.Close()

	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	orig := now
	defer func() { now = orig }()
	now = func() time.Time { return clock }

	c := NewClientWithBaseURL(srv.URL, 51.5, -0.12, 10*time.Minute)

	d := c.Current(context.Background())
	assert.Equal(t, 18.4, d.Temperature)
	assert.Equal(t, 72.0, d.Humidity)
	assert.Equal(t, 12.1, d.WindSpeed)
	assert.Equal(t, "Light rain", d.Description)
	assert.False(t, d.Fallback)

	clock = clock.Add(9 * time.Minute)
	c.Current(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	clock = clock.Add(2 * time.Minute)
	c.Current(context.Background())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCurrentFallsBackOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL(srv.URL, 0, 0, time.Minute)
	d := c.Current(context.Background())

	assert.True(t, d.Fallback)
	assert.Equal(t, 22.0, d.Temperature)
	assert.Equal(t, "Buenos Aires", d.Location)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Clear sky", Describe(0))
	assert.Equal(t, "Unknown", Describe(42))
}

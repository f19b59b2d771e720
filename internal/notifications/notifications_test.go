package notifications

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyPostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewWithBaseURL("greenhouse", srv.URL)
	require.NoError(t, c.Notify("Critical soil moisture", "Soil moisture is 12.0%"))

	assert.Equal(t, "greenhouse", got["topic"])
	assert.Equal(t, "Critical soil moisture", got["title"])
	assert.Equal(t, "Soil moisture is 12.0%", got["message"])
}

func TestNotifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewWithBaseURL("greenhouse", srv.URL)
	assert.Error(t, c.Notify("t", "m"))
}

func TestDisabledClientIsNoop(t *testing.T) {
	c := New("")
	assert.Nil(t, c)
	assert.NoError(t, c.Notify("t", "m"))
}

package valve

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_Open_ShouldReturnAcked_OnAckedResponse(t *testing.T) {
	var gotPath string
	var gotBody valveCommandRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(valveCommandResponse{Status: "acked"})
	}))
	defer srv.Close()

	transport := NewHTTPTransport(srv.URL)
	outcome, err := transport.Open(context.Background(), "valve-1", 10*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, Acked, outcome)
	assert.Equal(t, "/valves/valve-1/open", gotPath)
	assert.Equal(t, 600.0, gotBody.DurationSeconds)
}

func TestHTTPTransport_Close_ShouldReturnAcked_OnAckedResponse(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(valveCommandResponse{Status: "acked"})
	}))
	defer srv.Close()

	transport := NewHTTPTransport(srv.URL)
	outcome, err := transport.Close(context.Background(), "valve-2")

	require.NoError(t, err)
	assert.Equal(t, Acked, outcome)
	assert.Equal(t, "/valves/valve-2/close", gotPath)
}

func TestHTTPTransport_Open_ShouldReturnTimeout_OnTimeoutStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(valveCommandResponse{Status: "timeout"})
	}))
	defer srv.Close()

	outcome, err := NewHTTPTransport(srv.URL).Open(context.Background(), "valve-1", time.Minute)

	require.NoError(t, err)
	assert.Equal(t, Timeout, outcome)
}

func TestHTTPTransport_Open_ShouldReturnFault_OnNon200Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	outcome, err := NewHTTPTransport(srv.URL).Open(context.Background(), "valve-1", time.Minute)

	require.Error(t, err)
	assert.Equal(t, Fault, outcome)
}

func TestHTTPTransport_Open_ShouldReturnFault_OnUnrecognizedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(valveCommandResponse{Status: "huh"})
	}))
	defer srv.Close()

	outcome, err := NewHTTPTransport(srv.URL).Open(context.Background(), "valve-1", time.Minute)

	require.NoError(t, err)
	assert.Equal(t, Fault, outcome)
}

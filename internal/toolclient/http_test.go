package toolclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewHTTPClient(HTTPConfig{
		BaseURL:       server.URL,
		Timeout:       2 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    10 * time.Millisecond,
	})
	require.NoError(t, client.Connect(context.Background()))
	return client
}

func TestHTTPCallDefaultsToPost(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]interface{}

	client := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))

	result, err := client.Call(context.Background(), "tools/extract", map[string]interface{}{"request": "Deploy X"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/tools/extract", gotPath)
	assert.Equal(t, "Deploy X", gotBody["request"])
	assert.Equal(t, map[string]interface{}{"ok": true}, result)
}

func TestHTTPCallVerbPrefixedGet(t *testing.T) {
	var gotQuery string

	client := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		gotQuery = r.URL.Query().Get("id")
		json.NewEncoder(w).Encode(map[string]interface{}{"id": r.URL.Query().Get("id")})
	}))

	_, err := client.Call(context.Background(), "GET /api/items", map[string]interface{}{"id": "42"})
	require.NoError(t, err)
	assert.Equal(t, "42", gotQuery)
}

func TestHTTPCallRetriesThenSucceeds(t *testing.T) {
	var attempts int32

	client := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))

	_, err := client.Call(context.Background(), "flaky", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestHTTPCallSurfacesHTTPErrorAfterRetries(t *testing.T) {
	client := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))

	_, err := client.Call(context.Background(), "always-bad", nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Contains(t, httpErr.Body, "nope")
}

func TestHTTPCallAfterDisconnect(t *testing.T) {
	client := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	require.NoError(t, client.Disconnect())
	require.NoError(t, client.Disconnect()) // idempotent

	_, err := client.Call(context.Background(), "anything", nil)
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestHTTPHealthCheck(t *testing.T) {
	healthy := int32(1)
	client := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if atomic.LoadInt32(&healthy) == 1 {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))

	assert.True(t, client.HealthCheck(context.Background()))

	atomic.StoreInt32(&healthy, 0)
	assert.False(t, client.HealthCheck(context.Background()))
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		method   string
		wantVerb string
		wantPath string
	}{
		{"tools/run", http.MethodPost, "/tools/run"},
		{"/tools/run", http.MethodPost, "/tools/run"},
		{"GET /api/x", http.MethodGet, "/api/x"},
		{"delete /api/x", http.MethodDelete, "/api/x"},
		{"PUT api/x", http.MethodPut, "/api/x"},
		{"FETCH /api/x", http.MethodPost, "/FETCH /api/x"},
	}

	for _, tt := range tests {
		verb, path := splitMethod(tt.method)
		assert.Equal(t, tt.wantVerb, verb, tt.method)
		assert.Equal(t, tt.wantPath, path, tt.method)
	}
}

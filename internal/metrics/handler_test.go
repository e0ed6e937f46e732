package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	handler := Handler()
	assert.NotNil(t, handler)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	assert.NotPanics(t, func() {
		handler.ServeHTTP(rec, req)
	})

	assert.Equal(t, http.StatusOK, rec.Code)

	contentType := rec.Header().Get("Content-Type")
	assert.Contains(t, contentType, "text/plain")
}

func TestRegisterHandlers(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHandlers(mux)

	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
}

func TestRegisterHandlers_MultipleCalls(t *testing.T) {
	mux := http.NewServeMux()

	assert.NotPanics(t, func() {
		RegisterHandlers(mux)
	})
}

func TestHandler_ExposesSolverAndOpportunityCounters(t *testing.T) {
	RecordOpportunity(true, 0.0125)
	RecordSolverDuration("pathopt", 0.042)
	RecordSolverDuration("amountopt", 0.018)

	handler := Handler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "# TYPE")
}

func TestHandler_WithDifferentHTTPMethods(t *testing.T) {
	methods := []string{"GET", "POST", "HEAD"}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			handler := Handler()
			req := httptest.NewRequest(method, "/metrics", nil)
			rec := httptest.NewRecorder()

			assert.NotPanics(t, func() {
				handler.ServeHTTP(rec, req)
			})

			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestRegisterHandlers_WithHealthRoute(t *testing.T) {
	mux := http.NewServeMux()

	healthHandlerCalled := false
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthHandlerCalled = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	RegisterHandlers(mux)

	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, healthHandlerCalled)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_ReflectsSnapshotDegradation(t *testing.T) {
	RecordSnapshotRefresh("kraken", "ticker_error")
	RecordError("ticker_fetch", "snapshot")

	handler := Handler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.NotEmpty(t, body)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "# TYPE")
}

func TestHandler_ConcurrentAccess(t *testing.T) {
	handler := Handler()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			req := httptest.NewRequest("GET", "/metrics", nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

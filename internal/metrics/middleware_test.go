package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseWriter_WriteHeader(t *testing.T) {
	tests := []struct {
		name              string
		statusCode        int
		expectedCode      int
		callMultipleTimes bool
	}{
		{
			name:              "write 200 OK",
			statusCode:        http.StatusOK,
			expectedCode:      http.StatusOK,
			callMultipleTimes: false,
		},
		{
			name:              "write 404 Not Found",
			statusCode:        http.StatusNotFound,
			expectedCode:      http.StatusNotFound,
			callMultipleTimes: false,
		},
		{
			name:              "write 500 Internal Server Error",
			statusCode:        http.StatusInternalServerError,
			expectedCode:      http.StatusInternalServerError,
			callMultipleTimes: false,
		},
		{
			name:              "multiple writes - only first should be recorded",
			statusCode:        http.StatusOK,
			expectedCode:      http.StatusOK,
			callMultipleTimes: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			rw := &responseWriter{
				ResponseWriter: rec,
				statusCode:     http.StatusOK,
				written:        false,
			}

			rw.WriteHeader(tt.statusCode)
			assert.Equal(t, tt.expectedCode, rw.statusCode)
			assert.True(t, rw.written)

			if tt.callMultipleTimes {
				rw.WriteHeader(http.StatusBadRequest)
				assert.Equal(t, tt.expectedCode, rw.statusCode)
			}
		})
	}
}

func TestResponseWriter_Write(t *testing.T) {
	tests := []struct {
		name                 string
		data                 []byte
		expectedStatusCode   int
		callWriteHeaderFirst bool
		customStatusCode     int
	}{
		{
			name:                 "write without calling WriteHeader first",
			data:                 []byte(`{"legs":[]}`),
			expectedStatusCode:   http.StatusOK,
			callWriteHeaderFirst: false,
		},
		{
			name:                 "write after calling WriteHeader",
			data:                 []byte(`{"legs":[]}`),
			expectedStatusCode:   http.StatusCreated,
			callWriteHeaderFirst: true,
			customStatusCode:     http.StatusCreated,
		},
		{
			name:                 "write empty data",
			data:                 []byte{},
			expectedStatusCode:   http.StatusOK,
			callWriteHeaderFirst: false,
		},
		{
			name:                 "write a large plan payload",
			data:                 make([]byte, 1024),
			expectedStatusCode:   http.StatusOK,
			callWriteHeaderFirst: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			rw := &responseWriter{
				ResponseWriter: rec,
				statusCode:     http.StatusOK,
				written:        false,
			}

			if tt.callWriteHeaderFirst {
				rw.WriteHeader(tt.customStatusCode)
			}

			n, err := rw.Write(tt.data)
			assert.NoError(t, err)
			assert.Equal(t, len(tt.data), n)
			assert.Equal(t, tt.expectedStatusCode, rw.statusCode)
			assert.True(t, rw.written)
		})
	}
}

func TestHTTPMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		handlerStatus  int
		handlerBody    string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "GET /plan with a priced cycle",
			method:         "GET",
			path:           "/plan",
			handlerStatus:  http.StatusOK,
			handlerBody:    `{"legs":[{"symbol":"BTC/USDT"}],"profit_rate":0.0085}`,
			expectedStatus: http.StatusOK,
			expectedBody:   `{"legs":[{"symbol":"BTC/USDT"}],"profit_rate":0.0085}`,
		},
		{
			name:           "GET /health check",
			method:         "GET",
			path:           "/health",
			handlerStatus:  http.StatusOK,
			handlerBody:    `{"status":"healthy"}`,
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"healthy"}`,
		},
		{
			name:           "GET /plan before any cycle has run",
			method:         "GET",
			path:           "/plan",
			handlerStatus:  http.StatusNotFound,
			handlerBody:    `{"error":"no plan available"}`,
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"no plan available"}`,
		},
		{
			name:           "GET /plan when the solver errored",
			method:         "GET",
			path:           "/plan",
			handlerStatus:  http.StatusInternalServerError,
			handlerBody:    `{"error":"solver infeasible"}`,
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"error":"solver infeasible"}`,
		},
		{
			name:           "handler doesn't write - should default to 200",
			method:         "GET",
			path:           "/metrics",
			handlerStatus:  0,
			handlerBody:    "",
			expectedStatus: http.StatusOK,
			expectedBody:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.handlerStatus > 0 {
					w.WriteHeader(tt.handlerStatus)
				}
				if tt.handlerBody != "" {
					w.Write([]byte(tt.handlerBody))
				}
			})

			wrappedHandler := HTTPMiddleware(handler)

			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()

			wrappedHandler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Equal(t, tt.expectedBody, rec.Body.String())
		})
	}
}

func TestHTTPMiddleware_MetricsRecorded(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"profit_rate":0.01}`))
	})

	wrappedHandler := HTTPMiddleware(handler)

	req := httptest.NewRequest("GET", "/plan", nil)
	rec := httptest.NewRecorder()

	assert.NotPanics(t, func() {
		wrappedHandler.ServeHTTP(rec, req)
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"profit_rate":0.01}`, rec.Body.String())
}

func TestHTTPMiddleware_PreservesHeaders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cycle-ID", "cycle-42")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	wrappedHandler := HTTPMiddleware(handler)

	req := httptest.NewRequest("GET", "/plan", nil)
	rec := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "cycle-42", rec.Header().Get("X-Cycle-ID"))
}

func TestHTTPMiddleware_MultipleWrites(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"legs":[`))
		w.Write([]byte(`{"symbol":"ETH/USDT"}`))
		w.Write([]byte(`]}`))
	})

	wrappedHandler := HTTPMiddleware(handler)

	req := httptest.NewRequest("GET", "/plan", nil)
	rec := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"legs":[{"symbol":"ETH/USDT"}]}`, rec.Body.String())
}

func TestHTTPMiddleware_WithQueryParams(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	wrappedHandler := HTTPMiddleware(handler)

	req := httptest.NewRequest("GET", "/plan?exchange=kraken&symbol=SOL", nil)
	rec := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPMiddleware_DifferentHTTPMethods(t *testing.T) {
	methods := []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			wrappedHandler := HTTPMiddleware(handler)

			req := httptest.NewRequest(method, "/plan", nil)
			rec := httptest.NewRecorder()

			assert.NotPanics(t, func() {
				wrappedHandler.ServeHTTP(rec, req)
			})

			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

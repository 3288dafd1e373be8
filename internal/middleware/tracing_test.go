package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracing(t *testing.T) {
	var gotTraceID string
	handler := Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceID = TraceIDFromContext(r.Context())
	}))

	t.Run("generates id when absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.NotEmpty(t, gotTraceID)
		_, err := uuid.Parse(gotTraceID)
		assert.NoError(t, err)
		assert.Equal(t, gotTraceID, rec.Header().Get("X-Request-ID"))
	})

	t.Run("honors well-formed inbound id", func(t *testing.T) {
		inbound := uuid.New().String()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", inbound)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, inbound, gotTraceID)
		assert.Equal(t, inbound, rec.Header().Get("X-Request-ID"))
	})

	t.Run("replaces malformed inbound id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "not-a-uuid\nInjected: header")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.NotEmpty(t, gotTraceID)
		_, err := uuid.Parse(gotTraceID)
		assert.NoError(t, err)
		assert.NotContains(t, rec.Header().Get("X-Request-ID"), "Injected")
	})
}

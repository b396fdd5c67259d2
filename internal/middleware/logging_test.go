package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kumascript/internal/common/logging"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level:      logging.DebugLevel,
		Output:     &buf,
		TimeFormat: time.RFC3339,
	})
	require.NoError(t, err)

	original := logging.GetGlobalLogger()
	logging.SetGlobalLogger(logger)
	t.Cleanup(func() { logging.SetGlobalLogger(original) })
	return &buf
}

func TestLoggingMiddleware(t *testing.T) {
	buf := captureLogs(t)

	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(LineageHeader, "lineage-42")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/macros/missing?arg=1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	output := buf.String()
	assert.Contains(t, output, "WARN")
	assert.Contains(t, output, "/macros/missing")
	assert.Contains(t, output, "lineage-42")
	assert.Contains(t, output, "arg=1")
}

func TestRecover(t *testing.T) {
	buf := captureLogs(t)

	handler := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "boom")
}

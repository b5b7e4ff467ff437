package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	apimw "github.com/miauchat/dispatch/internal/api/middleware"
)

func echoCorrelation(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(apimw.GetCorrelationID(r.Context())))
}

func TestCorrelationID_UsesCallerHeader(t *testing.T) {
	h := apimw.CorrelationID(http.HandlerFunc(echoCorrelation))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(apimw.HeaderCorrelationID, "corr-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-42", rec.Header().Get(apimw.HeaderCorrelationID))
	assert.Equal(t, "corr-42", rec.Body.String())
}

func TestCorrelationID_FallsBackToRequestID(t *testing.T) {
	h := chimw.RequestID(apimw.CorrelationID(http.HandlerFunc(echoCorrelation)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-7", rec.Body.String())
}

func TestCorrelationID_GeneratesWhenAbsent(t *testing.T) {
	h := apimw.CorrelationID(http.HandlerFunc(echoCorrelation))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	id := rec.Header().Get(apimw.HeaderCorrelationID)
	assert.Len(t, id, 36)
	assert.Equal(t, id, rec.Body.String())
}

func TestRequestLogger_LogsRoutePatternAndParams(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	r := chi.NewRouter()
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(zap.New(core)))
	r.Delete("/conversations/{id}/queue", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	req := httptest.NewRequest(http.MethodDelete, "/conversations/conv-1/queue", nil)
	req.Header.Set(apimw.HeaderCorrelationID, "corr-1")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	entries := logs.All()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, "/conversations/{id}/queue", first["route"])
	assert.Equal(t, "conv-1", first["param_id"])
	assert.Equal(t, "corr-1", first["correlation_id"])
	assert.EqualValues(t, http.StatusOK, first["status"])
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.EqualValues(t, http.StatusBadGateway, entries[1].ContextMap()["status"])
}

package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aagudeloRN/RAGPruebas/api/handlers"
)

func healthServer(t *testing.T, deps ...handlers.Dependency) *httptest.Server {
	t.Helper()
	h := handlers.NewHealthHandler(nil)
	for _, d := range deps {
		h.Register(d)
	}
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, "test", "", "")
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func ping(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func TestCheckHealth_Live(t *testing.T) {
	srv := healthServer(t, handlers.Dependency{Name: "pinecone", Critical: true, Ping: ping(errors.New("down"))})

	var out bytes.Buffer
	require.NoError(t, checkHealth(srv.Client(), srv.URL, false, &out))
	assert.Contains(t, out.String(), handlers.StatusOK)
}

func TestCheckHealth_ReadyDegraded(t *testing.T) {
	srv := healthServer(t,
		handlers.Dependency{Name: "pinecone", Critical: true, Ping: ping(nil)},
		handlers.Dependency{Name: "redis", Ping: ping(errors.New("connection refused"))},
	)

	var out bytes.Buffer
	require.NoError(t, checkHealth(srv.Client(), srv.URL, true, &out))
	assert.Contains(t, out.String(), "FAIL connection refused")
	assert.Contains(t, out.String(), handlers.StatusDegraded)
}

func TestCheckHealth_ReadyUnavailable(t *testing.T) {
	srv := healthServer(t, handlers.Dependency{Name: "openai", Critical: true, Ping: ping(errors.New("401"))})

	var out bytes.Buffer
	err := checkHealth(srv.Client(), srv.URL, true, &out)
	assert.Error(t, err)
	assert.Contains(t, out.String(), handlers.StatusUnavailable)
}

func TestCheckHealth_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	err := checkHealth(srv.Client(), srv.URL, false, &bytes.Buffer{})
	assert.ErrorContains(t, err, "status 502")
}

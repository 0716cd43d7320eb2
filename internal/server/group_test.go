package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localManager(name string) *Manager {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	return NewManager(name, http.NewServeMux(), cfg, nil)
}

func TestGroup_StartAndShutdown(t *testing.T) {
	api, metrics := localManager("api"), localManager("metrics")
	g := NewGroup(api, metrics)

	require.NoError(t, g.Start())
	for _, m := range []*Manager{api, metrics} {
		resp, err := http.Get("http://" + m.Addr() + "/")
		require.NoError(t, err, m.Name())
		resp.Body.Close()
	}

	require.NoError(t, g.Shutdown(context.Background()))
	assert.ErrorIs(t, api.Start(), ErrClosed)
	assert.ErrorIs(t, metrics.Start(), ErrClosed)
}

func TestGroup_StartFailureStopsStarted(t *testing.T) {
	first := localManager("api")
	require.NoError(t, first.Start())
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	ok := localManager("ok")
	clash := NewManager("clash", http.NewServeMux(), Config{Addr: first.Addr()}, nil)

	err := NewGroup(ok, clash).Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clash")
	// 已启动的成员被关闭
	assert.ErrorIs(t, ok.Start(), ErrClosed)
}

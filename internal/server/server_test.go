package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_StartAndShutdown(t *testing.T) {
	srv := New(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}), "0", "", "")

	require.NoError(t, srv.Start())

	_, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	url := "http://127.0.0.1:" + port

	resp, err := http.Get(url)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, err = http.Get(url)
	assert.Error(t, err)
}

func TestServer_PortInUse(t *testing.T) {
	first := New(http.NotFoundHandler(), "0", "", "")
	require.NoError(t, first.Start())
	defer first.Shutdown(context.Background())

	_, port, err := net.SplitHostPort(first.Addr())
	require.NoError(t, err)
	second := New(http.NotFoundHandler(), port, "", "")
	assert.Error(t, second.Start())
}

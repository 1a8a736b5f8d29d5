package hub

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// readFrame reads one SSE frame, without the blank line that ends it.
func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			return strings.Join(lines, "\n")
		}
		lines = append(lines, line)
	}
}

func connect(t *testing.T, url string) (*http.Response, *bufio.Reader) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return resp, bufio.NewReader(resp.Body)
}

func TestBroadcastReachesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New()
	go h.Run(ctx)

	srv := httptest.NewServer(h)
	defer srv.Close()

	_, first := connect(t, srv.URL)
	_, second := connect(t, srv.URL)
	require.Equal(t, ": connected", readFrame(t, first))
	require.Equal(t, ": connected", readFrame(t, second))
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	h.Broadcast(map[string]any{"tool": "list_connections", "success": true})
	want := `data: {"success":true,"tool":"list_connections"}`
	require.Equal(t, want, readFrame(t, first))
	require.Equal(t, want, readFrame(t, second))
}

func TestKeepAlive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New().WithKeepAlive(20 * time.Millisecond)
	go h.Run(ctx)

	srv := httptest.NewServer(h)
	defer srv.Close()

	_, r := connect(t, srv.URL)
	require.Equal(t, ": connected", readFrame(t, r))
	require.Equal(t, ": keepalive", readFrame(t, r))
}

func TestStopClosesStreams(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New()
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(h)
	defer srv.Close()

	_, r := connect(t, srv.URL)
	require.Equal(t, ": connected", readFrame(t, r))
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	<-stopped
	require.Zero(t, h.ClientCount())

	_, err := r.ReadString('\n')
	require.Error(t, err)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestClientLeaving(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New()
	go h.Run(ctx)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, r := connect(t, srv.URL)
	require.Equal(t, ": connected", readFrame(t, r))
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	resp.Body.Close()
	// The handler notices the disconnect on its next write.
	require.Eventually(t, func() bool {
		h.Broadcast("ping")
		return h.ClientCount() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

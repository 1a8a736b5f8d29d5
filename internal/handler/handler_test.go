package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"routerctl/internal/adapter"
	"routerctl/internal/config"
	"routerctl/internal/dispatch"
	"routerctl/internal/hub"
	"routerctl/internal/session"
)

type fakeDispatcher struct {
	calls []dispatch.Args
	panic bool
}

func (f *fakeDispatcher) Tools() []dispatch.Tool {
	return []dispatch.Tool{{
		Name:   "add_port_forward",
		Params: []dispatch.Param{{Name: "name", Type: "string", Required: true}},
	}}
}

func (f *fakeDispatcher) Lookup(name string) (*dispatch.Tool, bool) {
	tools := f.Tools()
	if name == tools[0].Name {
		return &tools[0], true
	}
	return nil, false
}

func (f *fakeDispatcher) Call(ctx context.Context, name string, args dispatch.Args) dispatch.Result {
	if f.panic {
		panic("boom")
	}
	f.calls = append(f.calls, args)
	return dispatch.Result{Success: true, Text: "Added port forward: " + args.String("name")}
}

func (f *fakeDispatcher) Connections() []session.Info {
	return []session.Info{{Address: "10.0.0.1", Vendor: adapter.VendorOpenWrt, ConnectedAt: time.Unix(0, 0).UTC()}}
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestListTools(t *testing.T) {
	h := Routes(&fakeDispatcher{}, nil, nil)
	rec := serve(h, http.MethodGet, "/api/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var tools []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tools))
	require.Len(t, tools, 1)
	require.Equal(t, "add_port_forward", tools[0]["name"])
	schema := tools[0]["input_schema"].(map[string]any)
	require.Equal(t, []any{"name"}, schema["required"])
}

func TestCallTool(t *testing.T) {
	d := &fakeDispatcher{}
	h := Routes(d, nil, nil)

	rec := serve(h, http.MethodPost, "/api/tools/add_port_forward", `{"name":"web","external_port":8080}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true,"text":"Added port forward: web"}`, rec.Body.String())

	require.Len(t, d.calls, 1)
	port, ok, err := d.calls[0].Int("external_port")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 8080, port)
}

func TestCallToolEmptyBody(t *testing.T) {
	d := &fakeDispatcher{}
	rec := serve(Routes(d, nil, nil), http.MethodPost, "/api/tools/add_port_forward", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, d.calls, 1)
}

func TestCallToolErrors(t *testing.T) {
	h := Routes(&fakeDispatcher{}, nil, nil)

	rec := serve(h, http.MethodPost, "/api/tools/reboot", "{}")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"Unknown tool","details":"reboot"}`, rec.Body.String())

	rec = serve(h, http.MethodPost, "/api/tools/add_port_forward", "[1,2]")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, http.MethodGet, "/api/tools/add_port_forward", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	rec := serve(Routes(&fakeDispatcher{panic: true}, nil, nil), http.MethodPost, "/api/tools/add_port_forward", "{}")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestConnectionsAndHealth(t *testing.T) {
	h := Routes(&fakeDispatcher{}, nil, nil)

	rec := serve(h, http.MethodGet, "/api/connections", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[{"address":"10.0.0.1","vendor":"openwrt","connected_at":"1970-01-01T00:00:00Z"}]`, rec.Body.String())

	rec = serve(h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRoutesWithDispatchServer(t *testing.T) {
	srv := dispatch.NewServer(config.DefaultConfig())
	defer srv.Close(context.Background())
	h := Routes(srv, srv.Metrics().Handler(), nil)

	rec := serve(h, http.MethodPost, "/api/tools/list_port_forwards", `{"ip":"10.9.9.9"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res dispatch.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.False(t, res.Success)
	require.Contains(t, res.Text, "NotConnected")

	rec = serve(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `routerctl_dispatcher_calls_total{result="failure",tool="list_port_forwards"} 1`)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), mw("a"), mw("b"))
	serve(h, http.MethodGet, "/", "")
	require.Equal(t, []string{"a", "b"}, order)
}

func TestEventStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := hub.New()
	go events.Run(ctx)

	srv := dispatch.NewServer(config.DefaultConfig(), dispatch.WithObserver(func(e dispatch.Event) {
		events.Broadcast(e)
	}))
	defer srv.Close(context.Background())

	ts := httptest.NewServer(Routes(srv, nil, events))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)
	require.Eventually(t, func() bool { return events.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	post, err := http.Post(ts.URL+"/api/tools/list_connections", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	post.Body.Close()

	for {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var e dispatch.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
	require.Equal(t, "list_connections", e.Tool)
	require.True(t, e.Success)
	require.Equal(t, "No active router connections.", e.Text)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/pubsub-bridge/internal/config"
)

type received struct {
	method string
	path   string
	body   map[string]any
}

// internalAPI records the calls the bridge makes.
func internalAPI(t *testing.T) (*httptest.Server, <-chan received) {
	t.Helper()
	calls := make(chan received, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls <- received{method: r.Method, path: r.URL.Path, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() {
		srv.Close()
		http.DefaultTransport.(*http.Transport).CloseIdleConnections()
	})
	return srv, calls
}

func testConfig(baseURL string) config.AppConfig {
	cfg := config.Defaults()
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.API.ShutdownTimeout = 2 * time.Second
	cfg.Metrics.Enabled = false
	cfg.Queue.PollInterval = 10 * time.Millisecond
	cfg.Queue.SweepInterval = 50 * time.Millisecond
	cfg.Dispatch.BaseURL = baseURL + "/api/v2/"
	return cfg
}

type apiClient struct {
	t    *testing.T
	base string
	http *http.Client
}

func (c *apiClient) do(method, path, body string) (int, []byte) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, strings.NewReader(body))
	require.NoError(c.t, err)
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, data
}

func runApp(t *testing.T, cfg config.AppConfig) (*App, *apiClient) {
	t.Helper()
	app, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)

	cancel, done := startManager(t, app.Manager)
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return app, &apiClient{
		t:    t,
		base: "http://" + app.Manager.APIAddr().String(),
		http: &http.Client{Transport: &http.Transport{DisableKeepAlives: true}},
	}
}

func exerciseLifecycle(t *testing.T, app *App, c *apiClient, calls <-chan received) {
	t.Helper()
	status, _ := c.do(http.MethodGet, "/sub", "")
	require.Equal(t, http.StatusNotFound, status)

	status, body := c.do(http.MethodPost, "/sub", `[{"topic":"orders.created","service":{"endpoint":"system/role","verb":"POST","payload":{"source":"bridge"}}}]`)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"success":true`)

	require.Eventually(t, func() bool {
		status, _ := c.do(http.MethodGet, "/sub", "")
		return status == http.StatusOK
	}, 3*time.Second, 10*time.Millisecond)

	status, body = c.do(http.MethodGet, "/sub/status?topic=orders.created", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"topic":"orders.created","running":true}`, string(body))

	require.NoError(t, app.Broker.Publish(context.Background(), "orders.created", []byte(`{"roleId":5}`)))
	select {
	case call := <-calls:
		assert.Equal(t, http.MethodPost, call.method)
		assert.Equal(t, "/api/v2/system/role", call.path)
		assert.Equal(t, float64(5), call.body["roleId"])
		assert.Equal(t, "bridge", call.body["source"])
	case <-time.After(3 * time.Second):
		t.Fatal("internal API was not called")
	}

	status, _ = c.do(http.MethodDelete, "/sub", "")
	require.Equal(t, http.StatusOK, status)
	require.Eventually(t, func() bool {
		status, _ := c.do(http.MethodGet, "/sub", "")
		return status == http.StatusNotFound
	}, 3*time.Second, 10*time.Millisecond)
}

func TestBootstrap_InMemoryLifecycle(t *testing.T) {
	srv, calls := internalAPI(t)
	app, c := runApp(t, testConfig(srv.URL))

	status, _ := c.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, status)

	exerciseLifecycle(t, app, c, calls)
}

func TestBootstrap_RedisAndSQLite(t *testing.T) {
	mr := miniredis.RunT(t)
	srv, calls := internalAPI(t)

	cfg := testConfig(srv.URL)
	cfg.Redis.Addr = mr.Addr()
	cfg.Broker.Backend = config.BrokerRedis
	cfg.Registry.Backend = config.RegistryRedis
	cfg.Queue.Backend = config.QueueSQLite
	cfg.Queue.Path = filepath.Join(t.TempDir(), "queue.db")
	require.NoError(t, config.Validate(cfg))

	app, c := runApp(t, cfg)
	exerciseLifecycle(t, app, c, calls)
}

func TestBootstrap_WithoutWorkerReportsInconsistentState(t *testing.T) {
	srv, _ := internalAPI(t)
	cfg := testConfig(srv.URL)
	cfg.Queue.Worker = false
	cfg.Queue.PendingGrace = 0

	_, c := runApp(t, cfg)

	status, _ := c.do(http.MethodPost, "/sub", `[{"topic":"a","service":{"endpoint":"x"}}]`)
	require.Equal(t, http.StatusOK, status)

	status, body := c.do(http.MethodGet, "/sub/status?topic=a", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, string(body), "INCONSISTENT_STATE")
}

func TestBootstrap_RedisUnavailable(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Registry.Backend = config.RegistryRedis
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := Bootstrap(context.Background(), cfg)
	assert.ErrorContains(t, err, "redis")
}

package shell

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cypherdesk/cypher/internal/config"
	"github.com/cypherdesk/cypher/internal/mapping"
	"github.com/cypherdesk/cypher/internal/settings"
	"github.com/cypherdesk/cypher/internal/supervisor"
	"github.com/cypherdesk/cypher/internal/sysctx"
)

func closedURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr
}

func testConfig(t *testing.T, backendURL string) config.Config {
	t.Helper()
	root := t.TempDir()
	c := config.Config{
		AppRoot: root,
		DataDir: filepath.Join(root, "data"),
		Backend: config.BackendConfig{
			URL:            backendURL,
			Subpath:        filepath.Join("backend", "cypher_backend"),
			ProbeTimeout:   300 * time.Millisecond,
			RequestTimeout: 2 * time.Second,
		},
		Bridge: config.BridgeConfig{BasePath: "/api"},
		State: config.StateConfig{
			SettingsPath: filepath.Join(root, "settings.json"),
			ContextDSN:   "sqlite://" + filepath.Join(root, "data", "state.db"),
		},
	}
	require.NoError(t, c.Resolve())
	return c
}

func newShell(t *testing.T, cfg config.Config) *Shell {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func getJSON(t *testing.T, method, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader("{}"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func writeBackend(t *testing.T, root, body string) {
	t.Helper()
	p := filepath.Join(root, "backend", "cypher_backend")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o644))
}

func TestDegradedWhenBackendMissing(t *testing.T) {
	s := newShell(t, testConfig(t, closedURL(t)))

	st, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateIdle, st.State)
	assert.Equal(t, supervisor.ReasonNotFound, st.Reason)
	assert.True(t, st.Degraded())

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var errBody struct {
		Error    string `json:"error"`
		Degraded bool   `json:"degraded"`
	}
	code := getJSON(t, http.MethodGet, srv.URL+"/api/models", &errBody)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.True(t, errBody.Degraded)

	var cur settings.Settings
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/api/settings", &cur))
	assert.Equal(t, "small", cur.STTModel)

	var report mapping.Report
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodPost, srv.URL+"/api/mapping/run", &report))
	require.Len(t, report.Steps, len(mapping.Topics))
	for _, step := range report.Steps {
		assert.Equal(t, mapping.StatusFailed, step.Status)
	}
	assert.Equal(t, sysctx.SourceClientOnly, report.Context.Meta.Source)

	var persisted sysctx.Context
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/api/context", &persisted))
	assert.Equal(t, sysctx.SourceClientOnly, persisted.Meta.Source)
	assert.Equal(t, sysctx.SchemaVersion, persisted.Meta.Version)
}

func TestReachableBackendIsNeverSpawned(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models":["llama3"]}`))
	})
	mux.HandleFunc("/map-system/directories", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"step":"directories","command":"scan_directories --standard --user","homeDir":"/home/u"}`))
	})
	backendSrv := httptest.NewServer(mux)
	defer backendSrv.Close()

	cfg := testConfig(t, backendSrv.URL)
	marker := filepath.Join(cfg.AppRoot, "spawned")
	writeBackend(t, cfg.AppRoot, "touch "+marker+"\nsleep 30")
	s := newShell(t, cfg)

	st, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, supervisor.ReasonExternal, st.Reason)
	assert.False(t, st.Degraded())

	report, err := s.Mapper.Run(context.Background(), sysctx.ClientInfo{Platform: runtime.GOOS}, nil)
	require.NoError(t, err)
	assert.Equal(t, mapping.StatusCompleted, report.Steps[0].Status)
	assert.Equal(t, "/home/u", report.Context.Backend.HomeDir)
	assert.Equal(t, sysctx.SourceBackend, report.Context.Meta.Source)

	time.Sleep(100 * time.Millisecond)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "backend must not be spawned when one is already serving")
}

func TestSpawnedBackendTerminatedOnClose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}
	cfg := testConfig(t, closedURL(t))
	writeBackend(t, cfg.AppRoot, "echo ready\nexec sleep 30")
	s := newShell(t, cfg)

	st, err := s.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, supervisor.StateRunning, st.State)
	require.Equal(t, supervisor.ReasonSpawned, st.Reason)
	require.NotZero(t, s.Supervisor.PID())

	require.NoError(t, s.Close())
	select {
	case <-s.Supervisor.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("backend still running after Close")
	}
	require.NoError(t, s.Close(), "close is idempotent")
}

func TestServeStopsWithContext(t *testing.T) {
	s := newShell(t, testConfig(t, closedURL(t)))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestBridgeAuthFromConfig(t *testing.T) {
	cfg := testConfig(t, closedURL(t))
	cfg.Bridge.AuthSecret = "s3cret"
	cfg.Bridge.TokenTTL = time.Hour
	s := newShell(t, cfg)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	assert.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/api/healthz", nil))
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, http.MethodGet, srv.URL+"/api/settings", nil))

	tok, _, err := s.Auth.Issue("test")
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/settings", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMappingScheduleFromConfig(t *testing.T) {
	cfg := testConfig(t, closedURL(t))
	cfg.Mapping.Schedule = "every day"
	_, err := New(cfg, nil)
	require.Error(t, err)

	cfg.Mapping.Schedule = "@daily"
	s := newShell(t, cfg)
	require.NotNil(t, s.Refresh)
	_, err = s.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Refresh.Next().After(time.Now()))
}

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cypherdesk/cypher/internal/auth"
	"github.com/cypherdesk/cypher/internal/settings"
)

// writeConfig points every piece of state into a temp dir. The bridge and
// backend addresses refuse connections unless overridden.
func writeConfig(t *testing.T, backendURL, bridgeAddr string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	if backendURL == "" {
		backendURL = "http://127.0.0.1:1"
	}
	if bridgeAddr == "" {
		bridgeAddr = "127.0.0.1:1"
	}
	data := `
app_root = "` + filepath.ToSlash(dir) + `"
data_dir = "` + filepath.ToSlash(dir) + `"

[backend]
url = "` + backendURL + `"
probe_timeout = "300ms"
request_timeout = "2s"

[bridge]
addr = "` + bridgeAddr + `"

[state]
settings_path = "` + filepath.ToSlash(filepath.Join(dir, "settings.json")) + `"

[log]
level = "error"

[metrics]
enabled = false
`
	path := filepath.Join(dir, "cypher.toml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"serve", "status", "probe", "transcribe", "map", "settings"} {
		assert.Contains(t, out, name)
	}
}

func TestSettingsLocalRoundTrip(t *testing.T) {
	cfg, dir := writeConfig(t, "", "")

	out, err := execute(t, "--config", cfg, "settings", "set", "--stt-model", "medium", "--stt-batch-size", "4", "--stt-language", "")
	require.NoError(t, err)
	var got settings.Settings
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "medium", got.STTModel)
	assert.Equal(t, 4, got.STTBatchSize)
	assert.Equal(t, "", got.STTLanguage)

	_, err = os.Stat(filepath.Join(dir, "settings.json"))
	require.NoError(t, err, "settings file written")

	out, err = execute(t, "--config", cfg, "settings", "get")
	require.NoError(t, err)
	var again settings.Settings
	require.NoError(t, json.Unmarshal([]byte(out), &again))
	assert.Equal(t, "medium", again.STTModel)
	assert.Equal(t, settings.Defaults(runtime.GOOS).STTDevice, again.STTDevice)
}

func TestSettingsSetRequiresAField(t *testing.T) {
	cfg, _ := writeConfig(t, "", "")
	_, err := execute(t, "--config", cfg, "settings", "set")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no settings given")
}

func TestSettingsThroughRunningShell(t *testing.T) {
	var merged map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/healthz":
			_, _ = w.Write([]byte(`{"ok":true}`))
		case r.URL.Path == "/api/settings" && r.Method == http.MethodPost:
			_ = json.NewDecoder(r.Body).Decode(&merged)
			_, _ = w.Write([]byte(`{"sttModel":"large-v3"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg, dir := writeConfig(t, "", strings.TrimPrefix(srv.URL, "http://"))
	out, err := execute(t, "--config", cfg, "settings", "set", "--stt-model", "large-v3")
	require.NoError(t, err)
	assert.Contains(t, out, "large-v3")
	assert.Equal(t, map[string]any{"sttModel": "large-v3"}, merged)

	_, err = os.Stat(filepath.Join(dir, "settings.json"))
	assert.True(t, os.IsNotExist(err), "running shell owns the settings file")
}

func TestStatusUnreachableShell(t *testing.T) {
	cfg, _ := writeConfig(t, "", "")
	_, err := execute(t, "--config", cfg, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestStatusFromShell(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/backend/status" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":{"state":"idle","reason":"external"},"reachable":true,"degraded":false}`))
	}))
	defer srv.Close()

	cfg, _ := writeConfig(t, "", strings.TrimPrefix(srv.URL, "http://"))
	out, err := execute(t, "--config", cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, `"reachable": true`)
}

func TestProbeReportsBackendAndLocation(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer backend.Close()

	cfg, _ := writeConfig(t, backend.URL, "")
	out, err := execute(t, "--config", cfg, "probe")
	require.NoError(t, err)
	var rep probeReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.True(t, rep.Reachable)
	assert.False(t, rep.Found, "no backend binary under the temp app root")
	assert.Equal(t, backend.URL+"/models", strings.TrimPrefix(rep.URL, "http:"))
}

func TestMapWithoutBackendPersistsClientOnly(t *testing.T) {
	cfg, dir := writeConfig(t, "", "")
	out, err := execute(t, "--config", cfg, "map")
	require.NoError(t, err)
	assert.Contains(t, out, "directories")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "source: client-only")

	_, err = os.Stat(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
}

func TestTranscribeMissingFile(t *testing.T) {
	cfg, _ := writeConfig(t, "", "")
	_, err := execute(t, "--config", cfg, "transcribe", filepath.Join(t.TempDir(), "nope.webm"))
	require.Error(t, err)
}

func TestTranscribeRemote(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"text":"hello there","language":"en"}`))
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))

	cfg, _ := writeConfig(t, "", "")
	out, err := execute(t, "--config", cfg, "transcribe", audio, "--api-url", srv.URL+"/api", "--language", "en")
	require.NoError(t, err)
	assert.Contains(t, out, "hello there")
	assert.Equal(t, ".wav", body["ext"])
	assert.Equal(t, "en", body["language"])
}

func TestTokenCommand(t *testing.T) {
	cfg, _ := writeConfig(t, "", "")
	_, err := execute(t, "--config", cfg, "token")
	require.Error(t, err, "no secret configured")

	t.Setenv("CYPHER_BRIDGE_AUTH_SECRET", "s3cret")
	out, err := execute(t, "--config", cfg, "token", "--client", "ui")
	require.NoError(t, err)
	var resp tokenResp
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	claims, err := auth.NewService("s3cret", 0).Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "ui", claims.Client)
}

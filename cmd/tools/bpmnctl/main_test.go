package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PigStep/Vibe-BPMN-studio/internal/client/files"
	"github.com/PigStep/Vibe-BPMN-studio/internal/client/workspace"
	"github.com/PigStep/Vibe-BPMN-studio/internal/config"
)

const generated = `<bpmn:definitions xmlns:bpmn="http://www.omg.org/spec/BPMN/20100524/MODEL"><bpmn:process id="Generated"/></bpmn:definitions>`

func newTestConfig(t *testing.T, status int) *config.ClientConfig {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]string{"output": generated})
		w.WriteHeader(status)
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/api/example-bpmn-xml", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	dir := t.TempDir()
	return &config.ClientConfig{
		App:         config.AppConfig{BaseURL: server.URL, APIURL: server.URL + "/api"},
		Transport:   config.TransportPost,
		SessionFile: filepath.Join(dir, "session.toml"),
		DownloadDir: filepath.Join(dir, "out"),
	}
}

func TestChatSessionCommands(t *testing.T) {
	cfg := newTestConfig(t, http.StatusOK)
	ws, v, err := newWorkspace(cfg)
	require.NoError(t, err)
	require.NoError(t, ws.Init(context.Background()))

	ctx := context.Background()
	var out bytes.Buffer

	require.False(t, handleInput(ctx, ws, v, "add a user task after the start event", &out))
	require.Contains(t, out.String(), workspace.ThinkingMessage)
	require.Equal(t, generated, ws.Editor())

	out.Reset()
	require.False(t, handleInput(ctx, ws, v, ":tab xml", &out))
	require.True(t, ws.IsActive(workspace.PanelXML))

	require.False(t, handleInput(ctx, ws, v, ":zoom in", &out))
	require.Contains(t, out.String(), "zoom 110%")

	require.False(t, handleInput(ctx, ws, v, ":svg", &out))
	require.False(t, handleInput(ctx, ws, v, ":bpmn", &out))
	require.NotContains(t, out.String(), "error:")

	saved, err := os.ReadFile(filepath.Join(cfg.DownloadDir, files.BPMNFilename))
	require.NoError(t, err)
	require.Equal(t, generated, string(saved))
	_, err = os.Stat(filepath.Join(cfg.DownloadDir, files.SVGFilename))
	require.NoError(t, err)

	require.True(t, handleInput(ctx, ws, v, ":quit", &out))
}

func TestChatSessionServerError(t *testing.T) {
	cfg := newTestConfig(t, http.StatusInternalServerError)
	ws, v, err := newWorkspace(cfg)
	require.NoError(t, err)
	require.NoError(t, ws.Init(context.Background()))
	before := ws.Editor()

	var out bytes.Buffer
	require.False(t, handleInput(context.Background(), ws, v, "draw", &out))
	require.Contains(t, out.String(), workspace.ApologyMessage)
	require.Contains(t, out.String(), "status 500")
	require.Equal(t, before, ws.Editor())
}

func TestChatSessionUnknownCommand(t *testing.T) {
	cfg := newTestConfig(t, http.StatusOK)
	ws, v, err := newWorkspace(cfg)
	require.NoError(t, err)

	var out bytes.Buffer
	require.False(t, handleInput(context.Background(), ws, v, ":dance", &out))
	require.Contains(t, out.String(), "unknown command")
	out.Reset()
	require.False(t, handleInput(context.Background(), ws, v, ":tab settings", &out))
	require.Contains(t, out.String(), "unknown panel")
}

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixnav/nixnavd/internal/bookmark"
	"github.com/nixnav/nixnavd/internal/persistence"
	"github.com/nixnav/nixnavd/internal/scanner"
	"github.com/nixnav/nixnavd/internal/store"
)

type testServer struct {
	srv   *Server
	store *store.Store
	bm    *bookmark.Registry
	stop  context.CancelFunc
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "nixnav_test_server_*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	db, err := persistence.Open(filepath.Join(tempDir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	w := persistence.NewWriter(db)
	t.Cleanup(w.Close)

	st := store.New()
	bm := bookmark.New(w)
	sc := scanner.New()

	socketPath := filepath.Join(tempDir, "nixnav.sock")
	srv := New(socketPath, st, bm, sc, nil, 16, Deadlines{})
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &testServer{srv: srv, store: st, bm: bm, stop: cancel}
}

func sendLine(t *testing.T, socketPath, line string) string {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(line + "\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	reader := bufio.NewReader(conn)
	resp, err := reader.ReadString('\n')
	require.NoError(t, err)
	return resp
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	resp := sendLine(t, ts.srv.socketPath, "PING")

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp), &out))
	assert.Equal(t, "pong", out["status"])
}

func TestStats_ReportsCounts(t *testing.T) {
	ts := newTestServer(t)
	ts.store.Insert("/home/user/a.txt", false, 1, 10, 0)
	ts.store.Insert("/home/user/sub", true, 1, 0, 0)

	resp := sendLine(t, ts.srv.socketPath, "STATS")
	var out map[string]float64
	require.NoError(t, json.Unmarshal([]byte(resp), &out))
	assert.Equal(t, float64(2), out["files"])
}

func TestAddBookmark_ScansAndIndexes(t *testing.T) {
	ts := newTestServer(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("x"), 0o644))

	body, err := json.Marshal(map[string]any{"name": "proj", "path": root, "is_network": false})
	require.NoError(t, err)

	resp := sendLine(t, ts.srv.socketPath, "ADD_BOOKMARK "+string(body))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp), &out))
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, float64(2), out["indexed"])

	bm, ok := ts.bm.ByName("proj")
	require.True(t, ok)
	assert.Equal(t, root, bm.Path)
}

func TestSearch_FindsMatchUnderBookmark(t *testing.T) {
	ts := newTestServer(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "conductor.rs"), []byte("x"), 0o644))

	addBody, _ := json.Marshal(map[string]any{"name": "proj", "path": root, "is_network": false})
	sendLine(t, ts.srv.socketPath, "ADD_BOOKMARK "+string(addBody))

	searchBody, _ := json.Marshal(map[string]any{
		"bookmark_path": root,
		"mode":          "all",
		"query":         "conduct",
		"extension":     nil,
	})
	resp := sendLine(t, ts.srv.socketPath, "SEARCH "+string(searchBody))

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp), &out))
	results, ok := out["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, filepath.Join(root, "conductor.rs"), first["path"])
}

func TestSearch_UnknownBookmarkIsBadArgument(t *testing.T) {
	ts := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"bookmark_path": "/no/such/bookmark", "mode": "all", "query": "x"})
	resp := sendLine(t, ts.srv.socketPath, "SEARCH "+string(body))

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp), &out))
	assert.Equal(t, "bad_argument", out["error"])
}

func TestUnknownCommand_ReturnsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	resp := sendLine(t, ts.srv.socketPath, "FROBNICATE")

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp), &out))
	assert.Equal(t, "bad_request", out["error"])
}

func TestRemoveBookmark_ThenUnknown(t *testing.T) {
	ts := newTestServer(t)
	root := t.TempDir()
	_, err := ts.bm.Add("proj", root, false)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{"name": "proj"})
	resp := sendLine(t, ts.srv.socketPath, "REMOVE_BOOKMARK "+string(body))
	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp), &out))
	assert.Equal(t, "ok", out["status"])

	_, ok := ts.bm.ByName("proj")
	assert.False(t, ok)
}

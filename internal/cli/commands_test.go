package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threads/internal/store/sqlitestore"
)

type execResult struct {
	stdout string
	stderr string
	code   int
}

// execute runs the CLI against the sqlite database at db.
func execute(t *testing.T, db string, args ...string) execResult {
	t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--backend", "sqlite", "--db", db}, args...)
	code := Execute(context.Background(), full, &out, &errOut)
	return execResult{stdout: out.String(), stderr: errOut.String(), code: code}
}

func decodeResponse(t *testing.T, raw string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp), raw)
	return resp
}

// createThread creates a thread and returns its id and root message id.
func createThread(t *testing.T, db, content string) (string, string) {
	t.Helper()
	res := execute(t, db, "create", content, "--format", "json")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	resp := decodeResponse(t, res.stdout)
	require.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	return data["thread_id"].(string), data["message_id"].(string)
}

func testDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "threads.db")
}

func TestCreateAndShow(t *testing.T) {
	db := testDB(t)
	threadID, messageID := createThread(t, db, "Hello")

	res := execute(t, db, "show", threadID)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Thread "+threadID)
	assert.Contains(t, res.stdout, "Version: 1")
	assert.Contains(t, res.stdout, "Replies: 0")
	assert.Contains(t, res.stdout, "#1")
	assert.Contains(t, res.stdout, messageID)
	assert.Contains(t, res.stdout, "Hello")
}

func TestCreateText(t *testing.T) {
	db := testDB(t)
	res := execute(t, db, "create", "Hello")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Created thread ")
	assert.Contains(t, res.stdout, "Version: 1")
}

func TestCreateRejectsInvalidContent(t *testing.T) {
	db := testDB(t)

	res := execute(t, db, "create", "   ")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stderr, "Error [content_empty]")

	res = execute(t, db, "create", strings.Repeat("x", 256), "--format", "json")
	assert.Equal(t, ExitFailure, res.code)
	resp := decodeResponse(t, res.stdout)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "content_too_long", resp.Error.Code)
}

func TestReplyWithVersion(t *testing.T) {
	db := testDB(t)
	threadID, _ := createThread(t, db, "Hello")

	res := execute(t, db, "reply", threadID, "World", "--version", "1")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Replied to thread "+threadID)
	assert.Contains(t, res.stdout, "Version: 2")

	// The same version again is stale.
	res = execute(t, db, "reply", threadID, "Again", "--version", "1")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stderr, "Error [version_mismatch]")

	res = execute(t, db, "reply", threadID, "Again", "--version", "1", "--format", "json")
	assert.Equal(t, ExitFailure, res.code)
	resp := decodeResponse(t, res.stdout)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "version_mismatch", resp.Error.Code)
	assert.Equal(t, map[string]any{"actual": float64(2), "expected": "1"}, resp.Error.Details)
}

func TestReplyLatest(t *testing.T) {
	db := testDB(t)
	threadID, _ := createThread(t, db, "Hello")

	for i := 0; i < 3; i++ {
		res := execute(t, db, "reply", threadID, "more")
		require.Equal(t, ExitSuccess, res.code, res.stderr)
	}

	res := execute(t, db, "show", threadID, "--format", "json")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	resp := decodeResponse(t, res.stdout)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(4), data["version"])
	assert.Equal(t, float64(3), data["replies_count"])
	assert.Len(t, data["messages"], 4)
}

func TestReplyErrors(t *testing.T) {
	db := testDB(t)
	missing := "f47ac10b-58cc-4372-a567-0e02b2c3d479"

	res := execute(t, db, "reply", "not-an-id", "x")
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "Error [invalid_id]")

	res = execute(t, db, "reply", missing, "x", "--version", "1")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stderr, "Error [not_found]")

	res = execute(t, db, "reply", missing, "x", "--version", "0")
	assert.Equal(t, ExitCommandError, res.code)

	res = execute(t, db, "reply", missing)
	assert.Equal(t, ExitCommandError, res.code)
}

func TestListAndMessage(t *testing.T) {
	db := testDB(t)

	res := execute(t, db, "list")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "No threads found.")

	first, _ := createThread(t, db, "first thread")
	second, rootID := createThread(t, db, "second thread")

	res = execute(t, db, "list")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, res.stdout, first+"  ")
	assert.Contains(t, res.stdout, second+"  ")
	assert.Contains(t, res.stdout, "v1  0 replies  second thread")

	res = execute(t, db, "message", rootID, "--format", "json")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	data := decodeResponse(t, res.stdout).Data.(map[string]any)
	assert.Equal(t, second, data["thread_id"])
	msg := data["message"].(map[string]any)
	assert.Equal(t, "second thread", msg["content"])
	assert.Equal(t, float64(1), msg["number"])

	res = execute(t, db, "message", "f47ac10b-58cc-4372-a567-0e02b2c3d479")
	assert.Equal(t, ExitFailure, res.code)
}

func TestEventsPrintsCanonicalJSON(t *testing.T) {
	db := testDB(t)
	threadID, messageID := createThread(t, db, "Hello <b>&</b>")
	require.Equal(t, ExitSuccess, execute(t, db, "reply", threadID, "World", "--version", "1").code)

	res := execute(t, db, "events", threadID)
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], `{"at_ms":`), lines[0])
	assert.Contains(t, lines[0], `"content":"Hello <b>&</b>"`)
	assert.Contains(t, lines[0], `"kind":"created"`)
	assert.Contains(t, lines[0], `"message_id":"`+messageID+`"`)
	assert.Contains(t, lines[0], `"thread_id":"`+threadID+`","version":1}`)
	assert.Contains(t, lines[1], `"kind":"replied"`)
	assert.Contains(t, lines[1], `"version":2}`)

	res = execute(t, db, "events", "f47ac10b-58cc-4372-a567-0e02b2c3d479")
	assert.Equal(t, ExitFailure, res.code)
}

func TestVerify(t *testing.T) {
	db := testDB(t)

	res := execute(t, db, "verify")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "No threads found.")

	threadID, _ := createThread(t, db, "Hello")
	require.Equal(t, ExitSuccess, execute(t, db, "reply", threadID, "World").code)
	createThread(t, db, "Other")

	res = execute(t, db, "verify")
	require.Equal(t, ExitSuccess, res.code, res.stdout)
	assert.Contains(t, res.stdout, "Verify Summary: 2 thread(s)")
	assert.Contains(t, res.stdout, "✓ Thread: "+threadID)
	assert.Contains(t, res.stdout, "✓ All projections match their streams")
}

func TestVerifyDetectsDivergence(t *testing.T) {
	db := testDB(t)
	threadID, _ := createThread(t, db, "Hello")

	// Corrupt the projection behind the store's back.
	st, err := sqlitestore.Open(db)
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE threads SET replies_count = 5 WHERE id = ?`, threadID)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	res := execute(t, db, "verify", threadID)
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stdout, "✗ Thread: "+threadID)
	assert.Contains(t, res.stdout, "Problem: projection differs from replay")
	assert.Contains(t, res.stdout, "✗ Projection verification failed")
	// The command reported the failure itself.
	assert.NotContains(t, res.stderr, "Error [")

	res = execute(t, db, "verify", "--format", "json")
	assert.Equal(t, ExitFailure, res.code)
	resp := decodeResponse(t, res.stdout)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "projection_divergence", resp.Error.Code)
}

func TestConfigErrors(t *testing.T) {
	var out, errOut bytes.Buffer

	code := Execute(context.Background(), []string{"list", "--backend", "mongo"}, &out, &errOut)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, errOut.String(), `unknown store.backend "mongo"`)

	errOut.Reset()
	code = Execute(context.Background(), []string{"list", "--format", "yaml"}, &out, &errOut)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, errOut.String(), `invalid format "yaml"`)

	errOut.Reset()
	code = Execute(context.Background(), []string{"list", "--config", filepath.Join(t.TempDir(), "missing.toml")}, &out, &errOut)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, errOut.String(), "failed to load config")
}

func TestDatabaseFlagFollowsBackend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")
	var out, errOut bytes.Buffer

	code := Execute(context.Background(), []string{"--backend", "badger", "--db", dir, "create", "Hello"}, &out, &errOut)
	require.Equal(t, ExitSuccess, code, errOut.String())

	out.Reset()
	code = Execute(context.Background(), []string{"--backend", "badger", "--db", dir, "list"}, &out, &errOut)
	require.Equal(t, ExitSuccess, code, errOut.String())
	assert.Contains(t, out.String(), "Hello")
}

func TestTestCommandRunsScenarios(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite", "badger"} {
		t.Run(backend, func(t *testing.T) {
			var out, errOut bytes.Buffer
			code := Execute(context.Background(),
				[]string{"test", "../harness/testdata/scenarios", "--backend", backend, "--filter", "*conver*"},
				&out, &errOut)
			require.Equal(t, ExitSuccess, code, out.String()+errOut.String())
			assert.Contains(t, out.String(), "✓ basic_conversation")
			assert.Contains(t, out.String(), "1 passed, 0 failed, 1 total")
		})
	}
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "basic_conversation.golden"), []byte("{}\n"), 0o644))

	var out, errOut bytes.Buffer
	code := Execute(context.Background(),
		[]string{"test", "../harness/testdata/scenarios", "--backend", "memory", "--filter", "basic_*", "--golden", golden},
		&out, &errOut)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out.String(), "✗ basic_conversation")
	assert.Contains(t, out.String(), "trace does not match golden file")
}

func TestTestCommandUpdate(t *testing.T) {
	golden := t.TempDir()

	var out, errOut bytes.Buffer
	code := Execute(context.Background(),
		[]string{"test", "../harness/testdata/scenarios", "--backend", "memory", "--filter", "version_*", "--golden", golden, "--update"},
		&out, &errOut)
	require.Equal(t, ExitSuccess, code, out.String()+errOut.String())

	want, err := os.ReadFile("../harness/testdata/golden/version_conflict.golden")
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(golden, "version_conflict.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var out, errOut bytes.Buffer

	done := make(chan int, 1)
	go func() {
		done <- Execute(ctx, []string{"serve", "--backend", "memory", "--addr", "127.0.0.1:0"}, &out, &errOut)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, ExitSuccess, code, errOut.String())
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

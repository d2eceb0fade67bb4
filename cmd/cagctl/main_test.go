package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes cagctl with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runContext(context.Background(), t, args...)
}

func runContext(ctx context.Context, t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func addScenario(t *testing.T, dir string) {
	t.Helper()
	_, _, err := run(t, "--data-dir", dir, "add", "Mimikatz", "uses technique", "Credential Dumping",
		"--subject-label", "Tool", "--object-label", "Technique", "--prop", "source=manual")
	require.NoError(t, err)
}

func stats(t *testing.T, dir string) statsView {
	t.Helper()
	out, _, err := run(t, "--data-dir", dir, "stats", "--json")
	require.NoError(t, err)
	var view statsView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	return view
}

func TestAddAndQuery(t *testing.T) {
	dir := t.TempDir()

	out, _, err := run(t, "--data-dir", dir, "add", "Mimikatz", "uses technique", "Credential Dumping",
		"--subject-label", "Tool", "--object-label", "Technique")
	require.NoError(t, err)
	assert.Regexp(t, `^Tool:\S+ -\[USES_TECHNIQUE\]-> Technique:\S+\n$`, out)

	out, _, err = run(t, "--data-dir", dir, "query", "what does mimikatz do?")
	require.NoError(t, err)
	assert.Contains(t, out, "## Tool\n- Mimikatz [Tool:")
	assert.Contains(t, out, "- Credential Dumping [Technique:")
	assert.Contains(t, out, "(USES_TECHNIQUE, outgoing, depth 1)")

	out, errOut, err := run(t, "--data-dir", dir, "query", "hello")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "no matching knowledge")
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	addScenario(t, dir)

	view := stats(t, dir)
	assert.Equal(t, 2, view.Nodes)
	assert.Equal(t, 1, view.Relationships)
	assert.Equal(t, "files", view.Backend)
	assert.Equal(t, int64(3), view.OperationCount)
	assert.False(t, view.LastSave.IsZero())

	out, _, err := run(t, "--data-dir", dir, "stats")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`(?m)^Nodes:\s+2$`), out)
	assert.Regexp(t, regexp.MustCompile(`(?m)^Relationships:\s+1$`), out)
}

func TestExportImport(t *testing.T) {
	src := t.TempDir()
	addScenario(t, src)
	files := t.TempDir()

	for _, format := range []string{formatJSON, formatGraphML} {
		t.Run(format, func(t *testing.T) {
			file := filepath.Join(files, "graph."+format)
			_, _, err := run(t, "--data-dir", src, "export", "--format", format, "--out", file)
			require.NoError(t, err)

			dst := t.TempDir()
			out, _, err := run(t, "--data-dir", dst, "import", file)
			require.NoError(t, err)
			assert.Equal(t, "imported 2 nodes and 1 relationships (dropped 0 nodes, 0 relationships)\n", out)

			view := stats(t, dst)
			assert.Equal(t, 2, view.Nodes)
			assert.Equal(t, 1, view.Relationships)
		})
	}
}

func TestExport_Stdout(t *testing.T) {
	dir := t.TempDir()
	addScenario(t, dir)

	out, _, err := run(t, "--data-dir", dir, "export")
	require.NoError(t, err)
	var exp struct {
		Nodes []json.RawMessage `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &exp))
	assert.Len(t, exp.Nodes, 2)
}

func TestImport_Merge(t *testing.T) {
	first := t.TempDir()
	addScenario(t, first)
	file := filepath.Join(t.TempDir(), "graph.json")
	_, _, err := run(t, "--data-dir", first, "export", "--out", file)
	require.NoError(t, err)

	second := t.TempDir()
	_, _, err = run(t, "--data-dir", second, "add", "nmap", "performs", "Port Scanning")
	require.NoError(t, err)
	_, _, err = run(t, "--data-dir", second, "import", file, "--merge")
	require.NoError(t, err)
	assert.Equal(t, 4, stats(t, second).Nodes)

	_, _, err = run(t, "--data-dir", second, "import", file)
	require.NoError(t, err)
	assert.Equal(t, 2, stats(t, second).Nodes, "plain import replaces the graph")
}

func TestExportImport_BadFormat(t *testing.T) {
	dir := t.TempDir()
	_, _, err := run(t, "--data-dir", dir, "export", "--format", "csv")
	assert.ErrorContains(t, err, "unknown format")

	file := filepath.Join(dir, "graph.graphml")
	require.NoError(t, os.WriteFile(file, []byte("<graphml/>"), 0o644))
	_, _, err = run(t, "--data-dir", dir, "import", file, "--merge")
	assert.ErrorContains(t, err, "--merge is only supported")
}

func TestSnapshotLifecycle(t *testing.T) {
	dir := t.TempDir()
	addScenario(t, dir)

	out, _, err := run(t, "--data-dir", dir, "snapshot", "create")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "created snapshot "))
	timestamp := strings.Fields(out)[2]

	_, _, err = run(t, "--data-dir", dir, "add", "nmap", "performs", "Port Scanning")
	require.NoError(t, err)
	assert.Equal(t, 4, stats(t, dir).Nodes)

	out, _, err = run(t, "--data-dir", dir, "snapshot", "list")
	require.NoError(t, err)
	assert.Contains(t, out, timestamp)

	out, _, err = run(t, "--data-dir", dir, "snapshot", "list", "--json")
	require.NoError(t, err)
	var infos []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, true, infos[0]["compressed"])

	out, _, err = run(t, "--data-dir", dir, "snapshot", "restore", timestamp)
	require.NoError(t, err)
	assert.Contains(t, out, "restored 2 nodes and 1 relationships")
	assert.Equal(t, 2, stats(t, dir).Nodes)

	_, _, err = run(t, "--data-dir", dir, "snapshot", "restore", "20000101T000000.000000000Z")
	assert.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cag.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
storage:
  path: `+filepath.Join(dir, "data")+`
  backend: badger
snapshots:
  compress: false
context:
  max_depth: 1
`), 0o644))

	_, _, err := run(t, "--config", cfgPath, "add", "Mimikatz", "uses", "LSASS")
	require.NoError(t, err)

	out, _, err := run(t, "--config", cfgPath, "stats", "--json")
	require.NoError(t, err)
	var view statsView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "badger", view.Backend)
	assert.Equal(t, 2, view.Nodes)
	assert.DirExists(t, filepath.Join(dir, "data", "badger"))

	out, _, err = run(t, "--config", cfgPath, "snapshot", "create")
	require.NoError(t, err)
	timestamp := strings.Fields(out)[2]
	assert.FileExists(t, filepath.Join(dir, "data", "snapshots", timestamp, "graph.json"))

	_, _, err = run(t, "--config", filepath.Join(dir, "missing.yaml"), "stats")
	assert.Error(t, err)
}

// syncBuffer is a bytes.Buffer safe for a concurrent writer and reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServe(t *testing.T) {
	dir := t.TempDir()
	addScenario(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := newRootCmd()
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--data-dir", dir, "serve", "--metrics-addr", "127.0.0.1:0"})

	done := make(chan error, 1)
	go func() {
		done <- cmd.ExecuteContext(ctx)
	}()

	addrPattern := regexp.MustCompile(`http://(\S+)/metrics`)
	var url string
	require.Eventually(t, func() bool {
		m := addrPattern.FindStringSubmatch(out.String())
		if m == nil {
			return false
		}
		url = "http://" + m[1] + "/metrics"
		return true
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "cag_store_nodes 2")
	assert.Contains(t, string(body), "cag_store_relationships 1")

	resp, err = http.Get(strings.TrimSuffix(url, "/metrics") + "/healthz")
	require.NoError(t, err)
	var status map[string]any
	err = json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", status["status"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}

	// The directory lock is released on shutdown.
	assert.Equal(t, 2, stats(t, dir).Nodes)
}

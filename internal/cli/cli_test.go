package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gratwin/internal/storage"
	logx "gratwin/pkg/logx"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(bytes.NewReader(nil))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "gratwin.yaml")
	require.NoError(t, os.WriteFile(p, []byte(fmt.Sprintf(body, filepath.Join(dir, "journal.db"))), 0o600))
	return p, dir
}

const cfgBody = `
logging: { level: error }
twin: { period: 5ms }
storage: { driver: sqlite, path: %s }
units:
  - name: answer
    interval: 10ms
    max_tries: 5
    probe: { type: contains, key: answer, value: "42", source: "static:42" }
  - name: fresh
    kind: repeating
    reset_interval: 1m
    max_resets: 3
    probe: { type: fresh, key: f, max_age: 1s, source: "static:ok" }
`

func TestValidateCommand(t *testing.T) {
	p, _ := writeConfig(t, cfgBody)
	out, err := execute(t, "validate", "--config", p)
	require.NoError(t, err)
	assert.Contains(t, out, "config OK: 2 units")
	assert.Contains(t, out, "answer")
	assert.Contains(t, out, "contains:answer")
	assert.Contains(t, out, "repeating")
}

func TestValidateCommandFails(t *testing.T) {
	p, _ := writeConfig(t, "units: [] # %s\n")
	_, err := execute(t, "validate", "-c", p)
	assert.ErrorContains(t, err, "at least one unit")
}

func TestRunUntilDoneThenHistory(t *testing.T) {
	p, _ := writeConfig(t, cfgBody)

	done := make(chan error, 1)
	var out string
	go func() {
		var err error
		out, err = execute(t, "run", "-c", p, "--watch=false", "--until-done")
		done <- err
	}()

	select {
	case err := <-done:
		// The repeating unit only finishes once its resets run out, which
		// takes three ticks.
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
	assert.Contains(t, out, "2 units")

	hist, err := execute(t, "history", "-c", p, "--unit", "answer")
	require.NoError(t, err)
	assert.Contains(t, hist, "unit.accomplished")
	assert.NotContains(t, hist, "fresh")

	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(filepath.Dir(p), "journal.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	rows, err := st.Recent(context.Background(), storage.Query{Unit: "fresh"})
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "resets_exhausted", rows[0].Reason)
}

func TestHistoryWithoutStorage(t *testing.T) {
	p, _ := writeConfig(t, `
# %s
units:
  - name: a
    probe: { type: contains, key: k, value: v, source: "static:v" }
`)
	_, err := execute(t, "history", "-c", p)
	assert.ErrorContains(t, err, "storage.driver")
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	accountID    = "00000000-0000-4000-8000-000000000001"
	contactID    = "00000000-0000-4000-8000-000000000002"
	tagID        = "00000000-0000-4000-8000-000000000003"
	contactTagID = "00000000-0000-4000-8000-000000000004"
)

// workspace is a temporary working directory with a store path. The test
// runs inside it so no portalmover.yaml from elsewhere is read.
type workspace struct {
	dir     string
	store   string
	schema  string
	records string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	schemaDir, err := filepath.Abs(filepath.Join("testdata", "schema"))
	require.NoError(t, err)
	records, err := filepath.Abs(filepath.Join("testdata", "records.yaml"))
	require.NoError(t, err)

	dir := t.TempDir()
	t.Chdir(dir)
	return workspace{
		dir:     dir,
		store:   filepath.Join(dir, "portalmover.db"),
		schema:  schemaDir,
		records: records,
	}
}

func (w workspace) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(w.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// run executes the root command with the workspace store and returns
// stdout.
func (w workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append([]string{"--store", w.store}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// response decodes a JSON CLI response, decoding Data into data when it is
// non-nil.
func response(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var raw struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), "output: %s", out)
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.CLIResponse
}

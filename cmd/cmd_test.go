package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/asaidimu/go-anansi-schema/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) string {
	t.Helper()
	t.Setenv(config.MasterKeyEnv, "")
	os.Unsetenv(config.MasterKeyEnv)
	dir := t.TempDir()
	path := filepath.Join(dir, "anansi.yaml")
	body := "database:\n  path: " + filepath.Join(dir, "test.db") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSchemaCommands(t *testing.T) {
	cfg := testConfig(t)

	request := filepath.Join(t.TempDir(), "post.json")
	require.NoError(t, os.WriteFile(request, []byte(`{
		"fields": {"title": {"type": "String"}},
		"indexes": {"by_title": {"title": 1}}
	}`), 0o644))

	out, err := run(t, "", "-c", cfg, "schema", "apply", "Post", "-f", request)
	require.NoError(t, err, out)
	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "Post", created["className"])

	out, err = run(t, `{"fields": {"views": {"type": "Number"}}}`, "-c", cfg, "schema", "apply", "Post")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"views"`)

	out, err = run(t, "", "-c", cfg, "schema", "get", "Post")
	require.NoError(t, err)
	assert.Contains(t, out, `"by_title"`)
	assert.Contains(t, out, `"title"`)

	out, err = run(t, "", "-c", cfg, "schema", "list")
	require.NoError(t, err)
	var listed struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	var names []string
	for _, r := range listed.Results {
		names = append(names, r["className"].(string))
	}
	assert.Contains(t, names, "Post")

	out, err = run(t, "", "-c", cfg, "schema", "verify", "Post")
	require.NoError(t, err, out)

	out, err = run(t, "", "-c", cfg, "schema", "delete", "Post")
	require.NoError(t, err)
	assert.Equal(t, "deleted Post\n", out)

	_, err = run(t, "", "-c", cfg, "schema", "get", "Post")
	assert.EqualError(t, err, "Class Post does not exist.")
}

func TestSchemaCommandErrors(t *testing.T) {
	cfg := testConfig(t)

	_, err := run(t, "{", "-c", cfg, "schema", "apply", "Post")
	assert.ErrorContains(t, err, "failed to decode class request")

	_, err = run(t, "", "-c", cfg, "schema", "get")
	assert.Error(t, err)

	_, err = run(t, "", "-c", filepath.Join(t.TempDir(), "missing.yaml"), "schema", "list")
	assert.ErrorContains(t, err, "failed to read the config file")

	_, err = run(t, `{"fields": {"bad name": {"type": "String"}}}`, "-c", cfg, "schema", "apply", "Post")
	assert.Error(t, err)
}

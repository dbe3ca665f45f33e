package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
manager:
  name: main
tasks:
  - name: beat
    action: heartbeat
    schedule: "@every 5s"
  - name: once
    action: noop
    type: one_shot
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (2 tasks)")

	bad := writeConfig(t, "manager: {}\n")
	_, err = execute(t, "validate", "--config", bad)
	assert.Error(t, err)
}

func TestExportCommand(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	out, err := execute(t, "export", "--config", path, "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "name: main")
	assert.Contains(t, out, "ONE_SHOT")

	_, err = execute(t, "export", "--config", path, "--format", "xml")
	assert.Error(t, err)
}

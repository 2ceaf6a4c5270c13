package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/baton/pkg/orchestra"
	"github.com/Mindburn-Labs/baton/pkg/registry"
)

// stubServer swaps runServer for a counter so dispatch tests never bind a
// socket.
func stubServer(t *testing.T) *int {
	t.Helper()
	calls := 0
	orig := startServer
	startServer = func(stdout, stderr io.Writer) int {
		calls++
		return 0
	}
	t.Cleanup(func() { startServer = orig })
	return &calls
}

func TestRunDefaultsToServer(t *testing.T) {
	calls := stubServer(t)
	var out, errOut bytes.Buffer

	code := Run([]string{"baton"}, &out, &errOut)

	assert.Equal(t, 0, code)
	assert.Equal(t, 1, *calls)
}

func TestRunServerAliases(t *testing.T) {
	calls := stubServer(t)
	var out, errOut bytes.Buffer

	assert.Equal(t, 0, Run([]string{"baton", "server"}, &out, &errOut))
	assert.Equal(t, 0, Run([]string{"baton", "serve"}, &out, &errOut))
	assert.Equal(t, 0, Run([]string{"baton", "--addr=:9090"}, &out, &errOut))
	assert.Equal(t, 3, *calls)
}

func TestRunVersion(t *testing.T) {
	calls := stubServer(t)
	var out, errOut bytes.Buffer

	code := Run([]string{"baton", "version"}, &out, &errOut)

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), appVersion)
	assert.Zero(t, *calls)
}

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer

	code := Run([]string{"baton", "help"}, &out, &errOut)

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "USAGE")
	assert.Contains(t, out.String(), "validate")
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer

	code := Run([]string{"baton", "conduct"}, &out, &errOut)

	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "Unknown command: conduct")
}

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestValidateCmdAcceptsManifest(t *testing.T) {
	path := writeManifest(t, `
name: database-orchestra
version: 1.0.0
domain: database
agents:
  - name: migration-runner
    role: executes schema migrations
depends_on:
  - observability
`)
	var out, errOut bytes.Buffer

	code := Run([]string{"baton", "validate", path}, &out, &errOut)

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Manifest valid")
	assert.Contains(t, out.String(), "database")
	assert.Contains(t, out.String(), "observability")
}

func TestValidateCmdReportsFieldErrors(t *testing.T) {
	path := writeManifest(t, `
name: database-orchestra
version: not-semver
domain: database
agents:
  - name: migration-runner
    role: executes schema migrations
`)
	var out, errOut bytes.Buffer

	code := Run([]string{"baton", "validate", path}, &out, &errOut)

	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "ERR_MANIFEST_VERSION_INVALID")
}

func TestValidateCmdRequiresPath(t *testing.T) {
	var out, errOut bytes.Buffer

	code := Run([]string{"baton", "validate"}, &out, &errOut)

	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "Usage: baton validate")
}

func TestSeedManifestsRegistersDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "db.yaml"), []byte(`
name: database-orchestra
version: 1.0.0
domain: database
agents:
  - name: migration-runner
    role: executes schema migrations
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	reg := registry.New()
	n, err := seedManifests(context.Background(), reg, dir)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, reg.IsActive(orchestra.DomainDatabase))
}

func TestSeedManifestsFailsOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`
name: broken
version: 1.0.0
domain: nowhere
agents:
  - name: a
    role: r
`), 0o600))

	_, err := seedManifests(context.Background(), registry.New(), dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

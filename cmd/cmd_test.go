package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rb-x/pwnflow/api/schemas"
	"github.com/rb-x/pwnflow/internal/container"
	"github.com/rb-x/pwnflow/internal/seal"
)

// runCommand executes a fresh root command and captures its output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := NewRootCommand()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTestContainer(t *testing.T) string {
	t.Helper()
	codec := container.New(seal.New(seal.MinIterations, 24), "test", nil)
	snap := &schemas.Snapshot{
		Kind: schemas.KindProject,
		Name: "acme",
		Nodes: []schemas.NodeRecord{
			{ID: "n1", Title: "recon"},
		},
	}
	data, _, err := codec.Write(snap, schemas.EncryptionPassword, "correct-horse")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "acme.pwnflow")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestVersionFlag(t *testing.T) {
	out, err := runCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestPreviewCommand(t *testing.T) {
	path := writeTestContainer(t)

	out, err := runCommand(t, "preview", path)
	require.NoError(t, err)

	var preview schemas.ImportPreview
	require.NoError(t, json.Unmarshal([]byte(out), &preview))
	assert.Equal(t, schemas.KindProject, preview.Type)
	assert.Equal(t, "acme", preview.Name)
	assert.True(t, preview.IsEncrypted)
	assert.Equal(t, 1, preview.Counts.Nodes)
}

func TestPreviewRejectsGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a container"), 0o600))

	_, err := runCommand(t, "preview", path)
	assert.Error(t, err)
}

func TestPreviewMissingFile(t *testing.T) {
	_, err := runCommand(t, "preview", filepath.Join(t.TempDir(), "missing.pwnflow"))
	assert.Error(t, err)
}

package container

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// rewriteEntry rebuilds a container archive with one entry transformed.
// Used to simulate tampered or hand-edited files.
func rewriteEntry(t *testing.T, data []byte, name string, transform func([]byte) []byte) []byte {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		if f.Name == name {
			content = transform(content)
		}
		w, err := zw.Create(f.Name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// rewriteMetadataVersion stamps a different schema version into metadata.json.
func rewriteMetadataVersion(t *testing.T, data []byte, version string) []byte {
	t.Helper()

	return rewriteEntry(t, data, "metadata.json", func(raw []byte) []byte {
		var meta map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &meta))
		meta["version"] = version
		out, err := json.Marshal(meta)
		require.NoError(t, err)
		return out
	})
}

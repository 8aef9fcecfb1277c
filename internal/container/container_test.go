package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rb-x/pwnflow/api/schemas"
	"github.com/rb-x/pwnflow/internal/seal"
)

func newTestCodec() *Codec {
	return New(seal.New(seal.MinIterations, 24), "1.1.0", zap.NewNop())
}

func sampleSnapshot() *schemas.Snapshot {
	return &schemas.Snapshot{
		Kind:            schemas.KindProject,
		Name:            "acme external",
		Description:     "perimeter assessment",
		LayoutDirection: "TB",
		CategoryTags:    []string{"web"},
		Nodes: []schemas.NodeRecord{
			{ID: "n1", Title: "recon", Status: "DONE"},
			{ID: "n2", Title: "exploit", Status: "IN_PROGRESS"},
			{ID: "n3", Title: "report", Status: "NOT_STARTED"},
		},
		Edges: []schemas.EdgeRecord{
			{Source: "n1", Target: "n2"},
			{Source: "n2", Target: "n3"},
		},
		Contexts: []schemas.ContextRecord{{ID: "c1", Name: "prod"}},
		Variables: []schemas.VariableRecord{
			{ID: "v1", ContextID: "c1", Name: "API_KEY", Value: "hunter2", Sensitive: true},
		},
		Commands: []schemas.CommandRecord{
			{ID: "cmd1", NodeID: "n1", Title: "portscan", Command: "nmap -sV target"},
		},
		Findings: []schemas.FindingRecord{
			{ID: "f1", NodeID: "n2", Content: "weak TLS config", Date: "2025-05-01T00:00:00Z"},
		},
		Tags: []string{"external"},
		ScopeAssets: []schemas.ScopeAssetRecord{
			{ID: "a1", IP: "10.0.0.5", Protocol: "tcp"},
		},
	}
}

func TestRoundTripPlaintext(t *testing.T) {
	t.Parallel()
	codec := newTestCodec()
	snap := sampleSnapshot()

	data, generated, err := codec.Write(snap, schemas.EncryptionNone, "")
	require.NoError(t, err)
	assert.Empty(t, generated)

	got, meta, err := codec.ReadPayload(data, "")
	require.NoError(t, err)
	assert.False(t, meta.IsEncrypted)
	assert.Equal(t, snap.Counts(), got.Counts())
	assert.Equal(t, snap.Variables[0].Value, got.Variables[0].Value)
	require.NoError(t, got.Validate())
}

func TestRoundTripPasswordEncryption(t *testing.T) {
	t.Parallel()
	codec := newTestCodec()
	snap := sampleSnapshot()

	data, _, err := codec.Write(snap, schemas.EncryptionPassword, "correct-horse")
	require.NoError(t, err)

	got, meta, err := codec.ReadPayload(data, "correct-horse")
	require.NoError(t, err)
	assert.True(t, meta.IsEncrypted)
	assert.Equal(t, snap.Counts(), got.Counts())

	_, _, err = codec.ReadPayload(data, "wrong")
	assert.ErrorIs(t, err, seal.ErrAuthentication)
}

func TestEncryptedContainerRequiresPassword(t *testing.T) {
	t.Parallel()
	codec := newTestCodec()

	data, _, err := codec.Write(sampleSnapshot(), schemas.EncryptionPassword, "pw")
	require.NoError(t, err)

	_, meta, err := codec.ReadPayload(data, "")
	assert.ErrorIs(t, err, ErrPasswordRequired)
	require.NotNil(t, meta, "metadata must still be available for previews")
	assert.Equal(t, "acme external", meta.ItemName)
}

func TestGeneratedPasswordExport(t *testing.T) {
	t.Parallel()
	codec := newTestCodec()
	snap := sampleSnapshot()

	data1, pw1, err := codec.Write(snap, schemas.EncryptionGenerated, "")
	require.NoError(t, err)
	require.NotEmpty(t, pw1)

	_, pw2, err := codec.Write(snap, schemas.EncryptionGenerated, "")
	require.NoError(t, err)
	assert.NotEqual(t, pw1, pw2, "generated password must be fresh per export")

	got, _, err := codec.ReadPayload(data1, pw1)
	require.NoError(t, err)
	assert.Equal(t, snap.Counts(), got.Counts())
}

func TestWritePasswordMethodWithoutPassword(t *testing.T) {
	t.Parallel()
	codec := newTestCodec()

	_, _, err := codec.Write(sampleSnapshot(), schemas.EncryptionPassword, "")
	assert.ErrorIs(t, err, ErrMissingPassword)
}

func TestReadMetadataWithoutPassword(t *testing.T) {
	t.Parallel()
	codec := newTestCodec()

	data, _, err := codec.Write(sampleSnapshot(), schemas.EncryptionPassword, "pw")
	require.NoError(t, err)

	meta, err := codec.ReadMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, schemas.FormatProject, meta.Format)
	assert.Equal(t, schemas.SchemaVersion, meta.Version)
	assert.Equal(t, 3, meta.Counts.Nodes)
	assert.NotEmpty(t, meta.Checksum)
	assert.NotEmpty(t, meta.PayloadChecksum)
}

func TestInvalidContainers(t *testing.T) {
	t.Parallel()
	codec := newTestCodec()

	cases := []struct {
		name string
		data []byte
	}{
		{"zero bytes", nil},
		{"not a zip", []byte("definitely not a container")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := codec.ReadMetadata(tc.data)
			assert.ErrorIs(t, err, ErrInvalidContainer)
		})
	}
}

func TestUnsupportedSchemaVersion(t *testing.T) {
	t.Parallel()
	codec := newTestCodec()

	data, _, err := codec.Write(sampleSnapshot(), schemas.EncryptionNone, "")
	require.NoError(t, err)

	// A future-versioned container must be rejected, not half-parsed.
	meta, err := codec.ReadMetadata(data)
	require.NoError(t, err)
	require.Equal(t, schemas.SchemaVersion, meta.Version)

	tampered := rewriteMetadataVersion(t, data, "9.9")
	_, err = codec.ReadMetadata(tampered)
	assert.ErrorIs(t, err, ErrInvalidContainer)
}

func TestWriteRejectsDanglingReferences(t *testing.T) {
	t.Parallel()
	codec := newTestCodec()

	snap := sampleSnapshot()
	snap.Edges = append(snap.Edges, schemas.EdgeRecord{Source: "n1", Target: "ghost"})

	_, _, err := codec.Write(snap, schemas.EncryptionNone, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestTamperedPayloadFailsChecksum(t *testing.T) {
	t.Parallel()
	codec := newTestCodec()

	data, _, err := codec.Write(sampleSnapshot(), schemas.EncryptionNone, "")
	require.NoError(t, err)

	tampered := rewriteEntry(t, data, "data.json", func(payload []byte) []byte {
		out := append([]byte(nil), payload...)
		// Flip a byte inside the JSON body without breaking the structure.
		i := len(out) / 2
		if out[i] == 'a' {
			out[i] = 'b'
		} else {
			out[i] = 'a'
		}
		return out
	})

	_, _, err = codec.ReadPayload(tampered, "")
	assert.ErrorIs(t, err, ErrInvalidContainer)
}

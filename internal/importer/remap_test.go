package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rb-x/pwnflow/api/schemas"
)

func sampleSnapshot() *schemas.Snapshot {
	return &schemas.Snapshot{
		Kind: schemas.KindProject,
		Name: "acme",
		Nodes: []schemas.NodeRecord{
			{ID: "n1", Title: "recon"},
			{ID: "n2", Title: "exploit"},
		},
		Edges: []schemas.EdgeRecord{
			{Source: "n1", Target: "n2"},
		},
		Contexts: []schemas.ContextRecord{
			{ID: "c1", Name: "prod"},
		},
		Variables: []schemas.VariableRecord{
			{ID: "v1", ContextID: "c1", Name: "db_password", Value: "hunter2", Sensitive: true},
		},
		Commands: []schemas.CommandRecord{
			{ID: "cmd1", NodeID: "n1", Title: "scan", Command: "nmap"},
		},
		Findings: []schemas.FindingRecord{
			{ID: "f1", NodeID: "n2", Content: "weak creds"},
		},
		ScopeAssets: []schemas.ScopeAssetRecord{
			{ID: "s1", IP: "10.0.0.5"},
		},
	}
}

func TestRemapMintsFreshIdentifiers(t *testing.T) {
	t.Parallel()
	original := sampleSnapshot()

	remapped, ids, warnings := Remap(original)
	require.Empty(t, warnings)

	// No original identifier survives anywhere.
	for old := range ids {
		assert.NotEqual(t, old, ids[old])
	}
	for _, n := range remapped.Nodes {
		assert.NotEqual(t, "n1", n.ID)
		assert.NotEqual(t, "n2", n.ID)
		assert.Len(t, n.ID, 36)
	}

	// References follow their owners.
	assert.Equal(t, ids["n1"], remapped.Edges[0].Source)
	assert.Equal(t, ids["n2"], remapped.Edges[0].Target)
	assert.Equal(t, ids["c1"], remapped.Variables[0].ContextID)
	assert.Equal(t, ids["n1"], remapped.Commands[0].NodeID)
	assert.Equal(t, ids["n2"], remapped.Findings[0].NodeID)

	// Everything else is preserved.
	assert.Equal(t, "hunter2", remapped.Variables[0].Value)
	assert.Equal(t, "recon", remapped.Nodes[0].Title)
	assert.NoError(t, remapped.Validate())
}

func TestRemapDoesNotMutateInput(t *testing.T) {
	t.Parallel()
	original := sampleSnapshot()

	_, _, _ = Remap(original)

	assert.Equal(t, "n1", original.Nodes[0].ID)
	assert.Equal(t, "n1", original.Edges[0].Source)
	assert.Equal(t, "c1", original.Variables[0].ContextID)
}

func TestRemapTwiceYieldsDistinctIdentifiers(t *testing.T) {
	t.Parallel()
	original := sampleSnapshot()

	first, _, _ := Remap(original)
	second, _, _ := Remap(original)
	assert.NotEqual(t, first.Nodes[0].ID, second.Nodes[0].ID)
}

func TestRemapDropsDanglingReferences(t *testing.T) {
	t.Parallel()
	snap := &schemas.Snapshot{
		Kind:  schemas.KindProject,
		Name:  "holey",
		Nodes: []schemas.NodeRecord{{ID: "n1", Title: "only"}},
		Edges: []schemas.EdgeRecord{
			{Source: "n1", Target: "ghost"},
		},
		Commands: []schemas.CommandRecord{
			{ID: "cmd1", NodeID: "ghost", Title: "orphan"},
		},
		Variables: []schemas.VariableRecord{
			{ID: "v1", ContextID: "ghost", Name: "orphan"},
		},
		Findings: []schemas.FindingRecord{
			{ID: "f1", NodeID: "ghost"},
		},
	}

	remapped, _, warnings := Remap(snap)

	assert.Empty(t, remapped.Edges)
	assert.Empty(t, remapped.Commands)
	assert.Empty(t, remapped.Variables)
	assert.Empty(t, remapped.Findings)
	assert.Len(t, warnings, 4)
	assert.NoError(t, remapped.Validate())
}

func TestRemapDropsDuplicateIdentifiers(t *testing.T) {
	t.Parallel()
	snap := &schemas.Snapshot{
		Kind: schemas.KindProject,
		Name: "dup",
		Nodes: []schemas.NodeRecord{
			{ID: "n1", Title: "first"},
			{ID: "n1", Title: "second"},
		},
	}

	remapped, _, warnings := Remap(snap)
	assert.Len(t, remapped.Nodes, 1)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "duplicate")
}

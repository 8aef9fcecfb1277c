package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// getTestStore returns a Memory store pre-populated with one owned project
// holding two linked nodes.
func getTestStore(t *testing.T) (*Memory, string, []string) {
	t.Helper()
	ctx := context.Background()

	m := NewMemory(zap.NewNop())
	rootID, err := m.CreateRoot(ctx, "user-1", KindProject, "acme", map[string]interface{}{
		"description": "external assessment",
	})
	require.NoError(t, err)

	n1, err := m.CreateChild(ctx, rootID, RelHasNode, KindNode, "recon", nil)
	require.NoError(t, err)
	n2, err := m.CreateChild(ctx, rootID, RelHasNode, KindNode, "exploit", nil)
	require.NoError(t, err)
	require.NoError(t, m.Link(ctx, n1, n2, RelLinkedTo))

	return m, rootID, []string{n1, n2}
}

func TestFindOwnedRoot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, rootID, _ := getTestStore(t)

	t.Run("owner can read", func(t *testing.T) {
		root, err := m.FindOwnedRoot(ctx, "user-1", KindProject, rootID)
		require.NoError(t, err)
		assert.Equal(t, "acme", root.Label)
		assert.Equal(t, "external assessment", root.StringProp("description", ""))
	})

	t.Run("other tenant gets not-found", func(t *testing.T) {
		_, err := m.FindOwnedRoot(ctx, "user-2", KindProject, rootID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("wrong kind gets not-found", func(t *testing.T) {
		_, err := m.FindOwnedRoot(ctx, "user-1", KindTemplate, rootID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown id gets not-found", func(t *testing.T) {
		_, err := m.FindOwnedRoot(ctx, "user-1", KindProject, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPublicTemplateReadableByAnyone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(nil)

	id, err := m.CreateRoot(ctx, "author", KindTemplate, "shared methodology", map[string]interface{}{
		"is_public": true,
	})
	require.NoError(t, err)

	root, err := m.FindOwnedRoot(ctx, "someone-else", KindTemplate, id)
	require.NoError(t, err)
	assert.Equal(t, "shared methodology", root.Label)
}

func TestChildrenOrderAndIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, rootID, nodeIDs := getTestStore(t)

	nodes, err := m.Children(ctx, rootID, RelHasNode)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, nodeIDs[0], nodes[0].ID, "children keep insertion order")
	assert.Equal(t, nodeIDs[1], nodes[1].ID)

	linked, err := m.Children(ctx, nodeIDs[0], RelLinkedTo)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, nodeIDs[1], linked[0].ID)

	// Mutating a returned entity must not leak back into the store.
	nodes[0].Props["description"] = "mutated"
	again, err := m.Children(ctx, rootID, RelHasNode)
	require.NoError(t, err)
	assert.NotContains(t, again[0].Props, "description")
}

func TestLinkIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _, nodeIDs := getTestStore(t)

	require.NoError(t, m.Link(ctx, nodeIDs[0], nodeIDs[1], RelLinkedTo))
	linked, err := m.Children(ctx, nodeIDs[0], RelLinkedTo)
	require.NoError(t, err)
	assert.Len(t, linked, 1)
}

func TestLinkUnknownEntities(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _, nodeIDs := getTestStore(t)

	assert.Error(t, m.Link(ctx, "ghost", nodeIDs[0], RelLinkedTo))
	assert.Error(t, m.Link(ctx, nodeIDs[0], "ghost", RelLinkedTo))
}

func TestMergeByLabel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(nil)

	id1, err := m.MergeByLabel(ctx, KindTag, "web", nil)
	require.NoError(t, err)
	id2, err := m.MergeByLabel(ctx, KindTag, "web", nil)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "merging the same tag twice yields one entity")

	id3, err := m.MergeByLabel(ctx, KindTag, "infra", nil)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestCreateChildUnknownParent(t *testing.T) {
	t.Parallel()
	m := NewMemory(nil)

	_, err := m.CreateChild(context.Background(), "missing", RelHasNode, KindNode, "n", nil)
	assert.Error(t, err)
}

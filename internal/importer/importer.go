// Package importer rebuilds an exported snapshot inside the graph store
// under a new owner, with every identifier re-minted on the way in.
package importer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rb-x/pwnflow/api/schemas"
	"github.com/rb-x/pwnflow/internal/container"
	"github.com/rb-x/pwnflow/internal/graph"
)

// ErrNotImplemented is returned when a caller selects the merge import mode.
// Merge is declared but deliberately unimplemented; failing fast beats a
// silent partial no-op.
var ErrNotImplemented = errors.New("merge import mode is not implemented")

// ProgressFunc observes materialization as it advances. processed and total
// refer to the step's own entity count.
type ProgressFunc func(step schemas.ImportStep, processed, total int)

// Service runs container previews and imports.
type Service struct {
	store graph.Store
	codec *container.Codec
	log   *zap.Logger
}

func NewService(store graph.Store, codec *container.Codec, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, codec: codec, log: logger.Named("importer")}
}

// Preview reads container metadata without requiring a password. The item
// description lives in the payload, not the metadata, so it is filled in only
// when the payload is readable: plaintext containers always, encrypted ones
// when the caller supplies the password. A supplied-but-wrong password is an
// error, not a silent metadata-only preview.
func (s *Service) Preview(data []byte, password string) (*schemas.ImportPreview, error) {
	meta, err := s.codec.ReadMetadata(data)
	if err != nil {
		return nil, err
	}
	kind := schemas.KindProject
	if meta.Format == schemas.FormatTemplate {
		kind = schemas.KindTemplate
	}
	preview := &schemas.ImportPreview{
		Type:          kind,
		Name:          meta.ItemName,
		ExportedAt:    meta.ExportedAt,
		FormatVersion: meta.Version,
		IsEncrypted:   meta.IsEncrypted,
		Counts:        meta.Counts,
	}
	if !meta.IsEncrypted || password != "" {
		snap, _, err := s.codec.ReadPayload(data, password)
		if err != nil {
			return nil, err
		}
		preview.Description = snap.Description
	}
	return preview, nil
}

// Import decodes a container and materializes its snapshot under owner. The
// whole materialization runs inside one store transaction: a wrong password
// or a root creation failure leaves the graph untouched.
func (s *Service) Import(ctx context.Context, data []byte, password string, mode schemas.ImportMode, owner string) (*schemas.ImportResult, error) {
	if mode == schemas.ImportModeMerge {
		return nil, ErrNotImplemented
	}
	if mode != schemas.ImportModeNew {
		return nil, fmt.Errorf("unknown import mode %q", mode)
	}

	snap, meta, err := s.codec.ReadPayload(data, password)
	if err != nil {
		return nil, err
	}

	result := &schemas.ImportResult{NodeMappings: map[string]string{}}
	remapped, ids, warnings := Remap(snap)
	result.Warnings = append(result.Warnings, warnings...)
	for _, n := range snap.Nodes {
		if fresh, ok := ids[n.ID]; ok {
			result.NodeMappings[n.ID] = fresh
		}
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx graph.Store) error {
		rootID, err := Materialize(ctx, tx, remapped, owner, result, nil)
		if err != nil {
			return err
		}
		result.ProjectID = rootID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Imported container",
		zap.String("item", meta.ItemName),
		zap.String("root_id", result.ProjectID),
		zap.Int("nodes", result.ImportedNodes),
		zap.Int("relationships", result.ImportedEdges),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// Materialize writes a remapped snapshot into the store in dependency order:
// root, nodes, edges, contexts and their variables, commands, findings,
// scope assets, then tags. Entity-level store failures are appended to
// result.Errors and the operation moves on; only root creation or context
// cancellation aborts.
func Materialize(ctx context.Context, store graph.Store, snap *schemas.Snapshot, owner string, result *schemas.ImportResult, onProgress ProgressFunc) (string, error) {
	report := func(step schemas.ImportStep, processed, total int) {
		if onProgress != nil {
			onProgress(step, processed, total)
		}
	}
	fail := func(format string, args ...interface{}) {
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	rootKind := graph.KindProject
	if snap.Kind == schemas.KindTemplate {
		rootKind = graph.KindTemplate
	}
	rootProps := map[string]interface{}{
		"description": snap.Description,
	}
	if snap.LayoutDirection != "" {
		rootProps["layout_direction"] = snap.LayoutDirection
	}
	if len(snap.CategoryTags) > 0 {
		rootProps["category_tags"] = snap.CategoryTags
	}
	if snap.Kind == schemas.KindTemplate {
		rootProps["is_public"] = false
	}

	report(schemas.StepCreatingRoot, 0, 1)
	rootID, err := store.CreateRoot(ctx, owner, rootKind, snap.Name+" (Imported)", rootProps)
	if err != nil {
		return "", fmt.Errorf("failed to create imported root: %w", err)
	}
	report(schemas.StepCreatingRoot, 1, 1)

	// snapshot ids map to freshly created store ids; children attach through it.
	created := make(map[string]string, len(snap.Nodes)+len(snap.Contexts))

	for i, n := range snap.Nodes {
		if err := ctx.Err(); err != nil {
			return rootID, err
		}
		props := map[string]interface{}{
			"description": n.Description,
			"status":      n.Status,
			"x_pos":       n.XPos,
			"y_pos":       n.YPos,
		}
		if n.Color != "" {
			props["color"] = n.Color
		}
		id, err := store.CreateChild(ctx, rootID, graph.RelHasNode, graph.KindNode, n.Title, props)
		if err != nil {
			fail("node %q: %v", n.Title, err)
			continue
		}
		created[n.ID] = id
		result.ImportedNodes++
		for _, tag := range n.Tags {
			if err := mergeTag(ctx, store, id, graph.KindTag, graph.RelTaggedWith, tag); err != nil {
				fail("node %q tag %q: %v", n.Title, tag, err)
			}
		}
		report(schemas.StepImportingNodes, i+1, len(snap.Nodes))
	}

	for i, e := range snap.Edges {
		if err := ctx.Err(); err != nil {
			return rootID, err
		}
		src, okSrc := created[e.Source]
		dst, okDst := created[e.Target]
		if !okSrc || !okDst {
			fail("relationship %s -> %s: endpoint was not created", e.Source, e.Target)
			continue
		}
		if err := store.Link(ctx, src, dst, graph.RelLinkedTo); err != nil {
			fail("relationship %s -> %s: %v", e.Source, e.Target, err)
			continue
		}
		result.ImportedEdges++
		report(schemas.StepImportingEdges, i+1, len(snap.Edges))
	}

	for _, c := range snap.Contexts {
		if err := ctx.Err(); err != nil {
			return rootID, err
		}
		id, err := store.CreateChild(ctx, rootID, graph.RelHasContext, graph.KindContext, c.Name, map[string]interface{}{
			"description": c.Description,
		})
		if err != nil {
			fail("context %q: %v", c.Name, err)
			continue
		}
		created[c.ID] = id
	}
	for _, v := range snap.Variables {
		if err := ctx.Err(); err != nil {
			return rootID, err
		}
		ctxID, ok := created[v.ContextID]
		if !ok {
			fail("variable %q: owning context was not created", v.Name)
			continue
		}
		if _, err := store.CreateChild(ctx, ctxID, graph.RelHasVariable, graph.KindVariable, v.Name, map[string]interface{}{
			"value":       v.Value,
			"description": v.Description,
			"sensitive":   v.Sensitive,
		}); err != nil {
			fail("variable %q: %v", v.Name, err)
		}
	}

	for _, c := range snap.Commands {
		if err := ctx.Err(); err != nil {
			return rootID, err
		}
		nodeID, ok := created[c.NodeID]
		if !ok {
			fail("command %q: owning node was not created", c.Title)
			continue
		}
		if _, err := store.CreateChild(ctx, nodeID, graph.RelHasCommand, graph.KindCommand, c.Title, map[string]interface{}{
			"command":     c.Command,
			"description": c.Description,
		}); err != nil {
			fail("command %q: %v", c.Title, err)
		}
	}

	for _, f := range snap.Findings {
		if err := ctx.Err(); err != nil {
			return rootID, err
		}
		nodeID, ok := created[f.NodeID]
		if !ok {
			fail("finding %s: owning node was not created", f.ID)
			continue
		}
		if _, err := store.CreateChild(ctx, nodeID, graph.RelHasFinding, graph.KindFinding, "", map[string]interface{}{
			"content": f.Content,
			"date":    f.Date,
		}); err != nil {
			fail("finding %s: %v", f.ID, err)
		}
	}

	for _, a := range snap.ScopeAssets {
		if err := ctx.Err(); err != nil {
			return rootID, err
		}
		props := map[string]interface{}{
			"protocol":       a.Protocol,
			"hostnames":      a.Hostnames,
			"vhosts":         a.VHosts,
			"status":         a.Status,
			"discovered_via": a.DiscoveredVia,
			"notes":          a.Notes,
		}
		if a.Port != nil {
			props["port"] = *a.Port
		}
		id, err := store.CreateChild(ctx, rootID, graph.RelHasScopeAsset, graph.KindScopeAsset, a.IP, props)
		if err != nil {
			fail("scope asset %q: %v", a.IP, err)
			continue
		}
		for _, tag := range a.Tags {
			if err := mergeTag(ctx, store, id, graph.KindScopeTag, graph.RelTaggedWith, tag); err != nil {
				fail("scope asset %q tag %q: %v", a.IP, tag, err)
			}
		}
	}

	for _, tag := range snap.Tags {
		if err := ctx.Err(); err != nil {
			return rootID, err
		}
		if err := mergeTag(ctx, store, rootID, graph.KindTag, graph.RelHasTag, tag); err != nil {
			fail("tag %q: %v", tag, err)
		}
	}

	return rootID, nil
}

// mergeTag resolves a shared tag entity by label and links the holder to it.
func mergeTag(ctx context.Context, store graph.Store, holderID, kind, relation, label string) error {
	tagID, err := store.MergeByLabel(ctx, kind, label, nil)
	if err != nil {
		return err
	}
	return store.Link(ctx, holderID, tagID, relation)
}

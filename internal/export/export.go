// Package export assembles snapshots from the graph store and seals them into
// portable containers.
package export

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rb-x/pwnflow/api/schemas"
	"github.com/rb-x/pwnflow/internal/container"
	"github.com/rb-x/pwnflow/internal/graph"
)

// Assembler walks an owned subgraph and produces the snapshot that the
// container codec serializes. Redaction happens here, before anything touches
// the wire: template assembly erases variable values and drops findings and
// scope regardless of caller options.
type Assembler struct {
	store graph.Store
	log   *zap.Logger
}

func NewAssembler(store graph.Store, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{store: store, log: logger.Named("assembler")}
}

// AssembleProject resolves a project the owner can see into a full snapshot.
// Options may suppress variable values and scope assets; node, edge and
// command data is always included.
func (a *Assembler) AssembleProject(ctx context.Context, owner, projectID string, opts schemas.ExportOptions) (*schemas.Snapshot, error) {
	root, err := a.store.FindOwnedRoot(ctx, owner, graph.KindProject, projectID)
	if err != nil {
		return nil, err
	}

	snap := a.snapshotFromRoot(root, schemas.KindProject)
	if err := a.collect(ctx, root.ID, snap, opts.IncludeScope); err != nil {
		return nil, err
	}

	if !opts.IncludeVariables {
		for i := range snap.Variables {
			snap.Variables[i].Value = ""
		}
	}
	a.log.Debug("Assembled project snapshot",
		zap.String("project_id", projectID),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("relationships", len(snap.Edges)))
	return snap, nil
}

// AssembleTemplate resolves a template (owned, or public) into a snapshot.
// Variable values are erased and findings and scope assets dropped no matter
// what; a template is shareable by definition.
func (a *Assembler) AssembleTemplate(ctx context.Context, owner, templateID string) (*schemas.Snapshot, error) {
	root, err := a.store.FindOwnedRoot(ctx, owner, graph.KindTemplate, templateID)
	if err != nil {
		return nil, err
	}

	snap := a.snapshotFromRoot(root, schemas.KindTemplate)
	if err := a.collect(ctx, root.ID, snap, false); err != nil {
		return nil, err
	}

	for i := range snap.Variables {
		snap.Variables[i].Value = ""
	}
	snap.Findings = nil
	snap.ScopeAssets = nil

	a.log.Debug("Assembled template snapshot",
		zap.String("template_id", templateID),
		zap.Int("nodes", len(snap.Nodes)))
	return snap, nil
}

func (a *Assembler) snapshotFromRoot(root *graph.Entity, kind schemas.SnapshotKind) *schemas.Snapshot {
	return &schemas.Snapshot{
		Kind:            kind,
		Name:            root.Label,
		Description:     root.StringProp("description", ""),
		LayoutDirection: root.StringProp("layout_direction", ""),
		CategoryTags:    root.StringsProp("category_tags"),
		IsPublic:        root.BoolProp("is_public", false),
	}
}

// collect fetches the four independent branches of the subgraph concurrently.
// Each goroutine writes only its own snapshot fields.
func (a *Assembler) collect(ctx context.Context, rootID string, snap *schemas.Snapshot, includeScope bool) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.collectNodes(gctx, rootID, snap)
	})
	g.Go(func() error {
		return a.collectContexts(gctx, rootID, snap)
	})
	g.Go(func() error {
		tags, err := a.store.Children(gctx, rootID, graph.RelHasTag)
		if err != nil {
			return fmt.Errorf("failed to collect tags: %w", err)
		}
		snap.Tags = labels(tags)
		return nil
	})
	if includeScope {
		g.Go(func() error {
			return a.collectScope(gctx, rootID, snap)
		})
	}

	return g.Wait()
}

func (a *Assembler) collectNodes(ctx context.Context, rootID string, snap *schemas.Snapshot) error {
	nodes, err := a.store.Children(ctx, rootID, graph.RelHasNode)
	if err != nil {
		return fmt.Errorf("failed to collect nodes: %w", err)
	}

	for _, n := range nodes {
		nodeTags, err := a.store.Children(ctx, n.ID, graph.RelTaggedWith)
		if err != nil {
			return fmt.Errorf("failed to collect tags of node %s: %w", n.ID, err)
		}
		snap.Nodes = append(snap.Nodes, schemas.NodeRecord{
			ID:          n.ID,
			Title:       n.Label,
			Description: n.StringProp("description", ""),
			Status:      n.StringProp("status", ""),
			Color:       n.StringProp("color", ""),
			XPos:        n.FloatProp("x_pos", 0),
			YPos:        n.FloatProp("y_pos", 0),
			Tags:        labels(nodeTags),
			CreatedAt:   n.StringProp("created_at", ""),
			UpdatedAt:   n.StringProp("updated_at", ""),
		})

		linked, err := a.store.Children(ctx, n.ID, graph.RelLinkedTo)
		if err != nil {
			return fmt.Errorf("failed to collect relationships of node %s: %w", n.ID, err)
		}
		for _, target := range linked {
			snap.Edges = append(snap.Edges, schemas.EdgeRecord{Source: n.ID, Target: target.ID})
		}

		commands, err := a.store.Children(ctx, n.ID, graph.RelHasCommand)
		if err != nil {
			return fmt.Errorf("failed to collect commands of node %s: %w", n.ID, err)
		}
		for _, c := range commands {
			snap.Commands = append(snap.Commands, schemas.CommandRecord{
				ID:          c.ID,
				NodeID:      n.ID,
				Title:       c.Label,
				Command:     c.StringProp("command", ""),
				Description: c.StringProp("description", ""),
			})
		}

		findings, err := a.store.Children(ctx, n.ID, graph.RelHasFinding)
		if err != nil {
			return fmt.Errorf("failed to collect findings of node %s: %w", n.ID, err)
		}
		for _, f := range findings {
			snap.Findings = append(snap.Findings, schemas.FindingRecord{
				ID:        f.ID,
				NodeID:    n.ID,
				Content:   f.StringProp("content", ""),
				Date:      f.StringProp("date", ""),
				CreatedAt: f.StringProp("created_at", ""),
				UpdatedAt: f.StringProp("updated_at", ""),
			})
		}
	}
	return nil
}

func (a *Assembler) collectContexts(ctx context.Context, rootID string, snap *schemas.Snapshot) error {
	contexts, err := a.store.Children(ctx, rootID, graph.RelHasContext)
	if err != nil {
		return fmt.Errorf("failed to collect contexts: %w", err)
	}
	for _, c := range contexts {
		snap.Contexts = append(snap.Contexts, schemas.ContextRecord{
			ID:          c.ID,
			Name:        c.Label,
			Description: c.StringProp("description", ""),
		})

		variables, err := a.store.Children(ctx, c.ID, graph.RelHasVariable)
		if err != nil {
			return fmt.Errorf("failed to collect variables of context %s: %w", c.ID, err)
		}
		for _, v := range variables {
			snap.Variables = append(snap.Variables, schemas.VariableRecord{
				ID:          v.ID,
				ContextID:   c.ID,
				Name:        v.Label,
				Value:       v.StringProp("value", ""),
				Description: v.StringProp("description", ""),
				Sensitive:   v.BoolProp("sensitive", false),
			})
		}
	}
	return nil
}

func (a *Assembler) collectScope(ctx context.Context, rootID string, snap *schemas.Snapshot) error {
	assets, err := a.store.Children(ctx, rootID, graph.RelHasScopeAsset)
	if err != nil {
		return fmt.Errorf("failed to collect scope assets: %w", err)
	}
	for _, asset := range assets {
		scopeTags, err := a.store.Children(ctx, asset.ID, graph.RelTaggedWith)
		if err != nil {
			return fmt.Errorf("failed to collect tags of scope asset %s: %w", asset.ID, err)
		}
		rec := schemas.ScopeAssetRecord{
			ID:            asset.ID,
			IP:            asset.Label,
			Protocol:      asset.StringProp("protocol", ""),
			Hostnames:     asset.StringsProp("hostnames"),
			VHosts:        asset.StringsProp("vhosts"),
			Status:        asset.StringProp("status", ""),
			DiscoveredVia: asset.StringProp("discovered_via", ""),
			Notes:         asset.StringProp("notes", ""),
			Tags:          labels(scopeTags),
		}
		if port := asset.FloatProp("port", -1); port >= 0 {
			p := int(port)
			rec.Port = &p
		}
		snap.ScopeAssets = append(snap.ScopeAssets, rec)
	}
	return nil
}

func labels(entities []graph.Entity) []string {
	if len(entities) == 0 {
		return nil
	}
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.Label)
	}
	return out
}

// Service ties the assembler to the container codec.
type Service struct {
	assembler *Assembler
	codec     *container.Codec
	log       *zap.Logger
}

func NewService(assembler *Assembler, codec *container.Codec, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{assembler: assembler, codec: codec, log: logger.Named("export")}
}

// ExportProject assembles and seals a project container. The returned string
// is the generated password when method is EncryptionGenerated, empty
// otherwise.
func (s *Service) ExportProject(ctx context.Context, owner, projectID string, opts schemas.ExportOptions, method schemas.EncryptionMethod, password string) ([]byte, string, error) {
	snap, err := s.assembler.AssembleProject(ctx, owner, projectID, opts)
	if err != nil {
		return nil, "", err
	}
	return s.codec.Write(snap, method, password)
}

// ExportTemplate assembles and seals a template container.
func (s *Service) ExportTemplate(ctx context.Context, owner, templateID string, method schemas.EncryptionMethod, password string) ([]byte, string, error) {
	snap, err := s.assembler.AssembleTemplate(ctx, owner, templateID)
	if err != nil {
		return nil, "", err
	}
	return s.codec.Write(snap, method, password)
}

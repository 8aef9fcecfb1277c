package importer

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/rb-x/pwnflow/api/schemas"
)

// IdentifierMap records old -> new identifier pairs minted during a remap.
// Entries are written once and never overwritten.
type IdentifierMap map[string]string

// Remap mints a fresh identifier for every identity-owning entity of the
// snapshot and rewrites all references through the resulting map. The input
// is never mutated. Container identifiers are attacker-controlled, so none
// of them survive into the graph store; a forged or replayed container can
// at worst create fresh entities under the importing owner.
//
// A reference that does not resolve through the map is a defect that should
// have been eliminated upstream; the referencing entity is dropped and a
// warning recorded rather than writing an invalid reference.
func Remap(snap *schemas.Snapshot) (*schemas.Snapshot, IdentifierMap, []string) {
	out := *snap
	ids := make(IdentifierMap)
	var warnings []string

	mint := func(old, kind string) (string, bool) {
		if old == "" {
			return uuid.NewString(), true
		}
		if _, dup := ids[old]; dup {
			warnings = append(warnings, fmt.Sprintf("%s %q: duplicate identifier, dropped", kind, old))
			return "", false
		}
		fresh := uuid.NewString()
		ids[old] = fresh
		return fresh, true
	}

	// First pass: every entity gets a new identity.
	out.Nodes = make([]schemas.NodeRecord, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		fresh, ok := mint(n.ID, "node")
		if !ok {
			continue
		}
		n.ID = fresh
		out.Nodes = append(out.Nodes, n)
	}
	out.Contexts = make([]schemas.ContextRecord, 0, len(snap.Contexts))
	for _, c := range snap.Contexts {
		fresh, ok := mint(c.ID, "context")
		if !ok {
			continue
		}
		c.ID = fresh
		out.Contexts = append(out.Contexts, c)
	}
	out.Variables = make([]schemas.VariableRecord, 0, len(snap.Variables))
	for _, v := range snap.Variables {
		fresh, ok := mint(v.ID, "variable")
		if !ok {
			continue
		}
		v.ID = fresh
		out.Variables = append(out.Variables, v)
	}
	out.Commands = make([]schemas.CommandRecord, 0, len(snap.Commands))
	for _, c := range snap.Commands {
		fresh, ok := mint(c.ID, "command")
		if !ok {
			continue
		}
		c.ID = fresh
		out.Commands = append(out.Commands, c)
	}
	out.Findings = make([]schemas.FindingRecord, 0, len(snap.Findings))
	for _, f := range snap.Findings {
		fresh, ok := mint(f.ID, "finding")
		if !ok {
			continue
		}
		f.ID = fresh
		out.Findings = append(out.Findings, f)
	}
	out.ScopeAssets = make([]schemas.ScopeAssetRecord, 0, len(snap.ScopeAssets))
	for _, a := range snap.ScopeAssets {
		fresh, ok := mint(a.ID, "scope asset")
		if !ok {
			continue
		}
		a.ID = fresh
		out.ScopeAssets = append(out.ScopeAssets, a)
	}

	// Second pass: rewrite references through the map.
	edges := out.Edges
	out.Edges = make([]schemas.EdgeRecord, 0, len(edges))
	for _, e := range edges {
		src, okSrc := ids[e.Source]
		dst, okDst := ids[e.Target]
		if !okSrc || !okDst {
			warnings = append(warnings, fmt.Sprintf("relationship %s -> %s: dangling reference, dropped", e.Source, e.Target))
			continue
		}
		out.Edges = append(out.Edges, schemas.EdgeRecord{Source: src, Target: dst})
	}

	variables := out.Variables
	out.Variables = out.Variables[:0]
	for _, v := range variables {
		cid, ok := ids[v.ContextID]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("variable %q: unknown context reference, dropped", v.Name))
			continue
		}
		v.ContextID = cid
		out.Variables = append(out.Variables, v)
	}

	commands := out.Commands
	out.Commands = out.Commands[:0]
	for _, c := range commands {
		nid, ok := ids[c.NodeID]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("command %q: unknown node reference, dropped", c.Title))
			continue
		}
		c.NodeID = nid
		out.Commands = append(out.Commands, c)
	}

	findings := out.Findings
	out.Findings = out.Findings[:0]
	for _, f := range findings {
		nid, ok := ids[f.NodeID]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("finding %q: unknown node reference, dropped", f.ID))
			continue
		}
		f.NodeID = nid
		out.Findings = append(out.Findings, f)
	}

	return &out, ids, warnings
}

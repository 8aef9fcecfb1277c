package schemas

import "fmt"

// SnapshotKind distinguishes the two exportable root entities.
type SnapshotKind string

const (
	KindProject  SnapshotKind = "project"
	KindTemplate SnapshotKind = "template"
)

// Snapshot is the fully resolved, in-memory form of an exportable subgraph.
// It is the unit the container codec serializes and the import pipeline
// consumes. Identifiers inside a snapshot are opaque strings scoped to the
// snapshot itself; nothing here assumes they are globally unique.
type Snapshot struct {
	Kind            SnapshotKind `json:"kind"`
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	LayoutDirection string       `json:"layout_direction,omitempty"`
	CategoryTags    []string     `json:"category_tags,omitempty"`
	IsPublic        bool         `json:"is_public,omitempty"`

	Nodes       []NodeRecord       `json:"nodes"`
	Edges       []EdgeRecord       `json:"relationships"`
	Contexts    []ContextRecord    `json:"contexts"`
	Variables   []VariableRecord   `json:"variables"`
	Commands    []CommandRecord    `json:"commands"`
	Findings    []FindingRecord    `json:"findings"`
	Tags        []string           `json:"tags"`
	ScopeAssets []ScopeAssetRecord `json:"scope_assets"`
}

// NodeRecord is one graph node of the exported subgraph.
type NodeRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Color       string   `json:"color,omitempty"`
	XPos        float64  `json:"x_pos"`
	YPos        float64  `json:"y_pos"`
	Tags        []string `json:"tags,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

// EdgeRecord is a directed is-linked-to relationship between two nodes of the
// same snapshot.
type EdgeRecord struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// ContextRecord groups variables.
type ContextRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// VariableRecord belongs to exactly one context. Values of template snapshots
// are always erased before serialization.
type VariableRecord struct {
	ID          string `json:"id"`
	ContextID   string `json:"context_id"`
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	Sensitive   bool   `json:"sensitive"`
}

// CommandRecord belongs to exactly one node.
type CommandRecord struct {
	ID          string `json:"id"`
	NodeID      string `json:"node_id"`
	Title       string `json:"title"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
}

// FindingRecord is project evidence attached to one node. Template snapshots
// never carry findings.
type FindingRecord struct {
	ID        string `json:"id"`
	NodeID    string `json:"node_id"`
	Content   string `json:"content"`
	Date      string `json:"date,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ScopeAssetRecord is a network asset in scope for a project.
type ScopeAssetRecord struct {
	ID            string   `json:"id"`
	IP            string   `json:"ip"`
	Port          *int     `json:"port,omitempty"`
	Protocol      string   `json:"protocol,omitempty"`
	Hostnames     []string `json:"hostnames,omitempty"`
	VHosts        []string `json:"vhosts,omitempty"`
	Status        string   `json:"status,omitempty"`
	DiscoveredVia string   `json:"discovered_via,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// EntityCounts summarizes a snapshot for previews and container metadata.
type EntityCounts struct {
	Nodes       int `json:"node_count"`
	Edges       int `json:"relationship_count"`
	Contexts    int `json:"context_count"`
	Variables   int `json:"variable_count"`
	Commands    int `json:"command_count"`
	Findings    int `json:"finding_count"`
	Tags        int `json:"tag_count"`
	ScopeAssets int `json:"scope_asset_count"`
}

// Counts returns the per-kind entity counts of the snapshot.
func (s *Snapshot) Counts() EntityCounts {
	return EntityCounts{
		Nodes:       len(s.Nodes),
		Edges:       len(s.Edges),
		Contexts:    len(s.Contexts),
		Variables:   len(s.Variables),
		Commands:    len(s.Commands),
		Findings:    len(s.Findings),
		Tags:        len(s.Tags),
		ScopeAssets: len(s.ScopeAssets),
	}
}

// Validate checks snapshot-internal referential integrity. A snapshot with a
// dangling reference must never reach the graph store, so callers run this
// before any write.
func (s *Snapshot) Validate() error {
	if s.Kind != KindProject && s.Kind != KindTemplate {
		return fmt.Errorf("unknown snapshot kind %q", s.Kind)
	}

	nodeIDs := make(map[string]struct{}, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node %q has no identifier", n.Title)
		}
		nodeIDs[n.ID] = struct{}{}
	}
	contextIDs := make(map[string]struct{}, len(s.Contexts))
	for _, c := range s.Contexts {
		if c.ID == "" {
			return fmt.Errorf("context %q has no identifier", c.Name)
		}
		contextIDs[c.ID] = struct{}{}
	}

	for _, e := range s.Edges {
		if _, ok := nodeIDs[e.Source]; !ok {
			return fmt.Errorf("relationship source %q does not resolve to a node", e.Source)
		}
		if _, ok := nodeIDs[e.Target]; !ok {
			return fmt.Errorf("relationship target %q does not resolve to a node", e.Target)
		}
	}
	for _, c := range s.Commands {
		if _, ok := nodeIDs[c.NodeID]; !ok {
			return fmt.Errorf("command %q references unknown node %q", c.Title, c.NodeID)
		}
	}
	for _, v := range s.Variables {
		if _, ok := contextIDs[v.ContextID]; !ok {
			return fmt.Errorf("variable %q references unknown context %q", v.Name, v.ContextID)
		}
	}
	for _, f := range s.Findings {
		if _, ok := nodeIDs[f.NodeID]; !ok {
			return fmt.Errorf("finding %q references unknown node %q", f.ID, f.NodeID)
		}
	}

	if s.Kind == KindTemplate {
		for _, v := range s.Variables {
			if v.Value != "" {
				return fmt.Errorf("template snapshot carries a variable value for %q", v.Name)
			}
		}
		if len(s.Findings) > 0 {
			return fmt.Errorf("template snapshot carries %d findings", len(s.Findings))
		}
		if len(s.ScopeAssets) > 0 {
			return fmt.Errorf("template snapshot carries %d scope assets", len(s.ScopeAssets))
		}
	}
	return nil
}

// Package legacy converts pre-container export documents into current-shape
// snapshots. Input here is arbitrary end-user JSON, not a trusted container:
// nothing is assumed present or well-typed, and a single malformed record is
// skipped with a warning instead of aborting the rest.
package legacy

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/rb-x/pwnflow/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// variant identifies where a legacy document keeps its node and edge arrays.
type variant int

const (
	variantNone variant = iota
	variantTopLevel
	variantFlowData
	variantTemplateFlow
)

// Document is the normalizer's output: a current-shape project snapshot,
// an optional nested template snapshot, and the non-fatal warnings collected
// along the way. OriginalID preserves the source document's own id so a
// caller can correlate the import with the document it came from.
type Document struct {
	OriginalID string
	Project    *schemas.Snapshot
	Template   *schemas.Snapshot
	Warnings   []string
}

// Normalizer converts legacy export documents.
type Normalizer struct {
	log *zap.Logger
}

func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{log: logger.Named("legacy")}
}

// Normalize decodes a legacy document and maps it to the current snapshot
// shape. It fails only when the document is not JSON at all or matches none
// of the recognized variants; per-record defects become warnings.
func (n *Normalizer) Normalize(raw []byte) (*Document, error) {
	var doc schemas.LegacyProject
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("legacy document is not valid JSON: %w", err)
	}

	v := detectVariant(&doc)
	if v == variantNone {
		return nil, fmt.Errorf("legacy document matches no recognized shape (no nodes at top level, flowData, or template.flowData)")
	}

	out := &Document{OriginalID: strings.TrimSpace(doc.ID)}
	if out.OriginalID == "" {
		out.OriginalID = strings.TrimSpace(doc.Identifier)
	}
	name := strings.TrimSpace(doc.Name)

	var rawNodes, rawEdges []jsoniter.RawMessage
	switch v {
	case variantTopLevel:
		rawNodes, rawEdges = doc.Nodes, doc.Edges
	case variantFlowData:
		rawNodes, rawEdges = doc.FlowData.Nodes, doc.FlowData.Edges
	case variantTemplateFlow:
		rawNodes, rawEdges = doc.Template.FlowData.Nodes, doc.Template.FlowData.Edges
		if name == "" {
			name = strings.TrimSpace(doc.Template.Name)
		}
	}
	if name == "" {
		name = "Imported Project"
	}

	snap := &schemas.Snapshot{
		Kind:        schemas.KindProject,
		Name:        name,
		Description: doc.Description,
		Tags:        cleanTags(doc.Tags),
	}
	n.mapFlow(snap, rawNodes, rawEdges, &out.Warnings)
	out.Project = snap

	// A nested template alongside project flow data is imported as its own
	// snapshot. When the template WAS the flow source there is nothing extra.
	if v != variantTemplateFlow && doc.Template != nil && doc.Template.FlowData != nil {
		tmpl := &schemas.Snapshot{
			Kind:        schemas.KindTemplate,
			Name:        strings.TrimSpace(doc.Template.Name),
			Description: doc.Template.Description,
			Tags:        cleanTags(doc.Template.Tags),
		}
		if tmpl.Name == "" {
			tmpl.Name = name + " (Template)"
		}
		n.mapFlow(tmpl, doc.Template.FlowData.Nodes, doc.Template.FlowData.Edges, &out.Warnings)
		out.Template = tmpl
	}

	n.log.Info("Normalized legacy document",
		zap.String("name", name),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("relationships", len(snap.Edges)),
		zap.Int("warnings", len(out.Warnings)))
	return out, nil
}

func detectVariant(doc *schemas.LegacyProject) variant {
	switch {
	case len(doc.Nodes) > 0:
		return variantTopLevel
	case doc.FlowData != nil && len(doc.FlowData.Nodes) > 0:
		return variantFlowData
	case doc.Template != nil && doc.Template.FlowData != nil && len(doc.Template.FlowData.Nodes) > 0:
		return variantTemplateFlow
	}
	return variantNone
}

// mapFlow decodes raw node and edge records into snap, accumulating warnings
// for records that cannot be mapped.
func (n *Normalizer) mapFlow(snap *schemas.Snapshot, rawNodes, rawEdges []jsoniter.RawMessage, warnings *[]string) {
	known := make(map[string]struct{}, len(rawNodes))

	for i, raw := range rawNodes {
		var node schemas.LegacyNode
		if err := json.Unmarshal(raw, &node); err != nil {
			*warnings = append(*warnings, fmt.Sprintf("node %d: unreadable record, skipped", i))
			continue
		}
		title := strings.TrimSpace(node.Data.Name)
		if title == "" {
			*warnings = append(*warnings, fmt.Sprintf("node %d: no name, skipped", i))
			continue
		}
		id := node.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, dup := known[id]; dup {
			*warnings = append(*warnings, fmt.Sprintf("node %d: duplicate identifier %q, skipped", i, id))
			continue
		}
		known[id] = struct{}{}

		snap.Nodes = append(snap.Nodes, schemas.NodeRecord{
			ID:          id,
			Title:       title,
			Description: node.Data.Description,
			Status:      normalizeStatus(node.Data.Status),
			XPos:        node.Position["x"],
			YPos:        node.Position["y"],
			Tags:        cleanTags(node.Data.Tags),
		})

		for j, rawCmd := range node.Data.Commands {
			cmd, ok := decodeCommand(rawCmd)
			if !ok {
				*warnings = append(*warnings, fmt.Sprintf("node %d: command %d unreadable, skipped", i, j))
				continue
			}
			cmd.ID = uuid.NewString()
			cmd.NodeID = id
			snap.Commands = append(snap.Commands, cmd)
		}
		for j, rawFinding := range node.Data.Findings {
			content, ok := decodeFinding(rawFinding)
			if !ok {
				*warnings = append(*warnings, fmt.Sprintf("node %d: finding %d unreadable, skipped", i, j))
				continue
			}
			snap.Findings = append(snap.Findings, schemas.FindingRecord{
				ID:      uuid.NewString(),
				NodeID:  id,
				Content: content,
			})
		}
	}

	for i, raw := range rawEdges {
		var edge schemas.LegacyEdge
		if err := json.Unmarshal(raw, &edge); err != nil {
			*warnings = append(*warnings, fmt.Sprintf("relationship %d: unreadable record, skipped", i))
			continue
		}
		if _, ok := known[edge.Source]; !ok {
			*warnings = append(*warnings, fmt.Sprintf("relationship %d: source %q is not a known node, dropped", i, edge.Source))
			continue
		}
		if _, ok := known[edge.Target]; !ok {
			*warnings = append(*warnings, fmt.Sprintf("relationship %d: target %q is not a known node, dropped", i, edge.Target))
			continue
		}
		snap.Edges = append(snap.Edges, schemas.EdgeRecord{Source: edge.Source, Target: edge.Target})
	}
}

// decodeCommand accepts both object commands and bare command strings.
func decodeCommand(raw jsoniter.RawMessage) (schemas.CommandRecord, bool) {
	var obj schemas.LegacyCommand
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.Command != "" || obj.Title != "") {
		title := obj.Title
		if title == "" {
			title = obj.Command
		}
		return schemas.CommandRecord{
			Title:       title,
			Command:     obj.Command,
			Description: obj.Description,
		}, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
		return schemas.CommandRecord{Title: s, Command: s}, true
	}
	return schemas.CommandRecord{}, false
}

// decodeFinding accepts both {"content": ...} objects and bare strings.
func decodeFinding(raw jsoniter.RawMessage) (string, bool) {
	var obj struct {
		Content string `json:"content"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Content != "" {
			return obj.Content, true
		}
		if obj.Text != "" {
			return obj.Text, true
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
		return s, true
	}
	return "", false
}

// normalizeStatus folds the free-form legacy status strings into the current
// vocabulary. Unknown values pass through lowercased rather than being lost.
func normalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case "", "todo", "to do", "new", "pending":
		return "todo"
	case "in progress", "in_progress", "active", "running":
		return "in_progress"
	case "done", "completed", "complete", "success", "finished":
		return "done"
	case "failed", "failure", "error":
		return "failed"
	}
	return s
}

func cleanTags(tags []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

package schemas

import jsoniter "github.com/json-iterator/go"

// Legacy export shapes. These predate the container format and arrive as
// arbitrary user-supplied JSON, so every field is optional and every array
// may be missing or mistyped. The normalizer decides which of the three
// recognized variants a document is (top-level arrays, nested flow data, or
// a nested template's flow data) and tolerates everything else.

// LegacyNodeData is the nested "data" object of a legacy node.
type LegacyNodeData struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Status      string                 `json:"status"`
	Findings    []jsoniter.RawMessage  `json:"findings"`
	Commands    []jsoniter.RawMessage  `json:"commands"`
	Tags        []string               `json:"tags"`
	Properties  map[string]interface{} `json:"properties"`
	Expanded    bool                   `json:"expanded"`
	Expandable  bool                   `json:"expandable"`
}

// LegacyNode is one node of a legacy flow document.
type LegacyNode struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Position map[string]float64 `json:"position"`
	Data     LegacyNodeData     `json:"data"`
}

// LegacyCommand is the recognized shape of an embedded legacy command entry.
type LegacyCommand struct {
	Title       string `json:"title"`
	Command     string `json:"command"`
	Description string `json:"description"`
}

// LegacyEdge is one edge of a legacy flow document.
type LegacyEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// LegacyFlowData is the nested flow container used by two of the variants.
type LegacyFlowData struct {
	Nodes []jsoniter.RawMessage `json:"nodes"`
	Edges []jsoniter.RawMessage `json:"edges"`
}

// LegacyTemplate is an optional nested template document.
type LegacyTemplate struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	FlowData    *LegacyFlowData `json:"flowData"`
	Tags        []string        `json:"tags"`
}

// LegacyProject is the top-level legacy document. Nodes and edges are kept as
// raw messages so one malformed record cannot fail the decode of the rest.
type LegacyProject struct {
	ID          string                `json:"id"`
	Identifier  string                `json:"identifier"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Tags        []string              `json:"tags"`
	Template    *LegacyTemplate       `json:"template"`
	FlowData    *LegacyFlowData       `json:"flowData"`
	Nodes       []jsoniter.RawMessage `json:"nodes"`
	Edges       []jsoniter.RawMessage `json:"edges"`
}

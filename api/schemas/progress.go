package schemas

// ImportStep names one phase of a legacy import. Steps advance strictly in
// the order listed; Failed is reachable from any of them.
type ImportStep string

const (
	StepInitializing      ImportStep = "Initializing"
	StepExtracting        ImportStep = "Extracting"
	StepCreatingRoot      ImportStep = "Creating project"
	StepImportingNodes    ImportStep = "Importing nodes"
	StepImportingEdges    ImportStep = "Importing relationships"
	StepImportingTemplate ImportStep = "Importing template"
	StepCompleted         ImportStep = "Import completed"
	StepFailed            ImportStep = "Import failed"
)

// ImportProgress is the running state of one legacy import operation. It is
// mutated only by that operation's orchestrator and published by value.
type ImportProgress struct {
	TotalNodes     int        `json:"total_nodes"`
	ProcessedNodes int        `json:"processed_nodes"`
	TotalEdges     int        `json:"total_edges"`
	ProcessedEdges int        `json:"processed_edges"`
	CurrentStep    ImportStep `json:"current_step"`
	Percentage     float64    `json:"percentage"`
}

// ImportResult is the terminal accounting of one legacy import: what was
// created, what was skipped, and why.
type ImportResult struct {
	ProjectID     string            `json:"project_id"`
	OriginalID    string            `json:"original_id"`
	NodeMappings  map[string]string `json:"node_mappings"`
	ImportedNodes int               `json:"imported_nodes"`
	ImportedEdges int               `json:"imported_edges"`
	Errors        []string          `json:"errors"`
	Warnings      []string          `json:"warnings"`
}

// ProgressEventType tags events on the progress stream.
type ProgressEventType string

const (
	EventProgress  ProgressEventType = "progress"
	EventHeartbeat ProgressEventType = "heartbeat"
	EventComplete  ProgressEventType = "complete"
	EventError     ProgressEventType = "error"
)

// ProgressEvent is one message on the stream a legacy import emits. Exactly
// one terminal event (complete or error) closes every stream.
type ProgressEvent struct {
	Type     ProgressEventType `json:"type"`
	Progress *ImportProgress   `json:"data,omitempty"`
	Result   *ImportResult     `json:"result,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

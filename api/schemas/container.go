package schemas

// Container format tags. The tag doubles as a file magic: previews reject
// anything else before touching the payload.
const (
	FormatProject  = "pwnflow-project"
	FormatTemplate = "pwnflow-template"

	// SchemaVersion is the only container version this build reads or writes.
	SchemaVersion = "1.0"
)

// EncryptionMethod selects how the container payload is protected.
type EncryptionMethod string

const (
	EncryptionNone      EncryptionMethod = "none"
	EncryptionPassword  EncryptionMethod = "password"
	EncryptionGenerated EncryptionMethod = "generated"
)

// ImportMode selects the materialization strategy on import.
type ImportMode string

const (
	ImportModeNew   ImportMode = "new"
	ImportModeMerge ImportMode = "merge"
)

// ContainerMetadata is the always-plaintext segment of a container. It is
// enough to render a preview without a password.
type ContainerMetadata struct {
	Format          string       `json:"format"`
	Version         string       `json:"version"`
	ExportedAt      string       `json:"exported_at"`
	ProducerVersion string       `json:"pwnflow_version"`
	ItemName        string       `json:"item_name"`
	Counts          EntityCounts `json:"entity_counts"`
	IsEncrypted     bool         `json:"is_encrypted"`
	// Checksum covers the canonical serialization of the root record only.
	Checksum string `json:"checksum"`
	// PayloadChecksum covers the full plaintext payload bytes and is verified
	// on read before any entity is decoded.
	PayloadChecksum string `json:"payload_checksum"`
}

// ExportOptions tunes project exports. Template exports ignore it: template
// redaction is unconditional.
type ExportOptions struct {
	IncludeVariables bool `json:"include_variables"`
	IncludeScope     bool `json:"include_scope"`
}

// DefaultExportOptions includes everything.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{IncludeVariables: true, IncludeScope: true}
}

// ImportPreview is what a caller sees before committing to an import.
type ImportPreview struct {
	Type          SnapshotKind `json:"type"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	ExportedAt    string       `json:"exported_at"`
	FormatVersion string       `json:"format_version"`
	IsEncrypted   bool         `json:"is_encrypted"`
	Counts        EntityCounts `json:"counts"`
}

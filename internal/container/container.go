// Package container reads and writes the on-disk export container: a zip
// archive with an always-plaintext metadata segment and a payload that is
// either plaintext JSON or an AES-GCM sealed triple of salt, nonce and
// ciphertext. Metadata can be read without a password, which is what makes
// import previews possible.
package container

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/rb-x/pwnflow/api/schemas"
	"github.com/rb-x/pwnflow/internal/seal"
)

// Archive entry names. The metadata entry is mandatory; exactly one payload
// layout (plaintext or encrypted) must be present.
const (
	entryMetadata   = "metadata.json"
	entryData       = "data.json"
	entryCiphertext = "data.enc"
	entrySalt       = "salt.bin"
	entryNonce      = "nonce.bin"
)

var (
	// ErrInvalidContainer covers every structural defect: not a zip, missing
	// segments, unreadable metadata, unsupported schema version.
	ErrInvalidContainer = errors.New("invalid container file")

	// ErrPasswordRequired means the container is encrypted and no password was
	// supplied.
	ErrPasswordRequired = errors.New("password required for encrypted container")

	// ErrMissingPassword means the caller selected password encryption on
	// write without supplying one.
	ErrMissingPassword = errors.New("password required for password encryption method")
)

var payloadJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec writes and reads containers. It is a pure transform over in-memory
// bytes and safe for concurrent use.
type Codec struct {
	sealer          *seal.Sealer
	producerVersion string
	log             *zap.Logger
}

// New creates a Codec stamping containers with the given producer version.
func New(sealer *seal.Sealer, producerVersion string, logger *zap.Logger) *Codec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codec{
		sealer:          sealer,
		producerVersion: producerVersion,
		log:             logger.Named("container"),
	}
}

// rootRecord is the canonical form of the root entity's own fields, hashed
// into the metadata checksum.
type rootRecord struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	LayoutDirection string   `json:"layout_direction"`
	CategoryTags    []string `json:"category_tags"`
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Write serializes the snapshot into container bytes. For
// EncryptionGenerated the codec mints the password itself and returns it to
// the caller; that password is never logged.
func (c *Codec) Write(snap *schemas.Snapshot, method schemas.EncryptionMethod, password string) ([]byte, string, error) {
	if err := snap.Validate(); err != nil {
		return nil, "", fmt.Errorf("refusing to export invalid snapshot: %w", err)
	}

	generated := ""
	switch method {
	case schemas.EncryptionNone:
	case schemas.EncryptionPassword:
		if password == "" {
			return nil, "", ErrMissingPassword
		}
	case schemas.EncryptionGenerated:
		var err error
		generated, err = c.sealer.GeneratePassword()
		if err != nil {
			return nil, "", err
		}
		password = generated
	default:
		return nil, "", fmt.Errorf("unknown encryption method %q", method)
	}

	payload, err := payloadJSON.Marshal(snap)
	if err != nil {
		return nil, "", fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	// encoding/json emits struct fields in declaration order, so this is a
	// stable canonical form for hashing.
	rootBytes, err := json.Marshal(rootRecord{
		Name:            snap.Name,
		Description:     snap.Description,
		LayoutDirection: snap.LayoutDirection,
		CategoryTags:    snap.CategoryTags,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to serialize root record: %w", err)
	}

	meta := schemas.ContainerMetadata{
		Format:          formatFor(snap.Kind),
		Version:         schemas.SchemaVersion,
		ExportedAt:      time.Now().UTC().Format(time.RFC3339),
		ProducerVersion: c.producerVersion,
		ItemName:        snap.Name,
		Counts:          snap.Counts(),
		IsEncrypted:     method != schemas.EncryptionNone,
		Checksum:        checksum(rootBytes),
		PayloadChecksum: checksum(payload),
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("failed to serialize metadata: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entries := map[string][]byte{entryMetadata: metaBytes}

	if method == schemas.EncryptionNone {
		entries[entryData] = payload
	} else {
		salt, nonce, ciphertext, err := c.sealer.Encrypt(payload, password)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encrypt payload: %w", err)
		}
		entries[entryCiphertext] = ciphertext
		entries[entrySalt] = salt
		entries[entryNonce] = nonce
	}

	// Fixed write order keeps output deterministic apart from crypto material.
	for _, name := range []string{entryMetadata, entryData, entryCiphertext, entrySalt, entryNonce} {
		data, ok := entries[name]
		if !ok {
			continue
		}
		w, err := zw.Create(name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create archive entry %s: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, "", fmt.Errorf("failed to write archive entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize archive: %w", err)
	}

	c.log.Info("Container written",
		zap.String("format", meta.Format),
		zap.String("item", meta.ItemName),
		zap.Bool("encrypted", meta.IsEncrypted),
		zap.Int("nodes", meta.Counts.Nodes),
	)
	return buf.Bytes(), generated, nil
}

// ReadMetadata decodes the plaintext metadata segment. It never touches the
// payload and needs no password.
func (c *Codec) ReadMetadata(data []byte) (*schemas.ContainerMetadata, error) {
	zr, err := c.open(data)
	if err != nil {
		return nil, err
	}
	return c.readMetadata(zr)
}

// ReadPayload decodes the snapshot payload, decrypting it when necessary.
// The payload checksum is verified before a single entity is decoded.
func (c *Codec) ReadPayload(data []byte, password string) (*schemas.Snapshot, *schemas.ContainerMetadata, error) {
	zr, err := c.open(data)
	if err != nil {
		return nil, nil, err
	}
	meta, err := c.readMetadata(zr)
	if err != nil {
		return nil, nil, err
	}

	var payload []byte
	if has(zr, entryCiphertext) {
		if password == "" {
			return nil, meta, ErrPasswordRequired
		}
		ciphertext, err := readEntry(zr, entryCiphertext)
		if err != nil {
			return nil, meta, err
		}
		salt, err := readEntry(zr, entrySalt)
		if err != nil {
			return nil, meta, err
		}
		nonce, err := readEntry(zr, entryNonce)
		if err != nil {
			return nil, meta, err
		}
		payload, err = c.sealer.Decrypt(ciphertext, password, salt, nonce)
		if err != nil {
			return nil, meta, err
		}
	} else {
		payload, err = readEntry(zr, entryData)
		if err != nil {
			return nil, meta, err
		}
	}

	if meta.PayloadChecksum != "" && checksum(payload) != meta.PayloadChecksum {
		return nil, meta, fmt.Errorf("%w: payload checksum mismatch", ErrInvalidContainer)
	}

	var snap schemas.Snapshot
	if err := payloadJSON.Unmarshal(payload, &snap); err != nil {
		return nil, meta, fmt.Errorf("%w: malformed payload: %v", ErrInvalidContainer, err)
	}
	if snap.Kind == "" {
		snap.Kind = kindFor(meta.Format)
	}
	if err := snap.Validate(); err != nil {
		return nil, meta, fmt.Errorf("%w: %v", ErrInvalidContainer, err)
	}
	return &snap, meta, nil
}

func (c *Codec) open(data []byte) (*zip.Reader, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidContainer)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a container archive", ErrInvalidContainer)
	}
	return zr, nil
}

func (c *Codec) readMetadata(zr *zip.Reader) (*schemas.ContainerMetadata, error) {
	raw, err := readEntry(zr, entryMetadata)
	if err != nil {
		return nil, err
	}
	var meta schemas.ContainerMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: unreadable metadata: %v", ErrInvalidContainer, err)
	}
	if meta.Format != schemas.FormatProject && meta.Format != schemas.FormatTemplate {
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidContainer, meta.Format)
	}
	if meta.Version != schemas.SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %q", ErrInvalidContainer, meta.Version)
	}
	return &meta, nil
}

func has(zr *zip.Reader, name string) bool {
	for _, f := range zr.File {
		if f.Name == name {
			return true
		}
	}
	return false
}

func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: cannot open segment %s", ErrInvalidContainer, name)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot read segment %s", ErrInvalidContainer, name)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: missing segment %s", ErrInvalidContainer, name)
}

func formatFor(kind schemas.SnapshotKind) string {
	if kind == schemas.KindTemplate {
		return schemas.FormatTemplate
	}
	return schemas.FormatProject
}

func kindFor(format string) schemas.SnapshotKind {
	if format == schemas.FormatTemplate {
		return schemas.KindTemplate
	}
	return schemas.KindProject
}

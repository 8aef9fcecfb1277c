// Package graph defines the ownership-scoped graph store the snapshot engine
// reads from and writes to, with an in-memory implementation for tests and
// ephemeral use and a PostgreSQL implementation for persistence.
package graph

import (
	"context"
	"errors"
	"time"
)

// Entity kinds stored in the graph.
const (
	KindProject    = "Project"
	KindTemplate   = "Template"
	KindNode       = "Node"
	KindContext    = "Context"
	KindVariable   = "Variable"
	KindCommand    = "Command"
	KindFinding    = "Finding"
	KindScopeAsset = "ScopeAsset"
	KindTag        = "Tag"
	KindScopeTag   = "ScopeTag"
)

// Relationship types between entities.
const (
	RelHasNode       = "HAS_NODE"
	RelLinkedTo      = "IS_LINKED_TO"
	RelHasContext    = "HAS_CONTEXT"
	RelHasVariable   = "HAS_VARIABLE"
	RelHasCommand    = "HAS_COMMAND"
	RelHasFinding    = "HAS_FINDING"
	RelHasScopeAsset = "HAS_SCOPE_ASSET"
	RelHasTag        = "HAS_TAG"
	RelTaggedWith    = "TAGGED_WITH"
)

// ErrNotFound is returned when a root does not exist or the caller is not
// allowed to see it. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("entity not found or access denied")

// Entity is one stored graph entity. Label carries the display name (node
// title, tag name, ...); everything else lives in Props.
type Entity struct {
	ID        string
	Kind      string
	Label     string
	Owner     string
	Props     map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StringProp returns a string property, or fallback when absent or mistyped.
func (e *Entity) StringProp(key, fallback string) string {
	if v, ok := e.Props[key].(string); ok {
		return v
	}
	return fallback
}

// BoolProp returns a bool property, or fallback when absent or mistyped.
func (e *Entity) BoolProp(key string, fallback bool) bool {
	if v, ok := e.Props[key].(bool); ok {
		return v
	}
	return fallback
}

// FloatProp returns a numeric property, or fallback when absent or mistyped.
func (e *Entity) FloatProp(key string, fallback float64) float64 {
	switch v := e.Props[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

// StringsProp returns a string-slice property, tolerating []interface{} as
// produced by JSON decoding.
func (e *Entity) StringsProp(key string) []string {
	switch v := e.Props[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Store is the graph collaborator contract. All root lookups are scoped by
// owner; the store, not the caller, enforces the ownership chain.
type Store interface {
	// FindOwnedRoot returns a root entity when it exists and the owner may
	// read it (templates are also readable when public). ErrNotFound
	// otherwise.
	FindOwnedRoot(ctx context.Context, owner, kind, id string) (*Entity, error)

	// CreateRoot creates a root entity owned by owner and returns its id.
	CreateRoot(ctx context.Context, owner, kind, label string, props map[string]interface{}) (string, error)

	// CreateChild creates an entity and links it under parent with the given
	// relation, returning the new id.
	CreateChild(ctx context.Context, parentID, relation, kind, label string, props map[string]interface{}) (string, error)

	// MergeByLabel finds or creates a shared, label-keyed entity (tags) and
	// returns its id.
	MergeByLabel(ctx context.Context, kind, label string, props map[string]interface{}) (string, error)

	// Link records a directed relation between two existing entities.
	// Duplicate links are a no-op.
	Link(ctx context.Context, fromID, toID, relation string) error

	// Children returns the entities reachable from parent over one relation,
	// in stable creation order.
	Children(ctx context.Context, parentID, relation string) ([]Entity, error)

	// WithinTx runs fn against a transactional view of the store, committing
	// when fn returns nil and rolling back otherwise. One whole import runs
	// inside a single transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

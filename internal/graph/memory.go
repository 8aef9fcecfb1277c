package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Memory is a fast, ephemeral, in-memory Store. It backs tests and
// short-lived tooling where persistence isn't required.
type Memory struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	// outgoing indexes links as from -> relation -> ordered target ids.
	outgoing map[string]map[string][]string
	seq      int
	log      *zap.Logger
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory graph store.
func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		entities: make(map[string]*Entity),
		outgoing: make(map[string]map[string][]string),
		log:      logger.Named("memgraph"),
	}
}

func (m *Memory) FindOwnedRoot(ctx context.Context, owner, kind, id string) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities[id]
	if !ok || e.Kind != kind {
		return nil, ErrNotFound
	}
	if e.Owner != owner && !(kind == KindTemplate && e.BoolProp("is_public", false)) {
		return nil, ErrNotFound
	}
	return copyEntity(e), nil
}

func (m *Memory) CreateRoot(ctx context.Context, owner, kind, label string, props map[string]interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.insert(&Entity{ID: id, Kind: kind, Label: label, Owner: owner, Props: props})
	m.log.Debug("Root created", zap.String("id", id), zap.String("kind", kind))
	return id, nil
}

func (m *Memory) CreateChild(ctx context.Context, parentID, relation, kind, label string, props map[string]interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entities[parentID]; !ok {
		return "", fmt.Errorf("parent entity %q not found", parentID)
	}
	id := uuid.NewString()
	m.insert(&Entity{ID: id, Kind: kind, Label: label, Props: props})
	m.link(parentID, id, relation)
	return id, nil
}

func (m *Memory) MergeByLabel(ctx context.Context, kind, label string, props map[string]interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entities {
		if e.Kind == kind && e.Label == label {
			return e.ID, nil
		}
	}
	id := uuid.NewString()
	m.insert(&Entity{ID: id, Kind: kind, Label: label, Props: props})
	return id, nil
}

func (m *Memory) Link(ctx context.Context, fromID, toID, relation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entities[fromID]; !ok {
		return fmt.Errorf("source entity %q not found", fromID)
	}
	if _, ok := m.entities[toID]; !ok {
		return fmt.Errorf("target entity %q not found", toID)
	}
	m.link(fromID, toID, relation)
	return nil
}

func (m *Memory) Children(ctx context.Context, parentID, relation string) ([]Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.entities[parentID]; !ok {
		return nil, fmt.Errorf("entity %q not found", parentID)
	}
	ids := m.outgoing[parentID][relation]
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		e, ok := m.entities[id]
		if !ok {
			m.log.Warn("Link target missing from entity map", zap.String("id", id))
			continue
		}
		out = append(out, *copyEntity(e))
	}
	return out, nil
}

// WithinTx runs fn against the store directly. The in-memory store offers no
// rollback; the transactional guarantee is a property of the Postgres
// implementation.
func (m *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	return fn(ctx, m)
}

// insert assumes the caller holds the write lock.
func (m *Memory) insert(e *Entity) {
	if e.Props == nil {
		e.Props = map[string]interface{}{}
	}
	m.seq++
	// Monotonic timestamps keep Children ordering stable even when the clock
	// doesn't advance between inserts.
	e.CreatedAt = time.Now().UTC().Add(time.Duration(m.seq) * time.Nanosecond)
	e.UpdatedAt = e.CreatedAt
	m.entities[e.ID] = e
}

// link assumes the caller holds the write lock.
func (m *Memory) link(fromID, toID, relation string) {
	rels, ok := m.outgoing[fromID]
	if !ok {
		rels = make(map[string][]string)
		m.outgoing[fromID] = rels
	}
	for _, existing := range rels[relation] {
		if existing == toID {
			return
		}
	}
	rels[relation] = append(rels[relation], toID)
}

func copyEntity(e *Entity) *Entity {
	out := *e
	out.Props = make(map[string]interface{}, len(e.Props))
	for k, v := range e.Props {
		out.Props[k] = v
	}
	if tags := e.StringsProp("tags"); tags != nil {
		out.Props["tags"] = append([]string(nil), tags...)
	}
	return &out
}

// EntitiesByKind returns all stored entities of one kind, ordered by
// creation. Test helper; not part of the Store contract.
func (m *Memory) EntitiesByKind(kind string) []Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entity
	for _, e := range m.entities {
		if e.Kind == kind {
			out = append(out, *copyEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

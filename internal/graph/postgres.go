package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so the store can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is the subset of operations shared by a pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema is the DDL for the Postgres graph store.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
    id         TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    label      TEXT NOT NULL DEFAULT '',
    owner_id   TEXT,
    properties JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS entities_kind_owner ON entities (kind, owner_id);
CREATE UNIQUE INDEX IF NOT EXISTS entities_shared_label
    ON entities (kind, label) WHERE kind IN ('Tag', 'ScopeTag');

CREATE TABLE IF NOT EXISTS links (
    from_id    TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    to_id      TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    relation   TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (from_id, to_id, relation)
);
CREATE INDEX IF NOT EXISTS links_from_relation ON links (from_id, relation);
`

// Postgres is the persistent Store implementation.
type Postgres struct {
	pool DBPool
	db   querier
	inTx bool
	log  *zap.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a Postgres-backed store and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{pool: pool, db: pool, log: logger.Named("pggraph")}, nil
}

// EnsureSchema applies the DDL. Idempotent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply graph schema: %w", err)
	}
	return nil
}

func (p *Postgres) FindOwnedRoot(ctx context.Context, owner, kind, id string) (*Entity, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, kind, label, COALESCE(owner_id, ''), properties, created_at, updated_at
		FROM entities
		WHERE id = $1 AND kind = $2
		  AND (owner_id = $3 OR (kind = 'Template' AND COALESCE((properties->>'is_public')::boolean, false)));
	`, id, kind, owner)

	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// savepointName is reused for every guarded write; redefining a savepoint
// shadows the previous one, so a fixed name is safe within one transaction.
const savepointName = "entity_write"

// withSavepoint guards one write with a savepoint when the store is
// transaction bound. A failed write then rolls back to the savepoint instead
// of aborting the whole transaction, so a batch import can skip the bad
// entity, keep going, and still commit what succeeded.
func (p *Postgres) withSavepoint(ctx context.Context, fn func() error) error {
	if !p.inTx {
		return fn()
	}
	if _, err := p.db.Exec(ctx, `SAVEPOINT `+savepointName+`;`); err != nil {
		return fmt.Errorf("failed to set savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := p.db.Exec(ctx, `ROLLBACK TO SAVEPOINT `+savepointName+`;`); rbErr != nil {
			p.log.Error("Failed to rollback to savepoint", zap.Error(rbErr))
		}
		return err
	}
	if _, err := p.db.Exec(ctx, `RELEASE SAVEPOINT `+savepointName+`;`); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func (p *Postgres) CreateRoot(ctx context.Context, owner, kind, label string, props map[string]interface{}) (string, error) {
	id := uuid.NewString()
	propBytes, err := marshalProps(props)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	err = p.withSavepoint(ctx, func() error {
		_, err := p.db.Exec(ctx, `
		INSERT INTO entities (id, kind, label, owner_id, properties, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`, id, kind, label, owner, propBytes, now, now)
		if err != nil {
			return fmt.Errorf("failed to create %s root: %w", kind, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) CreateChild(ctx context.Context, parentID, relation, kind, label string, props map[string]interface{}) (string, error) {
	id := uuid.NewString()
	propBytes, err := marshalProps(props)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	err = p.withSavepoint(ctx, func() error {
		_, err := p.db.Exec(ctx, `
		INSERT INTO entities (id, kind, label, properties, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`, id, kind, label, propBytes, now, now)
		if err != nil {
			return fmt.Errorf("failed to create %s entity: %w", kind, err)
		}
		_, err = p.db.Exec(ctx, `
		INSERT INTO links (from_id, to_id, relation, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING;
	`, parentID, id, relation, now)
		if err != nil {
			return fmt.Errorf("failed to link %s under %s: %w", kind, parentID, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) MergeByLabel(ctx context.Context, kind, label string, props map[string]interface{}) (string, error) {
	propBytes, err := marshalProps(props)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	var id string
	err = p.withSavepoint(ctx, func() error {
		// DO UPDATE (rather than DO NOTHING) so RETURNING yields the
		// surviving row's id on conflict.
		row := p.db.QueryRow(ctx, `
		INSERT INTO entities (id, kind, label, properties, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, label) WHERE kind IN ('Tag', 'ScopeTag')
		DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id;
	`, uuid.NewString(), kind, label, propBytes, now, now)

		if err := row.Scan(&id); err != nil {
			return fmt.Errorf("failed to merge %s %q: %w", kind, label, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) Link(ctx context.Context, fromID, toID, relation string) error {
	return p.withSavepoint(ctx, func() error {
		_, err := p.db.Exec(ctx, `
		INSERT INTO links (from_id, to_id, relation, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING;
	`, fromID, toID, relation, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to link %s -[%s]-> %s: %w", fromID, relation, toID, err)
		}
		return nil
	})
}

func (p *Postgres) Children(ctx context.Context, parentID, relation string) ([]Entity, error) {
	rows, err := p.db.Query(ctx, `
		SELECT e.id, e.kind, e.label, COALESCE(e.owner_id, ''), e.properties, e.created_at, e.updated_at
		FROM entities e
		JOIN links l ON e.id = l.to_id
		WHERE l.from_id = $1 AND l.relation = $2
		ORDER BY e.created_at, e.id;
	`, parentID, relation)
	if err != nil {
		return nil, fmt.Errorf("failed to query children of %s: %w", parentID, err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (p *Postgres) WithinTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	if p.pool == nil {
		return fmt.Errorf("nested transactions are not supported")
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			p.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	txStore := &Postgres{db: tx, inTx: true, log: p.log}
	if err := fn(ctx, txStore); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var propBytes []byte
	if err := row.Scan(&e.ID, &e.Kind, &e.Label, &e.Owner, &propBytes, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if len(propBytes) > 0 && string(propBytes) != "null" {
		if err := json.Unmarshal(propBytes, &e.Props); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity properties: %w", err)
		}
	}
	if e.Props == nil {
		e.Props = map[string]interface{}{}
	}
	return &e, nil
}

func marshalProps(props map[string]interface{}) ([]byte, error) {
	if props == nil {
		return []byte("{}"), nil
	}
	out, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity properties: %w", err)
	}
	return out, nil
}

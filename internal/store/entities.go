package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cmtools/internal/hierarchy"
	"cmtools/internal/services"
)

type reader struct {
	q querier
	d dialect
}

func (r reader) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ensureContext(ctx), r.d.rebind(query), args...)
}

func (r reader) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ensureContext(ctx), r.d.rebind(query), args...)
}

func (r reader) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = r.q.ExecContext(ctx, r.d.rebind(query), args...)
		return execErr
	})
	return res, err
}

// GetByID fetches an entity by primary key. A missing row yields nil, nil.
func (r reader) GetByID(ctx context.Context, id int64) (*hierarchy.Entity, error) {
	row := r.queryRow(ctx, "SELECT "+entityColumns+" FROM entities WHERE id = ?", id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %d: %w", id, err)
	}
	return e, nil
}

// GetByFullname fetches an entity by its unique fullname. A missing row yields nil, nil.
func (r reader) GetByFullname(ctx context.Context, fullname string) (*hierarchy.Entity, error) {
	row := r.queryRow(ctx, "SELECT "+entityColumns+" FROM entities WHERE fullname = ?", fullname)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %q: %w", fullname, err)
	}
	return e, nil
}

// MustGet is GetByFullname that reports a missing entity as ErrNotFound.
func (r reader) MustGet(ctx context.Context, fullname string) (*hierarchy.Entity, error) {
	e, err := r.GetByFullname(ctx, fullname)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, services.Wrap(services.ErrNotFound, "store", "get", fmt.Sprintf("no entity named %q", fullname), nil)
	}
	return e, nil
}

// Children lists the direct children of an entity in insertion order.
func (r reader) Children(ctx context.Context, parentID int64, activeOnly bool) ([]*hierarchy.Entity, error) {
	query := "SELECT " + entityColumns + " FROM entities WHERE parent_id = ?"
	if activeOnly {
		query += " AND active = 1"
	}
	rows, err := r.query(ctx, query+" ORDER BY id", parentID)
	if err != nil {
		return nil, fmt.Errorf("list children of %d: %w", parentID, err)
	}
	return scanEntities(rows)
}

// Subtree returns the entity and all of its descendants, parents before children.
func (r reader) Subtree(ctx context.Context, fullname string) ([]*hierarchy.Entity, error) {
	rows, err := r.query(ctx,
		"SELECT "+entityColumns+` FROM entities
		WHERE fullname = ? OR fullname LIKE ? ESCAPE '\'
		ORDER BY level, id`,
		fullname, likePrefix(fullname))
	if err != nil {
		return nil, fmt.Errorf("list subtree of %q: %w", fullname, err)
	}
	return scanEntities(rows)
}

// ListByLevel returns every entity at one level in insertion order.
func (r reader) ListByLevel(ctx context.Context, level hierarchy.Level, activeOnly bool) ([]*hierarchy.Entity, error) {
	query := "SELECT " + entityColumns + " FROM entities WHERE level = ?"
	if activeOnly {
		query += " AND active = 1"
	}
	rows, err := r.query(ctx, query+" ORDER BY id", int(level))
	if err != nil {
		return nil, fmt.Errorf("list %s entities: %w", level, err)
	}
	return scanEntities(rows)
}

// Prerequisites lists the steps an entity depends on.
func (r reader) Prerequisites(ctx context.Context, entityID int64) ([]*hierarchy.Entity, error) {
	rows, err := r.query(ctx,
		"SELECT "+prefixed("e.", entityColumns)+` FROM entities e
		JOIN dependencies d ON d.prereq_id = e.id
		WHERE d.entity_id = ? ORDER BY e.id`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list prerequisites of %d: %w", entityID, err)
	}
	return scanEntities(rows)
}

// Dependents lists the steps that depend on an entity.
func (r reader) Dependents(ctx context.Context, entityID int64) ([]*hierarchy.Entity, error) {
	rows, err := r.query(ctx,
		"SELECT "+prefixed("e.", entityColumns)+` FROM entities e
		JOIN dependencies d ON d.entity_id = e.id
		WHERE d.prereq_id = ? ORDER BY e.id`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list dependents of %d: %w", entityID, err)
	}
	return scanEntities(rows)
}

// InsertEntity stores a new entity and fills in its id, revision and timestamps.
func (t *Tx) InsertEntity(ctx context.Context, e *hierarchy.Entity) error {
	if e == nil {
		return errors.New("insert entity: nil entity")
	}
	attrs, err := encodeAttributes(e.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	now := time.Now().UTC()
	row := t.queryRow(ctx, `INSERT INTO entities (
			parent_id, level, name, fullname, status, active, queued,
			config_id, block, handler, data_query, rescue, attributes_json,
			external_id, diagnostic, generation, revision, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		RETURNING id`,
		nullableID(e.ParentID), int(e.Level), e.Name, e.Fullname, string(e.Status),
		boolInt(e.Active), boolInt(e.Queued),
		nullableID(e.ConfigID), nullableString(e.Block), nullableString(e.Handler),
		nullableString(e.DataQuery), boolInt(e.Rescue), attrs,
		nullableString(e.ExternalID), nullableString(e.Diagnostic), e.Generation,
		timestamp(now), timestamp(now),
	)
	if err := row.Scan(&e.ID); err != nil {
		if isUniqueViolation(err) {
			return services.Wrap(services.ErrDuplicateEntity, "store", "insert entity",
				fmt.Sprintf("%q already exists", e.Fullname), err)
		}
		return fmt.Errorf("insert entity %q: %w", e.Fullname, err)
	}
	e.Revision = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

// UpdateEntity writes every mutable column of e, guarded by the revision e
// was loaded at. On success e carries the new revision.
func (t *Tx) UpdateEntity(ctx context.Context, e *hierarchy.Entity) error {
	if e == nil {
		return errors.New("update entity: nil entity")
	}
	attrs, err := encodeAttributes(e.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	now := time.Now().UTC()
	res, err := t.exec(ctx, `UPDATE entities SET
			status = ?, active = ?, queued = ?, config_id = ?, block = ?, handler = ?,
			data_query = ?, rescue = ?, attributes_json = ?, external_id = ?, diagnostic = ?,
			generation = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND revision = ?`,
		string(e.Status), boolInt(e.Active), boolInt(e.Queued), nullableID(e.ConfigID),
		nullableString(e.Block), nullableString(e.Handler), nullableString(e.DataQuery),
		boolInt(e.Rescue), attrs, nullableString(e.ExternalID), nullableString(e.Diagnostic),
		e.Generation, timestamp(now), e.ID, e.Revision,
	)
	if err != nil {
		return fmt.Errorf("update entity %q: %w", e.Fullname, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entity %q: %w", e.Fullname, err)
	}
	if affected == 0 {
		return staleError("entity", e.ID, e.Revision)
	}
	e.Revision++
	e.UpdatedAt = now
	return nil
}

// AddDependency records that entityID may not start before prereqID completes.
func (t *Tx) AddDependency(ctx context.Context, entityID, prereqID int64) error {
	if entityID == prereqID {
		return services.Wrap(services.ErrIntegrity, "store", "add dependency",
			fmt.Sprintf("entity %d cannot depend on itself", entityID), nil)
	}
	if _, err := t.exec(ctx, "INSERT INTO dependencies (entity_id, prereq_id) VALUES (?, ?) ON CONFLICT DO NOTHING", entityID, prereqID); err != nil {
		return fmt.Errorf("add dependency %d -> %d: %w", entityID, prereqID, err)
	}
	return nil
}

func prefixed(prefix, columns string) string {
	var out []byte
	atStart := true
	for i := 0; i < len(columns); i++ {
		c := columns[i]
		isSpace := c == ' ' || c == '\t' || c == '\n' || c == ','
		if !isSpace && atStart {
			out = append(out, prefix...)
			atStart = false
		}
		if c == ',' {
			atStart = true
		}
		out = append(out, c)
	}
	return string(out)
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cmtools/internal/hierarchy"
	"cmtools/internal/services"
)

// ScriptRuns lists the scripts recorded against an entity in insertion order.
func (r reader) ScriptRuns(ctx context.Context, entityID int64) ([]*hierarchy.ScriptRun, error) {
	rows, err := r.query(ctx, "SELECT "+scriptRunColumns+" FROM script_runs WHERE entity_id = ? ORDER BY id", entityID)
	if err != nil {
		return nil, fmt.Errorf("list script runs of %d: %w", entityID, err)
	}
	defer rows.Close()
	var out []*hierarchy.ScriptRun
	for rows.Next() {
		run, err := scanScriptRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// InsertScriptRun records a script attached to an entity.
func (t *Tx) InsertScriptRun(ctx context.Context, run *hierarchy.ScriptRun) error {
	if run == nil {
		return errors.New("insert script run: nil run")
	}
	now := time.Now().UTC()
	row := t.queryRow(ctx, `INSERT INTO script_runs (
			entity_id, name, block, handler, kind, fake, stamp, status, diagnostic,
			revision, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		RETURNING id`,
		run.EntityID, run.Name, run.Block, run.Handler, string(run.Kind), boolInt(run.Fake),
		string(run.Stamp), string(run.Status), nullableString(run.Diagnostic),
		timestamp(now), timestamp(now),
	)
	if err := row.Scan(&run.ID); err != nil {
		if isUniqueViolation(err) {
			return services.Wrap(services.ErrDuplicateEntity, "store", "insert script run",
				fmt.Sprintf("script %q already recorded for entity %d", run.Name, run.EntityID), err)
		}
		return fmt.Errorf("insert script run %q: %w", run.Name, err)
	}
	run.Revision = 1
	run.CreatedAt = now
	run.UpdatedAt = now
	return nil
}

// UpdateScriptRun writes the outcome of a script, guarded by its revision.
func (t *Tx) UpdateScriptRun(ctx context.Context, run *hierarchy.ScriptRun) error {
	now := time.Now().UTC()
	res, err := t.exec(ctx, `UPDATE script_runs SET
			status = ?, diagnostic = ?, fake = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND revision = ?`,
		string(run.Status), nullableString(run.Diagnostic), boolInt(run.Fake), timestamp(now),
		run.ID, run.Revision,
	)
	if err != nil {
		return fmt.Errorf("update script run %q: %w", run.Name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update script run %q: %w", run.Name, err)
	}
	if affected == 0 {
		return staleError("script run", run.ID, run.Revision)
	}
	run.Revision++
	run.UpdatedAt = now
	return nil
}

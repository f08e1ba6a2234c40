package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cmtools/internal/hierarchy"
)

const entityColumns = `id, parent_id, level, name, fullname, status, active, queued,
	config_id, block, handler, data_query, rescue, attributes_json,
	external_id, diagnostic, generation, revision, created_at, updated_at`

const scriptRunColumns = `id, entity_id, name, block, handler, kind, fake, stamp, status,
	diagnostic, revision, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(scanner rowScanner) (*hierarchy.Entity, error) {
	var (
		e          hierarchy.Entity
		parentID   sql.NullInt64
		level      int
		status     string
		active     int
		queued     int
		configID   sql.NullInt64
		block      sql.NullString
		handler    sql.NullString
		dataQuery  sql.NullString
		rescue     int
		attrs      sql.NullString
		externalID sql.NullString
		diagnostic sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := scanner.Scan(
		&e.ID, &parentID, &level, &e.Name, &e.Fullname, &status, &active, &queued,
		&configID, &block, &handler, &dataQuery, &rescue, &attrs,
		&externalID, &diagnostic, &e.Generation, &e.Revision, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	e.ParentID = parentID.Int64
	e.Level = hierarchy.Level(level)
	parsed, ok := hierarchy.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("entity %d: unknown status %q", e.ID, status)
	}
	e.Status = parsed
	e.Active = active != 0
	e.Queued = queued != 0
	e.ConfigID = configID.Int64
	e.Block = block.String
	e.Handler = handler.String
	e.DataQuery = dataQuery.String
	e.Rescue = rescue != 0
	var err error
	if e.Attributes, err = decodeAttributes(attrs); err != nil {
		return nil, fmt.Errorf("entity %d attributes: %w", e.ID, err)
	}
	e.ExternalID = externalID.String
	e.Diagnostic = diagnostic.String
	e.CreatedAt = parseTimeString(createdAt)
	e.UpdatedAt = parseTimeString(updatedAt)
	return &e, nil
}

func scanEntities(rows *sql.Rows) ([]*hierarchy.Entity, error) {
	defer rows.Close()
	var out []*hierarchy.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanScriptRun(scanner rowScanner) (*hierarchy.ScriptRun, error) {
	var (
		r          hierarchy.ScriptRun
		kind       string
		fake       int
		stamp      string
		status     string
		diagnostic sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := scanner.Scan(
		&r.ID, &r.EntityID, &r.Name, &r.Block, &r.Handler, &kind, &fake, &stamp, &status,
		&diagnostic, &r.Revision, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	r.Kind = hierarchy.ScriptKind(kind)
	r.Fake = fake != 0
	var ok bool
	if r.Stamp, ok = hierarchy.ParseStatus(stamp); !ok {
		return nil, fmt.Errorf("script run %d: unknown stamp %q", r.ID, stamp)
	}
	if r.Status, ok = hierarchy.ParseStatus(status); !ok {
		return nil, fmt.Errorf("script run %d: unknown status %q", r.ID, status)
	}
	r.Diagnostic = diagnostic.String
	r.CreatedAt = parseTimeString(createdAt)
	r.UpdatedAt = parseTimeString(updatedAt)
	return &r, nil
}

func encodeAttributes(attrs map[string]string) (any, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeAttributes(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableID(id int64) any {
	if id <= 0 {
		return nil
	}
	return id
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// likePrefix escapes LIKE metacharacters so a fullname matches literally.
func likePrefix(fullname string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(fullname) + "/%"
}

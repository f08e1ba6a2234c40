package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfigDocument is one stored version of a campaign's YAML configuration.
// Versions are append-only; entities point at the version they were created from.
type ConfigDocument struct {
	ID        int64
	Name      string
	Version   int
	Body      string
	CreatedAt time.Time
}

const configColumns = "id, name, version, body, created_at"

func scanConfig(scanner rowScanner) (*ConfigDocument, error) {
	var (
		doc       ConfigDocument
		createdAt string
	)
	if err := scanner.Scan(&doc.ID, &doc.Name, &doc.Version, &doc.Body, &createdAt); err != nil {
		return nil, err
	}
	doc.CreatedAt = parseTimeString(createdAt)
	return &doc, nil
}

// ConfigDocument fetches a stored document by id. A missing row yields nil, nil.
func (r reader) ConfigDocument(ctx context.Context, id int64) (*ConfigDocument, error) {
	doc, err := scanConfig(r.queryRow(ctx, "SELECT "+configColumns+" FROM config_documents WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get config document %d: %w", id, err)
	}
	return doc, nil
}

// LatestConfig returns the newest version of a named document, or nil.
func (r reader) LatestConfig(ctx context.Context, name string) (*ConfigDocument, error) {
	doc, err := scanConfig(r.queryRow(ctx,
		"SELECT "+configColumns+" FROM config_documents WHERE name = ? ORDER BY version DESC LIMIT 1", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest config %q: %w", name, err)
	}
	return doc, nil
}

// InsertConfigDocument appends a new version of the named document.
func (t *Tx) InsertConfigDocument(ctx context.Context, name, body string) (*ConfigDocument, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("insert config document: empty name")
	}
	var current sql.NullInt64
	if err := t.queryRow(ctx, "SELECT MAX(version) FROM config_documents WHERE name = ?", name).Scan(&current); err != nil {
		return nil, fmt.Errorf("read config version %q: %w", name, err)
	}
	doc := &ConfigDocument{
		Name:      name,
		Version:   int(current.Int64) + 1,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	row := t.queryRow(ctx,
		"INSERT INTO config_documents (name, version, body, created_at) VALUES (?, ?, ?, ?) RETURNING id",
		doc.Name, doc.Version, doc.Body, timestamp(doc.CreatedAt))
	if err := row.Scan(&doc.ID); err != nil {
		return nil, fmt.Errorf("insert config document %q: %w", name, err)
	}
	return doc, nil
}

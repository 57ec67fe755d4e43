package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no ledger entry matches.
var ErrNotFound = errors.New("store: no matching expansion")

const entryColumns = `id, template, context_key, options_key, context_json, digest, graph_digest, document, created_seq`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e           Entry
		contextJSON string
	)
	if err := row.Scan(&e.ID, &e.Template, &e.ContextKey, &e.OptionsKey, &contextJSON, &e.Digest, &e.GraphDigest, &e.Document, &e.Seq); err != nil {
		return Entry{}, err
	}
	ctx, err := unmarshalContext(contextJSON)
	if err != nil {
		return Entry{}, err
	}
	e.Context = ctx
	return e, nil
}

// Get returns the entry with the given ID.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM expansions WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get expansion %s: %w", id, err)
	}
	return e, nil
}

// Latest returns the most recent entry for a template, canonical context
// key and options key. Returns ErrNotFound when the combination was never
// recorded.
func (s *Store) Latest(ctx context.Context, tmpl, contextKey, optionsKey string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM expansions
		WHERE template = ? AND context_key = ? AND options_key = ?
		ORDER BY created_seq DESC
		LIMIT 1
	`, tmpl, contextKey, optionsKey)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("latest expansion: %w", err)
	}
	return e, nil
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns every entry.
//
// Returns an empty slice (not nil) if the ledger is empty.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	return s.Find(ctx, nil, limit)
}

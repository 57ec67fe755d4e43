package store

import (
	"context"
	"fmt"

	"github.com/roach88/cigraph/internal/ir"
)

// Entry is one recorded expansion.
type Entry struct {
	ID          string     `json:"id"`
	Template    string     `json:"template"`
	ContextKey  string     `json:"context_key"`
	OptionsKey  string     `json:"options_key,omitempty"`
	Context     ir.Context `json:"context"`
	Digest      string     `json:"digest"`
	GraphDigest string     `json:"graph_digest"`
	Document    []byte     `json:"-"`
	Seq         int64      `json:"seq"`
}

// RecordOption configures one Record call.
type RecordOption func(*Entry)

// WithOptionsKey stores the digest of the expansion settings (see
// template.Options.Key) so determinism checks only compare like with like.
func WithOptionsKey(key string) RecordOption {
	return func(e *Entry) { e.OptionsKey = key }
}

// Record appends an expansion to the ledger. The entry's sequence number
// is assigned inside the insert transaction so concurrent writers never
// share one.
func (s *Store) Record(ctx context.Context, tmpl string, graph *ir.Graph, document []byte, opts ...RecordOption) (Entry, error) {
	graphDigest, err := ir.GraphDigest(graph)
	if err != nil {
		return Entry{}, fmt.Errorf("record expansion: %w", err)
	}
	contextJSON, err := marshalContext(graph.Context)
	if err != nil {
		return Entry{}, fmt.Errorf("record expansion: %w", err)
	}

	entry := Entry{
		ID:          s.ids.Generate(),
		Template:    tmpl,
		ContextKey:  graph.Context.Key(),
		Context:     graph.Context,
		Digest:      ir.DocumentDigest(document),
		GraphDigest: graphDigest,
		Document:    document,
	}
	for _, opt := range opts {
		opt(&entry)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("record expansion: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(created_seq), 0) + 1 FROM expansions`).Scan(&entry.Seq); err != nil {
		return Entry{}, fmt.Errorf("record expansion: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO expansions
		(id, template, context_key, options_key, context_json, digest, graph_digest, document, created_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.Template,
		entry.ContextKey,
		entry.OptionsKey,
		contextJSON,
		entry.Digest,
		entry.GraphDigest,
		entry.Document,
		entry.Seq,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("record expansion: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("record expansion: commit: %w", err)
	}
	return entry, nil
}

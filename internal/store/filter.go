package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Predicate filters ledger entries.
//
// This is a sealed interface: only Equals and And implement it, so the
// compiler below can switch over every case.
type Predicate interface {
	predicateNode()
}

// Equals matches entries whose field equals Value.
//
// Field is one of the names in Fields. Context fields are read from the
// stored context JSON.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// And matches entries that satisfy every predicate. An empty And matches
// everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Where builds an And of Equals predicates from a field map, skipping empty
// string values. Fields are sorted so the compiled SQL is stable.
func Where(fields map[string]string) Predicate {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	and := And{}
	for _, k := range keys {
		and.Predicates = append(and.Predicates, Equals{Field: k, Value: fields[k]})
	}
	return and
}

// filterColumns maps filterable field names to SQL expressions.
var filterColumns = map[string]string{
	"id":                "id",
	"template":          "template",
	"digest":            "digest",
	"graph_digest":      "graph_digest",
	"options_key":       "options_key",
	"environment":       "json_extract(context_json, '$.environment')",
	"version":           "json_extract(context_json, '$.version')",
	"trigger":           "json_extract(context_json, '$.trigger')",
	"repository":        "json_extract(context_json, '$.repository')",
	"actor":             "json_extract(context_json, '$.actor')",
	"run_id":            "json_extract(context_json, '$.run_id')",
	"release_candidate": "json_extract(context_json, '$.release_candidate')",
}

// Fields lists the field names Equals accepts, sorted.
func Fields() []string {
	names := make([]string, 0, len(filterColumns))
	for name := range filterColumns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// compileFilter converts a predicate to a SQL WHERE fragment.
// Values are always parameters, never interpolated.
func compileFilter(p Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case Equals:
		return compileEquals(pred)
	case *Equals:
		return compileEquals(*pred)
	case And:
		return compileAnd(pred)
	case *And:
		return compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileEquals(eq Equals) (string, []any, error) {
	column, ok := filterColumns[eq.Field]
	if !ok {
		return "", nil, fmt.Errorf("unknown filter field %q (known: %s)", eq.Field, strings.Join(Fields(), ", "))
	}

	param := eq.Value
	switch v := eq.Value.(type) {
	case string, int, int64:
	case bool:
		// json_extract yields 1/0 for JSON booleans.
		param = 0
		if v {
			param = 1
		}
	default:
		return "", nil, fmt.Errorf("filter %s: unsupported value type %T", eq.Field, eq.Value)
	}
	return column + " = ?", []any{param}, nil
}

func compileAnd(and And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, pred := range and.Predicates {
		sql, ps, err := compileFilter(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, ps...)
	}
	return strings.Join(parts, " AND "), params, nil
}

// Find returns up to limit entries matching p, newest first. A nil
// predicate matches every entry; a limit of zero or less returns all
// matches.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) Find(ctx context.Context, p Predicate, limit int) ([]Entry, error) {
	where, args, err := compileFilter(p)
	if err != nil {
		return nil, fmt.Errorf("find expansions: %w", err)
	}

	query := `SELECT ` + entryColumns + ` FROM expansions WHERE ` + where + ` ORDER BY created_seq DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expansions: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expansion: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expansions: %w", err)
	}
	return entries, nil
}

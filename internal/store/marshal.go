package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/cigraph/internal/ir"
)

// marshalContext converts a run Context to JSON TEXT for storage.
// The canonical context key is stored separately for lookups.
func marshalContext(ctx ir.Context) (string, error) {
	data, err := json.Marshal(ctx)
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}
	return string(data), nil
}

// unmarshalContext restores a run Context from JSON TEXT.
func unmarshalContext(data string) (ir.Context, error) {
	var ctx ir.Context
	if err := json.Unmarshal([]byte(data), &ctx); err != nil {
		return ir.Context{}, fmt.Errorf("unmarshal context: %w", err)
	}
	return ctx, nil
}

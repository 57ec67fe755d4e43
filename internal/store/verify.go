package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/cigraph/internal/ir"
)

// Drift describes a determinism violation: the same template, context and
// settings produced a different document than the one recorded earlier.
type Drift struct {
	Previous Entry
	Digest   string
}

func (d *Drift) Error() string {
	return fmt.Sprintf("template %q produced digest %s for context %s, previously %s (entry %s)",
		d.Previous.Template, short(d.Digest), d.Previous.ContextKey, short(d.Previous.Digest), d.Previous.ID)
}

// VerifyDeterminism compares a freshly emitted document with the latest
// recorded expansion of the same template, context and options key. It
// returns nil when there is no earlier entry or the digests match, and a
// *Drift otherwise.
func (s *Store) VerifyDeterminism(ctx context.Context, tmpl string, runCtx ir.Context, optionsKey string, document []byte) error {
	prev, err := s.Latest(ctx, tmpl, runCtx.Key(), optionsKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	digest := ir.DocumentDigest(document)
	if digest == prev.Digest {
		return nil
	}
	return &Drift{Previous: prev, Digest: digest}
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainGraph    = "cigraph/graph/v1"
	DomainDocument = "cigraph/document/v1"
	DomainOptions  = "cigraph/options/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// GraphDigest computes the content address of a finalized graph.
// Two expansions with identical templates and contexts have equal digests.
func GraphDigest(g *Graph) (string, error) {
	canonical, err := MarshalCanonical(graphObject(g))
	if err != nil {
		return "", fmt.Errorf("GraphDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainGraph, canonical), nil
}

// OptionsDigest computes the content address of expansion settings given
// as a canonical-JSON-compatible value (maps, lists, strings, bools, ints).
func OptionsDigest(v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("OptionsDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainOptions, canonical), nil
}

// DocumentDigest computes the content address of an emitted document.
func DocumentDigest(doc []byte) string {
	return hashWithDomain(DomainDocument, doc)
}

// MustGraphDigest is like GraphDigest but panics on error.
// Use only in tests or when the graph is known to be valid.
func MustGraphDigest(g *Graph) string {
	d, err := GraphDigest(g)
	if err != nil {
		panic(err)
	}
	return d
}

func graphObject(g *Graph) map[string]any {
	jobs := make([]any, len(g.Jobs))
	for i, j := range g.Jobs {
		steps := make([]any, len(j.Steps))
		for k, s := range j.Steps {
			steps[k] = map[string]any{
				"name": s.Name,
				"uses": s.Uses,
				"run":  s.Run,
				"with": mapOrEmpty(s.With),
				"env":  mapOrEmpty(s.Env),
			}
		}
		jobs[i] = map[string]any{
			"id":          j.ID,
			"label":       j.Label,
			"needs":       stringsOrEmpty(j.Needs),
			"guard":       j.Guard,
			"if":          j.If,
			"uses":        j.Uses,
			"runs_on":     stringsOrEmpty(j.RunsOn),
			"environment": j.Environment,
			"with":        mapOrEmpty(j.With),
			"env":         mapOrEmpty(j.Env),
			"secrets": map[string]any{
				"inherit": j.Secrets.Inherit,
				"allow":   stringsOrEmpty(j.Secrets.Allow),
			},
			"steps":     steps,
			"concludes": j.Concludes,
			"scope":     stringsOrEmpty(j.Scope),
		}
	}

	return map[string]any{
		"schema":     SchemaVersion,
		"name":       g.Name,
		"context":    g.Context.Key(),
		"jobs":       jobs,
		"terminal":   g.Terminal,
		"conclusion": stringsOrEmpty(g.Conclusion),
		"excluded":   stringsOrEmpty(g.Excluded),
	}
}

func mapOrEmpty(m Map) Map {
	if m == nil {
		return Map{}
	}
	return m
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

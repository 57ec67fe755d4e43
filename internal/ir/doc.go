// Package ir provides the graph intermediate representation for cigraph.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the graph model the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types in parameter values - use int64 for numbers
//   - Jobs and Graphs are values once finalized; nothing mutates them after
//     expansion
//   - All JSON tags use snake_case
//   - Canonical JSON is the only serialization used for digests
package ir

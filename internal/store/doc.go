// Package store provides the SQLite-backed expansion ledger.
//
// Every recorded expansion keeps the emitted document together with its
// template name, the canonical context key and two content digests (the
// document bytes and the finalized graph). The ledger answers one question
// the generator cannot answer alone: did the same template and context
// produce the same document last time?
//
// # Ordering
//
//   - All ordering uses created_seq INTEGER (logical clock), never timestamps
//   - created_seq is assigned inside the insert transaction
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Digests are computed via functions in internal/ir/hash.go using SHA-256
// with domain separation.
package store

// Package memory persists and retrieves learnings from automated coding
// sessions: schema drift warnings, bug fixes, verification outcomes and
// recovery actions. A JSON-backed MemoryStore holds the entries; layered on
// top are an inverted keyword index, weighted semantic search, a pattern
// detector with a verification ledger, a recommendation engine, a
// near-duplicate compressor, analytics reporting and JSON/YAML export.
//
// Retrieval is split into counted and uncounted reads. Counted reads
// (queries, similarity lookups, index searches) bump each returned entry's
// hit count, feeding the relevance score that drives pruning. Uncounted
// scans (pattern detection, analytics, semantic search) observe without
// distorting those counts.
package memory

// Package storage persists tasks, pending notifications, users and notifier
// dedup state.
//
// Drivers:
//   - memory: process-local maps (default, tests)
//   - file: memory state plus a JSON snapshot and a JSONL journal
//   - sqlite: modernc.org/sqlite with embedded migrations
//   - postgres: jackc/pgx pool with JSONB documents
package storage

package storage

// Package storage provides a minimal persistence layer for finished-broadcast
// records (an audit of outcomes; pending jobs are deliberately not persisted).
//
// It currently supports:
//   - "file":   append-only JSON Lines, dependency-free
//   - "sqlite": SQLite database file (optional build tag)

// Package storage persists everything that must survive a restart:
//   - The schedule snapshot (last scheduled time + pending queue)
//   - The authorized admin list
//
// Backends: "file" (atomic JSON snapshots) and "sqlite".
package storage

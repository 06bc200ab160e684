// Package snapshot persists and restores hub state so a restarted hub
// can resume with its agent roster, task log, and counters intact.
//
// A snapshot is a single JSON document written atomically per save.
// Restored resource locks are treated as expired; holders must
// re-request capacity after a restart.
package snapshot

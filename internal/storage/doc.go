// Package storage persists what the controller must survive a restart
// with: program slots, the run log and an append-only audit trail of
// operator actions.
//
// Drivers:
//   - "file": JSON snapshots written via tmp+rename, audit as JSON Lines
//   - "sqlite": modernc.org/sqlite, built with -tags sqlite
package storage

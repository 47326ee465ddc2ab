// Package store defines the persistence ports of the thread service and the
// error taxonomy shared by every backend.
//
// A backend owns, per thread id, an append-only event log and the read
// projection derived from it.
//
// # Append contract
//
// Store(ctx, expected, events) is a compare-and-append:
//   - empty events: no-op
//   - NoStream: fails with VersionMismatchError if a stream already exists
//   - AtVersion(v): fails with NotFoundError if no stream exists and with
//     VersionMismatchError if the stored tail is not v
//
// On success the new events are folded into the projection. The append and
// the projection update commit together or not at all, so a reader never sees
// a projection behind or ahead of the log. Conflicts always reach the caller;
// backends never retry.
//
// # Ordering
//
// ListThreads orders by creation time ascending, then thread id ascending.
//
// Backends live in subpackages: memstore, sqlitestore, badgerstore and
// pgstore. storetest holds the conformance suite every backend runs.
package store

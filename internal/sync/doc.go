// Package sync implements the bidirectional note synchronization engine.
//
// # Overview
//
// The engine processes one sync round trip per call: a client submits the
// mutations it performed offline together with its cursor (the watermark of
// server state it has already applied), and receives back the fate of every
// mutation plus the server-side changes it hasn't seen, with a new cursor.
//
// # Architecture
//
// A request flows through four stages:
//
//	Request (mutations + cursor)
//	     ↓
//	  validate          → structurally bad mutations land in "rejected"
//	     ↓
//	  classify          → per mutation, against the note's current server
//	     ↓                 copy, under that note's lock (detect.go)
//	  apply             → clean decisions write through the store with a
//	     ↓                 fresh (revision, modifiedAt) stamp; conflicts
//	     ↓                 only emit records (policy.go)
//	  collect           → delta of server changes in (cursor, now),
//	     ↓                 minus what this request itself just echoed
//	Response (buckets + conflicts + new cursor)
//
// # Conflict handling
//
// Conflicts never mutate the store. The server's copy stays authoritative,
// both versions are returned to the caller, and the record is appended to
// the audit log. Resolution happens by a later, explicit resubmission that
// carries the server's current revision.
//
// # Concurrency
//
// Requests for different owners share nothing. Within one owner, each
// mutation's read-classify-write step holds an exclusive per-note lock, so
// two devices racing an update to the same note cannot both win; the loser
// observes the winner's revision and classifies as a conflict. No lock is
// held across a whole multi-mutation request.
//
// Delta capture takes a per-owner write gate that waits out in-flight
// mutation applies, so a change stamped before the new cursor is never
// invisible to the delta query that the cursor claims to cover.
//
// # Error handling
//
// Per-mutation failures (validation, conflicts) are collected into the
// response and never abort processing. Store failures abort the whole
// request with ErrStoreUnavailable; the client retries the identical
// request, which is safe because accepted mutations reclassify as no-ops
// or conflicts, never as double applies.
package sync

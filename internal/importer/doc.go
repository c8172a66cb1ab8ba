// Package importer writes a batch of interrelated records to a remote
// store.
//
// The engine makes a bounded number of sweeps over the batch. Each sweep
// scans from the last record toward the first and tries to write every
// record whose references can already be satisfied:
//
//   - Records holding declared references (typed refs, or bare identifiers
//     on lookup attributes) to other records still in the batch are split.
//     The references move into a deferred record and the base is written
//     without them.
//   - Records holding a bare identifier that matches another record still
//     in the batch wait for a later sweep.
//   - Owner attributes are stripped. Inactive records are written active
//     and queued for deactivation.
//   - Intersect records of a many-to-many relationship become associate
//     calls instead of upserts.
//
// After the sweeps, every deferred record is applied with one update per
// identity. Whatever is still in the batch is reported as unresolved.
//
// The engine runs on the calling goroutine. Remote calls are made one at a
// time in a deterministic order, so two runs over the same input against
// the same remote state produce the same event sequence.
package importer

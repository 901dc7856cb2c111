// Package pipeline drives the batched brute-force search on a device
// context. The orchestrator owns three independent command queues — matrix
// writes, query writes and result reads — and overlaps host→device
// transfer, kernel execution and device→host read-back across successive
// batches: while batch N executes, batch N+1's writes are already in
// flight at a disjoint buffer set and batch N-1's results are being read.
//
// The host blocks only when a buffer set is about to be reused and when
// the final results are folded; everything else is enqueue/flush.
package pipeline

// Package engine implements the checkpoint dispatcher at the heart of a
// write sync.
//
// ARCHITECTURE:
//
// Single-Threaded Dispatch Loop:
// One goroutine reads the ordered input stream and owns the output stream.
// Records are handed to a bounded worker pool; checkpoints act as barriers.
//
// Message Processing Flow:
// 1. RECORD: submit one task to the pool (blocks while the pool is full)
// 2. STATE: wait for every task submitted since the previous checkpoint,
// forward their log messages, then forward the checkpoint
// 3. End of input: wait for the remaining tasks and forward their logs
//
// Log messages within one segment are forwarded in no particular order.
// Checkpoints are forwarded in input order, each after all records that
// preceded it in the input. That is the resumability guarantee: an
// emitted checkpoint means every earlier record was attempted.
//
// FAILURE MODEL:
//
// Expected remote failures are contained in a task and become log messages.
// An unexpected task error stops dispatch at once: no further input is read,
// queued tasks return without writing, in-flight tasks are drained, and no
// further checkpoint is forwarded. Panics are re-raised in the caller.
// Cancellation drains in-flight work; tasks are never interrupted.
package engine

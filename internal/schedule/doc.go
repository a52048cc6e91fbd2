// Package schedule implements the posting calendar: the daily active
// window with 30-minute slots, and the engine that assigns each submitted
// item either an immediate publication or the next free slot.
//
// All engine state (last scheduled time + pending queue) is owned by a
// single worker goroutine; every operation is funneled through its request
// channel, so the read-decide-write sequence of a scheduling decision is
// atomic by construction. State is persisted before a decision is
// acknowledged.
package schedule

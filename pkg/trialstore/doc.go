// Package trialstore provides type-safe Go definitions and Redis schema
// patterns for the shared trial store. The store is the single coordination
// point between sweep processes: producers insert queued jobs, workers claim
// and execute them, and the aggregation loop reads completed results back.
//
// All cross-process coordination goes through atomic single-document
// operations on one job hash - either a plain write while the document is
// still owned by one process, or a Lua-scripted compare-and-swap when
// ownership is being transferred. No caller may read-modify-write a shared
// document without the compare-and-swap guard.
//
// All Redis keys are namespaced by experiment namespace to enable multiple
// sweeps to safely coexist on a single Redis server.
package trialstore

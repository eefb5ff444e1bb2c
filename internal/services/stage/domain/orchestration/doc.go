// Package orchestration holds the per-scene orchestration state as one
// value with explicit transitions. It performs no I/O; the orchestrator
// actor owns a State and persists its Durable part.
package orchestration

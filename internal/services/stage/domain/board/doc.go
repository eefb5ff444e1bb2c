// Package board defines the scene object model shared by the scene store,
// the placement engine, the tool registry, and the websocket contract.
//
// Objects are plain values. Mutations are expressed as a Patch and applied
// with Merge so concurrent writers touching disjoint props never clobber
// each other.
package board

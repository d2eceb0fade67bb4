// Package id generates identifiers for graph records.
//
// Two relationship id schemes are provided:
//
//   - Relationship: content-addressed from (from, to, type). The disk-backed
//     store uses it so that repeating a relationship is an idempotent upsert
//     and ids survive reloads unchanged.
//   - TimeSuffixed: unique per call. The in-memory store uses it, so the
//     same triple may be linked more than once.
//
// Node derives stable ids for entities materialized from knowledge
// triplets, and RelationshipType turns a free-form predicate into a valid
// relationship type.
//
// # Example
//
//	rid := id.Relationship("A1", "A2", "USES_TECHNIQUE")
//	again := id.Relationship("A1", "A2", "USES_TECHNIQUE")
//	// rid == again
//
//	nid := id.Node("Tool", "Mimikatz")
//	// nid == "Tool:..." and id.Node("Tool", " mimikatz ") == nid
package id

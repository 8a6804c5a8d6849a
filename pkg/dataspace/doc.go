// Package dataspace provides the accountability and access-control core for
// shared data spaces kept in a remote, per-principal resource store.
//
// It pairs an append-only audit log, stored as one immutable resource per
// event inside an access-protected container, with a membership manager whose
// role changes are mirrored into the store's own access-control entries. The
// store offers no transactions or indexes, so ordering comes from resource
// names and consistency from order-of-operations plus compensating rollback.
//
// Resource stores (memory, filesystem, S3), space repositories (memory,
// Postgres, resource-backed) and the storage-side ACL guard live in
// subpackages. Core wires the long-lived components together.
//
// Event Naming
//
// Each event is written to <container>/<timestamp>[-<disambiguator>].json where
// the timestamp is fixed-width UTC with nanosecond precision. Lexicographic
// order of names is chronological order; this layout must be preserved for
// existing log contents to remain readable.
package dataspace

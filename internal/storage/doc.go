// Package storage persists the schedule snapshot and the analytics log.
//
// Both documents are small and rewritten wholesale on every mutation, so
// drivers optimize for atomic replace rather than incremental writes:
//   - "file": JSON documents replaced via tmp+rename
//   - "sqlite": single-file database behind the optional sqlite build tag
package storage

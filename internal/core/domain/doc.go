// Package domain defines the core business entities for casewatch.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Account, Case: who is authenticated and what is tracked
//   - StatusDocument: a fetched case status, kept verbatim
//   - Snapshot: the current document for a case
//   - ChangeEntry: one immutable audit record of a transition
//   - Session: lifecycle metadata for an account's portal session
//   - RunReport: per-run outcomes for reporting
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain

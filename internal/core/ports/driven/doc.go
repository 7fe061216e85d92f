// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - Portal, LoginChallenge, PortalSession: browser/HTTP transport to the portal
//   - SnapshotStore: per-case snapshot and append-only change history
//   - RunLock: refuses a second concurrent run
//
// # Optional Interfaces
//
//   - SchedulerStore: task state for the long-running watch mode
//   - ConfigStore: accounts and runtime settings, reloadable
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven

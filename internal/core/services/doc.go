// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
//   - SessionManager: one authenticated portal session per account
//   - CaseFetcher: throttled case fetches with error classification
//   - Classify: compares a fetched document with the stored snapshot
//   - ChangelogWriter: builds and commits change entries
//   - RunOrchestrator: checks every case of every account
//   - HistoryService: reads, verifies and simulates case history
//   - Scheduler: runs case checks on an interval
//
// Services never import adapters; the portal and stores arrive as
// driven ports.
package services

// Package memory provides in-memory implementations of the casewatch stores.
// They hold state for the life of the process only and back tests and
// throwaway runs.
package memory

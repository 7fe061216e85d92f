package domain

import "time"

// Outcome is the per-case result of a run.
type Outcome string

const (
	OutcomeInitial  Outcome = Outcome(ClassInitial)
	OutcomeNoChange Outcome = Outcome(ClassNoChange)
	OutcomeChanged  Outcome = Outcome(ClassChanged)
	OutcomeErrored  Outcome = "errored"
)

// AccountStatus is the overall status of an account for a run.
type AccountStatus string

const (
	AccountOK      AccountStatus = "ok"
	AccountErrored AccountStatus = "errored"
)

// CaseResult records what happened to one case during a run.
type CaseResult struct {
	Case    Case
	Key     CaseKey
	Outcome Outcome

	// Delta is set for initial and changed outcomes.
	Delta Delta

	// Entry is the stored change entry, or the unsaved preview on dry runs.
	// Nil for no_change and errored outcomes.
	Entry *ChangeEntry

	// Err attributes the failure for errored outcomes.
	Err error
}

// AccountResult records the outcome of one account and its cases.
type AccountResult struct {
	Account string
	Status  AccountStatus
	Err     error
	Cases   []CaseResult
}

// RunReport is the structured result of one run, consumed by reporting.
type RunReport struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Accounts   []AccountResult
}

// Count returns how many cases ended with the given outcome.
func (r *RunReport) Count(outcome Outcome) int {
	n := 0
	for _, a := range r.Accounts {
		for _, c := range a.Cases {
			if c.Outcome == outcome {
				n++
			}
		}
	}
	return n
}

// Changed returns the keys of cases whose outcome was initial or changed.
func (r *RunReport) Changed() map[CaseKey]bool {
	out := make(map[CaseKey]bool)
	for _, a := range r.Accounts {
		for _, c := range a.Cases {
			if c.Outcome == OutcomeChanged || c.Outcome == OutcomeInitial {
				out[c.Key] = true
			}
		}
	}
	return out
}

// Errors returns every attributed error in the report.
func (r *RunReport) Errors() []error {
	var errs []error
	for _, a := range r.Accounts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
		for _, c := range a.Cases {
			if c.Err != nil && c.Err != a.Err {
				errs = append(errs, c.Err)
			}
		}
	}
	return errs
}

// Checked returns how many cases the run attempted.
func (r *RunReport) Checked() int {
	n := 0
	for _, a := range r.Accounts {
		n += len(a.Cases)
	}
	return n
}

// TaskResult summarises the report as a scheduler run log row.
func (r *RunReport) TaskResult(taskID string, err error) TaskResult {
	result := TaskResult{
		TaskID:    taskID,
		RunID:     r.ID,
		StartedAt: r.StartedAt,
		EndedAt:   r.FinishedAt,
		Success:   err == nil,
		Checked:   r.Checked(),
		Changed:   len(r.Changed()),
		Errored:   r.Count(OutcomeErrored),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

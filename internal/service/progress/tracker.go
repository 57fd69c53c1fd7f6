package progress

// Tracker reports progress for a single job, rescaling per-step fractions
// into the global percentage defined by StepRanges.
type Tracker struct {
	registry *Registry
	jobID    string
}

// Tracker returns a reporter bound to one job.
func (r *Registry) Tracker(jobID string) *Tracker {
	return &Tracker{registry: r, jobID: jobID}
}

// JobID returns the tracked job's identifier.
func (t *Tracker) JobID() string {
	return t.jobID
}

// StartStep marks the beginning of a pipeline step at the low edge of its
// range.
func (t *Tracker) StartStep(step, message string) {
	rng, ok := StepRanges[step]
	if !ok {
		return
	}
	t.registry.Update(t.jobID, step, rng.Start, message, true)
}

// StepProgress reports a fraction in [0, 1] of the given step's work.
func (t *Tracker) StepProgress(step string, fraction float64, message string) {
	rng, ok := StepRanges[step]
	if !ok {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	percent := rng.Start + fraction*(rng.End-rng.Start)
	t.registry.Update(t.jobID, step, percent, message, false)
}

// FinishStep marks a step complete at the high edge of its range.
func (t *Tracker) FinishStep(step, message string) {
	rng, ok := StepRanges[step]
	if !ok {
		return
	}
	t.registry.Update(t.jobID, step, rng.End, message, false)
}

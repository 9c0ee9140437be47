package task

// Stale reports whether a non-terminal record's process is known to be gone.
// It is a heuristic for display only: a record without a recorded pid is
// never reported stale, and the core never reaps or rewrites stale records.
func (r *Record) Stale() bool {
	if r.Finished() || r.PID <= 0 {
		return false
	}
	return !pidAlive(r.PID)
}

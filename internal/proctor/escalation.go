package proctor

// Escalation counts recorded warnings against a termination threshold.
// The count is monotonically increasing and never reset. Not safe for
// concurrent use; the owning Session serializes access.
type Escalation struct {
	max     int
	count   int
	tripped bool
}

// NewEscalation builds a policy that trips when the warning count
// reaches max. A max below one falls back to the compiled default.
func NewEscalation(max int) *Escalation {
	if max < 1 {
		max = 3
	}
	return &Escalation{max: max}
}

// Record counts one warning. It returns the running count and whether
// this call crossed the termination threshold. The crossing is
// reported exactly once: warnings recorded after the trip still
// increment the audit count but never re-trigger termination.
func (e *Escalation) Record() (count int, crossed bool) {
	e.count++
	if !e.tripped && e.count >= e.max {
		e.tripped = true
		return e.count, true
	}
	return e.count, false
}

// Count returns the warnings recorded so far.
func (e *Escalation) Count() int { return e.count }

// Max returns the termination threshold.
func (e *Escalation) Max() int { return e.max }

// Tripped reports whether the threshold has been crossed.
func (e *Escalation) Tripped() bool { return e.tripped }

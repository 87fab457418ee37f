package syncer

import (
	stderrors "errors"
	"fmt"

	"pixivsync/pkg/ledger"
)

// State is the lifecycle position of one item.
type State string

const (
	StatePending   State = "pending"
	StateSkipped   State = "skipped"
	StateFetching  State = "fetching"
	StateCommitted State = "committed"
	StateFailed    State = "failed"

	// StateWarning marks events that are not tied to an item's lifecycle,
	// such as a refused folder rename or an empty page.
	StateWarning State = "warning"
)

// Event reports a state change or a best-effort failure. Observers are
// called from worker goroutines and must be safe for concurrent use.
type Event struct {
	Pass  string
	Kind  ledger.Kind
	ID    int64
	Title string
	State State
	Err   error
}

// Report counts item outcomes of one pass. Errs holds the failures that
// ended a walk early; per-item failures are only counted.
type Report struct {
	Pass      string
	Committed int
	Skipped   int
	Failed    int
	Errs      []error
}

// Err joins the walk errors.
func (r Report) Err() error {
	return stderrors.Join(r.Errs...)
}

func (r *Report) count(s State) {
	switch s {
	case StateCommitted:
		r.Committed++
	case StateSkipped:
		r.Skipped++
	case StateFailed:
		r.Failed++
	}
}

func (r *Report) merge(o Report) {
	r.Committed += o.Committed
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Errs = append(r.Errs, o.Errs...)
}

func (r Report) String() string {
	return fmt.Sprintf("%s: %d committed, %d skipped, %d failed", r.Pass, r.Committed, r.Skipped, r.Failed)
}

// RunReport aggregates the passes of one Run.
type RunReport struct {
	Owners   int
	Passes   []Report
	Warnings int
	Err      error
}

// Failed returns the number of failed items across passes.
func (r RunReport) Failed() int {
	n := 0
	for _, p := range r.Passes {
		n += p.Failed
	}
	return n
}

// Committed returns the number of committed items across passes.
func (r RunReport) Committed() int {
	n := 0
	for _, p := range r.Passes {
		n += p.Committed
	}
	return n
}

// Clean reports whether every pass finished its walk and no item failed.
func (r RunReport) Clean() bool {
	if r.Err != nil || r.Failed() > 0 {
		return false
	}
	for _, p := range r.Passes {
		if len(p.Errs) > 0 {
			return false
		}
	}
	return true
}

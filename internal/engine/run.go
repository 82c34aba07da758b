package engine

import (
	"time"

	"github.com/google/uuid"

	"provision-host/internal/detect"
	"provision-host/internal/pkgmgr"
)

// Status is the terminal installation state of one tool.
type Status string

const (
	StatusAlreadySatisfied Status = "already_satisfied"
	StatusInstalled        Status = "installed"
	StatusFailed           Status = "failed"
)

// Verification is the result of the functional-verification pass. It is only
// meaningful for tools that are already satisfied or freshly installed.
type Verification string

const (
	Verified      Verification = "verified"
	NotVerified   Verification = "not_verified"
	Unattempted   Verification = "unattempted"
)

// Outcome records what happened to one tool during a run.
type Outcome struct {
	Tool         string
	Category     string
	Status       Status
	Verification Verification

	// Detail carries a remediation hint for failed or unverified tools,
	// e.g. "package reported installed but command not found".
	Detail string
}

// Counts aggregates a run's outcomes.
type Counts struct {
	AlreadySatisfied int
	Installed        int
	Failed           int
	Verified         int
	NotVerified      int
}

// Run is the full record of one engine invocation: the immutable environment
// snapshots, the ordered per-tool outcomes, and aggregate counts. The engine
// holds no state after returning it.
type Run struct {
	ID        uuid.UUID
	StartedAt time.Time
	System    detect.SystemProfile
	Manager   pkgmgr.Profile
	Outcomes  []Outcome
	Counts    Counts
}

// record appends an outcome and keeps the aggregate counts in step.
func (r *Run) record(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case StatusAlreadySatisfied:
		r.Counts.AlreadySatisfied++
	case StatusInstalled:
		r.Counts.Installed++
	case StatusFailed:
		r.Counts.Failed++
	}
	switch o.Verification {
	case Verified:
		r.Counts.Verified++
	case NotVerified:
		r.Counts.NotVerified++
	}
}

// annotate sets the verification result on an already-recorded outcome. It
// never touches the outcome's status: verification is evidence about a present
// tool, not grounds to reclassify it.
func (r *Run) annotate(index int, v Verification, detail string) {
	o := &r.Outcomes[index]
	o.Verification = v
	if detail != "" && o.Detail == "" {
		o.Detail = detail
	}
	switch v {
	case Verified:
		r.Counts.Verified++
	case NotVerified:
		r.Counts.NotVerified++
	}
}

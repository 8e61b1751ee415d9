package coordinator

// State is the stage of one source run.
type State string

const (
	Pending            State = "pending"
	Fetching           State = "fetching"
	Extracting         State = "extracting"
	Validating         State = "validating"
	Resolving          State = "resolving"
	Committing         State = "committing"
	Succeeded          State = "succeeded"
	PartiallySucceeded State = "partially_succeeded"
	Failed             State = "failed"
)

// Resolving and Committing alternate once per record.
var transitions = map[State][]State{
	Pending:    {Fetching, Extracting, Succeeded, Failed},
	Fetching:   {Extracting, Succeeded, PartiallySucceeded, Failed},
	Extracting: {Validating, Succeeded, PartiallySucceeded, Failed},
	Validating: {Resolving, Succeeded, PartiallySucceeded, Failed},
	Resolving:  {Committing, Succeeded, PartiallySucceeded, Failed},
	Committing: {Resolving, Succeeded, PartiallySucceeded, Failed},
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == Succeeded || s == PartiallySucceeded || s == Failed
}

// CanTransition reports whether a run in s may move to next.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Run status strings stored in crawl_metrics and source health.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
	StatusAborted = "aborted"
)

func statusOf(s State) string {
	switch s {
	case Succeeded:
		return StatusSuccess
	case PartiallySucceeded:
		return StatusPartial
	case Failed:
		return StatusError
	}
	return StatusAborted
}

// Package crank implements C9: the orchestrator that drives one crank
// end-to-end through SELECT, FIX, MEASURE, VALIDATE, FEEDBACK_EXTRACT,
// MATCH_WAIT, FEEDBACK_APPLY, RECORD, and DONE, tying together every other
// component in the module and enforcing the fatal/local error split and the
// atomic-write ordering spec.md §4.7/§5/§7 require.
package crank

// Phase is one state in the crank state machine (spec.md §4.7).
type Phase int

const (
	PhaseSelect Phase = iota
	PhaseFix
	PhaseMeasure
	PhaseValidate
	PhaseFeedbackExtract
	PhaseMatchWait
	PhaseFeedbackApply
	PhaseRecord
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseSelect:
		return "SELECT"
	case PhaseFix:
		return "FIX"
	case PhaseMeasure:
		return "MEASURE"
	case PhaseValidate:
		return "VALIDATE"
	case PhaseFeedbackExtract:
		return "FEEDBACK_EXTRACT"
	case PhaseMatchWait:
		return "MATCH_WAIT"
	case PhaseFeedbackApply:
		return "FEEDBACK_APPLY"
	case PhaseRecord:
		return "RECORD"
	case PhaseDone:
		return "DONE"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Mode selects which phases of the crank run, per spec.md §6's four CLI modes.
type Mode string

const (
	// ModeFull runs the complete SELECT..DONE pipeline.
	ModeFull Mode = "full"
	// ModeMeasureOnly skips SELECT and FIX; no fix outcome is appended.
	ModeMeasureOnly Mode = "measure"
	// ModeFixOnly applies the top recommendation without re-measurement:
	// SELECT, FIX, RECORD only.
	ModeFixOnly Mode = "fix"
)

package healer

import (
	"fmt"

	"github.com/kubeheal/kubeheal/pkg/predictor"
	"github.com/kubeheal/kubeheal/pkg/state"
)

// Phase is the orchestrator's view of one healing episode, derived
// entirely from the stored attempt counter.
type Phase string

const (
	PhaseHealthy     Phase = "HEALTHY"
	PhaseEscalating1 Phase = "ESCALATING_1"
	PhaseEscalating2 Phase = "ESCALATING_2"
	PhaseRolledBack  Phase = "ROLLED_BACK"
)

// PhaseOf maps an attempt counter to its phase. Counters above the ladder
// depth (possible via hand-edited annotations) clamp to the terminal phase.
func PhaseOf(attempt int) Phase {
	switch {
	case attempt <= 0:
		return PhaseHealthy
	case attempt == 1:
		return PhaseEscalating1
	case attempt == 2:
		return PhaseEscalating2
	default:
		return PhaseRolledBack
	}
}

// Step is the single action a cycle may take.
type Step int

const (
	// StepNone: risk LOW and nothing to reset, or terminal phase already
	// acted on; the cycle is a no-op.
	StepNone Step = iota
	// StepReset: risk returned LOW after escalation; clear the episode.
	StepReset
	// StepRestart: tier 1, rolling restart.
	StepRestart
	// StepClearCache: tier 2, in-pod cache invalidation plus restart.
	StepClearCache
	// StepRollback: tier 3, revert to the prior revision. Terminal.
	StepRollback
	// StepAlertExhausted: HIGH risk with the ladder already spent; no
	// actuator call, alert only.
	StepAlertExhausted
)

func (s Step) String() string {
	switch s {
	case StepNone:
		return "none"
	case StepReset:
		return "reset"
	case StepRestart:
		return "restart"
	case StepClearCache:
		return "clear_cache"
	case StepRollback:
		return "rollback"
	case StepAlertExhausted:
		return "alert_exhausted"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Decision couples the step to take with the state to write after it
// succeeds. Steps without a write (none, alert) leave Write false.
type Decision struct {
	Step        Step
	Write       bool
	NextAttempt int
	NextAction  state.Action
}

// Next is the single transition function of the escalation ladder. It is
// pure so the ordering invariants (never skip a tier, never regress except
// via reset) can be checked in isolation.
//
//	LOW,  attempt 0  -> none
//	LOW,  attempt >0 -> reset to 0
//	HIGH, attempt 0  -> restart,     write 1/RESTARTED
//	HIGH, attempt 1  -> clear cache, write 2/CACHE_CLEARED
//	HIGH, attempt 2  -> rollback,    write 3/ROLLED_BACK
//	HIGH, attempt 3+ -> alert only, no write, until the episode resets
func Next(attempt int, label predictor.Label) Decision {
	if label == predictor.LabelLow {
		if attempt > 0 {
			return Decision{Step: StepReset, Write: true, NextAttempt: 0, NextAction: state.ActionNone}
		}
		return Decision{Step: StepNone}
	}

	switch {
	case attempt == 0:
		return Decision{Step: StepRestart, Write: true, NextAttempt: 1, NextAction: state.ActionRestarted}
	case attempt == 1:
		return Decision{Step: StepClearCache, Write: true, NextAttempt: 2, NextAction: state.ActionCacheCleared}
	case attempt < state.MaxAttempts:
		return Decision{Step: StepRollback, Write: true, NextAttempt: state.MaxAttempts, NextAction: state.ActionRolledBack}
	default:
		return Decision{Step: StepAlertExhausted}
	}
}

package healer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kubeheal/kubeheal/pkg/actuator"
	"github.com/kubeheal/kubeheal/pkg/feature"
	"github.com/kubeheal/kubeheal/pkg/notifier"
	"github.com/kubeheal/kubeheal/pkg/predictor"
	"github.com/kubeheal/kubeheal/pkg/state"
	"github.com/kubeheal/kubeheal/pkg/workload"
)

// RiskAssessor is the slice of the predictor the healer needs. Assess
// never fails; a degraded heuristic score is still a score.
type RiskAssessor interface {
	Assess(ctx context.Context, rec *feature.Record) *predictor.Assessment
}

// Target is one managed workload plus the replica count applied alongside
// a restart (0 leaves the count untouched).
type Target struct {
	Ref      workload.Ref
	Replicas int32
}

// Outcome classifies how a cycle ended, for logs, metrics and exit codes.
type Outcome string

const (
	// OutcomeNoop: risk LOW with nothing to reset.
	OutcomeNoop Outcome = "noop"
	// OutcomeEscalated: an escalation tier ran and the state advanced.
	OutcomeEscalated Outcome = "escalated"
	// OutcomeRecovered: risk returned LOW and the episode was reset.
	OutcomeRecovered Outcome = "recovered"
	// OutcomeExhausted: HIGH risk with the ladder spent; alert only.
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeConflict: a concurrent cycle won the state write; this
	// cycle's decision was discarded.
	OutcomeConflict Outcome = "conflict"
	// OutcomeAborted: a collaborator failed; state unchanged, same tier
	// retries next cycle.
	OutcomeAborted Outcome = "aborted"
)

// Healer drives the escalation ladder: one decision and at most one
// remediation action per cycle, with progress persisted through the
// version-checked state store.
type Healer struct {
	Features  feature.Reader
	Predictor RiskAssessor
	Store     state.Store
	Actuator  actuator.Actuator
	Notifier  notifier.Notifier

	// Cooldown is the wait before the post-escalation risk re-check.
	// Zero disables the re-check.
	Cooldown time.Duration
}

// RunCycle evaluates one workload once. It either completes its single
// decision-and-act step or aborts cleanly on the first error, leaving the
// stored state unchanged. Permission errors surface unwrapped-able via
// errors.Is so callers can fail loudly.
func (h *Healer) RunCycle(ctx context.Context, t Target) (Outcome, error) {
	start := time.Now()
	defer func() { cycleDuration.Observe(time.Since(start).Seconds()) }()

	outcome, err := h.runCycle(ctx, t)
	cyclesTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (h *Healer) runCycle(ctx context.Context, t Target) (Outcome, error) {
	cur, err := h.Store.Load(ctx, t.Ref)
	if err != nil {
		return OutcomeAborted, fmt.Errorf("loading healing state: %w", err)
	}

	rec, err := h.Features.Snapshot(ctx, t.Ref)
	if err != nil {
		return OutcomeAborted, fmt.Errorf("reading feature snapshot: %w", err)
	}

	asmt := h.Predictor.Assess(ctx, rec)
	riskProbability.WithLabelValues(t.Ref.String()).Set(asmt.Probability)

	log := slog.With(
		"workload", t.Ref.String(),
		"phase", string(PhaseOf(cur.Attempt)),
		"probability", asmt.Probability,
		"risk", string(asmt.Label),
		"degraded", asmt.Degraded,
	)

	d := Next(cur.Attempt, asmt.Label)
	log.Debug("cycle decision", "step", d.Step.String())

	switch d.Step {
	case StepNone:
		return OutcomeNoop, nil

	case StepAlertExhausted:
		log.Warn("healing ladder exhausted, risk still high")
		h.Notifier.Notify(ctx, notifier.ExhaustedMessage(t.Ref, asmt.Probability))
		return OutcomeExhausted, nil

	case StepReset:
		if err := h.write(ctx, cur, d); err != nil {
			return h.writeOutcome(log, err)
		}
		log.Info("risk back to low, episode reset", "attempts", cur.Attempt)
		h.Notifier.Notify(ctx, notifier.RecoveryMessage(t.Ref, cur.Attempt))
		return OutcomeRecovered, nil
	}

	// Escalation tiers: act first, then advance state. A failed action
	// skips the write so the same tier is retried next cycle.
	if err := h.act(ctx, t, d.Step); err != nil {
		if errors.Is(err, actuator.ErrPermission) {
			return OutcomeAborted, err
		}
		log.Error("remediation failed, tier will retry next cycle", "step", d.Step.String(), "error", err)
		return OutcomeAborted, err
	}

	if err := h.write(ctx, cur, d); err != nil {
		return h.writeOutcome(log, err)
	}

	escalationsTotal.WithLabelValues(strconv.Itoa(d.NextAttempt)).Inc()
	log.Info("escalation applied",
		"step", d.Step.String(),
		"attempt", d.NextAttempt,
		"action", string(d.NextAction),
	)

	switch d.Step {
	case StepRollback:
		h.Notifier.Notify(ctx, notifier.RollbackMessage(t.Ref, asmt.Probability))
	default:
		h.Notifier.Notify(ctx, notifier.EscalationMessage(t.Ref, d.NextAttempt, string(d.NextAction), asmt.Probability))
	}

	h.recheck(ctx, t, log)
	return OutcomeEscalated, nil
}

// act executes the remediation for one step. Both restarting tiers apply
// the configured replica count: the cache-clear tier ends in a restart
// too, and the workload should come back at its intended size either way.
func (h *Healer) act(ctx context.Context, t Target, s Step) error {
	switch s {
	case StepRestart:
		if err := h.Actuator.Restart(ctx, t.Ref); err != nil {
			return err
		}
		return h.scale(ctx, t)
	case StepClearCache:
		if err := h.Actuator.ClearCache(ctx, t.Ref); err != nil {
			return err
		}
		return h.scale(ctx, t)
	case StepRollback:
		return h.Actuator.Rollback(ctx, t.Ref)
	}
	return fmt.Errorf("no remediation for step %s", s)
}

func (h *Healer) scale(ctx context.Context, t Target) error {
	if t.Replicas <= 0 {
		return nil
	}
	return h.Actuator.Scale(ctx, t.Ref, t.Replicas)
}

// write saves the advanced state using the token captured at Load.
func (h *Healer) write(ctx context.Context, cur state.Healing, d Decision) error {
	next := cur
	next.Attempt = d.NextAttempt
	next.LastAction = d.NextAction
	next.LastUpdated = time.Now().UTC()
	return h.Store.Save(ctx, next)
}

// writeOutcome translates a failed state write. Conflicts are non-fatal
// no-ops: the concurrent writer's state is authoritative and this cycle's
// decision is discarded rather than retried blindly.
func (h *Healer) writeOutcome(log *slog.Logger, err error) (Outcome, error) {
	if errors.Is(err, state.ErrConflict) {
		conflictsTotal.Inc()
		log.Warn("concurrent cycle won the state write, decision discarded")
		return OutcomeConflict, nil
	}
	if errors.Is(err, state.ErrPermission) {
		return OutcomeAborted, err
	}
	return OutcomeAborted, fmt.Errorf("writing healing state: %w", err)
}

// recheck re-evaluates risk once after the cool-down. It only observes:
// if risk is still HIGH, the next cycle performs the next tier; there is
// no immediate re-escalation within this invocation.
func (h *Healer) recheck(ctx context.Context, t Target, log *slog.Logger) {
	if h.Cooldown <= 0 {
		return
	}

	timer := time.NewTimer(h.Cooldown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	rec, err := h.Features.Snapshot(ctx, t.Ref)
	if err != nil {
		log.Warn("post-escalation re-check skipped", "error", err)
		return
	}
	asmt := h.Predictor.Assess(ctx, rec)
	riskProbability.WithLabelValues(t.Ref.String()).Set(asmt.Probability)

	if asmt.Label == predictor.LabelHigh {
		log.Info("risk still high after cool-down, next cycle escalates",
			"probability", asmt.Probability)
		return
	}
	log.Info("risk dropped after cool-down", "probability", asmt.Probability)
}

// ResetEpisode is the operator-facing manual reset: attempt back to 0
// through the same conditional write as any other transition.
func (h *Healer) ResetEpisode(ctx context.Context, ref workload.Ref) error {
	cur, err := h.Store.Load(ctx, ref)
	if err != nil {
		return fmt.Errorf("loading healing state: %w", err)
	}

	cur.Attempt = 0
	cur.LastAction = state.ActionNone
	cur.LastUpdated = time.Now().UTC()
	if err := h.Store.Save(ctx, cur); err != nil {
		return fmt.Errorf("resetting healing state: %w", err)
	}

	slog.Info("healing episode reset by operator", "workload", ref.String())
	return nil
}

// RunLoop evaluates all targets on a fixed interval until the context is
// canceled. Targets are fanned out concurrently; they never share state,
// so the only cross-cycle coordination is the per-workload CAS.
//
// onFirstPass, when non-nil, is called once, after every target has
// completed its first cycle; the readiness gate hangs off it.
func (h *Healer) RunLoop(ctx context.Context, targets []Target, interval time.Duration, onFirstPass func()) error {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		g, gctx := errgroup.WithContext(ctx)
		for _, t := range targets {
			g.Go(func() error {
				outcome, err := h.RunCycle(gctx, t)
				if err != nil {
					if errors.Is(err, state.ErrPermission) || errors.Is(err, actuator.ErrPermission) {
						return err
					}
					slog.Warn("cycle aborted", "workload", t.Ref.String(), "error", err)
					return nil
				}
				slog.Debug("cycle complete", "workload", t.Ref.String(), "outcome", string(outcome))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			// Permission failures mean healing has stopped working; do
			// not keep looping quietly.
			return err
		}
		if onFirstPass != nil {
			onFirstPass()
			onFirstPass = nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

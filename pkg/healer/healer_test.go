package healer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeheal/kubeheal/pkg/actuator"
	"github.com/kubeheal/kubeheal/pkg/feature"
	"github.com/kubeheal/kubeheal/pkg/notifier"
	"github.com/kubeheal/kubeheal/pkg/predictor"
	"github.com/kubeheal/kubeheal/pkg/state"
	"github.com/kubeheal/kubeheal/pkg/workload"
)

type stubReader struct {
	rec *feature.Record
	err error
}

func (s *stubReader) Snapshot(context.Context, workload.Ref) (*feature.Record, error) {
	return s.rec, s.err
}

type stubAssessor struct {
	asmt *predictor.Assessment
}

func (s *stubAssessor) Assess(context.Context, *feature.Record) *predictor.Assessment {
	return s.asmt
}

type recordingActuator struct {
	calls []string
	err   error
}

func (a *recordingActuator) record(op string) error {
	a.calls = append(a.calls, op)
	return a.err
}

func (a *recordingActuator) Restart(context.Context, workload.Ref) error {
	return a.record("restart")
}

func (a *recordingActuator) Scale(_ context.Context, _ workload.Ref, replicas int32) error {
	return a.record(fmt.Sprintf("scale(%d)", replicas))
}

func (a *recordingActuator) ClearCache(context.Context, workload.Ref) error {
	return a.record("clear_cache")
}

func (a *recordingActuator) Rollback(context.Context, workload.Ref) error {
	return a.record("rollback")
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, message string) {
	n.messages = append(n.messages, message)
}

func assessment(label predictor.Label, prob float64) *predictor.Assessment {
	return &predictor.Assessment{Probability: prob, Label: label}
}

func newTestHealer(store state.Store, asmt *predictor.Assessment) (*Healer, *recordingActuator, *recordingNotifier) {
	act := &recordingActuator{}
	note := &recordingNotifier{}
	h := &Healer{
		Features:  &stubReader{rec: &feature.Record{ReadyReplicaRatio: 1}},
		Predictor: &stubAssessor{asmt: asmt},
		Store:     store,
		Actuator:  act,
		Notifier:  note,
		// Cooldown 0 disables the post-escalation re-check in tests.
	}
	return h, act, note
}

var testRef = workload.NewRef("web", "prod")

func TestRunCycle_LowRiskIsNoop(t *testing.T) {
	store := state.NewMemoryStore()
	h, act, note := newTestHealer(store, assessment(predictor.LabelLow, 0.1))

	outcome, err := h.RunCycle(context.Background(), Target{Ref: testRef})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Empty(t, act.calls, "no actuator call on LOW risk")
	assert.Empty(t, note.messages)

	cur, err := store.Load(context.Background(), testRef)
	require.NoError(t, err)
	assert.Equal(t, 0, cur.Attempt, "attempt unchanged")
}

// Three consecutive HIGH assessments drive attempt 0->1->2->3 with the
// exact action sequence restart, cache-clear, rollback.
func TestRunCycle_EscalationLadder(t *testing.T) {
	store := state.NewMemoryStore()
	h, act, note := newTestHealer(store, assessment(predictor.LabelHigh, 0.92))

	wantCalls := []string{"restart", "clear_cache", "rollback"}
	wantActions := []state.Action{state.ActionRestarted, state.ActionCacheCleared, state.ActionRolledBack}

	for i := 0; i < 3; i++ {
		outcome, err := h.RunCycle(context.Background(), Target{Ref: testRef})
		require.NoError(t, err)
		assert.Equal(t, OutcomeEscalated, outcome, "cycle %d", i+1)

		cur, err := store.Load(context.Background(), testRef)
		require.NoError(t, err)
		assert.Equal(t, i+1, cur.Attempt)
		assert.Equal(t, wantActions[i], cur.LastAction)
	}

	assert.Equal(t, wantCalls, act.calls)
	assert.Len(t, note.messages, 3, "one notification per escalation")

	// A fourth HIGH cycle performs no new actuator call.
	outcome, err := h.RunCycle(context.Background(), Target{Ref: testRef})
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, outcome)
	assert.Equal(t, wantCalls, act.calls, "ladder exhausted, no further actions")

	cur, err := store.Load(context.Background(), testRef)
	require.NoError(t, err)
	assert.Equal(t, 3, cur.Attempt)
}

func TestRunCycle_RestartScalesWhenConfigured(t *testing.T) {
	store := state.NewMemoryStore()
	h, act, _ := newTestHealer(store, assessment(predictor.LabelHigh, 0.9))

	_, err := h.RunCycle(context.Background(), Target{Ref: testRef, Replicas: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"restart", "scale(3)"}, act.calls)
}

// The cache-clear tier ends in a restart, so it applies the configured
// replica count the same way tier 1 does.
func TestRunCycle_CacheClearScalesWhenConfigured(t *testing.T) {
	store := state.NewMemoryStore()
	h, act, _ := newTestHealer(store, assessment(predictor.LabelHigh, 0.9))

	target := Target{Ref: testRef, Replicas: 3}
	for i := 0; i < 2; i++ {
		_, err := h.RunCycle(context.Background(), target)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"restart", "scale(3)", "clear_cache", "scale(3)"}, act.calls)
}

func TestRunCycle_RecoveryResetsAndNotifiesOnce(t *testing.T) {
	store := state.NewMemoryStore()

	// Drive the episode to attempt 2.
	h, _, _ := newTestHealer(store, assessment(predictor.LabelHigh, 0.9))
	for i := 0; i < 2; i++ {
		_, err := h.RunCycle(context.Background(), Target{Ref: testRef})
		require.NoError(t, err)
	}

	h2, act, note := newTestHealer(store, assessment(predictor.LabelLow, 0.05))
	outcome, err := h2.RunCycle(context.Background(), Target{Ref: testRef})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecovered, outcome)
	assert.Empty(t, act.calls)
	require.Len(t, note.messages, 1, "exactly one recovery notification")
	assert.Contains(t, note.messages[0], "recovered")

	cur, err := store.Load(context.Background(), testRef)
	require.NoError(t, err)
	assert.Equal(t, 0, cur.Attempt)
	assert.Equal(t, state.ActionNone, cur.LastAction)

	// The following LOW cycle is a plain no-op: no second notification.
	outcome, err = h2.RunCycle(context.Background(), Target{Ref: testRef})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Len(t, note.messages, 1)
}

func TestRunCycle_ActuatorFailureDoesNotAdvance(t *testing.T) {
	store := state.NewMemoryStore()
	h, act, note := newTestHealer(store, assessment(predictor.LabelHigh, 0.9))
	act.err = errors.New("platform rejected the restart")

	outcome, err := h.RunCycle(context.Background(), Target{Ref: testRef})
	assert.Error(t, err)
	assert.Equal(t, OutcomeAborted, outcome)
	assert.Empty(t, note.messages, "no escalation notification on failed action")

	cur, err := store.Load(context.Background(), testRef)
	require.NoError(t, err)
	assert.Equal(t, 0, cur.Attempt, "same tier retries next cycle")

	// Next cycle retries the same tier.
	act.err = nil
	outcome, err = h.RunCycle(context.Background(), Target{Ref: testRef})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, outcome)
	assert.Equal(t, []string{"restart", "restart"}, act.calls)
}

// conflictingStore hands both cycles the same snapshot, then lets only the
// first Save through, emulating two racing cycles that read one token.
type conflictingStore struct {
	current state.Healing
	saved   []state.Healing
}

func (s *conflictingStore) Load(context.Context, workload.Ref) (state.Healing, error) {
	return s.current, nil
}

func (s *conflictingStore) Save(_ context.Context, h state.Healing) error {
	if len(s.saved) > 0 {
		return fmt.Errorf("updating %s: %w", h.Ref, state.ErrConflict)
	}
	s.saved = append(s.saved, h)
	return nil
}

func TestRunCycle_ConcurrentCyclesOnlyOneWins(t *testing.T) {
	store := &conflictingStore{current: state.Healing{Ref: testRef, LastAction: state.ActionNone, Token: "42"}}
	h, act, _ := newTestHealer(store, assessment(predictor.LabelHigh, 0.9))

	first, err := h.RunCycle(context.Background(), Target{Ref: testRef})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, first)

	second, err := h.RunCycle(context.Background(), Target{Ref: testRef})
	require.NoError(t, err, "conflict is a non-fatal no-op")
	assert.Equal(t, OutcomeConflict, second)

	require.Len(t, store.saved, 1, "loser's decision has no effect on stored state")
	assert.Equal(t, 1, store.saved[0].Attempt)
	// The action itself ran twice, which is safe: both were the same
	// idempotent tier, and the stored attempt advanced exactly once.
	assert.Equal(t, []string{"restart", "restart"}, act.calls)
}

func TestRunCycle_PermissionFailureSurfacesLoudly(t *testing.T) {
	store := &permissionStore{}
	h, _, _ := newTestHealer(store, assessment(predictor.LabelHigh, 0.9))

	_, err := h.RunCycle(context.Background(), Target{Ref: testRef})
	assert.ErrorIs(t, err, state.ErrPermission)
}

type permissionStore struct{}

func (permissionStore) Load(context.Context, workload.Ref) (state.Healing, error) {
	return state.Healing{}, fmt.Errorf("reading: %w", state.ErrPermission)
}

func (permissionStore) Save(context.Context, state.Healing) error {
	return state.ErrPermission
}

// Degraded predictor: the orchestrator still reaches a decision when the
// inference service is unreachable.
func TestRunCycle_DegradedPredictorStillDecides(t *testing.T) {
	store := state.NewMemoryStore()
	pred := predictor.New("http://127.0.0.1:1", 0, 0.7) // nothing listens here

	act := &recordingActuator{}
	h := &Healer{
		Features: &stubReader{rec: &feature.Record{
			CPUUsagePct:         98,
			HTTP5xxErrorRate:    8,
			UnavailableReplicas: 3,
			ReadyReplicaRatio:   0.2,
			RestartCountLast5m:  6,
		}},
		Predictor: pred,
		Store:     store,
		Actuator:  act,
		Notifier:  &recordingNotifier{},
	}

	outcome, err := h.RunCycle(context.Background(), Target{Ref: testRef})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, outcome)
	assert.Equal(t, []string{"restart"}, act.calls)
}

// The worked example: cpu 85%, one 5xx/s, threshold 0.5, attempt 0. The
// predictor responds with a HIGH probability and the first tier fires.
func TestRunCycle_WorkedExample(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/predict") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"probability":0.85,"risk":"HIGH","model_loaded":true,"model_error":null}`))
	}))
	defer srv.Close()

	store := state.NewMemoryStore()
	act := &recordingActuator{}
	h := &Healer{
		Features: &stubReader{rec: &feature.Record{
			CPUUsagePct:       85,
			MemoryUsageBytes:  512 << 20,
			ReadyReplicaRatio: 1,
			HTTP5xxErrorRate:  1,
		}},
		Predictor: predictor.New(srv.URL, 0, 0.5),
		Store:     store,
		Actuator:  act,
		Notifier:  &recordingNotifier{},
	}

	outcome, err := h.RunCycle(context.Background(), Target{Ref: testRef})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, outcome)
	assert.Equal(t, []string{"restart"}, act.calls)

	cur, err := store.Load(context.Background(), testRef)
	require.NoError(t, err)
	assert.Equal(t, 1, cur.Attempt)
	assert.Equal(t, state.ActionRestarted, cur.LastAction)
}

func TestResetEpisode(t *testing.T) {
	store := state.NewMemoryStore()
	h, _, _ := newTestHealer(store, assessment(predictor.LabelHigh, 0.9))

	for i := 0; i < 3; i++ {
		_, err := h.RunCycle(context.Background(), Target{Ref: testRef})
		require.NoError(t, err)
	}

	require.NoError(t, h.ResetEpisode(context.Background(), testRef))

	cur, err := store.Load(context.Background(), testRef)
	require.NoError(t, err)
	assert.Equal(t, 0, cur.Attempt)
	assert.Equal(t, state.ActionNone, cur.LastAction)
}

// Readiness comes from the loop actually finishing its first pass, not
// from a timer: with an hour-long interval the callback can only have
// fired because the pass completed.
func TestRunLoop_SignalsFirstPass(t *testing.T) {
	store := state.NewMemoryStore()
	h, _, _ := newTestHealer(store, assessment(predictor.LabelLow, 0.1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- h.RunLoop(ctx, []Target{{Ref: testRef}}, time.Hour, func() { close(ready) })
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("first pass did not signal readiness")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

var _ notifier.Notifier = (*recordingNotifier)(nil)
var _ actuator.Actuator = (*recordingActuator)(nil)

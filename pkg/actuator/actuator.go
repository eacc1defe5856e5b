package actuator

import (
	"context"
	"errors"

	"github.com/kubeheal/kubeheal/pkg/workload"
)

// ErrPermission means the caller lacks rights to mutate the workload.
// Distinct from ordinary actuator failure: a forbidden mutation means
// healing has silently stopped working and must be surfaced loudly.
var ErrPermission = errors.New("permission denied mutating workload")

// Actuator executes remediation actions against the orchestration
// platform. Every operation is synchronous and idempotent-safe to
// re-issue: issuing restart twice is not a new escalation tier, because
// tier advancement is driven solely by the stored healing state. Success
// here means the platform accepted the mutation; whether risk actually
// drops is a separate, later observation.
type Actuator interface {
	// Restart triggers a rolling restart of the workload.
	Restart(ctx context.Context, ref workload.Ref) error

	// Scale sets the workload's replica count.
	Scale(ctx context.Context, ref workload.Ref, replicas int32) error

	// ClearCache runs the cache-invalidation command inside one pod of
	// the workload and then restarts it.
	ClearCache(ctx context.Context, ref workload.Ref) error

	// Rollback reverts the workload to its immediately prior revision.
	Rollback(ctx context.Context, ref workload.Ref) error
}

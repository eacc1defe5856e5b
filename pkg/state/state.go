package state

import (
	"context"
	"errors"
	"time"

	"github.com/kubeheal/kubeheal/pkg/workload"
)

// Action marks the last remediation applied to a workload. The stored
// action and the attempt counter move together: attempt 1 is always
// RESTARTED, 2 CACHE_CLEARED, 3 ROLLED_BACK.
type Action string

const (
	ActionNone         Action = "NONE"
	ActionRestarted    Action = "RESTARTED"
	ActionCacheCleared Action = "CACHE_CLEARED"
	ActionRolledBack   Action = "ROLLED_BACK"
)

// MaxAttempts is the ladder depth. Attempt never exceeds it without an
// intervening reset.
const MaxAttempts = 3

var (
	// ErrConflict means the version token captured at Load no longer
	// matches the stored state: another cycle won the write. The caller
	// discards its decision; the winner's state is authoritative.
	ErrConflict = errors.New("healing state version conflict")

	// ErrPermission means the caller lacks rights to read or mutate the
	// state. Unlike transient failures this must be surfaced loudly:
	// silently swallowing it would mean healing silently stops working.
	ErrPermission = errors.New("permission denied updating healing state")
)

// Healing is the durable escalation record for one workload. It is created
// lazily (attempt 0) the first time a workload is evaluated and lives as
// long as the workload does.
type Healing struct {
	Ref         workload.Ref `json:"ref"`
	Attempt     int          `json:"attempt"`
	LastAction  Action       `json:"last_action"`
	LastUpdated time.Time    `json:"last_updated"`
	// Token is the opaque optimistic-concurrency handle captured at Load.
	// Save rejects a write whose token no longer matches the store.
	Token string `json:"-"`
}

// Store is a versioned key-value record per workload, accessed
// compare-and-swap style: Load captures the token, Save spends it.
type Store interface {
	// Load returns the current healing state, lazily initializing a fresh
	// attempt=0 record the first time a workload is seen.
	Load(ctx context.Context, ref workload.Ref) (Healing, error)

	// Save conditionally writes h using h.Token. It returns ErrConflict
	// when the token is stale and ErrPermission when the caller may not
	// write.
	Save(ctx context.Context, h Healing) error
}

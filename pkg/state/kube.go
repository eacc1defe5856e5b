package state

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/kubeheal/kubeheal/pkg/workload"
)

// Annotation keys carrying healing state on the managed Deployment.
const (
	annotationAttempt     = "healing.kubeheal.io/attempt"
	annotationLastAction  = "healing.kubeheal.io/last-action"
	annotationLastUpdated = "healing.kubeheal.io/last-updated"
	annotationToken       = "healing.kubeheal.io/token"
)

// KubeStore persists healing state as annotations on the workload's own
// Deployment, so the healer process stays stateless across invocations.
//
// The version token is an explicit annotation rotated on every Save, not
// the Deployment's resourceVersion: remediation itself mutates the
// Deployment (restart patches the pod template, rollback replaces it), so
// the object's resourceVersion moves under the cycle between Load and
// Save. Only a change to the healing annotations means another cycle won.
type KubeStore struct {
	Client kubernetes.Interface
}

// NewKubeStore returns a store backed by the given clientset.
func NewKubeStore(client kubernetes.Interface) *KubeStore {
	return &KubeStore{Client: client}
}

// Load reads the healing annotations off the Deployment. A workload that
// has never been annotated loads as attempt 0 / NONE with an empty token.
func (s *KubeStore) Load(ctx context.Context, ref workload.Ref) (Healing, error) {
	dep, err := s.Client.AppsV1().Deployments(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsForbidden(err) {
			return Healing{}, fmt.Errorf("reading %s: %w", ref, ErrPermission)
		}
		return Healing{}, fmt.Errorf("failed to get deployment %s: %w", ref, err)
	}

	h := Healing{
		Ref:        ref,
		LastAction: ActionNone,
	}

	ann := dep.GetAnnotations()
	h.Token = ann[annotationToken]
	if v, ok := ann[annotationAttempt]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			// Garbage in the annotation (e.g. hand-edited); treat as a
			// fresh episode rather than refusing to heal.
			n = 0
		}
		h.Attempt = n
	}
	if v, ok := ann[annotationLastAction]; ok && v != "" {
		h.LastAction = Action(v)
	}
	if v, ok := ann[annotationLastUpdated]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			h.LastUpdated = t
		}
	}
	return h, nil
}

// Save writes the healing annotations conditionally on h.Token. It reads
// the Deployment fresh, rejects the write when the token annotation no
// longer matches the one captured at Load, and otherwise updates with a
// newly minted token. The fresh read means the cycle's own remediation
// (which bumps the object's resourceVersion but never touches the token)
// cannot invalidate the cycle's own write.
func (s *KubeStore) Save(ctx context.Context, h Healing) error {
	dep, err := s.Client.AppsV1().Deployments(h.Ref.Namespace).Get(ctx, h.Ref.Name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsForbidden(err) {
			return fmt.Errorf("updating %s: %w", h.Ref, ErrPermission)
		}
		return fmt.Errorf("failed to get deployment %s: %w", h.Ref, err)
	}

	if dep.Annotations == nil {
		dep.Annotations = map[string]string{}
	}
	if dep.Annotations[annotationToken] != h.Token {
		return fmt.Errorf("updating %s: %w", h.Ref, ErrConflict)
	}

	dep.Annotations[annotationAttempt] = strconv.Itoa(h.Attempt)
	dep.Annotations[annotationLastAction] = string(h.LastAction)
	dep.Annotations[annotationLastUpdated] = h.LastUpdated.UTC().Format(time.RFC3339)
	dep.Annotations[annotationToken] = uuid.New().String()

	_, err = s.Client.AppsV1().Deployments(h.Ref.Namespace).Update(ctx, dep, metav1.UpdateOptions{})
	switch {
	case err == nil:
		return nil
	case apierrors.IsConflict(err):
		// Raced between the read above and the update; the other writer
		// is authoritative.
		return fmt.Errorf("updating %s: %w", h.Ref, ErrConflict)
	case apierrors.IsForbidden(err):
		return fmt.Errorf("updating %s: %w", h.Ref, ErrPermission)
	default:
		return fmt.Errorf("failed to update deployment %s: %w", h.Ref, err)
	}
}

var _ Store = (*KubeStore)(nil)

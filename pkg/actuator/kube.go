package actuator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/kubeheal/kubeheal/pkg/workload"
)

const (
	restartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"
	revisionAnnotation    = "deployment.kubernetes.io/revision"
	podTemplateHashLabel  = "pod-template-hash"
)

// KubeActuator executes remediation against Kubernetes Deployments.
// Mutations are never retried here: on failure the cycle aborts and the
// next cycle re-attempts the same tier, because the stored attempt counter
// only advances after a successful action.
type KubeActuator struct {
	Client   kubernetes.Interface
	Executor PodExecutor

	// CacheClearCommand runs inside one pod at the cache-clear tier.
	CacheClearCommand []string
}

// NewKubeActuator wires an actuator over the given clientset and executor.
func NewKubeActuator(client kubernetes.Interface, executor PodExecutor, cacheClearCommand []string) *KubeActuator {
	if len(cacheClearCommand) == 0 {
		cacheClearCommand = []string{"sh", "-c", "rm -rf /tmp/*"}
	}
	return &KubeActuator{Client: client, Executor: executor, CacheClearCommand: cacheClearCommand}
}

// Restart patches the pod template's restartedAt annotation, the same
// mechanism as `kubectl rollout restart`. Re-issuing it only bumps the
// timestamp, which keeps the operation safe to repeat.
func (a *KubeActuator) Restart(ctx context.Context, ref workload.Ref) error {
	patch := fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{%q:%q}}}}}`,
		restartedAtAnnotation, time.Now().UTC().Format(time.RFC3339),
	)

	_, err := a.Client.AppsV1().Deployments(ref.Namespace).Patch(
		ctx, ref.Name, types.StrategicMergePatchType, []byte(patch), metav1.PatchOptions{})
	if err != nil {
		return mapKubeError(err, "restart", ref)
	}

	slog.Info("rolling restart triggered", "workload", ref.String())
	return nil
}

// Scale sets the replica count through the scale subresource.
func (a *KubeActuator) Scale(ctx context.Context, ref workload.Ref, replicas int32) error {
	scale, err := a.Client.AppsV1().Deployments(ref.Namespace).GetScale(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return mapKubeError(err, "scale", ref)
	}
	if scale.Spec.Replicas == replicas {
		return nil
	}

	scale.Spec.Replicas = replicas
	_, err = a.Client.AppsV1().Deployments(ref.Namespace).UpdateScale(ctx, ref.Name, scale, metav1.UpdateOptions{})
	if err != nil {
		return mapKubeError(err, "scale", ref)
	}

	slog.Info("replicas updated", "workload", ref.String(), "replicas", replicas)
	return nil
}

// ClearCache runs the configured command inside one pod of the workload,
// then restarts it. A failed in-pod command is logged and tolerated (the
// pod may be mid-crash); the restart is the part that must succeed.
func (a *KubeActuator) ClearCache(ctx context.Context, ref workload.Ref) error {
	pod, err := a.pickPod(ctx, ref)
	if err != nil {
		slog.Warn("cache clear skipped, no reachable pod", "workload", ref.String(), "error", err)
	} else if err := a.Executor.Exec(ctx, ref.Namespace, pod, a.CacheClearCommand); err != nil {
		slog.Warn("cache clear command failed", "workload", ref.String(), "pod", pod, "error", err)
	} else {
		slog.Info("cache cleared inside pod", "workload", ref.String(), "pod", pod)
	}

	return a.Restart(ctx, ref)
}

// Rollback reverts the Deployment to its immediately prior revision by
// copying the previous ReplicaSet's pod template back onto the spec, the
// same mechanism as `kubectl rollout undo`.
func (a *KubeActuator) Rollback(ctx context.Context, ref workload.Ref) error {
	dep, err := a.Client.AppsV1().Deployments(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return mapKubeError(err, "rollback", ref)
	}

	prev, err := a.previousReplicaSet(ctx, dep)
	if err != nil {
		return fmt.Errorf("rollback %s: %w", ref, err)
	}

	dep.Spec.Template = prev.Spec.Template
	// The hash label belongs to the ReplicaSet, not the Deployment spec.
	delete(dep.Spec.Template.Labels, podTemplateHashLabel)

	_, err = a.Client.AppsV1().Deployments(ref.Namespace).Update(ctx, dep, metav1.UpdateOptions{})
	if err != nil {
		return mapKubeError(err, "rollback", ref)
	}

	slog.Info("rolled back to previous revision", "workload", ref.String(),
		"revision", prev.Annotations[revisionAnnotation])
	return nil
}

// previousReplicaSet finds the owned ReplicaSet with the highest revision
// below the Deployment's current one.
func (a *KubeActuator) previousReplicaSet(ctx context.Context, dep *appsv1.Deployment) (*appsv1.ReplicaSet, error) {
	current, err := strconv.ParseInt(dep.Annotations[revisionAnnotation], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("deployment has no parseable revision annotation: %w", err)
	}

	sel, err := metav1.LabelSelectorAsSelector(dep.Spec.Selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector: %w", err)
	}

	rsList, err := a.Client.AppsV1().ReplicaSets(dep.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: sel.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list replicasets: %w", err)
	}

	var prev *appsv1.ReplicaSet
	var prevRev int64 = -1
	for i := range rsList.Items {
		rs := &rsList.Items[i]
		if !metav1.IsControlledBy(rs, dep) {
			continue
		}
		rev, err := strconv.ParseInt(rs.Annotations[revisionAnnotation], 10, 64)
		if err != nil {
			continue
		}
		if rev < current && rev > prevRev {
			prev = rs
			prevRev = rev
		}
	}
	if prev == nil {
		return nil, fmt.Errorf("no previous revision to roll back to")
	}
	return prev, nil
}

// pickPod returns one running pod matched by the Deployment selector.
func (a *KubeActuator) pickPod(ctx context.Context, ref workload.Ref) (string, error) {
	dep, err := a.Client.AppsV1().Deployments(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return "", mapKubeError(err, "exec", ref)
	}

	sel, err := metav1.LabelSelectorAsSelector(dep.Spec.Selector)
	if err != nil {
		return "", fmt.Errorf("invalid selector: %w", err)
	}

	pods, err := a.Client.CoreV1().Pods(ref.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: sel.String(),
	})
	if err != nil {
		return "", mapKubeError(err, "exec", ref)
	}

	for _, pod := range pods.Items {
		if pod.Status.Phase == corev1.PodRunning {
			return pod.Name, nil
		}
	}
	return "", fmt.Errorf("no running pod for %s", ref)
}

func mapKubeError(err error, op string, ref workload.Ref) error {
	if apierrors.IsForbidden(err) {
		return fmt.Errorf("%s %s: %w", op, ref, ErrPermission)
	}
	return fmt.Errorf("%s %s: %w", op, ref, err)
}

var _ Actuator = (*KubeActuator)(nil)

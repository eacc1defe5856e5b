package feature

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/kubeheal/kubeheal/pkg/workload"
)

// DeploymentReader derives the feature record from the Deployment status
// and its Pods when no metrics backend is configured. Only the replica and
// restart signals are observable this way; the traffic signals read as
// zero, which biases the fallback heuristic toward replica health.
type DeploymentReader struct {
	Client kubernetes.Interface
}

// Snapshot reads the Deployment and its Pods and assembles a Record.
func (d *DeploymentReader) Snapshot(ctx context.Context, ref workload.Ref) (*Record, error) {
	dep, err := d.Client.AppsV1().Deployments(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment %s: %w", ref, err)
	}

	rec := &Record{
		UnavailableReplicas: float64(dep.Status.UnavailableReplicas),
	}

	var spec int32 = 1
	if dep.Spec.Replicas != nil && *dep.Spec.Replicas > 0 {
		spec = *dep.Spec.Replicas
	}
	rec.ReadyReplicaRatio = clamp(float64(dep.Status.ReadyReplicas)/float64(spec), 0, 1)

	sel, err := metav1.LabelSelectorAsSelector(dep.Spec.Selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector on deployment %s: %w", ref, err)
	}

	pods, err := d.Client.CoreV1().Pods(ref.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: sel.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods for %s: %w", ref, err)
	}

	// Container restart counters are lifetime totals; without a metrics
	// backend there is no 5m window to difference against.
	var restarts float64
	for _, pod := range pods.Items {
		for _, cs := range pod.Status.ContainerStatuses {
			restarts += float64(cs.RestartCount)
		}
	}
	rec.RestartCountLast5m = restarts

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feature snapshot: %w", err)
	}
	return rec, nil
}

var _ Reader = (*DeploymentReader)(nil)

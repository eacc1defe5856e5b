package actuator

import (
	"bytes"
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
)

// PodExecutor runs a command inside a pod. It exists as an interface so
// the actuator can be tested without an SPDY-capable API server.
type PodExecutor interface {
	Exec(ctx context.Context, namespace, pod string, command []string) error
}

// SPDYExecutor executes pod commands through the exec subresource over
// SPDY, the same transport kubectl exec uses.
type SPDYExecutor struct {
	Client kubernetes.Interface
	Config *rest.Config
}

// Exec runs command in the first container of the pod and drains its
// output. A non-zero exit surfaces as an error from the stream.
func (e *SPDYExecutor) Exec(ctx context.Context, namespace, pod string, command []string) error {
	req := e.Client.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: command,
			Stdout:  true,
			Stderr:  true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(e.Config, "POST", req.URL())
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	var stdout, stderr bytes.Buffer
	if err := exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	}); err != nil {
		return fmt.Errorf("exec failed: %w (stderr: %s)", err, stderr.String())
	}
	return nil
}

var _ PodExecutor = (*SPDYExecutor)(nil)

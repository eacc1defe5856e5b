package feature

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/kubeheal/kubeheal/pkg/workload"
)

// query expressions per signal. %[1]s is the namespace, %[2]s the
// deployment name. Pods are matched by the deployment-name prefix the
// way the standard kube-state-metrics/cAdvisor series are labelled.
const (
	queryRestarts = `sum(increase(kube_pod_container_status_restarts_total{namespace="%[1]s",pod=~"%[2]s-.*"}[5m]))`
	queryCPU      = `100 * sum(rate(container_cpu_usage_seconds_total{namespace="%[1]s",pod=~"%[2]s-.*"}[5m])) / sum(kube_pod_container_resource_limits{namespace="%[1]s",pod=~"%[2]s-.*",resource="cpu"})`
	queryMemory   = `sum(container_memory_working_set_bytes{namespace="%[1]s",pod=~"%[2]s-.*"})`
	queryReady    = `kube_deployment_status_replicas_ready{namespace="%[1]s",deployment="%[2]s"} / kube_deployment_spec_replicas{namespace="%[1]s",deployment="%[2]s"}`
	queryUnavail  = `kube_deployment_status_replicas_unavailable{namespace="%[1]s",deployment="%[2]s"}`
	queryNetRecv  = `sum(rate(container_network_receive_bytes_total{namespace="%[1]s",pod=~"%[2]s-.*"}[5m]))`
	query5xxRate  = `sum(rate(http_requests_total{namespace="%[1]s",pod=~"%[2]s-.*",status=~"5.."}[5m]))`
)

// promQuerier is the slice of the Prometheus v1 API the reader needs.
type promQuerier interface {
	Query(ctx context.Context, query string, ts time.Time, opts ...promv1.Option) (model.Value, promv1.Warnings, error)
}

// PromReader samples the feature record from a Prometheus-compatible
// query API, one instant query per signal. Missing series are read as
// zero: a workload that has never served a 5xx simply has no such series.
type PromReader struct {
	api     promQuerier
	timeout time.Duration
}

// NewPromReader builds a reader against the query API at addr.
func NewPromReader(addr string, timeout time.Duration) (*PromReader, error) {
	client, err := api.NewClient(api.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	return &PromReader{api: promv1.NewAPI(client), timeout: timeout}, nil
}

// Snapshot queries all seven signals and assembles a validated Record.
func (p *PromReader) Snapshot(ctx context.Context, ref workload.Ref) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type signal struct {
		expr string
		dst  *float64
	}

	rec := &Record{}
	signals := []signal{
		{queryRestarts, &rec.RestartCountLast5m},
		{queryCPU, &rec.CPUUsagePct},
		{queryMemory, &rec.MemoryUsageBytes},
		{queryReady, &rec.ReadyReplicaRatio},
		{queryUnavail, &rec.UnavailableReplicas},
		{queryNetRecv, &rec.NetworkReceiveBytesPerS},
		{query5xxRate, &rec.HTTP5xxErrorRate},
	}

	for _, s := range signals {
		expr := fmt.Sprintf(s.expr, ref.Namespace, ref.Name)
		v, err := p.queryScalar(ctx, expr)
		if err != nil {
			return nil, fmt.Errorf("failed to query %q: %w", expr, err)
		}
		*s.dst = v
	}

	// Clamp derived signals to their domains; a deployment mid-rollout can
	// briefly report ready > spec.
	rec.CPUUsagePct = clamp(rec.CPUUsagePct, 0, 100)
	rec.ReadyReplicaRatio = clamp(rec.ReadyReplicaRatio, 0, 1)

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feature snapshot: %w", err)
	}
	return rec, nil
}

// queryScalar runs one instant query with a single retry on failure and
// collapses the result to a float64. Empty results read as 0.
func (p *PromReader) queryScalar(ctx context.Context, expr string) (float64, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		val, warnings, err := p.api.Query(ctx, expr, time.Now())
		if err != nil {
			lastErr = err
			continue
		}
		if len(warnings) > 0 {
			slog.Debug("prometheus query warnings", "query", expr, "warnings", warnings)
		}
		return scalarFromValue(val), nil
	}
	return 0, lastErr
}

func scalarFromValue(val model.Value) float64 {
	switch v := val.(type) {
	case model.Vector:
		if len(v) == 0 {
			return 0
		}
		return sanitize(float64(v[0].Value))
	case *model.Scalar:
		return sanitize(float64(v.Value))
	}
	return 0
}

// sanitize maps NaN/Inf (e.g. ready/spec with spec=0) to 0.
func sanitize(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func clamp(f, lo, hi float64) float64 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

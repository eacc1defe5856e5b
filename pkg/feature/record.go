package feature

import (
	"context"
	"fmt"

	"github.com/kubeheal/kubeheal/pkg/workload"
)

// Record is the fixed set of runtime signals sampled for one risk
// evaluation. A Record is produced fresh every cycle and never persisted;
// the JSON tags are the wire names of the inference request body.
type Record struct {
	RestartCountLast5m      float64 `json:"restart_count_last_5m"`
	CPUUsagePct             float64 `json:"cpu_usage_pct"`
	MemoryUsageBytes        float64 `json:"memory_usage_bytes"`
	ReadyReplicaRatio       float64 `json:"ready_replica_ratio"`
	UnavailableReplicas     float64 `json:"unavailable_replicas"`
	NetworkReceiveBytesPerS float64 `json:"network_receive_bytes_per_s"`
	HTTP5xxErrorRate        float64 `json:"http_5xx_error_rate"`
}

// Validate rejects records with values outside their documented domains.
func (r *Record) Validate() error {
	checks := []struct {
		name     string
		value    float64
		min, max float64
	}{
		{"restart_count_last_5m", r.RestartCountLast5m, 0, -1},
		{"cpu_usage_pct", r.CPUUsagePct, 0, 100},
		{"memory_usage_bytes", r.MemoryUsageBytes, 0, -1},
		{"ready_replica_ratio", r.ReadyReplicaRatio, 0, 1},
		{"unavailable_replicas", r.UnavailableReplicas, 0, -1},
		{"network_receive_bytes_per_s", r.NetworkReceiveBytesPerS, 0, -1},
		{"http_5xx_error_rate", r.HTTP5xxErrorRate, 0, -1},
	}
	for _, c := range checks {
		if c.value < c.min {
			return fmt.Errorf("%s: %v is negative", c.name, c.value)
		}
		if c.max >= 0 && c.value > c.max {
			return fmt.Errorf("%s: %v exceeds %v", c.name, c.value, c.max)
		}
	}
	return nil
}

// Reader produces a feature snapshot for one workload.
type Reader interface {
	Snapshot(ctx context.Context, ref workload.Ref) (*Record, error)
}

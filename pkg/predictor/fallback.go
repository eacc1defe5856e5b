package predictor

import "github.com/kubeheal/kubeheal/pkg/feature"

// Fallback weights. CPU saturation, 5xx rate and unavailable replicas
// dominate; restarts and readiness fill in the rest. Weights sum to 1 so
// the raw score already lives in [0,1].
const (
	weightCPU         = 0.30
	weight5xx         = 0.25
	weightUnavailable = 0.20
	weightReadiness   = 0.15
	weightRestarts    = 0.10

	// saturation points: signal values at or beyond these contribute
	// their full weight.
	saturate5xx         = 5.0 // 5xx responses per second
	saturateUnavailable = 3.0 // replicas
	saturateRestarts    = 5.0 // restarts in the window
)

// Fallback computes a deterministic failure score from the feature record
// alone. It never fails and always returns a value in [0,1]; it exists so
// an unreachable inference service can never block a healing decision.
func Fallback(rec *feature.Record) float64 {
	score := weightCPU*unit(rec.CPUUsagePct/100) +
		weight5xx*unit(rec.HTTP5xxErrorRate/saturate5xx) +
		weightUnavailable*unit(rec.UnavailableReplicas/saturateUnavailable) +
		weightReadiness*unit(1-rec.ReadyReplicaRatio) +
		weightRestarts*unit(rec.RestartCountLast5m/saturateRestarts)
	return unit(score)
}

// unit clamps to [0,1].
func unit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

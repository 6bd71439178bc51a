package breaker

import (
	"github.com/priceloom/feedgate/pkg/common/models"
)

// Trip reasons carried on notifications and blocked runs.
const (
	ReasonExpirySpike  = "SPIKE_THRESHOLD_EXCEEDED"
	ReasonURLHashSpike = "DATA_QUALITY_URL_HASH_SPIKE"
)

// Decision is the per-run verdict. A trip is a deliberate halt, not an
// error: the run is withheld pending manual approval.
type Decision struct {
	Tripped bool                         `json:"tripped"`
	Reasons []string                     `json:"reasons,omitempty"`
	Metrics models.CircuitBreakerMetrics `json:"metrics"`
}

// Breaker gates bulk promotion when a run looks like it would corrupt the
// live catalog. Both thresholds are strict: a run sitting exactly on a
// boundary passes.
type Breaker struct {
	expiryThreshold float64
	urlHashRatio    float64
}

func New(expiryThreshold, urlHashRatio float64) *Breaker {
	if expiryThreshold <= 0 {
		expiryThreshold = 20.0
	}
	if urlHashRatio <= 0 {
		urlHashRatio = 0.5
	}
	return &Breaker{expiryThreshold: expiryThreshold, urlHashRatio: urlHashRatio}
}

func (b *Breaker) Evaluate(metrics models.CircuitBreakerMetrics) Decision {
	if metrics.ActiveCountBefore > 0 {
		metrics.ExpiryPercentage = float64(metrics.WouldExpireCount) / float64(metrics.ActiveCountBefore) * 100
	}

	decision := Decision{Metrics: metrics}

	if metrics.ActiveCountBefore > 0 && metrics.ExpiryPercentage > b.expiryThreshold {
		decision.Tripped = true
		decision.Reasons = append(decision.Reasons, ReasonExpirySpike)
	}

	if metrics.SeenSuccessCount > 0 {
		ratio := float64(metrics.URLHashFallbackCount) / float64(metrics.SeenSuccessCount)
		if ratio > b.urlHashRatio {
			decision.Tripped = true
			decision.Reasons = append(decision.Reasons, ReasonURLHashSpike)
		}
	}

	return decision
}

package scan

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"trustscan/internal/detect"
)

// PentaShield hardens the fused verdict against adversarial manipulation and
// unknown attack types. HYDRA and SENTINEL are independent and run
// concurrently; both complete before the override policy is evaluated.
type PentaShield struct {
	cfg Config
}

func NewPentaShield(cfg Config) *PentaShield {
	return &PentaShield{cfg: cfg.normalized()}
}

func (p *PentaShield) Analyze(
	results map[string]detect.Result,
	fusedScore float64,
	frames []detect.Frame,
) PentaShieldResult {
	start := time.Now()

	var hydra HydraResult
	var sentinel SentinelResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		hydra = runHydra(results, fusedScore, frames)
	}()
	go func() {
		defer wg.Done()
		sentinel = runSentinel(results, frames, p.cfg.OODNoveltyThreshold)
	}()
	wg.Wait()

	verdict, reason := p.checkOverrides(hydra, sentinel)
	return PentaShieldResult{
		Hydra:            hydra,
		Sentinel:         sentinel,
		OverrideVerdict:  verdict,
		OverrideReason:   reason,
		ProcessingTimeMS: float64(time.Since(start).Microseconds()) / 1000,
	}
}

// checkOverrides evaluates the override policy in strict priority order;
// first match wins. An empty verdict means the fusion verdict stands.
func (p *PentaShield) checkOverrides(hydra HydraResult, sentinel SentinelResult) (detect.Verdict, string) {
	if hydra.AdversarialDetected {
		return detect.VerdictUncertain,
			"Adversarial manipulation detected. Results may be unreliable. Manual review required."
	}

	if sentinel.IsNovelType {
		return detect.VerdictUncertain, fmt.Sprintf(
			"Novel content type detected (OOD score: %.2f). Existing detectors may not cover this type. Manual review recommended.",
			sentinel.OODScore)
	}

	if sentinel.PhysicsScore < p.cfg.PhysicsOverrideThreshold {
		anomalies := sentinel.PhysicsAnomalies
		if len(anomalies) > 3 {
			anomalies = anomalies[:3]
		}
		return detect.VerdictLikelyFake, fmt.Sprintf(
			"Severe physical inconsistencies detected (physics score: %.2f). Anomalies: %s",
			sentinel.PhysicsScore, strings.Join(anomalies, "; "))
	}

	if hydra.MinorityReport != nil && hydra.MinorityReport.DissentMagnitude > p.cfg.DissentThreshold {
		return detect.VerdictUncertain, fmt.Sprintf(
			"Strong disagreement among analysis heads (dissent magnitude: %.2f). Manual review recommended.",
			hydra.MinorityReport.DissentMagnitude)
	}

	return "", ""
}

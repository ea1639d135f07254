package scan

import (
	"sort"

	"trustscan/internal/detect"
)

// HYDRA: adversarial robustness. Input purification flags perturbation on
// raw frames, a multi-head ensemble re-evaluates the detector results
// through independent decision heads, and an audit step combines both into
// the adversarial verdict. Purified re-detection (re-running detectors on
// cleaned frames) is intentionally not performed; the audit reasons from
// perturbation magnitude and ensemble evidence only.

const (
	purifierFrameSample      = 8
	perturbationNoiseScale   = 64.0
	perturbationAdversarial  = 0.35
	auditLowConsensus        = 0.4
	auditSuspectPerturbation = 0.2
	headDisagreementFlag     = 0.25
)

type purifyOutcome struct {
	applied             bool
	adversarialDetected bool
	perturbationMag     float64
}

// purifyFrames estimates adversarial perturbation from high-frequency pixel
// noise. Crafted perturbations push neighbor deltas well above natural
// sensor noise.
func purifyFrames(frames []detect.Frame) purifyOutcome {
	if len(frames) == 0 {
		return purifyOutcome{}
	}
	noises := make([]float64, 0, purifierFrameSample)
	for i, f := range frames {
		if i >= purifierFrameSample {
			break
		}
		noises = append(noises, f.NeighborDeltaMean())
	}
	magnitude := clamp01(mean(noises) / perturbationNoiseScale)
	return purifyOutcome{
		applied:             true,
		adversarialDetected: magnitude > perturbationAdversarial,
		perturbationMag:     round4(magnitude),
	}
}

type ensembleOutcome struct {
	headVerdicts []float64
	consensus    float64
	agreement    float64
}

// evaluateHeads re-scores the detector results through three independent
// decision heads: confidence-weighted mean, median, and worst-case (highest
// suspicion from a confident detector).
func evaluateHeads(results map[string]detect.Result, fusedScore float64) ensembleOutcome {
	scores := make([]float64, 0, len(results))
	weighted, confTotal := 0.0, 0.0
	worst := fusedScore
	for _, r := range results {
		if r.Status == detect.StatusError || r.Status == detect.StatusSkipped {
			continue
		}
		scores = append(scores, r.Score)
		weighted += r.Score * r.Confidence
		confTotal += r.Confidence
		if r.Confidence >= 0.3 && r.Score > worst {
			worst = r.Score
		}
	}

	headMean := fusedScore
	if confTotal > 0 {
		headMean = weighted / confTotal
	}
	headMedian := fusedScore
	if len(scores) > 0 {
		sorted := append([]float64(nil), scores...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			headMedian = sorted[mid]
		} else {
			headMedian = (sorted[mid-1] + sorted[mid]) / 2
		}
	}

	heads := []float64{round4(headMean), round4(headMedian), round4(worst)}
	spread := maxFloat64(heads) - minFloat64(heads)
	return ensembleOutcome{
		headVerdicts: heads,
		consensus:    round4(clamp01(1 - spread*2)),
		agreement:    round4(clamp01(1 - spread)),
	}
}

// minorityFrom flags dissent when one head deviates strongly from the
// ensemble mean. The dissent magnitude doubles the raw deviation so a head
// at the opposite end of the scale maps to 1.0.
func minorityFrom(heads []float64) *MinorityReport {
	if len(heads) < 2 {
		return nil
	}
	m := mean(heads)
	worstIdx, worstDev := -1, 0.0
	for i, h := range heads {
		dev := absFloat(h - m)
		if dev > worstDev {
			worstDev = dev
			worstIdx = i
		}
	}
	if worstDev <= headDisagreementFlag {
		return nil
	}
	return &MinorityReport{
		DissentingHead:   worstIdx,
		DissentMagnitude: round4(clamp01(worstDev * 2)),
		HeadVerdict:      round4(heads[worstIdx]),
		MeanVerdict:      round4(m),
	}
}

// runHydra executes purification, the head ensemble, dissent tracking, and
// the final adversarial audit.
func runHydra(results map[string]detect.Result, fusedScore float64, frames []detect.Frame) HydraResult {
	purify := purifyOutcome{}
	if len(frames) > 0 {
		purify = purifyFrames(frames)
	}
	ensemble := evaluateHeads(results, fusedScore)
	minority := minorityFrom(ensemble.headVerdicts)

	auditAdversarial := ensemble.consensus < auditLowConsensus &&
		purify.perturbationMag > auditSuspectPerturbation

	return HydraResult{
		AdversarialDetected: purify.adversarialDetected || auditAdversarial,
		PurificationApplied: purify.applied,
		PerturbationMag:     purify.perturbationMag,
		HeadVerdicts:        ensemble.headVerdicts,
		ConsensusScore:      ensemble.consensus,
		MinorityReport:      minority,
		RobustnessScore:     round4(clamp01(ensemble.consensus * (1 - purify.perturbationMag))),
	}
}

func maxFloat64(values []float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		if v > out {
			out = v
		}
	}
	return out
}

func minFloat64(values []float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		if v < out {
			out = v
		}
	}
	return out
}

package scan

import (
	"trustscan/internal/detect"
)

// SENTINEL: anomaly and novelty detection. OOD scoring measures how unlike
// the detector-result distribution is from known-good patterns, the physics
// verifier checks lighting/shadow/reflection plausibility on raw frames, and
// the bio check cross-validates biological signals when available.

const (
	physicsFrameSample  = 6
	specularThreshold   = 200.0
	physicsAnomalyScore = 0.5
)

// oodScore rises with score dispersion and with collapsed confidence, both
// of which indicate the detectors were trained on something unlike this
// input.
func oodScore(results map[string]detect.Result) float64 {
	scores := make([]float64, 0, len(results))
	confs := make([]float64, 0, len(results))
	for _, r := range results {
		if r.Status == detect.StatusError || r.Status == detect.StatusSkipped {
			continue
		}
		scores = append(scores, r.Score)
		confs = append(confs, r.Confidence)
	}
	if len(scores) < 2 {
		return 0
	}
	score := 2 * stddev(scores)
	if mean(confs) < 0.2 {
		score += 0.2
	}
	return round4(clamp01(score))
}

type physicsOutcome struct {
	score     float64
	anomalies []string
}

// verifyPhysics checks three plausibility signals across frames: ambient
// lighting gradient stability, shadow direction stability (left/right
// brightness ratio), and specular highlight stability in the approximate
// eye region.
func verifyPhysics(frames []detect.Frame) physicsOutcome {
	if len(frames) < 2 {
		return physicsOutcome{score: 1.0}
	}

	sample := frames
	if len(sample) > physicsFrameSample {
		sample = sample[:physicsFrameSample]
	}

	brightness := make([]float64, 0, len(sample))
	lrRatios := make([]float64, 0, len(sample))
	specularCounts := make([]float64, 0, len(sample))
	for _, f := range sample {
		brightness = append(brightness, f.Mean())
		left := f.RegionMean(0, 0, f.Width/2, f.Height)
		right := f.RegionMean(f.Width/2, 0, f.Width, f.Height)
		lrRatios = append(lrRatios, (left+1e-8)/(right+1e-8))
		cx, cy := f.Width/2, f.Height/2
		count := f.RegionBrightCount(cx-f.Width/4, cy-f.Height/6, cx+f.Width/4, cy+f.Height/6, specularThreshold)
		specularCounts = append(specularCounts, float64(count))
	}

	gradients := make([]float64, 0, len(brightness)-1)
	for i := 0; i+1 < len(brightness); i++ {
		gradients = append(gradients, absFloat(brightness[i+1]-brightness[i]))
	}

	lightingScore := clamp01(1 - cv(gradients)/2)
	shadowScore := clamp01(1 - cv(lrRatios)*2)
	specularScore := clamp01(1 - cv(specularCounts))

	var anomalies []string
	if lightingScore < physicsAnomalyScore {
		anomalies = append(anomalies, "lighting gradient inconsistent across frames")
	}
	if shadowScore < physicsAnomalyScore {
		anomalies = append(anomalies, "shadow direction unstable across frames")
	}
	if specularScore < physicsAnomalyScore {
		anomalies = append(anomalies, "specular highlights unstable in eye region")
	}

	return physicsOutcome{
		score:     round4((lightingScore + shadowScore + specularScore) / 3),
		anomalies: anomalies,
	}
}

// bioConsistency cross-validates biological detectors (pulse, gaze, blink).
// With fewer than two signals there is nothing to cross-check and the
// conservative default applies.
func bioConsistency(results map[string]detect.Result) float64 {
	scores := make([]float64, 0, 2)
	for _, r := range results {
		if r.DetectorType != detect.TypeBiological {
			continue
		}
		if r.Status == detect.StatusError || r.Status == detect.StatusSkipped {
			continue
		}
		scores = append(scores, r.Score)
	}
	if len(scores) < 2 {
		return 1.0
	}
	return round4(clamp01(1 - (maxFloat64(scores) - minFloat64(scores))))
}

func alertLevelFor(anomaly float64) string {
	switch {
	case anomaly < 0.2:
		return "none"
	case anomaly < 0.4:
		return "low"
	case anomaly < 0.6:
		return "medium"
	case anomaly < 0.8:
		return "high"
	default:
		return "critical"
	}
}

// runSentinel executes OOD scoring, physics verification (frames only), the
// bio cross-check, and the combined anomaly score.
func runSentinel(results map[string]detect.Result, frames []detect.Frame, noveltyThreshold float64) SentinelResult {
	ood := oodScore(results)
	physics := physicsOutcome{score: 1.0}
	if len(frames) > 0 {
		physics = verifyPhysics(frames)
	}
	bio := bioConsistency(results)

	anomaly := round4(clamp01(0.4*ood + 0.35*(1-physics.score) + 0.25*(1-bio)))
	return SentinelResult{
		OODScore:         ood,
		IsNovelType:      ood >= noveltyThreshold,
		PhysicsScore:     physics.score,
		PhysicsAnomalies: physics.anomalies,
		BioConsistency:   bio,
		AnomalyScore:     anomaly,
		AlertLevel:       alertLevelFor(anomaly),
	}
}

package scan

import (
	"fmt"
	"sort"

	"trustscan/internal/detect"
)

// Fixed pairwise priors for cross-modal attention. Unlisted pairs use the
// default prior.
var attentionPriors = map[[2]string]float64{
	{"audio", "visual"}: 0.7,
	{"text", "visual"}:  0.4,
	{"audio", "text"}:   0.5,
}

const defaultAttentionPrior = 0.5

type modalityStat struct {
	score      float64
	confidence float64
	nDetectors int
}

// Fuse combines per-modality detector outputs via cross-modal attention into
// one fused score and confidence. Modalities with no usable result are
// absent; no modalities at all yields the neutral result.
func Fuse(results map[string]detect.Result) FusionResult {
	stats := modalityStats(results)
	if len(stats) == 0 {
		return FusionResult{FusedScore: 0.5, Confidence: 0, Agreement: 0, Method: "no_modalities"}
	}

	weights := computeAttention(stats)
	fused, totalWeight := 0.0, 0.0
	for name, stat := range stats {
		w := weights[name]
		fused += w * stat.score * stat.confidence
		totalWeight += w * stat.confidence
	}
	fusedScore := 0.5
	if totalWeight > 0 {
		fusedScore = fused / totalWeight
	}

	agreement := modalityAgreement(stats)
	modScores := make(map[string]float64, len(stats))
	for name, stat := range stats {
		modScores[name] = round4(stat.score)
	}
	roundedWeights := make(map[string]float64, len(weights))
	for name, w := range weights {
		roundedWeights[name] = round4(w)
	}
	return FusionResult{
		FusedScore:       round4(fusedScore),
		Confidence:       round4(minFloat(0.95, agreement*1.2)),
		ModalityScores:   modScores,
		AttentionWeights: roundedWeights,
		Agreement:        round4(agreement),
		Method:           "cross_modal_attention",
	}
}

func modalityStats(results map[string]detect.Result) map[string]modalityStat {
	grouped := map[string][]detect.Result{}
	for _, r := range results {
		if r.Status == detect.StatusError || r.Status == detect.StatusSkipped {
			continue
		}
		var modality string
		switch r.DetectorType {
		case detect.TypeVisual:
			modality = "visual"
		case detect.TypeAudio:
			modality = "audio"
		case detect.TypeText:
			modality = "text"
		default:
			continue
		}
		grouped[modality] = append(grouped[modality], r)
	}

	stats := map[string]modalityStat{}
	for modality, items := range grouped {
		weighted, confTotal, confSum := 0.0, 0.0, 0.0
		for _, r := range items {
			weighted += r.Score * r.Confidence
			confTotal += r.Confidence
			confSum += r.Confidence
		}
		stats[modality] = modalityStat{
			score:      weighted / (confTotal + 1e-8),
			confidence: confSum / float64(len(items)),
			nDetectors: len(items),
		}
	}
	return stats
}

// computeAttention starts every present modality at a uniform prior of 1.0
// and boosts each pair by agreement × pairwise prior, then normalizes the
// weights to sum to 1.
func computeAttention(stats map[string]modalityStat) map[string]float64 {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	weights := map[string]float64{}
	for _, name := range names {
		weights[name] = 1.0
	}
	for i, a := range names {
		for _, b := range names[i+1:] {
			agreement := 1.0 - absFloat(stats[a].score-stats[b].score)
			prior, ok := attentionPriors[[2]string{a, b}]
			if !ok {
				prior = defaultAttentionPrior
			}
			boost := agreement * prior
			weights[a] += boost
			weights[b] += boost
		}
	}
	total := 0.0
	for _, w := range weights {
		total += w
	}
	for name := range weights {
		weights[name] /= total
	}
	return weights
}

func modalityAgreement(stats map[string]modalityStat) float64 {
	scores := make([]float64, 0, len(stats))
	for _, stat := range stats {
		scores = append(scores, stat.score)
	}
	if len(scores) < 2 {
		return 0.5
	}
	agreement := 1.0 - stddev(scores)*3
	if agreement < 0 {
		return 0
	}
	return agreement
}

var verdictSummaries = map[detect.Verdict]string{
	detect.VerdictAuthentic:       "Content appears authentic with high confidence.",
	detect.VerdictLikelyAuthentic: "Content is likely authentic, minor anomalies detected.",
	detect.VerdictUncertain:       "Unable to determine authenticity. Manual review recommended.",
	detect.VerdictLikelyFake:      "Content shows signs of manipulation.",
	detect.VerdictFake:            "Content is highly likely manipulated or synthetic.",
}

// Assess is the trust score engine: trust = 1 − fused, with the fixed
// verdict thresholds and the canonical verdict → threat map.
func Assess(fusedScore, confidence float64) TrustAssessment {
	trust := clamp01(1 - fusedScore)
	verdict := VerdictForTrust(trust)
	return TrustAssessment{
		TrustScore:  round4(trust),
		Verdict:     verdict,
		ThreatLevel: detect.ThreatLevelFor(verdict),
		Confidence:  round4(confidence),
		Explanation: Explanation{
			Summary:         verdictSummaries[verdict],
			TrustScoreLabel: fmt.Sprintf("%.0f%%", trust*100),
			ConfidenceLabel: fmt.Sprintf("%.0f%%", confidence*100),
		},
	}
}

// VerdictForTrust buckets a trust score; boundary values belong to the
// higher-verdict bucket.
func VerdictForTrust(trust float64) detect.Verdict {
	switch {
	case trust >= 0.8:
		return detect.VerdictAuthentic
	case trust >= 0.6:
		return detect.VerdictLikelyAuthentic
	case trust >= 0.4:
		return detect.VerdictUncertain
	case trust >= 0.2:
		return detect.VerdictLikelyFake
	default:
		return detect.VerdictFake
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

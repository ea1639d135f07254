package probe

import "trustscan/internal/detect"

// Passive light-response scoring. Real faces respond to screen flashes with
// coherent brightness, shadow, and catchlight changes; replayed or synthetic
// feeds drift on at least one of the three.

const (
	lightFullAnalysisFrames = 4
	ambientFrameSample      = 8
	shadowFrameSample       = 6
	specularFrameSample     = 6
	catchlightThreshold     = 200.0
	challengePassThreshold  = 0.6
)

// LightResult carries the per-metric light challenge scores. LowConfidence
// marks captures too short for the full analysis, where metrics defaulted to
// the conservative 1.0 rather than failing.
type LightResult struct {
	AmbientResponse  float64 `json:"ambient_response_score"`
	ShadowCoherence  float64 `json:"shadow_coherence"`
	SpecularResponse float64 `json:"specular_response"`
	OverallScore     float64 `json:"overall_score"`
	Passed           bool    `json:"passed"`
	LowConfidence    bool    `json:"low_confidence"`
}

// EvaluateLight scores light-response consistency across captured frames.
// Fewer than 2 frames yields the conservative default.
func EvaluateLight(frames []detect.Frame) LightResult {
	if len(frames) < 2 {
		return LightResult{
			AmbientResponse: 1, ShadowCoherence: 1, SpecularResponse: 1,
			OverallScore: 1, Passed: true, LowConfidence: true,
		}
	}

	ambient := ambientResponse(frames)
	shadow, specular := 1.0, 1.0
	lowConfidence := len(frames) < lightFullAnalysisFrames
	if !lowConfidence {
		shadow = shadowCoherence(frames)
		specular = specularResponse(frames)
	}

	overall := 0.4*ambient + 0.3*shadow + 0.3*specular
	return LightResult{
		AmbientResponse:  round4(ambient),
		ShadowCoherence:  round4(shadow),
		SpecularResponse: round4(specular),
		OverallScore:     round4(overall),
		Passed:           overall >= challengePassThreshold,
		LowConfidence:    lowConfidence,
	}
}

// ambientResponse measures frame-to-frame brightness gradient stability.
func ambientResponse(frames []detect.Frame) float64 {
	sample := frames
	if len(sample) > ambientFrameSample {
		sample = sample[:ambientFrameSample]
	}
	brightness := make([]float64, 0, len(sample))
	for _, f := range sample {
		brightness = append(brightness, f.Mean())
	}
	gradients := make([]float64, 0, len(brightness)-1)
	for i := 0; i+1 < len(brightness); i++ {
		g := brightness[i+1] - brightness[i]
		if g < 0 {
			g = -g
		}
		gradients = append(gradients, g)
	}
	if len(gradients) == 0 {
		return 1.0
	}
	return clamp01(1 - cv(gradients)/2)
}

// shadowCoherence tracks the left/right half-brightness ratio as a shadow
// direction indicator.
func shadowCoherence(frames []detect.Frame) float64 {
	sample := frames
	if len(sample) > shadowFrameSample {
		sample = sample[:shadowFrameSample]
	}
	ratios := make([]float64, 0, len(sample))
	for _, f := range sample {
		left := f.RegionMean(0, 0, f.Width/2, f.Height) + 1e-8
		right := f.RegionMean(f.Width/2, 0, f.Width, f.Height) + 1e-8
		ratios = append(ratios, left/right)
	}
	return clamp01(1 - cv(ratios)*2)
}

// specularResponse tracks bright-pixel counts in the approximate eye region.
func specularResponse(frames []detect.Frame) float64 {
	sample := frames
	if len(sample) > specularFrameSample {
		sample = sample[:specularFrameSample]
	}
	counts := make([]float64, 0, len(sample))
	for _, f := range sample {
		cx, cy := f.Width/2, f.Height/2
		n := f.RegionBrightCount(cx-f.Width/4, cy-f.Height/6, cx+f.Width/4, cy+f.Height/6, catchlightThreshold)
		counts = append(counts, float64(n))
	}
	return clamp01(1 - cv(counts))
}

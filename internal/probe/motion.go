package probe

import "trustscan/internal/detect"

// Passive motion scoring. Motion magnitude is approximated by mean absolute
// per-pixel luminance change between consecutive frames; real head motion
// keeps face and background magnitudes coupled and changes smoothly.

const (
	motionMinFrames     = 2
	smoothnessMinFrames = 3
	flowPairSample      = 6
	ratioPairSample     = 4
	jerkNormalization   = 20.0
)

type MotionResult struct {
	FlowConsistency    float64 `json:"flow_consistency"`
	FaceBGRatio        float64 `json:"face_bg_ratio"`
	TemporalSmoothness float64 `json:"temporal_smoothness"`
	OverallScore       float64 `json:"overall_score"`
	Passed             bool    `json:"passed"`
	LowConfidence      bool    `json:"low_confidence"`
}

// EvaluateMotion scores motion consistency across captured frames. Fewer
// than 2 frames yields the conservative default.
func EvaluateMotion(frames []detect.Frame) MotionResult {
	if len(frames) < motionMinFrames {
		return MotionResult{
			FlowConsistency: 1, FaceBGRatio: 1, TemporalSmoothness: 1,
			OverallScore: 1, Passed: true, LowConfidence: true,
		}
	}

	flow := flowConsistency(frames)
	ratio := faceBGRatio(frames)
	smooth, lowConfidence := 1.0, len(frames) < smoothnessMinFrames
	if !lowConfidence {
		smooth = temporalSmoothness(frames)
	}

	overall := 0.4*flow + 0.3*ratio + 0.3*smooth
	return MotionResult{
		FlowConsistency:    round4(flow),
		FaceBGRatio:        round4(ratio),
		TemporalSmoothness: round4(smooth),
		OverallScore:       round4(overall),
		Passed:             overall >= challengePassThreshold,
		LowConfidence:      lowConfidence,
	}
}

// flowConsistency measures the stability of inter-frame motion magnitude.
func flowConsistency(frames []detect.Frame) float64 {
	magnitudes := make([]float64, 0, flowPairSample)
	for i := 0; i+1 < len(frames) && i < flowPairSample; i++ {
		magnitudes = append(magnitudes, frames[i].AbsDiffMean(frames[i+1]))
	}
	if len(magnitudes) == 0 {
		return 1.0
	}
	return clamp01(1 - cv(magnitudes))
}

// faceBGRatio compares motion in the center (face) region against the four
// corner (background) regions. A stable ratio means face and background move
// together; a composited face drifts.
func faceBGRatio(frames []detect.Frame) float64 {
	ratios := make([]float64, 0, ratioPairSample)
	for i := 0; i+1 < len(frames) && i < ratioPairSample; i++ {
		a, b := frames[i], frames[i+1]
		if a.Width != b.Width || a.Height != b.Height || a.Width == 0 || a.Height == 0 {
			continue
		}
		cx, cy := a.Width/2, a.Height/2
		face := regionAbsDiff(a, b, cx-a.Width/4, cy-a.Height/4, cx+a.Width/4, cy+a.Height/4) + 1e-8

		corner := a.Height / 6
		if c := a.Width / 6; c < corner {
			corner = c
		}
		if corner < 1 {
			corner = 1
		}
		bg := (regionAbsDiff(a, b, 0, 0, corner, corner) +
			regionAbsDiff(a, b, a.Width-corner, 0, a.Width, corner) +
			regionAbsDiff(a, b, 0, a.Height-corner, corner, a.Height) +
			regionAbsDiff(a, b, a.Width-corner, a.Height-corner, a.Width, a.Height)) / 4
		bg += 1e-8

		ratios = append(ratios, face/bg)
	}
	if len(ratios) == 0 {
		return 1.0
	}
	return clamp01(1 - cv(ratios)*0.5)
}

// temporalSmoothness estimates jerk as the second difference of inter-frame
// change magnitude, normalized so typical smooth motion scores near 1.
func temporalSmoothness(frames []detect.Frame) float64 {
	diffs := make([]float64, 0, flowPairSample)
	for i := 0; i+1 < len(frames) && i < flowPairSample; i++ {
		diffs = append(diffs, frames[i].AbsDiffMean(frames[i+1]))
	}
	if len(diffs) < 2 {
		return 1.0
	}
	jerks := make([]float64, 0, len(diffs)-1)
	for i := 0; i+1 < len(diffs); i++ {
		j := diffs[i+1] - diffs[i]
		if j < 0 {
			j = -j
		}
		jerks = append(jerks, j)
	}
	return clamp01(1 - mean(jerks)/jerkNormalization)
}

// regionAbsDiff is the mean absolute luminance change inside a rectangle,
// clipped to the frame bounds.
func regionAbsDiff(a, b detect.Frame, x0, y0, x1, y1 int) float64 {
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > a.Width {
		x1 = a.Width
	}
	if y1 > a.Height {
		y1 = a.Height
	}
	if x0 >= x1 || y0 >= y1 {
		return 0
	}
	total := 0.0
	for y := y0; y < y1; y++ {
		row := y * a.Width
		for x := x0; x < x1; x++ {
			d := a.Lum[row+x] - b.Lum[row+x]
			if d < 0 {
				d = -d
			}
			total += d
		}
	}
	return total / float64((x1-x0)*(y1-y0))
}

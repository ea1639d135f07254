package probe

import (
	"testing"

	"trustscan/internal/detect"
)

func frameWithLum(w, h int, lum float64) detect.Frame {
	f := detect.Frame{Width: w, Height: h, Lum: make([]float64, w*h)}
	for i := range f.Lum {
		f.Lum[i] = lum
	}
	return f
}

func TestLightDefaultsWithFewFrames(t *testing.T) {
	for _, frames := range [][]detect.Frame{nil, {frameWithLum(8, 8, 100)}} {
		r := EvaluateLight(frames)
		if r.OverallScore != 1.0 || !r.Passed {
			t.Fatalf("short capture result = %+v", r)
		}
		if !r.LowConfidence {
			t.Fatalf("short capture not marked low confidence")
		}
	}
}

func TestMotionDefaultsWithFewFrames(t *testing.T) {
	for _, frames := range [][]detect.Frame{nil, {frameWithLum(8, 8, 100)}} {
		r := EvaluateMotion(frames)
		if r.OverallScore != 1.0 || !r.Passed {
			t.Fatalf("short capture result = %+v", r)
		}
		if !r.LowConfidence {
			t.Fatalf("short capture not marked low confidence")
		}
	}
}

func TestLightConsistentFramesPass(t *testing.T) {
	frames := make([]detect.Frame, 6)
	for i := range frames {
		frames[i] = frameWithLum(32, 32, 100+float64(i)*5)
	}
	r := EvaluateLight(frames)
	if !r.Passed {
		t.Fatalf("steady brightness ramp failed: %+v", r)
	}
	if r.LowConfidence {
		t.Fatalf("full capture marked low confidence")
	}
}

func TestLightErraticBrightnessScoresLower(t *testing.T) {
	steady := make([]detect.Frame, 6)
	erratic := make([]detect.Frame, 6)
	erraticLums := []float64{100, 240, 105, 20, 230, 90}
	for i := range steady {
		steady[i] = frameWithLum(32, 32, 100+float64(i)*5)
		erratic[i] = frameWithLum(32, 32, erraticLums[i])
	}
	rs, re := EvaluateLight(steady), EvaluateLight(erratic)
	if re.AmbientResponse >= rs.AmbientResponse {
		t.Fatalf("erratic ambient %v >= steady %v", re.AmbientResponse, rs.AmbientResponse)
	}
}

func TestMotionSmoothRampPasses(t *testing.T) {
	frames := make([]detect.Frame, 6)
	for i := range frames {
		frames[i] = frameWithLum(32, 32, 100+float64(i)*4)
	}
	r := EvaluateMotion(frames)
	if !r.Passed {
		t.Fatalf("smooth motion failed: %+v", r)
	}
}

func TestMotionJerkLowersSmoothness(t *testing.T) {
	smooth := make([]detect.Frame, 6)
	jerky := make([]detect.Frame, 6)
	jerkyLums := []float64{100, 104, 250, 104, 250, 104}
	for i := range smooth {
		smooth[i] = frameWithLum(32, 32, 100+float64(i)*4)
		jerky[i] = frameWithLum(32, 32, jerkyLums[i])
	}
	rs, rj := EvaluateMotion(smooth), EvaluateMotion(jerky)
	if rj.TemporalSmoothness >= rs.TemporalSmoothness {
		t.Fatalf("jerky smoothness %v >= smooth %v", rj.TemporalSmoothness, rs.TemporalSmoothness)
	}
}

func TestScoresStayInRange(t *testing.T) {
	frames := []detect.Frame{
		frameWithLum(16, 16, 0), frameWithLum(16, 16, 255),
		frameWithLum(16, 16, 0), frameWithLum(16, 16, 255),
		frameWithLum(16, 16, 0),
	}
	light, motion := EvaluateLight(frames), EvaluateMotion(frames)
	for name, v := range map[string]float64{
		"light.ambient":  light.AmbientResponse,
		"light.shadow":   light.ShadowCoherence,
		"light.specular": light.SpecularResponse,
		"light.overall":  light.OverallScore,
		"motion.flow":    motion.FlowConsistency,
		"motion.ratio":   motion.FaceBGRatio,
		"motion.smooth":  motion.TemporalSmoothness,
		"motion.overall": motion.OverallScore,
	} {
		if v < 0 || v > 1 {
			t.Fatalf("%s = %v out of range", name, v)
		}
	}
}

package scan

import (
	"math/rand"
	"strings"
	"testing"

	"trustscan/internal/detect"
)

func flatFrame(w, h int, lum float64) detect.Frame {
	f := detect.Frame{Width: w, Height: h, Lum: make([]float64, w*h)}
	for i := range f.Lum {
		f.Lum[i] = lum
	}
	return f
}

func noisyFrame(w, h int, seed int64) detect.Frame {
	rng := rand.New(rand.NewSource(seed))
	f := detect.Frame{Width: w, Height: h, Lum: make([]float64, w*h)}
	for i := range f.Lum {
		f.Lum[i] = rng.Float64() * 255
	}
	return f
}

func TestPurifyCleanFramesNotAdversarial(t *testing.T) {
	frames := []detect.Frame{flatFrame(16, 16, 120), flatFrame(16, 16, 122)}
	out := purifyFrames(frames)
	if !out.applied {
		t.Fatalf("purification not applied")
	}
	if out.adversarialDetected {
		t.Fatalf("flat frames flagged adversarial, magnitude %v", out.perturbationMag)
	}
}

func TestPurifyNoisyFramesAdversarial(t *testing.T) {
	frames := []detect.Frame{noisyFrame(16, 16, 1), noisyFrame(16, 16, 2)}
	out := purifyFrames(frames)
	if !out.adversarialDetected {
		t.Fatalf("uniform noise not flagged, magnitude %v", out.perturbationMag)
	}
}

func TestEvaluateHeadsConsensus(t *testing.T) {
	results := map[string]detect.Result{
		"a": visualResult("a", 0.8, 0.9),
		"b": audioResult("b", 0.82, 0.9),
		"c": visualResult("c", 0.78, 0.9),
	}
	out := evaluateHeads(results, 0.8)
	if len(out.headVerdicts) != 3 {
		t.Fatalf("head count = %d", len(out.headVerdicts))
	}
	if out.consensus < 0.9 {
		t.Fatalf("consensus = %v, want high for agreeing detectors", out.consensus)
	}
}

func TestMinorityReportOnDissent(t *testing.T) {
	report := minorityFrom([]float64{0.1, 0.12, 0.9})
	if report == nil {
		t.Fatalf("no minority report for strongly dissenting head")
	}
	if report.DissentingHead != 2 {
		t.Fatalf("dissenting head = %d, want 2", report.DissentingHead)
	}
	if report.DissentMagnitude <= 0.5 {
		t.Fatalf("dissent magnitude = %v, want > 0.5", report.DissentMagnitude)
	}
	if minorityFrom([]float64{0.5, 0.52, 0.48}) != nil {
		t.Fatalf("minority report raised for agreeing heads")
	}
}

func TestOODScoreRisesWithDispersion(t *testing.T) {
	tight := oodScore(map[string]detect.Result{
		"a": visualResult("a", 0.5, 0.8),
		"b": audioResult("b", 0.52, 0.8),
	})
	wide := oodScore(map[string]detect.Result{
		"a": visualResult("a", 0.05, 0.8),
		"b": audioResult("b", 0.95, 0.8),
	})
	if wide <= tight {
		t.Fatalf("ood wide=%v <= tight=%v", wide, tight)
	}
	if single := oodScore(map[string]detect.Result{"a": visualResult("a", 0.5, 0.8)}); single != 0 {
		t.Fatalf("ood with one result = %v, want 0", single)
	}
}

func TestBioConsistency(t *testing.T) {
	bio := func(name string, score float64) detect.Result {
		return detect.Result{
			DetectorName: name, DetectorType: detect.TypeBiological,
			Score: score, Confidence: 0.8, Status: detect.StatusPass,
		}
	}
	if v := bioConsistency(map[string]detect.Result{"pulse": bio("pulse", 0.4)}); v != 1.0 {
		t.Fatalf("single bio signal = %v, want conservative 1.0", v)
	}
	consistent := bioConsistency(map[string]detect.Result{
		"pulse": bio("pulse", 0.4), "blink": bio("blink", 0.42),
	})
	inconsistent := bioConsistency(map[string]detect.Result{
		"pulse": bio("pulse", 0.1), "blink": bio("blink", 0.9),
	})
	if inconsistent >= consistent {
		t.Fatalf("inconsistent=%v >= consistent=%v", inconsistent, consistent)
	}
}

func TestVerifyPhysicsStableFrames(t *testing.T) {
	frames := make([]detect.Frame, 5)
	for i := range frames {
		frames[i] = flatFrame(32, 32, 100+float64(i))
	}
	out := verifyPhysics(frames)
	if out.score < 0.5 {
		t.Fatalf("stable frames scored %v", out.score)
	}
	if short := verifyPhysics(frames[:1]); short.score != 1.0 {
		t.Fatalf("single frame physics = %v, want 1.0", short.score)
	}
}

func TestOverridePriorityAdversarialFirst(t *testing.T) {
	p := NewPentaShield(DefaultConfig())
	hydra := HydraResult{AdversarialDetected: true}
	sentinel := SentinelResult{PhysicsScore: 0.1, IsNovelType: true}
	verdict, reason := p.checkOverrides(hydra, sentinel)
	if verdict != detect.VerdictUncertain {
		t.Fatalf("verdict = %v, want uncertain", verdict)
	}
	if !strings.Contains(reason, "Adversarial manipulation detected") {
		t.Fatalf("reason = %q", reason)
	}
}

func TestOverridePhysicsFailure(t *testing.T) {
	p := NewPentaShield(DefaultConfig())
	sentinel := SentinelResult{
		PhysicsScore:     0.1,
		PhysicsAnomalies: []string{"a", "b", "c", "d"},
	}
	verdict, reason := p.checkOverrides(HydraResult{}, sentinel)
	if verdict != detect.VerdictLikelyFake {
		t.Fatalf("verdict = %v, want likely_fake", verdict)
	}
	if strings.Contains(reason, "d") && strings.Count(reason, ";") > 2 {
		t.Fatalf("more than 3 anomalies listed: %q", reason)
	}
}

func TestOverrideDissent(t *testing.T) {
	p := NewPentaShield(DefaultConfig())
	hydra := HydraResult{
		MinorityReport: &MinorityReport{DissentMagnitude: 0.8},
	}
	verdict, _ := p.checkOverrides(hydra, SentinelResult{PhysicsScore: 1})
	if verdict != detect.VerdictUncertain {
		t.Fatalf("verdict = %v, want uncertain", verdict)
	}
}

func TestNoOverrideWhenClean(t *testing.T) {
	p := NewPentaShield(DefaultConfig())
	verdict, reason := p.checkOverrides(HydraResult{ConsensusScore: 0.9}, SentinelResult{PhysicsScore: 0.9})
	if verdict != "" || reason != "" {
		t.Fatalf("unexpected override: %v %q", verdict, reason)
	}
}

func TestAnalyzeProducesBothSides(t *testing.T) {
	p := NewPentaShield(DefaultConfig())
	results := map[string]detect.Result{
		"a": visualResult("a", 0.3, 0.8),
		"b": audioResult("b", 0.32, 0.8),
	}
	frames := []detect.Frame{flatFrame(16, 16, 100), flatFrame(16, 16, 101)}
	out := p.Analyze(results, 0.31, frames)
	if !out.Hydra.PurificationApplied {
		t.Fatalf("purifier skipped with frames present")
	}
	if out.Sentinel.AlertLevel == "" {
		t.Fatalf("missing alert level")
	}
	if out.ProcessingTimeMS < 0 {
		t.Fatalf("processing time = %v", out.ProcessingTimeMS)
	}
}

package scan

import (
	"math"
	"testing"

	"trustscan/internal/detect"
)

func visualResult(name string, score, conf float64) detect.Result {
	return detect.Result{
		DetectorName: name, DetectorType: detect.TypeVisual,
		Score: score, Confidence: conf, Status: detect.StatusPass,
	}
}

func audioResult(name string, score, conf float64) detect.Result {
	return detect.Result{
		DetectorName: name, DetectorType: detect.TypeAudio,
		Score: score, Confidence: conf, Status: detect.StatusPass,
	}
}

func TestFuseNoModalities(t *testing.T) {
	f := Fuse(map[string]detect.Result{})
	if f.FusedScore != 0.5 || f.Confidence != 0 {
		t.Fatalf("expected neutral result, got %+v", f)
	}
	if f.Method != "no_modalities" {
		t.Fatalf("method = %q", f.Method)
	}
}

func TestFuseAgreeingModalitiesBoostConfidence(t *testing.T) {
	f := Fuse(map[string]detect.Result{
		"vis": visualResult("vis", 0.9, 0.9),
		"aud": audioResult("aud", 0.85, 0.9),
	})
	if f.Confidence <= 0.9 {
		t.Fatalf("confidence = %v, want > 0.9 for strongly agreeing modalities", f.Confidence)
	}
	if f.Confidence > 0.95 {
		t.Fatalf("confidence = %v, exceeds cap", f.Confidence)
	}
	wv, wa := f.AttentionWeights["visual"], f.AttentionWeights["audio"]
	if math.Abs(wv-wa) > 0.05 {
		t.Fatalf("weights diverged: visual=%v audio=%v", wv, wa)
	}
	total := 0.0
	for _, w := range f.AttentionWeights {
		total += w
	}
	if math.Abs(total-1) > 1e-6 {
		t.Fatalf("weights sum to %v, want 1", total)
	}
	if f.FusedScore < 0.85 || f.FusedScore > 0.9 {
		t.Fatalf("fused score = %v, want within [0.85, 0.9]", f.FusedScore)
	}
}

func TestFuseSingleModalityAgreement(t *testing.T) {
	f := Fuse(map[string]detect.Result{"vis": visualResult("vis", 0.3, 0.8)})
	if f.Agreement != 0.5 {
		t.Fatalf("single-modality agreement = %v, want 0.5", f.Agreement)
	}
}

func TestFuseIgnoresErrorResults(t *testing.T) {
	f := Fuse(map[string]detect.Result{
		"vis":  visualResult("vis", 0.2, 0.8),
		"dead": detect.ErrorResult("dead", detect.TypeAudio, "boom"),
	})
	if _, ok := f.ModalityScores["audio"]; ok {
		t.Fatalf("audio modality built from an ERROR result: %+v", f)
	}
	if f.ModalityScores["visual"] != 0.2 {
		t.Fatalf("visual score = %v", f.ModalityScores["visual"])
	}
}

func TestAssessLowFusedScoreIsAuthentic(t *testing.T) {
	a := Assess(0.08, 0.9)
	if a.TrustScore != 0.92 {
		t.Fatalf("trust = %v, want 0.92", a.TrustScore)
	}
	if a.Verdict != detect.VerdictAuthentic {
		t.Fatalf("verdict = %v", a.Verdict)
	}
	if a.ThreatLevel != detect.ThreatNone {
		t.Fatalf("threat = %v", a.ThreatLevel)
	}
	if a.Explanation.TrustScoreLabel != "92%" {
		t.Fatalf("label = %q", a.Explanation.TrustScoreLabel)
	}
}

func TestAssessClampsTrustScore(t *testing.T) {
	if a := Assess(-0.5, 0.5); a.TrustScore != 1 {
		t.Fatalf("trust = %v, want clamp to 1", a.TrustScore)
	}
	if a := Assess(1.7, 0.5); a.TrustScore != 0 {
		t.Fatalf("trust = %v, want clamp to 0", a.TrustScore)
	}
}

func TestVerdictBoundaries(t *testing.T) {
	cases := []struct {
		trust float64
		want  detect.Verdict
	}{
		{0.8, detect.VerdictAuthentic},
		{0.79, detect.VerdictLikelyAuthentic},
		{0.6, detect.VerdictLikelyAuthentic},
		{0.59, detect.VerdictUncertain},
		{0.4, detect.VerdictUncertain},
		{0.2, detect.VerdictLikelyFake},
		{0.19, detect.VerdictFake},
		{0, detect.VerdictFake},
		{1, detect.VerdictAuthentic},
	}
	for _, c := range cases {
		if got := VerdictForTrust(c.trust); got != c.want {
			t.Fatalf("VerdictForTrust(%v) = %v, want %v", c.trust, got, c.want)
		}
	}
}

func TestThreatLevelMapping(t *testing.T) {
	pairs := map[detect.Verdict]detect.ThreatLevel{
		detect.VerdictAuthentic:       detect.ThreatNone,
		detect.VerdictLikelyAuthentic: detect.ThreatLow,
		detect.VerdictUncertain:       detect.ThreatMedium,
		detect.VerdictLikelyFake:      detect.ThreatHigh,
		detect.VerdictFake:            detect.ThreatCritical,
	}
	for v, want := range pairs {
		if got := detect.ThreatLevelFor(v); got != want {
			t.Fatalf("ThreatLevelFor(%v) = %v, want %v", v, got, want)
		}
	}
}

func TestFuseDisagreementLowersConfidence(t *testing.T) {
	agree := Fuse(map[string]detect.Result{
		"vis": visualResult("vis", 0.8, 0.9),
		"aud": audioResult("aud", 0.8, 0.9),
	})
	disagree := Fuse(map[string]detect.Result{
		"vis": visualResult("vis", 0.9, 0.9),
		"aud": audioResult("aud", 0.1, 0.9),
	})
	if disagree.Confidence >= agree.Confidence {
		t.Fatalf("disagreement confidence %v >= agreement confidence %v",
			disagree.Confidence, agree.Confidence)
	}
}

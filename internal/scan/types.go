package scan

import (
	"time"

	"trustscan/internal/detect"
)

// FusionResult is the cross-modal attention output. Derived per scan, never
// persisted on its own.
type FusionResult struct {
	FusedScore       float64            `json:"fused_score"`
	Confidence       float64            `json:"confidence"`
	ModalityScores   map[string]float64 `json:"modality_scores,omitempty"`
	AttentionWeights map[string]float64 `json:"attention_weights,omitempty"`
	Agreement        float64            `json:"agreement"`
	Method           string             `json:"method"`
}

// TrustAssessment maps a fused score onto the trust scale.
type TrustAssessment struct {
	TrustScore  float64            `json:"trust_score"`
	Verdict     detect.Verdict     `json:"verdict"`
	ThreatLevel detect.ThreatLevel `json:"threat_level"`
	Confidence  float64            `json:"confidence"`
	Explanation Explanation        `json:"explanation"`
}

type Explanation struct {
	Summary         string `json:"summary"`
	TrustScoreLabel string `json:"trust_score_label"`
	ConfidenceLabel string `json:"confidence_label"`
	ContentHash     string `json:"content_hash,omitempty"`
	CorrelationID   string `json:"correlation_id,omitempty"`
}

type MinorityReport struct {
	DissentingHead   int     `json:"dissenting_head"`
	DissentMagnitude float64 `json:"dissent_magnitude"`
	HeadVerdict      float64 `json:"head_verdict"`
	MeanVerdict      float64 `json:"mean_verdict"`
}

type HydraResult struct {
	AdversarialDetected bool            `json:"adversarial_detected"`
	PurificationApplied bool            `json:"purification_applied"`
	PerturbationMag     float64         `json:"perturbation_magnitude"`
	HeadVerdicts        []float64       `json:"head_verdicts"`
	ConsensusScore      float64         `json:"consensus_score"`
	MinorityReport      *MinorityReport `json:"minority_report,omitempty"`
	RobustnessScore     float64         `json:"robustness_score"`
}

type SentinelResult struct {
	OODScore         float64  `json:"ood_score"`
	IsNovelType      bool     `json:"is_novel_type"`
	PhysicsScore     float64  `json:"physics_score"`
	PhysicsAnomalies []string `json:"physics_anomalies,omitempty"`
	BioConsistency   float64  `json:"bio_consistency"`
	AnomalyScore     float64  `json:"anomaly_score"`
	AlertLevel       string   `json:"alert_level"`
}

type PentaShieldResult struct {
	Hydra            HydraResult    `json:"hydra"`
	Sentinel         SentinelResult `json:"sentinel"`
	OverrideVerdict  detect.Verdict `json:"override_verdict,omitempty"`
	OverrideReason   string         `json:"override_reason,omitempty"`
	ProcessingTimeMS float64        `json:"processing_time_ms"`
}

// ScanResult is the unified response for any scan. Created once by the
// orchestrator, immutable afterwards, keyed by ScanID for retrieval.
type ScanResult struct {
	ScanID           string                   `json:"scan_id"`
	MediaType        detect.MediaType         `json:"media_type"`
	Verdict          detect.Verdict           `json:"verdict"`
	TrustScore       float64                  `json:"trust_score"`
	Confidence       float64                  `json:"confidence"`
	ThreatLevel      detect.ThreatLevel       `json:"threat_level"`
	DetectorResults  map[string]detect.Result `json:"detector_results"`
	Fusion           FusionResult             `json:"fusion"`
	PentaShield      PentaShieldResult        `json:"pentashield"`
	Attribution      map[string]any           `json:"attribution,omitempty"`
	Explanation      Explanation              `json:"explanation"`
	Fingerprint      string                   `json:"fingerprint"`
	ProcessingTimeMS float64                  `json:"processing_time_ms"`
	CreatedAt        string                   `json:"created_at"`
}

// ResultStore is the key-value result cache contract the orchestrator needs.
// Writes are idempotent per scan_id; fingerprint lookup backs the
// identical-content short circuit.
type ResultStore interface {
	SaveScan(result ScanResult) error
	GetScan(scanID string) (ScanResult, bool)
	GetScanByFingerprint(fingerprint string) (ScanResult, bool)
}

// Config carries the decision-layer policy knobs. The dissent and physics
// thresholds are policy parameters, not hard-coded law.
type Config struct {
	DetectorTimeout          time.Duration
	DissentThreshold         float64
	PhysicsOverrideThreshold float64
	OODNoveltyThreshold      float64
}

func DefaultConfig() Config {
	return Config{
		DetectorTimeout:          10 * time.Second,
		DissentThreshold:         0.5,
		PhysicsOverrideThreshold: 0.3,
		OODNoveltyThreshold:      0.75,
	}
}

func (c Config) normalized() Config {
	if c.DetectorTimeout <= 0 {
		c.DetectorTimeout = 10 * time.Second
	}
	if c.DissentThreshold <= 0 || c.DissentThreshold > 1 {
		c.DissentThreshold = 0.5
	}
	if c.PhysicsOverrideThreshold <= 0 || c.PhysicsOverrideThreshold > 1 {
		c.PhysicsOverrideThreshold = 0.3
	}
	if c.OODNoveltyThreshold <= 0 || c.OODNoveltyThreshold > 1 {
		c.OODNoveltyThreshold = 0.75
	}
	return c
}

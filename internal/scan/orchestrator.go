package scan

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trustscan/internal/detect"
)

var ErrEmptyContent = errors.New("scan content is empty")

// Request is one scan submission. MediaTypeHint is optional and wins over
// content sniffing when set. Frames are optional decoded luminance frames
// for frame-based detectors and the physics verifier. ScanID lets a queueing
// caller preassign the identifier; left empty it is generated here.
type Request struct {
	ScanID        string
	Content       []byte
	Filename      string
	MediaTypeHint string
	Frames        []detect.Frame
}

// Orchestrator runs the full scan pipeline: detector selection by
// capability, concurrent fan-out with failure isolation, cross-modal
// fusion, trust assessment, PentaShield, and persistence.
type Orchestrator struct {
	registry *detect.Registry
	shield   *PentaShield
	store    ResultStore
	cfg      Config
	logger   *slog.Logger
}

func NewOrchestrator(registry *detect.Registry, store ResultStore, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalized()
	return &Orchestrator{
		registry: registry,
		shield:   NewPentaShield(cfg),
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Scan runs the pipeline end to end. Individual detector failures degrade
// to ERROR results; Scan itself fails only on invalid input or context
// cancellation before any work ran.
func (o *Orchestrator) Scan(ctx context.Context, req Request) (ScanResult, error) {
	if len(req.Content) == 0 && len(req.Frames) == 0 {
		return ScanResult{}, ErrEmptyContent
	}
	if err := ctx.Err(); err != nil {
		return ScanResult{}, err
	}

	start := time.Now()
	fingerprint := FingerprintOf(req)
	if o.store != nil {
		if cached, ok := o.store.GetScanByFingerprint(fingerprint); ok {
			o.logger.Info("scan cache hit", "scan_id", cached.ScanID, "fingerprint", fingerprint)
			return cached, nil
		}
	}

	scanID := req.ScanID
	if scanID == "" {
		scanID = randomID("scn")
	}
	mediaType := ResolveMediaType(req.Content, req.Filename, req.MediaTypeHint)
	detectors := o.registry.GetByCapability(capabilityFor(mediaType))

	results := o.fanOut(ctx, detectors, detect.Input{
		Content:   req.Content,
		Filename:  req.Filename,
		MediaType: mediaType,
		Frames:    req.Frames,
	})

	fusion := Fuse(results)
	assessment := Assess(fusion.FusedScore, fusion.Confidence)
	if len(detectors) == 0 {
		assessment.Verdict = detect.VerdictUncertain
		assessment.ThreatLevel = detect.ThreatLevelFor(assessment.Verdict)
		assessment.Confidence = 0
		assessment.Explanation.Summary = "No detectors available for this media type. Manual review required."
	}

	shield := o.shield.Analyze(results, fusion.FusedScore, req.Frames)
	verdict := assessment.Verdict
	threat := assessment.ThreatLevel
	if shield.OverrideVerdict != "" {
		verdict = shield.OverrideVerdict
		threat = detect.ThreatLevelFor(verdict)
		assessment.Explanation.Summary = shield.OverrideReason
		o.logger.Warn("pentashield override",
			"scan_id", scanID, "verdict", verdict, "reason", shield.OverrideReason)
	}

	assessment.Explanation.ContentHash = fingerprint
	assessment.Explanation.CorrelationID = scanID

	result := ScanResult{
		ScanID:           scanID,
		MediaType:        mediaType,
		Verdict:          verdict,
		TrustScore:       assessment.TrustScore,
		Confidence:       assessment.Confidence,
		ThreatLevel:      threat,
		DetectorResults:  results,
		Fusion:           fusion,
		PentaShield:      shield,
		Explanation:      assessment.Explanation,
		Fingerprint:      fingerprint,
		ProcessingTimeMS: elapsedMS(start),
		CreatedAt:        nowRFC3339(),
	}

	if o.store != nil {
		if err := o.store.SaveScan(result); err != nil {
			o.logger.Error("save scan failed", "scan_id", scanID, "error", err)
		}
	}
	o.logger.Info("scan complete",
		"scan_id", scanID, "media_type", mediaType, "verdict", verdict,
		"trust_score", result.TrustScore, "detectors", len(detectors),
		"duration_ms", result.ProcessingTimeMS)
	return result, nil
}

// fanOut runs every eligible detector concurrently with a per-detector
// timeout. A panic, error, or timeout in one detector never affects the
// others; it degrades to an ERROR result. Context cancellation before a
// detector started records a SKIPPED result.
func (o *Orchestrator) fanOut(ctx context.Context, detectors []detect.Detector, input detect.Input) map[string]detect.Result {
	results := make(map[string]detect.Result, len(detectors))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, d := range detectors {
		wg.Add(1)
		go func(d detect.Detector) {
			defer wg.Done()
			r := o.runOne(ctx, d, input)
			mu.Lock()
			results[d.Name()] = r
			mu.Unlock()
		}(d)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runOne(ctx context.Context, d detect.Detector, input detect.Input) (out detect.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("detector panicked", "name", d.Name(), "panic", rec)
			out = detect.ErrorResult(d.Name(), d.Type(), fmt.Sprintf("panic: %v", rec))
		}
	}()

	if err := ctx.Err(); err != nil {
		return detect.SkippedResult(d.Name(), d.Type(), "scan cancelled before detector started")
	}

	dctx, cancel := context.WithTimeout(ctx, o.cfg.DetectorTimeout)
	defer cancel()

	start := time.Now()
	r, err := d.RunDetection(dctx, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			o.logger.Warn("detector timed out", "name", d.Name(), "timeout", o.cfg.DetectorTimeout)
			return detect.ErrorResult(d.Name(), d.Type(), "detection timed out")
		}
		o.logger.Warn("detector failed", "name", d.Name(), "error", err)
		return detect.ErrorResult(d.Name(), d.Type(), err.Error())
	}
	r = r.Normalize()
	if r.DetectorName == "" {
		r.DetectorName = d.Name()
	}
	if r.DetectorType == "" {
		r.DetectorType = d.Type()
	}
	if r.ProcessingTimeMS == 0 {
		r.ProcessingTimeMS = elapsedMS(start)
	}
	return r
}

// FingerprintOf hashes the raw content plus any supplied frames; it is the
// cache key for idempotent re-scans.
func FingerprintOf(req Request) string {
	h := sha256.New()
	h.Write(req.Content)
	for _, f := range req.Frames {
		for _, v := range f.Lum {
			var b [2]byte
			b[0] = byte(int(v) >> 8)
			b[1] = byte(int(v))
			h.Write(b[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func randomID(prefix string) string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return prefix + "_" + hex.EncodeToString([]byte(nowRFC3339()))[:12]
	}
	return prefix + "_" + hex.EncodeToString(b)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func elapsedMS(start time.Time) float64 {
	ms := float64(time.Since(start).Microseconds()) / 1000
	if ms <= 0 {
		ms = 0.001
	}
	return ms
}

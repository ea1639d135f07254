package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"trustscan/internal/detect"
	"trustscan/internal/scan"
)

var ErrEmptySubmission = errors.New("submission has no content and no frames")

type ScannerService interface {
	SubmitScan(submission ScanSubmission, principal Principal, source, ipHash, uaHash string) (ScanMeta, error)
}

// ScanManager owns the scan queue. Submissions are validated, quota-checked,
// deduplicated by fingerprint, persisted as queued metadata, and handed to a
// fixed pool of workers that run the detection pipeline.
type ScanManager struct {
	cfg          ServerConfig
	store        Store
	orchestrator *scan.Orchestrator
	quota        *QuotaManager
	obs          *Observability
	logger       *slog.Logger
	queue        chan queuedScan
	wg           sync.WaitGroup
}

type queuedScan struct {
	ScanID     string
	Request    scan.Request
	CreatorSub string
	ActorType  string
	Source     string
}

func NewScanManager(cfg ServerConfig, store Store, registry *detect.Registry, quota *QuotaManager, obs *Observability, logger *slog.Logger) *ScanManager {
	if logger == nil {
		logger = slog.Default()
	}
	maxParallel := cfg.Scan.MaxParallelScans
	if maxParallel <= 0 {
		maxParallel = 2
	}
	manager := &ScanManager{
		cfg:    cfg,
		store:  store,
		quota:  quota,
		obs:    obs,
		logger: logger,
		queue:  make(chan queuedScan, maxParallel*8),
	}
	manager.orchestrator = scan.NewOrchestrator(registry, &metaResultStore{store: store}, cfg.scanConfig(), logger)
	for i := 0; i < maxParallel; i++ {
		manager.wg.Add(1)
		go func() {
			defer manager.wg.Done()
			manager.worker()
		}()
	}
	return manager
}

func (m *ScanManager) Shutdown() {
	close(m.queue)
	m.wg.Wait()
}

// SubmitScan validates and enqueues one scan. Quota applies to non-admin
// actors. An identical-content submission returns the existing record
// instead of scanning again.
func (m *ScanManager) SubmitScan(submission ScanSubmission, principal Principal, source, ipHash, uaHash string) (ScanMeta, error) {
	actorType := "user"
	if principal.Role == "admin" {
		actorType = "admin"
	}

	request, err := submissionToRequest(submission)
	if err != nil {
		return ScanMeta{}, err
	}

	if actorType != "admin" && m.quota != nil {
		if err := m.quota.Allow(ipHash); err != nil {
			reason := "rate_limited"
			if errors.Is(err, ErrQuotaExhausted) {
				reason = "quota_exhausted"
			}
			if m.obs != nil {
				m.obs.MarkQuotaBlocked(context.Background(), reason)
			}
			_ = m.store.AppendAudit(AuditEvent{
				Timestamp: nowRFC3339(),
				ActorType: actorType,
				Action:    "scan.reject",
				Result:    reason,
				IPHash:    ipHash,
				UAHash:    uaHash,
			})
			return ScanMeta{}, err
		}
	}

	fingerprint := scan.FingerprintOf(request)
	if existing, ok := m.store.GetScanByFingerprint(fingerprint); ok && existing.Status != "failed" {
		if actorType != "admin" && m.quota != nil {
			m.quota.Refund(ipHash)
		}
		_ = m.store.AppendAudit(AuditEvent{
			Timestamp: nowRFC3339(),
			ScanID:    existing.ScanID,
			ActorType: actorType,
			ActorSub:  principal.Subject,
			Action:    "scan.dedup",
			Result:    existing.Status,
			IPHash:    ipHash,
			UAHash:    uaHash,
		})
		return existing, nil
	}

	scanID, err := randomID("scan")
	if err != nil {
		return ScanMeta{}, err
	}
	request.ScanID = scanID
	meta := ScanMeta{
		ScanID:        scanID,
		Status:        "queued",
		Source:        source,
		CreatorSub:    principal.Subject,
		Filename:      submission.Filename,
		MediaTypeHint: submission.MediaType,
		Fingerprint:   fingerprint,
		CreatedAt:     nowRFC3339(),
	}
	if err := m.store.CreateScan(meta); err != nil {
		return ScanMeta{}, err
	}
	_, _ = m.store.AppendScanEvent(scanID, "queue", "scan queued", map[string]any{
		"source":     source,
		"media_type": submission.MediaType,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		ScanID:    scanID,
		ActorType: actorType,
		ActorSub:  principal.Subject,
		Action:    "scan.create",
		Result:    "queued",
		IPHash:    ipHash,
		UAHash:    uaHash,
	})
	m.queue <- queuedScan{
		ScanID:     scanID,
		Request:    request,
		CreatorSub: principal.Subject,
		ActorType:  actorType,
		Source:     source,
	}
	return meta, nil
}

func (m *ScanManager) worker() {
	for queued := range m.queue {
		m.executeScan(queued)
	}
}

func (m *ScanManager) executeScan(queued queuedScan) {
	_, _ = m.store.UpdateScan(queued.ScanID, func(meta *ScanMeta) {
		meta.Status = "running"
		meta.StartedAt = nowRFC3339()
	})
	_, _ = m.store.AppendScanEvent(queued.ScanID, "start", "scan started", nil)

	timeout := time.Duration(m.cfg.Scan.ScanTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := m.orchestrator.Scan(ctx, queued.Request)
	if err != nil {
		_, _ = m.store.UpdateScan(queued.ScanID, func(meta *ScanMeta) {
			meta.Status = "failed"
			meta.Error = err.Error()
			meta.FinishedAt = nowRFC3339()
		})
		_, _ = m.store.AppendScanEvent(queued.ScanID, "error", "scan failed", map[string]any{"error": err.Error()})
		if m.obs != nil {
			m.obs.MarkScan(ctx, "failed", 0)
		}
		m.logger.Error("scan failed", "scan_id", queued.ScanID, "error", err)
		return
	}

	_, _ = m.store.UpdateScan(queued.ScanID, func(meta *ScanMeta) {
		meta.Status = "completed"
		meta.FinishedAt = nowRFC3339()
		if meta.Result == nil {
			meta.Result = &result
		}
	})
	_, _ = m.store.AppendScanEvent(queued.ScanID, "completed", "scan completed", map[string]any{
		"verdict":     string(result.Verdict),
		"trust_score": result.TrustScore,
		"duration_ms": result.ProcessingTimeMS,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		ScanID:    queued.ScanID,
		ActorType: queued.ActorType,
		ActorSub:  queued.CreatorSub,
		Action:    "scan.completed",
		Result:    string(result.Verdict),
		Detail:    fmt.Sprintf("trust=%.4f threat=%s", result.TrustScore, result.ThreatLevel),
	})
	if m.obs != nil {
		m.obs.MarkScan(ctx, string(result.Verdict), int64(result.ProcessingTimeMS))
		if result.PentaShield.OverrideVerdict != "" {
			m.obs.MarkOverride(ctx, overrideRule(result.PentaShield))
		}
	}
}

func overrideRule(shield scan.PentaShieldResult) string {
	switch {
	case shield.Hydra.AdversarialDetected:
		return "adversarial"
	case shield.Sentinel.IsNovelType:
		return "novel_type"
	case len(shield.Sentinel.PhysicsAnomalies) > 0:
		return "physics"
	default:
		return "dissent"
	}
}

func submissionToRequest(submission ScanSubmission) (scan.Request, error) {
	var content []byte
	if strings.TrimSpace(submission.ContentB64) != "" {
		decoded, err := base64.StdEncoding.DecodeString(submission.ContentB64)
		if err != nil {
			return scan.Request{}, fmt.Errorf("decode content: %w", err)
		}
		content = decoded
	}
	frames := make([]detect.Frame, 0, len(submission.Frames))
	for _, payload := range submission.Frames {
		frames = append(frames, payload.toFrame())
	}
	if len(content) == 0 && len(frames) == 0 {
		return scan.Request{}, ErrEmptySubmission
	}
	return scan.Request{
		Content:       content,
		Filename:      submission.Filename,
		MediaTypeHint: submission.MediaType,
		Frames:        frames,
	}, nil
}

// metaResultStore adapts the server store to the pipeline's result cache:
// results land on the scan's metadata record, and fingerprint lookups only
// hit records that already carry a result.
type metaResultStore struct {
	store Store
}

var _ scan.ResultStore = (*metaResultStore)(nil)

func (a *metaResultStore) SaveScan(result scan.ScanResult) error {
	_, err := a.store.UpdateScan(result.ScanID, func(meta *ScanMeta) {
		meta.Result = &result
	})
	return err
}

func (a *metaResultStore) GetScan(scanID string) (scan.ScanResult, bool) {
	meta, ok := a.store.GetScan(scanID)
	if !ok || meta.Result == nil {
		return scan.ScanResult{}, false
	}
	return *meta.Result, true
}

func (a *metaResultStore) GetScanByFingerprint(fingerprint string) (scan.ScanResult, bool) {
	meta, ok := a.store.GetScanByFingerprint(fingerprint)
	if !ok || meta.Result == nil {
		return scan.ScanResult{}, false
	}
	return *meta.Result, true
}

func randomID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

func hashString(input string) string {
	sum := sha256Sum(input)
	return sum[:16]
}

func sha256Sum(input string) string {
	hash := sha256.New()
	_, _ = hash.Write([]byte(input))
	return hex.EncodeToString(hash.Sum(nil))
}

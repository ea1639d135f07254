package server

import (
	"path/filepath"
	"testing"

	"trustscan/internal/detect"
	"trustscan/internal/scan"
)

func TestMemoryStoreScanLifecycle(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	meta := ScanMeta{
		ScanID:      "scan_test_1",
		Status:      "queued",
		Source:      "test",
		Fingerprint: "fp-abc",
		CreatedAt:   nowRFC3339(),
	}
	if err := store.CreateScan(meta); err != nil {
		t.Fatalf("CreateScan error: %v", err)
	}
	if err := store.CreateScan(meta); err == nil {
		t.Fatalf("expected duplicate create to fail")
	}
	event, err := store.AppendScanEvent(meta.ScanID, "queue", "queued", nil)
	if err != nil {
		t.Fatalf("AppendScanEvent error: %v", err)
	}
	if event.Seq != 1 {
		t.Fatalf("expected first seq=1, got %d", event.Seq)
	}
	second, _ := store.AppendScanEvent(meta.ScanID, "start", "started", map[string]any{"k": "v"})
	if second.Seq != 2 {
		t.Fatalf("expected seq=2, got %d", second.Seq)
	}
	events := store.ListScanEvents(meta.ScanID, 1)
	if len(events) != 1 || events[0].Stage != "start" {
		t.Fatalf("cursor filter wrong: %+v", events)
	}

	updated, err := store.UpdateScan(meta.ScanID, func(item *ScanMeta) {
		item.Status = "running"
	})
	if err != nil {
		t.Fatalf("UpdateScan error: %v", err)
	}
	if updated.Status != "running" {
		t.Fatalf("expected status running, got %s", updated.Status)
	}

	byPrint, ok := store.GetScanByFingerprint("fp-abc")
	if !ok || byPrint.ScanID != meta.ScanID {
		t.Fatalf("fingerprint lookup failed: %+v ok=%v", byPrint, ok)
	}
	if _, ok := store.GetScanByFingerprint("fp-missing"); ok {
		t.Fatalf("expected fingerprint miss")
	}
}

func TestMemoryStorePersistsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewMemoryFileStore(path)
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	meta := ScanMeta{ScanID: "scan_persist", Status: "queued", Fingerprint: "fp-1", CreatedAt: nowRFC3339()}
	if err := store.CreateScan(meta); err != nil {
		t.Fatalf("CreateScan error: %v", err)
	}
	if _, err := store.AppendScanEvent(meta.ScanID, "queue", "queued", nil); err != nil {
		t.Fatalf("AppendScanEvent error: %v", err)
	}

	reloaded, err := NewMemoryFileStore(path)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	got, ok := reloaded.GetScan("scan_persist")
	if !ok || got.Status != "queued" {
		t.Fatalf("reloaded scan missing: %+v ok=%v", got, ok)
	}
	event, err := reloaded.AppendScanEvent("scan_persist", "start", "started", nil)
	if err != nil {
		t.Fatalf("AppendScanEvent after reload: %v", err)
	}
	if event.Seq != 2 {
		t.Fatalf("expected seq continues at 2, got %d", event.Seq)
	}
}

func TestMemoryStoreMetricsOverview(t *testing.T) {
	store, _ := NewMemoryFileStore("")
	_ = store.CreateScan(ScanMeta{ScanID: "s1", Status: "queued", CreatedAt: nowRFC3339()})
	_ = store.CreateScan(ScanMeta{ScanID: "s2", Status: "failed", CreatedAt: nowRFC3339()})
	_ = store.CreateScan(ScanMeta{
		ScanID: "s3", Status: "completed", CreatedAt: nowRFC3339(),
		Result: &scan.ScanResult{
			ScanID:           "s3",
			Verdict:          detect.VerdictAuthentic,
			TrustScore:       0.9,
			ProcessingTimeMS: 12,
		},
	})
	_ = store.CreateScan(ScanMeta{
		ScanID: "s4", Status: "completed", CreatedAt: nowRFC3339(),
		Result: &scan.ScanResult{
			ScanID:     "s4",
			Verdict:    detect.VerdictFake,
			TrustScore: 0.1,
			PentaShield: scan.PentaShieldResult{
				OverrideVerdict: detect.VerdictFake,
				OverrideReason:  "physics",
			},
			ProcessingTimeMS: 8,
		},
	})

	overview := store.GetMetricsOverview()
	if overview.TotalScans != 4 {
		t.Fatalf("total = %d", overview.TotalScans)
	}
	if overview.RunningScans != 1 || overview.FailedScans != 1 {
		t.Fatalf("running/failed = %d/%d", overview.RunningScans, overview.FailedScans)
	}
	if overview.AuthenticScans != 1 || overview.FakeScans != 1 {
		t.Fatalf("authentic/fake = %d/%d", overview.AuthenticScans, overview.FakeScans)
	}
	if overview.OverrideHits != 1 {
		t.Fatalf("override hits = %d", overview.OverrideHits)
	}
	if overview.AverageTrust != 0.5 {
		t.Fatalf("average trust = %v", overview.AverageTrust)
	}
}

func TestMemoryStoreAuditOrdering(t *testing.T) {
	store, _ := NewMemoryFileStore("")
	if err := store.AppendAudit(AuditEvent{ActorType: "user", Action: "scan.create", Result: "queued"}); err != nil {
		t.Fatalf("AppendAudit error: %v", err)
	}
	entries := store.ListAudit(10)
	if len(entries) != 1 || entries[0].Timestamp == "" {
		t.Fatalf("audit entries = %+v", entries)
	}
}

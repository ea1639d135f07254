package server

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"trustscan/internal/detect"
)

func TestSubmissionToRequestRejectsEmpty(t *testing.T) {
	if _, err := submissionToRequest(ScanSubmission{}); !errors.Is(err, ErrEmptySubmission) {
		t.Fatalf("err = %v, want ErrEmptySubmission", err)
	}
}

func TestSubmissionToRequestRejectsBadBase64(t *testing.T) {
	if _, err := submissionToRequest(ScanSubmission{ContentB64: "not base64!!"}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestSubmissionToRequestDecodesContentAndFrames(t *testing.T) {
	request, err := submissionToRequest(ScanSubmission{
		Filename:   "clip.png",
		MediaType:  "image",
		ContentB64: base64.StdEncoding.EncodeToString([]byte("payload")),
		Frames: []FramePayload{
			{Width: 2, Height: 2, Lum: []float64{1, 2, 3, 4}},
		},
	})
	if err != nil {
		t.Fatalf("submissionToRequest: %v", err)
	}
	if string(request.Content) != "payload" {
		t.Fatalf("content = %q", request.Content)
	}
	if len(request.Frames) != 1 || request.Frames[0].Width != 2 {
		t.Fatalf("frames = %+v", request.Frames)
	}
}

func newTestManager(t *testing.T) (*ScanManager, Store) {
	t.Helper()
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore: %v", err)
	}
	registry := detect.NewRegistry()
	for _, d := range detect.BuiltinDetectors() {
		if err := registry.Register(d); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if err := registry.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	cfg := DefaultServerConfig()
	cfg.Scan.MaxParallelScans = 1
	manager := NewScanManager(cfg, store, registry, NewQuotaManager(cfg), nil, nil)
	t.Cleanup(manager.Shutdown)
	return manager, store
}

func waitForStatus(t *testing.T, store Store, scanID, want string) ScanMeta {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		meta, ok := store.GetScan(scanID)
		if ok && meta.Status == want {
			return meta
		}
		time.Sleep(10 * time.Millisecond)
	}
	meta, _ := store.GetScan(scanID)
	t.Fatalf("scan %s never reached %q, last = %+v", scanID, want, meta)
	return ScanMeta{}
}

func TestScanManagerRunsSubmission(t *testing.T) {
	manager, store := newTestManager(t)
	submission := ScanSubmission{
		Filename:   "note.txt",
		MediaType:  "text",
		ContentB64: base64.StdEncoding.EncodeToString([]byte("the quick brown fox jumps over the lazy dog repeatedly")),
	}
	meta, err := manager.SubmitScan(submission, Principal{}, "test", "ip-1", "ua-1")
	if err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	if meta.Status != "queued" {
		t.Fatalf("status = %s", meta.Status)
	}

	done := waitForStatus(t, store, meta.ScanID, "completed")
	if done.Result == nil {
		t.Fatalf("completed scan has no result")
	}
	if done.Result.ScanID != meta.ScanID {
		t.Fatalf("result scan id = %s, want %s", done.Result.ScanID, meta.ScanID)
	}
	events := store.ListScanEvents(meta.ScanID, 0)
	if len(events) < 3 {
		t.Fatalf("expected queue/start/completed events, got %+v", events)
	}
}

func TestScanManagerDeduplicatesByFingerprint(t *testing.T) {
	manager, store := newTestManager(t)
	submission := ScanSubmission{
		Filename:   "note.txt",
		MediaType:  "text",
		ContentB64: base64.StdEncoding.EncodeToString([]byte("identical content for both submissions")),
	}
	first, err := manager.SubmitScan(submission, Principal{}, "test", "ip-1", "ua-1")
	if err != nil {
		t.Fatalf("first SubmitScan: %v", err)
	}
	waitForStatus(t, store, first.ScanID, "completed")

	second, err := manager.SubmitScan(submission, Principal{}, "test", "ip-2", "ua-2")
	if err != nil {
		t.Fatalf("second SubmitScan: %v", err)
	}
	if second.ScanID != first.ScanID {
		t.Fatalf("expected dedup to return %s, got %s", first.ScanID, second.ScanID)
	}
}

func TestScanManagerQuotaBlocksUsers(t *testing.T) {
	store, _ := NewMemoryFileStore("")
	registry := detect.NewRegistry()
	cfg := DefaultServerConfig()
	cfg.Limits.ScanRPM = 1
	manager := NewScanManager(cfg, store, registry, NewQuotaManager(cfg), nil, nil)
	t.Cleanup(manager.Shutdown)

	first := ScanSubmission{ContentB64: base64.StdEncoding.EncodeToString([]byte("first"))}
	second := ScanSubmission{ContentB64: base64.StdEncoding.EncodeToString([]byte("second"))}
	if _, err := manager.SubmitScan(first, Principal{}, "test", "ip-1", "ua-1"); err != nil {
		t.Fatalf("first SubmitScan: %v", err)
	}
	if _, err := manager.SubmitScan(second, Principal{}, "test", "ip-1", "ua-1"); !errors.Is(err, ErrQuotaRateLimited) {
		t.Fatalf("err = %v, want ErrQuotaRateLimited", err)
	}
	// admins bypass the quota
	if _, err := manager.SubmitScan(second, Principal{Role: "admin"}, "test", "ip-1", "ua-1"); err != nil {
		t.Fatalf("admin SubmitScan: %v", err)
	}
}

func TestQuotaManagerDailyLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Limits.ScanRPM = 100
	cfg.Limits.DailyScanQuota = 2
	quota := NewQuotaManager(cfg)

	if err := quota.Allow("client"); err != nil {
		t.Fatalf("first allow: %v", err)
	}
	if err := quota.Allow("client"); err != nil {
		t.Fatalf("second allow: %v", err)
	}
	if err := quota.Allow("client"); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("err = %v, want ErrQuotaExhausted", err)
	}
	quota.Refund("client")
	if err := quota.Allow("client"); err != nil {
		t.Fatalf("allow after refund: %v", err)
	}
	// other clients are unaffected
	if err := quota.Allow("other"); err != nil {
		t.Fatalf("other client: %v", err)
	}
}

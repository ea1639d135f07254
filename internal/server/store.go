package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"trustscan/internal/detect"
)

type Store interface {
	CreateScan(meta ScanMeta) error
	UpdateScan(scanID string, mutate func(*ScanMeta)) (ScanMeta, error)
	GetScan(scanID string) (ScanMeta, bool)
	GetScanByFingerprint(fingerprint string) (ScanMeta, bool)
	ListScans(limit int) []ScanMeta
	AppendScanEvent(scanID string, stage, message string, data map[string]any) (ScanEvent, error)
	ListScanEvents(scanID string, sinceSeq int64) []ScanEvent
	AppendAudit(event AuditEvent) error
	ListAudit(limit int) []AuditEvent
	GetMetricsOverview() MetricsOverview
}

// MemoryFileStore keeps everything in memory and optionally snapshots to a
// JSON file on every write via tmp+rename. Default store when no database
// is configured.
type MemoryFileStore struct {
	mu      sync.RWMutex
	path    string
	scans   map[string]ScanMeta
	byPrint map[string]string
	events  map[string][]ScanEvent
	audit   []AuditEvent
	nextSeq map[string]int64
}

func NewMemoryFileStore(path string) (*MemoryFileStore, error) {
	store := &MemoryFileStore{
		path:    path,
		scans:   map[string]ScanMeta{},
		byPrint: map[string]string{},
		events:  map[string][]ScanEvent{},
		audit:   []AuditEvent{},
		nextSeq: map[string]int64{},
	}
	if strings.TrimSpace(path) == "" {
		return store, nil
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MemoryFileStore) CreateScan(meta ScanMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.scans[meta.ScanID]; exists {
		return fmt.Errorf("scan %s already exists", meta.ScanID)
	}
	s.scans[meta.ScanID] = meta
	if meta.Fingerprint != "" {
		s.byPrint[meta.Fingerprint] = meta.ScanID
	}
	if _, ok := s.events[meta.ScanID]; !ok {
		s.events[meta.ScanID] = []ScanEvent{}
	}
	if _, ok := s.nextSeq[meta.ScanID]; !ok {
		s.nextSeq[meta.ScanID] = 1
	}
	return s.persistLocked()
}

func (s *MemoryFileStore) UpdateScan(scanID string, mutate func(*ScanMeta)) (ScanMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.scans[scanID]
	if !ok {
		return ScanMeta{}, fmt.Errorf("scan not found: %s", scanID)
	}
	if mutate != nil {
		mutate(&meta)
	}
	s.scans[scanID] = meta
	if meta.Fingerprint != "" {
		s.byPrint[meta.Fingerprint] = scanID
	}
	if err := s.persistLocked(); err != nil {
		return ScanMeta{}, err
	}
	return meta, nil
}

func (s *MemoryFileStore) GetScan(scanID string) (ScanMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.scans[scanID]
	return meta, ok
}

func (s *MemoryFileStore) GetScanByFingerprint(fingerprint string) (ScanMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scanID, ok := s.byPrint[fingerprint]
	if !ok {
		return ScanMeta{}, false
	}
	meta, ok := s.scans[scanID]
	return meta, ok
}

func (s *MemoryFileStore) ListScans(limit int) []ScanMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ScanMeta, 0, len(s.scans))
	for _, meta := range s.scans {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryFileStore) AppendScanEvent(scanID string, stage, message string, data map[string]any) (ScanEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scans[scanID]; !ok {
		return ScanEvent{}, fmt.Errorf("scan not found: %s", scanID)
	}
	seq := s.nextSeq[scanID]
	if seq < 1 {
		seq = 1
	}
	event := ScanEvent{
		Seq:       seq,
		Timestamp: nowRFC3339(),
		Stage:     stage,
		Message:   message,
		Data:      cloneMap(data),
	}
	s.nextSeq[scanID] = seq + 1
	s.events[scanID] = append(s.events[scanID], event)
	if err := s.persistLocked(); err != nil {
		return ScanEvent{}, err
	}
	return event, nil
}

func (s *MemoryFileStore) ListScanEvents(scanID string, sinceSeq int64) []ScanEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[scanID]
	if len(events) == 0 {
		return []ScanEvent{}
	}
	out := make([]ScanEvent, 0, len(events))
	for _, event := range events {
		if event.Seq > sinceSeq {
			out = append(out, event)
		}
	}
	return out
}

func (s *MemoryFileStore) AppendAudit(event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(event.Timestamp) == "" {
		event.Timestamp = nowRFC3339()
	}
	s.audit = append(s.audit, event)
	if len(s.audit) > 5000 {
		s.audit = s.audit[len(s.audit)-5000:]
	}
	return s.persistLocked()
}

func (s *MemoryFileStore) ListAudit(limit int) []AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.audit) == 0 {
		return []AuditEvent{}
	}
	out := make([]AuditEvent, len(s.audit))
	copy(out, s.audit)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryFileStore) GetMetricsOverview() MetricsOverview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	overview := MetricsOverview{
		GeneratedAt: nowRFC3339(),
	}
	var trustTotal, durationTotal float64
	resultCount := 0
	for _, meta := range s.scans {
		overview.TotalScans++
		switch strings.ToLower(strings.TrimSpace(meta.Status)) {
		case "queued", "running":
			overview.RunningScans++
		case "failed":
			overview.FailedScans++
		}
		if meta.Result == nil {
			continue
		}
		resultCount++
		trustTotal += meta.Result.TrustScore
		durationTotal += meta.Result.ProcessingTimeMS
		switch meta.Result.Verdict {
		case detect.VerdictAuthentic, detect.VerdictLikelyAuthentic:
			overview.AuthenticScans++
		case detect.VerdictUncertain:
			overview.UncertainScans++
		case detect.VerdictLikelyFake, detect.VerdictFake:
			overview.FakeScans++
		}
		if meta.Result.PentaShield.OverrideVerdict != "" {
			overview.OverrideHits++
		}
	}
	if resultCount > 0 {
		overview.AverageTrust = trustTotal / float64(resultCount)
		overview.AverageDuration = durationTotal / float64(resultCount)
	}
	return overview
}

func (s *MemoryFileStore) load() error {
	data, err := os.ReadFile(filepath.Clean(s.path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read store snapshot: %w", err)
	}
	var snapshot storeSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decode store snapshot: %w", err)
	}
	for _, meta := range snapshot.Scans {
		s.scans[meta.ScanID] = meta
		if meta.Fingerprint != "" {
			s.byPrint[meta.Fingerprint] = meta.ScanID
		}
	}
	for scanID, events := range snapshot.Events {
		s.events[scanID] = events
		maxSeq := int64(0)
		for _, event := range events {
			if event.Seq > maxSeq {
				maxSeq = event.Seq
			}
		}
		s.nextSeq[scanID] = maxSeq + 1
	}
	s.audit = snapshot.Audit
	return nil
}

type storeSnapshot struct {
	Scans  []ScanMeta             `json:"scans"`
	Events map[string][]ScanEvent `json:"events"`
	Audit  []AuditEvent           `json:"audit"`
}

func (s *MemoryFileStore) persistLocked() error {
	if strings.TrimSpace(s.path) == "" {
		return nil
	}
	scans := make([]ScanMeta, 0, len(s.scans))
	for _, meta := range s.scans {
		scans = append(scans, meta)
	}
	sort.Slice(scans, func(i, j int) bool {
		return scans[i].CreatedAt < scans[j].CreatedAt
	})
	snapshot := storeSnapshot{
		Scans:  scans,
		Events: s.events,
		Audit:  s.audit,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store snapshot: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write store temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace store snapshot: %w", err)
	}
	return nil
}

func cloneMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}

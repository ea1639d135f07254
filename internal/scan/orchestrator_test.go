package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trustscan/internal/detect"
)

// fakeDetector is a scripted detector for pipeline tests.
type fakeDetector struct {
	name   string
	dtype  detect.DetectorType
	caps   []detect.Capability
	score  float64
	conf   float64
	err    error
	panics bool
	delay  time.Duration
}

func (d *fakeDetector) Name() string                      { return d.name }
func (d *fakeDetector) Type() detect.DetectorType         { return d.dtype }
func (d *fakeDetector) Capabilities() []detect.Capability { return d.caps }
func (d *fakeDetector) LoadModel(ctx context.Context) error {
	return nil
}

func (d *fakeDetector) RunDetection(ctx context.Context, input detect.Input) (detect.Result, error) {
	if d.panics {
		panic("scripted failure")
	}
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return detect.Result{}, ctx.Err()
		}
	}
	if d.err != nil {
		return detect.Result{}, d.err
	}
	return detect.Result{
		DetectorName: d.name,
		DetectorType: d.dtype,
		Score:        d.score,
		Confidence:   d.conf,
		Status:       detect.StatusPass,
	}, nil
}

func (d *fakeDetector) HealthCheck() detect.Health {
	return detect.Health{Name: d.name, Type: string(d.dtype)}
}
func (d *fakeDetector) Shutdown(ctx context.Context) error { return nil }

type memResultStore struct {
	mu      sync.Mutex
	byID    map[string]ScanResult
	byPrint map[string]string
}

func newMemResultStore() *memResultStore {
	return &memResultStore{byID: map[string]ScanResult{}, byPrint: map[string]string{}}
}

func (s *memResultStore) SaveScan(result ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[result.ScanID] = result
	s.byPrint[result.Fingerprint] = result.ScanID
	return nil
}

func (s *memResultStore) GetScan(scanID string) (ScanResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[scanID]
	return r, ok
}

func (s *memResultStore) GetScanByFingerprint(fingerprint string) (ScanResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPrint[fingerprint]
	if !ok {
		return ScanResult{}, false
	}
	return s.byID[id], true
}

func imageDetector(name string, score, conf float64) *fakeDetector {
	return &fakeDetector{
		name: name, dtype: detect.TypeVisual,
		caps:  []detect.Capability{detect.CapSingleImage},
		score: score, conf: conf,
	}
}

func TestScanRejectsEmptyContent(t *testing.T) {
	o := NewOrchestrator(detect.NewRegistry(), newMemResultStore(), DefaultConfig(), nil)
	if _, err := o.Scan(context.Background(), Request{}); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("err = %v, want ErrEmptyContent", err)
	}
}

func TestScanHappyPath(t *testing.T) {
	reg := detect.NewRegistry()
	if err := reg.Register(imageDetector("vis_a", 0.1, 0.9)); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(imageDetector("vis_b", 0.12, 0.9)); err != nil {
		t.Fatal(err)
	}
	store := newMemResultStore()
	o := NewOrchestrator(reg, store, DefaultConfig(), nil)

	res, err := o.Scan(context.Background(), Request{Content: []byte("payload"), Filename: "x.png"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ScanID == "" || res.Fingerprint == "" {
		t.Fatalf("missing identifiers: %+v", res)
	}
	if res.MediaType != detect.MediaImage {
		t.Fatalf("media type = %v", res.MediaType)
	}
	if res.Verdict != detect.VerdictAuthentic {
		t.Fatalf("verdict = %v, trust = %v", res.Verdict, res.TrustScore)
	}
	if len(res.DetectorResults) != 2 {
		t.Fatalf("detector results = %d", len(res.DetectorResults))
	}
	if res.ProcessingTimeMS <= 0 {
		t.Fatalf("processing time = %v", res.ProcessingTimeMS)
	}
	if _, ok := store.GetScan(res.ScanID); !ok {
		t.Fatalf("result not persisted")
	}
}

func TestScanFingerprintCacheHit(t *testing.T) {
	reg := detect.NewRegistry()
	if err := reg.Register(imageDetector("vis", 0.2, 0.8)); err != nil {
		t.Fatal(err)
	}
	o := NewOrchestrator(reg, newMemResultStore(), DefaultConfig(), nil)

	req := Request{Content: []byte("same bytes"), Filename: "a.jpg"}
	first, err := o.Scan(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := o.Scan(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.ScanID != second.ScanID {
		t.Fatalf("cache miss: %s vs %s", first.ScanID, second.ScanID)
	}
}

func TestScanPanicIsolation(t *testing.T) {
	reg := detect.NewRegistry()
	if err := reg.Register(imageDetector("good", 0.3, 0.8)); err != nil {
		t.Fatal(err)
	}
	bad := imageDetector("bad", 0, 0)
	bad.panics = true
	if err := reg.Register(bad); err != nil {
		t.Fatal(err)
	}
	o := NewOrchestrator(reg, newMemResultStore(), DefaultConfig(), nil)

	res, err := o.Scan(context.Background(), Request{Content: []byte("payload"), Filename: "x.png"})
	if err != nil {
		t.Fatal(err)
	}
	if res.DetectorResults["bad"].Status != detect.StatusError {
		t.Fatalf("panicking detector status = %v", res.DetectorResults["bad"].Status)
	}
	if res.DetectorResults["good"].Status != detect.StatusPass {
		t.Fatalf("healthy detector status = %v", res.DetectorResults["good"].Status)
	}
}

func TestScanDetectorError(t *testing.T) {
	reg := detect.NewRegistry()
	failing := imageDetector("failing", 0, 0)
	failing.err = errors.New("model unavailable")
	if err := reg.Register(failing); err != nil {
		t.Fatal(err)
	}
	o := NewOrchestrator(reg, newMemResultStore(), DefaultConfig(), nil)

	res, err := o.Scan(context.Background(), Request{Content: []byte("payload"), Filename: "x.png"})
	if err != nil {
		t.Fatal(err)
	}
	r := res.DetectorResults["failing"]
	if r.Status != detect.StatusError || r.Score != 0.5 || r.Confidence != 0 {
		t.Fatalf("error downgrade wrong: %+v", r)
	}
}

func TestScanDetectorTimeout(t *testing.T) {
	reg := detect.NewRegistry()
	slow := imageDetector("slow", 0.5, 0.5)
	slow.delay = 200 * time.Millisecond
	if err := reg.Register(slow); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.DetectorTimeout = 20 * time.Millisecond
	o := NewOrchestrator(reg, newMemResultStore(), cfg, nil)

	res, err := o.Scan(context.Background(), Request{Content: []byte("payload"), Filename: "x.png"})
	if err != nil {
		t.Fatal(err)
	}
	if res.DetectorResults["slow"].Status != detect.StatusError {
		t.Fatalf("slow detector status = %v", res.DetectorResults["slow"].Status)
	}
}

func TestScanNoDetectorsIsUncertain(t *testing.T) {
	o := NewOrchestrator(detect.NewRegistry(), newMemResultStore(), DefaultConfig(), nil)
	res, err := o.Scan(context.Background(), Request{Content: []byte("payload")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict != detect.VerdictUncertain {
		t.Fatalf("verdict = %v, want uncertain", res.Verdict)
	}
	if res.Confidence != 0 {
		t.Fatalf("confidence = %v, want 0", res.Confidence)
	}
}

func TestScanMediaTypeRouting(t *testing.T) {
	reg := detect.NewRegistry()
	if err := reg.Register(imageDetector("vis", 0.5, 0.5)); err != nil {
		t.Fatal(err)
	}
	txt := &fakeDetector{
		name: "txt", dtype: detect.TypeText,
		caps:  []detect.Capability{detect.CapTextContent},
		score: 0.5, conf: 0.5,
	}
	if err := reg.Register(txt); err != nil {
		t.Fatal(err)
	}
	o := NewOrchestrator(reg, newMemResultStore(), DefaultConfig(), nil)

	res, err := o.Scan(context.Background(), Request{Content: []byte("hello"), MediaTypeHint: "text"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.DetectorResults) != 1 {
		t.Fatalf("detector results = %d, want only text detector", len(res.DetectorResults))
	}
	if _, ok := res.DetectorResults["txt"]; !ok {
		t.Fatalf("text detector not selected: %v", res.DetectorResults)
	}
}

func TestResolveMediaType(t *testing.T) {
	cases := []struct {
		filename string
		hint     string
		want     detect.MediaType
	}{
		{"clip.mp4", "", detect.MediaVideo},
		{"voice.wav", "", detect.MediaAudio},
		{"notes.txt", "", detect.MediaText},
		{"photo.jpeg", "", detect.MediaImage},
		{"whatever.bin", "audio", detect.MediaAudio},
		{"unknown", "", detect.MediaImage},
	}
	for _, c := range cases {
		if got := ResolveMediaType(nil, c.filename, c.hint); got != c.want {
			t.Fatalf("ResolveMediaType(%q, %q) = %v, want %v", c.filename, c.hint, got, c.want)
		}
	}
}

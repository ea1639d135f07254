package detect

import "context"

// Input carries one unit of media into a detector. Frames are optional
// preprocessed luminance frames; decoding happens upstream of this package.
type Input struct {
	Content   []byte
	Filename  string
	MediaType MediaType
	Frames    []Frame
}

// Result is the declared contract every external detector must satisfy.
// Score and Confidence are clamped into [0,1] by Normalize regardless of
// what the detector produced.
type Result struct {
	DetectorName     string         `json:"detector_name"`
	DetectorType     DetectorType   `json:"detector_type"`
	Score            float64        `json:"score"`
	Confidence       float64        `json:"confidence"`
	Status           Status         `json:"status"`
	Method           string         `json:"method,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
	ProcessingTimeMS float64        `json:"processing_time_ms"`
}

func (r Result) Normalize() Result {
	r.Score = clamp01(r.Score)
	r.Confidence = clamp01(r.Confidence)
	if r.Status == "" {
		r.Status = StatusPass
	}
	return r
}

// ErrorResult is the downgraded result recorded when a detector call fails;
// it never propagates the underlying fault past the orchestrator boundary.
func ErrorResult(name string, dtype DetectorType, reason string) Result {
	return Result{
		DetectorName: name,
		DetectorType: dtype,
		Score:        0.5,
		Confidence:   0,
		Status:       StatusError,
		Details:      map[string]any{"error": reason},
	}
}

func SkippedResult(name string, dtype DetectorType, reason string) Result {
	return Result{
		DetectorName: name,
		DetectorType: dtype,
		Score:        0.5,
		Confidence:   0,
		Status:       StatusSkipped,
		Details:      map[string]any{"reason": reason},
	}
}

type Health struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
	Loaded  bool   `json:"loaded"`
	Detail  string `json:"detail,omitempty"`
}

// Detector is the boundary contract for external detection engines. The core
// never reimplements model inference; it only consumes this interface.
type Detector interface {
	Name() string
	Type() DetectorType
	Capabilities() []Capability
	LoadModel(ctx context.Context) error
	RunDetection(ctx context.Context, input Input) (Result, error)
	HealthCheck() Health
	Shutdown(ctx context.Context) error
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package server

import (
	"time"

	"trustscan/internal/detect"
	"trustscan/internal/scan"
)

type Principal struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// ScanSubmission is the wire shape for scan requests. Content is
// base64-encoded raw media; Frames are optional pre-decoded luminance
// frames for frame-based analysis.
type ScanSubmission struct {
	Filename   string         `json:"filename,omitempty"`
	MediaType  string         `json:"media_type,omitempty"`
	ContentB64 string         `json:"content_b64,omitempty"`
	Frames     []FramePayload `json:"frames,omitempty"`
}

type FramePayload struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Lum    []float64 `json:"lum"`
}

func (p FramePayload) toFrame() detect.Frame {
	return detect.Frame{Width: p.Width, Height: p.Height, Lum: p.Lum}
}

// ScanMeta is the stored record of one scan job: submission metadata,
// lifecycle status, and the final result once the pipeline completes.
type ScanMeta struct {
	ScanID        string           `json:"scan_id"`
	Status        string           `json:"status"`
	Source        string           `json:"source"`
	CreatorSub    string           `json:"creator_sub,omitempty"`
	Filename      string           `json:"filename,omitempty"`
	MediaTypeHint string           `json:"media_type_hint,omitempty"`
	Fingerprint   string           `json:"fingerprint,omitempty"`
	CreatedAt     string           `json:"created_at"`
	StartedAt     string           `json:"started_at,omitempty"`
	FinishedAt    string           `json:"finished_at,omitempty"`
	Error         string           `json:"error,omitempty"`
	Result        *scan.ScanResult `json:"result,omitempty"`
}

type ScanEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type AuditEvent struct {
	Timestamp string `json:"timestamp"`
	ScanID    string `json:"scan_id,omitempty"`
	ActorType string `json:"actor_type"`
	ActorSub  string `json:"actor_sub,omitempty"`
	Action    string `json:"action"`
	Result    string `json:"result"`
	IPHash    string `json:"ip_hash,omitempty"`
	UAHash    string `json:"ua_hash,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt     string  `json:"generated_at"`
	TotalScans      int     `json:"total_scans"`
	RunningScans    int     `json:"running_scans"`
	AuthenticScans  int     `json:"authentic_scans"`
	UncertainScans  int     `json:"uncertain_scans"`
	FakeScans       int     `json:"fake_scans"`
	FailedScans     int     `json:"failed_scans"`
	OverrideHits    int     `json:"override_hits"`
	AverageTrust    float64 `json:"average_trust_score"`
	AverageDuration float64 `json:"average_duration_ms"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

package detect

import "strings"

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
	MediaText  MediaType = "text"
)

func ParseMediaType(value string) (MediaType, bool) {
	switch MediaType(strings.ToLower(strings.TrimSpace(value))) {
	case MediaImage:
		return MediaImage, true
	case MediaVideo:
		return MediaVideo, true
	case MediaAudio:
		return MediaAudio, true
	case MediaText:
		return MediaText, true
	default:
		return "", false
	}
}

type Verdict string

const (
	VerdictAuthentic       Verdict = "authentic"
	VerdictLikelyAuthentic Verdict = "likely_authentic"
	VerdictUncertain       Verdict = "uncertain"
	VerdictLikelyFake      Verdict = "likely_fake"
	VerdictFake            Verdict = "fake"
)

type ThreatLevel string

const (
	ThreatNone     ThreatLevel = "none"
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// ThreatLevelFor is the canonical one-to-one verdict → threat mapping.
func ThreatLevelFor(verdict Verdict) ThreatLevel {
	switch verdict {
	case VerdictAuthentic:
		return ThreatNone
	case VerdictLikelyAuthentic:
		return ThreatLow
	case VerdictUncertain:
		return ThreatMedium
	case VerdictLikelyFake:
		return ThreatHigh
	case VerdictFake:
		return ThreatCritical
	default:
		return ThreatMedium
	}
}

type DetectorType string

const (
	TypeVisual      DetectorType = "visual"
	TypeAudio       DetectorType = "audio"
	TypeText        DetectorType = "text"
	TypeMultimodal  DetectorType = "multimodal"
	TypeBiological  DetectorType = "biological"
	TypeFusion      DetectorType = "fusion"
	TypeDefense     DetectorType = "defense"
	TypePentashield DetectorType = "pentashield"
)

type Capability string

const (
	CapVideoFrames      Capability = "video_frames"
	CapSingleImage      Capability = "single_image"
	CapAudioTrack       Capability = "audio_track"
	CapTextContent      Capability = "text_content"
	CapAVSync           Capability = "av_sync"
	CapBiologicalSignal Capability = "biological_signal"
)

type Status string

const (
	StatusPass    Status = "PASS"
	StatusWarn    Status = "WARN"
	StatusFail    Status = "FAIL"
	StatusError   Status = "ERROR"
	StatusSkipped Status = "SKIPPED"
)

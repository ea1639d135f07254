package scan

import (
	"net/http"
	"strings"

	"trustscan/internal/detect"
)

var extMediaTypes = map[string]detect.MediaType{
	"mp4":  detect.MediaVideo,
	"avi":  detect.MediaVideo,
	"mov":  detect.MediaVideo,
	"mkv":  detect.MediaVideo,
	"webm": detect.MediaVideo,
	"jpg":  detect.MediaImage,
	"jpeg": detect.MediaImage,
	"png":  detect.MediaImage,
	"webp": detect.MediaImage,
	"bmp":  detect.MediaImage,
	"gif":  detect.MediaImage,
	"mp3":  detect.MediaAudio,
	"wav":  detect.MediaAudio,
	"flac": detect.MediaAudio,
	"ogg":  detect.MediaAudio,
	"txt":  detect.MediaText,
	"md":   detect.MediaText,
}

// ResolveMediaType picks the media type for a scan: explicit hint first,
// then MIME sniffing of the content, then the filename extension table,
// defaulting to image.
func ResolveMediaType(content []byte, filename, hint string) detect.MediaType {
	if mt, ok := detect.ParseMediaType(hint); ok {
		return mt
	}
	if len(content) > 0 {
		mime := http.DetectContentType(content)
		switch {
		case strings.HasPrefix(mime, "video/"):
			return detect.MediaVideo
		case strings.HasPrefix(mime, "image/"):
			return detect.MediaImage
		case strings.HasPrefix(mime, "audio/"):
			return detect.MediaAudio
		case strings.HasPrefix(mime, "text/plain"):
			// DetectContentType reports text/plain for most text; only
			// trust it when the extension agrees or is absent.
			if mt, ok := extMediaTypes[extOf(filename)]; ok {
				return mt
			}
			return detect.MediaText
		}
	}
	if mt, ok := extMediaTypes[extOf(filename)]; ok {
		return mt
	}
	return detect.MediaImage
}

func extOf(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

// capabilityFor maps a media type to the detector capability the
// orchestrator filters on.
func capabilityFor(mt detect.MediaType) detect.Capability {
	switch mt {
	case detect.MediaVideo:
		return detect.CapVideoFrames
	case detect.MediaAudio:
		return detect.CapAudioTrack
	case detect.MediaText:
		return detect.CapTextContent
	default:
		return detect.CapSingleImage
	}
}

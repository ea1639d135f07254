package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trustscan/internal/detect"
	"trustscan/internal/scan"
)

func main() {
	filePath := flag.String("file", "", "Path to the media file to scan")
	mediaType := flag.String("media-type", "", "Optional media type hint: video|image|audio|text")
	framesPath := flag.String("frames", "", "Optional path to decoded luminance frames JSON")
	timeout := flag.Duration("timeout", 30*time.Second, "Scan timeout")
	format := flag.String("format", "text", "Output format: text|json")
	outputPath := flag.String("out", "", "Write full result JSON to this file")
	strict := flag.Bool("strict", false, "Exit non-zero when verdict is fake or likely_fake")
	flag.Parse()

	if strings.TrimSpace(*filePath) == "" && strings.TrimSpace(*framesPath) == "" {
		exitWith("-file or -frames is required")
	}

	var content []byte
	if strings.TrimSpace(*filePath) != "" {
		data, err := os.ReadFile(filepath.Clean(*filePath))
		if err != nil {
			exitWith("failed to read file: " + err.Error())
		}
		content = data
	}
	var frames []detect.Frame
	if strings.TrimSpace(*framesPath) != "" {
		loaded, err := readFrames(*framesPath)
		if err != nil {
			exitWith("failed to read frames: " + err.Error())
		}
		frames = loaded
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	registry := detect.NewRegistry()
	for _, d := range detect.BuiltinDetectors() {
		if err := registry.Register(d); err != nil {
			exitWith("failed to register detector: " + err.Error())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := registry.LoadAll(ctx); err != nil {
		logger.Warn("some detectors failed to load", "error", err)
	}
	defer registry.ShutdownAll(context.Background())

	orchestrator := scan.NewOrchestrator(registry, nil, scan.DefaultConfig(), logger)
	result, err := orchestrator.Scan(ctx, scan.Request{
		Content:       content,
		Filename:      filepath.Base(*filePath),
		MediaTypeHint: *mediaType,
		Frames:        frames,
	})
	if err != nil {
		exitWith("scan failed: " + err.Error())
	}

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "json":
		printJSON(result)
	default:
		printText(result)
	}

	if strings.TrimSpace(*outputPath) != "" {
		if err := writeResult(*outputPath, result); err != nil {
			exitWith("failed to write result: " + err.Error())
		}
	}

	if *strict && (result.Verdict == detect.VerdictFake || result.Verdict == detect.VerdictLikelyFake) {
		os.Exit(1)
	}
}

func readFrames(path string) ([]detect.Frame, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var frames []detect.Frame
	if err := json.Unmarshal(data, &frames); err != nil {
		return nil, err
	}
	return frames, nil
}

func printText(result scan.ScanResult) {
	fmt.Printf("Scan: %s\n", result.ScanID)
	fmt.Printf("Media type: %s\n", result.MediaType)
	fmt.Printf("Verdict: %s (threat: %s)\n", result.Verdict, result.ThreatLevel)
	fmt.Printf("Trust score: %.4f  confidence: %.4f\n", result.TrustScore, result.Confidence)
	fmt.Printf("Summary: %s\n\n", result.Explanation.Summary)

	for name, dr := range result.DetectorResults {
		fmt.Printf("[%s] %s score=%.4f confidence=%.4f (%.1fms)\n",
			strings.ToUpper(string(dr.Status)), name, dr.Score, dr.Confidence, dr.ProcessingTimeMS)
	}
	if result.PentaShield.OverrideVerdict != "" {
		fmt.Printf("\nOverride: %s\n", result.PentaShield.OverrideReason)
	}
	fmt.Printf("\nTotal: %.1fms\n", result.ProcessingTimeMS)
}

func printJSON(result scan.ScanResult) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		exitWith("failed to encode result JSON: " + err.Error())
	}
	fmt.Println(string(data))
}

func writeResult(path string, result scan.ScanResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Clean(path), data, 0o644)
}

func exitWith(message string) {
	fmt.Fprintln(os.Stderr, "error:", message)
	os.Exit(2)
}

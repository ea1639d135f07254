package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"trustscan/internal/detect"
	"trustscan/internal/probe"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type API struct {
	auth     *Auth
	store    Store
	scanner  ScannerService
	probes   *probe.Manager
	registry *detect.Registry
	obs      *Observability

	// Version and Environment surface in the health payload; callers set
	// them before Handler.
	Version     string
	Environment string
	startedAt   time.Time
}

func NewAPI(auth *Auth, store Store, scanner ScannerService, probes *probe.Manager, registry *detect.Registry, obs *Observability) *API {
	return &API{
		auth:        auth,
		store:       store,
		scanner:     scanner,
		probes:      probes,
		registry:    registry,
		obs:         obs,
		Version:     "dev",
		Environment: "development",
		startedAt:   time.Now(),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /api/v1/health", a.handleHealth)

	mux.HandleFunc("POST /api/v1/auth/login", a.auth.HandleLogin)
	mux.HandleFunc("POST /api/v1/auth/logout", a.auth.HandleLogout)
	mux.HandleFunc("GET /api/v1/auth/me", a.auth.HandleMe)

	mux.HandleFunc("POST /api/v1/scan", a.handleSubmitScan)
	mux.HandleFunc("GET /api/v1/scan/{id}", a.handleGetScan)
	mux.HandleFunc("GET /api/v1/scan/{id}/events", a.handleScanEventsSSE)
	mux.HandleFunc("GET /api/v1/results/{id}", a.handleGetResult)

	mux.HandleFunc("POST /api/v1/probe/sessions", a.handleCreateProbeSession)
	mux.HandleFunc("GET /api/v1/probe/sessions/{id}", a.handleGetProbeSession)
	mux.HandleFunc("POST /api/v1/probe/sessions/{id}/responses", a.handleProbeResponse)
	mux.HandleFunc("POST /api/v1/probe/sessions/{id}/finalize", a.handleFinalizeProbeSession)

	mux.Handle("GET /api/v1/admin/scans", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminListScans)))
	mux.Handle("GET /api/v1/admin/metrics/overview", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminOverview)))
	mux.Handle("GET /api/v1/admin/audit", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminAudit)))
	mux.Handle("GET /api/v1/admin/detectors", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminListDetectors)))
	mux.Handle("POST /api/v1/admin/detectors/{name}/enabled", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminSetDetectorEnabled)))

	wrapped := otelhttp.NewHandler(mux, "trustscan-api-http")
	return withCORS(wrapped)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": nowRFC3339(),
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	detectors := []detect.Health{}
	if a.registry != nil {
		detectors = a.registry.HealthCheckAll()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        a.Version,
		"environment":    a.Environment,
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"time":           nowRFC3339(),
		"detectors":      detectors,
	})
}

func (a *API) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	_, span := otel.Tracer("trustscan-api").Start(r.Context(), "scan.submit")
	defer span.End()
	var submission ScanSubmission
	if err := decodeJSONBody(r, &submission); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ipHash, uaHash := actorHashes(r)
	// optional: attach user identity if logged in
	principal, _ := a.auth.AuthenticateRequest(r)
	span.SetAttributes(
		attribute.String("scan.media_type", submission.MediaType),
	)
	meta, err := a.scanner.SubmitScan(submission, principal, "api.scan", ipHash, uaHash)
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, ErrQuotaRateLimited), errors.Is(err, ErrQuotaExhausted):
			writeError(w, http.StatusTooManyRequests, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	status := http.StatusAccepted
	if meta.Status == "completed" {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"scan_id": meta.ScanID,
		"status":  meta.Status,
	})
}

func (a *API) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing scan id")
		return
	}
	meta, ok := a.store.GetScan(id)
	if !ok {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing scan id")
		return
	}
	meta, ok := a.store.GetScan(id)
	if !ok || meta.Result == nil {
		writeError(w, http.StatusNotFound, "result not found")
		return
	}
	writeJSON(w, http.StatusOK, meta.Result)
}

func (a *API) handleScanEventsSSE(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing scan id")
		return
	}
	if _, ok := a.store.GetScan(id); !ok {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	cursor := parseCursor(r)
	send := func(events []ScanEvent) {
		for _, event := range events {
			payload, marshalErr := json.Marshal(event)
			if marshalErr != nil {
				continue
			}
			fmt.Fprintf(w, "event: scan_event\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			cursor = event.Seq
		}
		flusher.Flush()
	}
	send(a.store.ListScanEvents(id, cursor))

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events := a.store.ListScanEvents(id, cursor)
			if len(events) > 0 {
				send(events)
			} else {
				_, _ = fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}

func (a *API) handleCreateProbeSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NumChallenges  int      `json:"num_challenges"`
		ChallengeTypes []string `json:"challenge_types"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSONBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	types := make([]probe.ChallengeType, 0, len(body.ChallengeTypes))
	for _, raw := range body.ChallengeTypes {
		switch probe.ChallengeType(strings.ToLower(strings.TrimSpace(raw))) {
		case probe.ChallengeLight:
			types = append(types, probe.ChallengeLight)
		case probe.ChallengeMotion:
			types = append(types, probe.ChallengeMotion)
		case probe.ChallengeAudio:
			types = append(types, probe.ChallengeAudio)
		default:
			writeError(w, http.StatusBadRequest, "unknown challenge type: "+raw)
			return
		}
	}
	view := a.probes.CreateSession(body.NumChallenges, types)
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleGetProbeSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	view, err := a.probes.Get(id)
	if err != nil {
		writeProbeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleProbeResponse(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	var body struct {
		ChallengeID string         `json:"challenge_id"`
		Frames      []FramePayload `json:"frames"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	frames := make([]detect.Frame, 0, len(body.Frames))
	for _, payload := range body.Frames {
		frames = append(frames, payload.toFrame())
	}
	view, err := a.probes.SubmitResponse(id, body.ChallengeID, frames)
	if err != nil {
		writeProbeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleFinalizeProbeSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	outcome, err := a.probes.Finalize(id)
	if err != nil {
		writeProbeError(w, err)
		return
	}
	if a.obs != nil {
		a.obs.MarkProbeSession(r.Context(), outcome.Verdict)
	}
	writeJSON(w, http.StatusOK, outcome)
}

func writeProbeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, probe.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, probe.ErrSessionExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, probe.ErrUnknownChallenge):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, probe.ErrDuplicateAnswer), errors.Is(err, probe.ErrSessionFinalized):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (a *API) handleAdminListScans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"scans": a.store.ListScans(100),
	})
}

func (a *API) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.GetMetricsOverview())
}

func (a *API) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"audit": a.store.ListAudit(200),
	})
}

func (a *API) handleAdminListDetectors(w http.ResponseWriter, r *http.Request) {
	detectors := []detect.Health{}
	if a.registry != nil {
		detectors = a.registry.HealthCheckAll()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"detectors": detectors,
	})
}

func (a *API) handleAdminSetDetectorEnabled(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing detector name")
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := a.registry.SetEnabled(name, body.Enabled); err != nil {
		if errors.Is(err, detect.ErrDetectorNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	_ = a.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		ActorType: "admin",
		ActorSub:  principal.Subject,
		Action:    "detector.set_enabled",
		Result:    fmt.Sprintf("%s=%t", name, body.Enabled),
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorHashes(r *http.Request) (string, string) {
	ip, _, _ := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if ip == "" {
		ip = strings.TrimSpace(r.RemoteAddr)
	}
	return hashString(ip), hashString(r.UserAgent())
}

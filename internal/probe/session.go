package probe

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trustscan/internal/detect"
)

type SessionState string

const (
	StateIssued     SessionState = "issued"
	StateInProgress SessionState = "in_progress"
	StateCompleted  SessionState = "completed"
	StateExpired    SessionState = "expired"
)

const defaultSessionTTL = 2 * time.Minute

// Session errors form their own kind so callers can distinguish a protocol
// violation from an infrastructure failure.
var (
	ErrSessionNotFound  = errors.New("probe session not found")
	ErrSessionExpired   = errors.New("probe session expired")
	ErrSessionFinalized = errors.New("probe session already finalized")
	ErrUnknownChallenge = errors.New("response does not match any issued challenge")
	ErrDuplicateAnswer  = errors.New("challenge already answered")
)

// ChallengeScore is the evaluated response to one challenge.
type ChallengeScore struct {
	ChallengeID   string        `json:"challenge_id"`
	Type          ChallengeType `json:"challenge_type"`
	OverallScore  float64       `json:"overall_score"`
	Passed        bool          `json:"passed"`
	LowConfidence bool          `json:"low_confidence"`
	Details       any           `json:"details,omitempty"`
	AnsweredAt    string        `json:"answered_at"`
}

type AuditEntry struct {
	At   string `json:"at"`
	Note string `json:"note"`
}

type session struct {
	mu         sync.Mutex
	id         string
	state      SessionState
	challenges []Challenge
	scores     map[string]ChallengeScore
	audit      []AuditEntry
	createdAt  time.Time
	expiresAt  time.Time
}

// SessionView is an immutable snapshot returned to callers; internal session
// state is never handed out directly.
type SessionView struct {
	SessionID  string                    `json:"session_id"`
	State      SessionState              `json:"state"`
	Challenges []Challenge               `json:"challenges"`
	Scores     map[string]ChallengeScore `json:"scores,omitempty"`
	Audit      []AuditEntry              `json:"audit,omitempty"`
	CreatedAt  string                    `json:"created_at"`
	ExpiresAt  string                    `json:"expires_at"`
}

// Outcome is the finalized session result.
type Outcome struct {
	SessionID     string  `json:"session_id"`
	LivenessScore float64 `json:"liveness_score"`
	Verdict       string  `json:"probe_verdict"`
	Answered      int     `json:"answered"`
	Issued        int     `json:"issued"`
}

// Manager owns all live probe sessions. Sessions are single-writer: every
// mutation happens under the session's own mutex, so two evaluators can
// never interleave on the same session state.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewManager(ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: map[string]*session{},
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateSession issues a new challenge sequence and returns the session in
// the ISSUED state.
func (m *Manager) CreateSession(numChallenges int, allowedTypes []ChallengeType) SessionView {
	if numChallenges <= 0 {
		numChallenges = 3
	}
	now := m.now()
	s := &session{
		id:         sessionID(),
		state:      StateIssued,
		challenges: GenerateSessionChallenges(numChallenges, allowedTypes),
		scores:     map[string]ChallengeScore{},
		createdAt:  now,
		expiresAt:  now.Add(m.ttl),
	}
	s.audit = append(s.audit, AuditEntry{
		At:   now.UTC().Format(time.RFC3339),
		Note: fmt.Sprintf("session issued with %d challenges", len(s.challenges)),
	})

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.logger.Info("probe session created", "session_id", s.id, "challenges", len(s.challenges))
	return m.viewLocked(s)
}

// SubmitResponse evaluates captured frames against one issued challenge and
// records the score. Late responses after expiry are rejected and the
// session is marked expired.
func (m *Manager) SubmitResponse(sessionID, challengeID string, frames []detect.Frame) (SessionView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return SessionView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateCompleted {
		return SessionView{}, ErrSessionFinalized
	}
	now := m.now()
	if s.state == StateExpired || now.After(s.expiresAt) {
		s.state = StateExpired
		return SessionView{}, fmt.Errorf("%w: %s", ErrSessionExpired, sessionID)
	}

	challenge, ok := findChallenge(s.challenges, challengeID)
	if !ok {
		return SessionView{}, fmt.Errorf("%w: %s", ErrUnknownChallenge, challengeID)
	}
	if _, answered := s.scores[challengeID]; answered {
		return SessionView{}, fmt.Errorf("%w: %s", ErrDuplicateAnswer, challengeID)
	}

	score := evaluateResponse(challenge, frames)
	score.AnsweredAt = now.UTC().Format(time.RFC3339)
	s.scores[challengeID] = score
	s.state = StateInProgress
	if score.LowConfidence {
		s.audit = append(s.audit, AuditEntry{
			At:   score.AnsweredAt,
			Note: fmt.Sprintf("challenge %s scored with conservative defaults, %d frames supplied", challengeID, len(frames)),
		})
	}

	m.logger.Info("probe response scored",
		"session_id", sessionID, "challenge_id", challengeID,
		"score", score.OverallScore, "passed", score.Passed)
	return m.view(s), nil
}

// Finalize closes the session and derives the liveness verdict. A session
// with unanswered challenges finalizes as inconclusive rather than live.
func (m *Manager) Finalize(sessionID string) (Outcome, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return Outcome{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateCompleted {
		return Outcome{}, ErrSessionFinalized
	}
	if s.state == StateExpired || m.now().After(s.expiresAt) {
		s.state = StateExpired
		return Outcome{}, fmt.Errorf("%w: %s", ErrSessionExpired, sessionID)
	}

	scores := make([]float64, 0, len(s.scores))
	allPassed := true
	for _, sc := range s.scores {
		scores = append(scores, sc.OverallScore)
		allPassed = allPassed && sc.Passed
	}

	liveness := 0.0
	verdict := "inconclusive"
	switch {
	case len(scores) == 0:
	case len(scores) < len(s.challenges):
		liveness = round4(mean(scores))
	default:
		liveness = round4(mean(scores))
		if allPassed && liveness >= challengePassThreshold {
			verdict = "live"
		} else {
			verdict = "spoof_suspected"
		}
	}

	s.state = StateCompleted
	s.audit = append(s.audit, AuditEntry{
		At:   m.now().UTC().Format(time.RFC3339),
		Note: fmt.Sprintf("session finalized: verdict=%s liveness=%.4f", verdict, liveness),
	})

	m.logger.Info("probe session finalized",
		"session_id", sessionID, "verdict", verdict, "liveness", liveness)
	return Outcome{
		SessionID:     sessionID,
		LivenessScore: liveness,
		Verdict:       verdict,
		Answered:      len(s.scores),
		Issued:        len(s.challenges),
	}, nil
}

// Get returns a snapshot of a session, marking it expired lazily.
func (m *Manager) Get(sessionID string) (SessionView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCompleted && m.now().After(s.expiresAt) {
		s.state = StateExpired
	}
	return m.view(s), nil
}

// Sweep drops expired and completed sessions older than the TTL. Returns the
// number removed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		done := (s.state == StateCompleted || s.state == StateExpired || m.now().After(s.expiresAt)) &&
			s.createdAt.Before(cutoff)
		s.mu.Unlock()
		if done {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) lookup(sessionID string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// view snapshots a session already held under its own mutex.
func (m *Manager) view(s *session) SessionView {
	scores := make(map[string]ChallengeScore, len(s.scores))
	for k, v := range s.scores {
		scores[k] = v
	}
	return SessionView{
		SessionID:  s.id,
		State:      s.state,
		Challenges: append([]Challenge(nil), s.challenges...),
		Scores:     scores,
		Audit:      append([]AuditEntry(nil), s.audit...),
		CreatedAt:  s.createdAt.UTC().Format(time.RFC3339),
		ExpiresAt:  s.expiresAt.UTC().Format(time.RFC3339),
	}
}

func (m *Manager) viewLocked(s *session) SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.view(s)
}

// evaluateResponse scores frames with the passive analyzer matching the
// challenge type. Audio has no frame analyzer; it records the conservative
// default pending a speech pipeline.
func evaluateResponse(c Challenge, frames []detect.Frame) ChallengeScore {
	switch c.Type {
	case ChallengeMotion:
		r := EvaluateMotion(frames)
		return ChallengeScore{
			ChallengeID: c.ChallengeID, Type: c.Type,
			OverallScore: r.OverallScore, Passed: r.Passed,
			LowConfidence: r.LowConfidence, Details: r,
		}
	case ChallengeAudio:
		return ChallengeScore{
			ChallengeID: c.ChallengeID, Type: c.Type,
			OverallScore: 1, Passed: true, LowConfidence: true,
		}
	default:
		r := EvaluateLight(frames)
		return ChallengeScore{
			ChallengeID: c.ChallengeID, Type: c.Type,
			OverallScore: r.OverallScore, Passed: r.Passed,
			LowConfidence: r.LowConfidence, Details: r,
		}
	}
}

func findChallenge(challenges []Challenge, id string) (Challenge, bool) {
	for _, c := range challenges {
		if c.ChallengeID == id {
			return c, true
		}
	}
	return Challenge{}, false
}

func sessionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return "ps_" + hex.EncodeToString(b)
}

package server

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrQuotaRateLimited = errors.New("scan rate limit reached")
	ErrQuotaExhausted   = errors.New("daily scan quota exhausted")
)

// QuotaManager enforces a per-client requests-per-minute limit and a
// per-client daily scan quota. Clients are keyed by IP hash; both windows
// roll lazily on each check.
type QuotaManager struct {
	mu         sync.Mutex
	rpm        int
	dailyQuota int
	clients    map[string]*clientQuotaState
}

type clientQuotaState struct {
	DayKey          string
	ScansToday      int
	RequestsLastMin []time.Time
}

func NewQuotaManager(cfg ServerConfig) *QuotaManager {
	rpm := cfg.Limits.ScanRPM
	if rpm <= 0 {
		rpm = 6
	}
	quota := cfg.Limits.DailyScanQuota
	if quota <= 0 {
		quota = 200
	}
	return &QuotaManager{
		rpm:        rpm,
		dailyQuota: quota,
		clients:    map[string]*clientQuotaState{},
	}
}

// Allow records one scan attempt for the client and reports whether it may
// proceed. The attempt counts against both windows only when admitted.
func (m *QuotaManager) Allow(clientKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(clientKey) == "" {
		clientKey = "unknown"
	}
	now := time.Now()
	state, ok := m.clients[clientKey]
	if !ok {
		state = &clientQuotaState{}
		m.clients[clientKey] = state
	}
	m.rollWindow(state, now)
	if len(state.RequestsLastMin) >= m.rpm {
		return ErrQuotaRateLimited
	}
	if state.ScansToday >= m.dailyQuota {
		return ErrQuotaExhausted
	}
	state.RequestsLastMin = append(state.RequestsLastMin, now)
	state.ScansToday++
	return nil
}

// Refund returns one daily-quota unit, used when an admitted scan turns out
// to be a fingerprint cache hit and no pipeline work ran.
func (m *QuotaManager) Refund(clientKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.clients[clientKey]
	if !ok {
		return
	}
	if state.ScansToday > 0 {
		state.ScansToday--
	}
}

func (m *QuotaManager) rollWindow(state *clientQuotaState, now time.Time) {
	dayKey := now.UTC().Format("2006-01-02")
	if state.DayKey != dayKey {
		state.DayKey = dayKey
		state.ScansToday = 0
		state.RequestsLastMin = nil
	}
	cutoff := now.Add(-1 * time.Minute)
	state.RequestsLastMin = filterRecentTime(state.RequestsLastMin, cutoff)
}

func filterRecentTime(items []time.Time, cutoff time.Time) []time.Time {
	if len(items) == 0 {
		return items
	}
	out := items[:0]
	for _, item := range items {
		if item.After(cutoff) {
			out = append(out, item)
		}
	}
	return out
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"trustscan/internal/detect"
	"trustscan/internal/scan"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const scanColumns = `scan_id,status,source,creator_sub,filename,media_type_hint,fingerprint,
	        created_at,started_at,finished_at,error,result`

func (s *PgStore) CreateScan(meta ScanMeta) error {
	var resultJSON []byte
	if meta.Result != nil {
		resultJSON, _ = json.Marshal(meta.Result)
	}
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO scans (scan_id,status,source,creator_sub,filename,media_type_hint,fingerprint,created_at,result)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		meta.ScanID, meta.Status, meta.Source, nullStr(meta.CreatorSub), nullStr(meta.Filename),
		nullStr(meta.MediaTypeHint), nullStr(meta.Fingerprint), meta.CreatedAt, resultJSON)
	return err
}

func (s *PgStore) UpdateScan(scanID string, mutate func(*ScanMeta)) (ScanMeta, error) {
	tx, err := s.pool.Begin(context.Background())
	if err != nil {
		return ScanMeta{}, err
	}
	defer tx.Rollback(context.Background())

	row := tx.QueryRow(context.Background(),
		`SELECT `+scanColumns+` FROM scans WHERE scan_id=$1 FOR UPDATE`, scanID)
	meta, err := scanScanMeta(row)
	if err != nil {
		return ScanMeta{}, fmt.Errorf("scan not found: %s", scanID)
	}
	if mutate != nil {
		mutate(&meta)
	}
	var resultJSON []byte
	if meta.Result != nil {
		resultJSON, _ = json.Marshal(meta.Result)
	}
	_, err = tx.Exec(context.Background(),
		`UPDATE scans SET status=$1,started_at=$2,finished_at=$3,error=$4,fingerprint=$5,result=$6 WHERE scan_id=$7`,
		meta.Status, nullStr(meta.StartedAt), nullStr(meta.FinishedAt), nullStr(meta.Error),
		nullStr(meta.Fingerprint), resultJSON, scanID)
	if err != nil {
		return ScanMeta{}, err
	}
	return meta, tx.Commit(context.Background())
}

func (s *PgStore) GetScan(scanID string) (ScanMeta, bool) {
	row := s.pool.QueryRow(context.Background(),
		`SELECT `+scanColumns+` FROM scans WHERE scan_id=$1`, scanID)
	meta, err := scanScanMeta(row)
	if err != nil {
		return ScanMeta{}, false
	}
	return meta, true
}

func (s *PgStore) GetScanByFingerprint(fingerprint string) (ScanMeta, bool) {
	if strings.TrimSpace(fingerprint) == "" {
		return ScanMeta{}, false
	}
	row := s.pool.QueryRow(context.Background(),
		`SELECT `+scanColumns+` FROM scans WHERE fingerprint=$1 ORDER BY created_at DESC LIMIT 1`, fingerprint)
	meta, err := scanScanMeta(row)
	if err != nil {
		return ScanMeta{}, false
	}
	return meta, true
}

func (s *PgStore) ListScans(limit int) []ScanMeta {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(context.Background(),
		`SELECT `+scanColumns+` FROM scans ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return []ScanMeta{}
	}
	defer rows.Close()
	var out []ScanMeta
	for rows.Next() {
		meta, err := scanScanMeta(rows)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	if out == nil {
		return []ScanMeta{}
	}
	return out
}

func (s *PgStore) AppendScanEvent(scanID string, stage, message string, data map[string]any) (ScanEvent, error) {
	var dataJSON []byte
	if data != nil {
		dataJSON, _ = json.Marshal(data)
	}
	var seq int64
	var ts time.Time
	err := s.pool.QueryRow(context.Background(),
		`INSERT INTO scan_events (scan_id, seq, stage, message, data)
		 VALUES ($1, COALESCE((SELECT MAX(seq) FROM scan_events WHERE scan_id=$1),0)+1, $2, $3, $4)
		 RETURNING seq, timestamp`, scanID, stage, message, dataJSON).Scan(&seq, &ts)
	if err != nil {
		return ScanEvent{}, err
	}
	return ScanEvent{
		Seq:       seq,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Stage:     stage,
		Message:   message,
		Data:      data,
	}, nil
}

func (s *PgStore) ListScanEvents(scanID string, sinceSeq int64) []ScanEvent {
	rows, err := s.pool.Query(context.Background(),
		`SELECT seq, timestamp, stage, message, data
		 FROM scan_events WHERE scan_id=$1 AND seq>$2 ORDER BY seq`, scanID, sinceSeq)
	if err != nil {
		return []ScanEvent{}
	}
	defer rows.Close()
	var out []ScanEvent
	for rows.Next() {
		var e ScanEvent
		var ts time.Time
		var dataJSON []byte
		if err := rows.Scan(&e.Seq, &ts, &e.Stage, &e.Message, &dataJSON); err != nil {
			continue
		}
		e.Timestamp = ts.UTC().Format(time.RFC3339)
		if len(dataJSON) > 0 {
			_ = json.Unmarshal(dataJSON, &e.Data)
		}
		out = append(out, e)
	}
	if out == nil {
		return []ScanEvent{}
	}
	return out
}

func (s *PgStore) AppendAudit(event AuditEvent) error {
	if strings.TrimSpace(event.Timestamp) == "" {
		event.Timestamp = nowRFC3339()
	}
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO audit_events (timestamp,scan_id,actor_type,actor_sub,action,result,ip_hash,ua_hash,detail)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		event.Timestamp, nullStr(event.ScanID), event.ActorType, nullStr(event.ActorSub),
		event.Action, event.Result, nullStr(event.IPHash), nullStr(event.UAHash), nullStr(event.Detail))
	return err
}

func (s *PgStore) ListAudit(limit int) []AuditEvent {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(context.Background(),
		`SELECT timestamp,scan_id,actor_type,actor_sub,action,result,ip_hash,ua_hash,detail
		 FROM audit_events ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return []AuditEvent{}
	}
	defer rows.Close()
	var out []AuditEvent
	for rows.Next() {
		var a AuditEvent
		var ts time.Time
		var scanID, actorSub, ipHash, uaHash, detail *string
		if err := rows.Scan(&ts, &scanID, &a.ActorType, &actorSub, &a.Action, &a.Result, &ipHash, &uaHash, &detail); err != nil {
			continue
		}
		a.Timestamp = ts.UTC().Format(time.RFC3339)
		a.ScanID = deref(scanID)
		a.ActorSub = deref(actorSub)
		a.IPHash = deref(ipHash)
		a.UAHash = deref(uaHash)
		a.Detail = deref(detail)
		out = append(out, a)
	}
	if out == nil {
		return []AuditEvent{}
	}
	return out
}

func (s *PgStore) GetMetricsOverview() MetricsOverview {
	overview := MetricsOverview{GeneratedAt: nowRFC3339()}
	_ = s.pool.QueryRow(context.Background(),
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('running','queued')),
			COUNT(*) FILTER (WHERE status='failed')
		 FROM scans`).Scan(
		&overview.TotalScans, &overview.RunningScans, &overview.FailedScans)

	rows, _ := s.pool.Query(context.Background(),
		`SELECT result FROM scans WHERE result IS NOT NULL`)
	if rows != nil {
		defer rows.Close()
		var trustTotal, durationTotal float64
		resultCount := 0
		for rows.Next() {
			var resultJSON []byte
			if rows.Scan(&resultJSON) != nil {
				continue
			}
			var result scan.ScanResult
			if json.Unmarshal(resultJSON, &result) != nil {
				continue
			}
			resultCount++
			trustTotal += result.TrustScore
			durationTotal += result.ProcessingTimeMS
			switch result.Verdict {
			case detect.VerdictAuthentic, detect.VerdictLikelyAuthentic:
				overview.AuthenticScans++
			case detect.VerdictUncertain:
				overview.UncertainScans++
			case detect.VerdictLikelyFake, detect.VerdictFake:
				overview.FakeScans++
			}
			if result.PentaShield.OverrideVerdict != "" {
				overview.OverrideHits++
			}
		}
		if resultCount > 0 {
			overview.AverageTrust = trustTotal / float64(resultCount)
			overview.AverageDuration = durationTotal / float64(resultCount)
		}
	}
	return overview
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanScanMeta(row scannable) (ScanMeta, error) {
	var m ScanMeta
	var resultJSON []byte
	var creatorSub, filename, mediaHint, fingerprint, startedAt, finishedAt, errStr *string
	err := row.Scan(&m.ScanID, &m.Status, &m.Source, &creatorSub, &filename, &mediaHint,
		&fingerprint, &m.CreatedAt, &startedAt, &finishedAt, &errStr, &resultJSON)
	if err != nil {
		return ScanMeta{}, err
	}
	m.CreatorSub = deref(creatorSub)
	m.Filename = deref(filename)
	m.MediaTypeHint = deref(mediaHint)
	m.Fingerprint = deref(fingerprint)
	m.StartedAt = deref(startedAt)
	m.FinishedAt = deref(finishedAt)
	m.Error = deref(errStr)
	if len(resultJSON) > 0 {
		var r scan.ScanResult
		if json.Unmarshal(resultJSON, &r) == nil {
			m.Result = &r
		}
	}
	return m, nil
}

func nullStr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Ensure PgStore implements Store at compile time.
var _ Store = (*PgStore)(nil)

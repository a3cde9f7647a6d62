package quota

import (
	"context"
	"database/sql"
	"time"
)

// Tracker reports usage statistics from the request log
type Tracker struct {
	db *sql.DB
}

// NewTracker creates a new usage tracker
func NewTracker(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// Stats represents overall usage statistics
type Stats struct {
	TotalRequests     int64       `json:"total_requests"`
	TotalUnits        int64       `json:"total_units"`
	AvgLatencyMs      float64     `json:"avg_latency_ms"`
	SuccessRate       float64     `json:"success_rate"`
	RequestsToday     int64       `json:"requests_today"`
	RequestsThisWeek  int64       `json:"requests_this_week"`
	RequestsThisMonth int64       `json:"requests_this_month"`
	Kinds             []KindStats `json:"kinds"`
}

// KindStats represents per-pool statistics
type KindStats struct {
	Kind         string  `json:"kind"`
	Requests     int64   `json:"requests"`
	Units        int64   `json:"units"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// UserStats represents per-user statistics
type UserStats struct {
	UserID      int64   `json:"user_id"`
	Requests    int64   `json:"requests"`
	Units       int64   `json:"units"`
	SuccessRate float64 `json:"success_rate"`
}

// RecentRequest is one row of the request log
type RecentRequest struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Kind       string    `json:"kind"`
	Units      int64     `json:"units"`
	LatencyMs  int64     `json:"latency_ms"`
	StatusCode int       `json:"status_code"`
	RequestID  string    `json:"request_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// GetStats returns overall usage statistics. Units count only successful
// requests, the ones that were charged.
func (t *Tracker) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats

	err := t.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status_code = 200 THEN units ELSE 0 END), 0),
		       COALESCE(AVG(latency_ms), 0)
		FROM request_logs
	`).Scan(&stats.TotalRequests, &stats.TotalUnits, &stats.AvgLatencyMs)
	if err != nil {
		return nil, err
	}

	var successCount int64
	_ = t.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM request_logs WHERE status_code = 200
	`).Scan(&successCount)
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(successCount) / float64(stats.TotalRequests) * 100
	}

	_ = t.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM request_logs WHERE created_at >= datetime('now', 'start of day')
	`).Scan(&stats.RequestsToday)
	_ = t.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM request_logs WHERE created_at >= datetime('now', '-7 days')
	`).Scan(&stats.RequestsThisWeek)
	_ = t.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM request_logs WHERE created_at >= datetime('now', '-1 month')
	`).Scan(&stats.RequestsThisMonth)

	kinds, err := t.GetKindStats(ctx)
	if err != nil {
		return nil, err
	}
	stats.Kinds = kinds

	return &stats, nil
}

// GetKindStats returns per-pool statistics
func (t *Tracker) GetKindStats(ctx context.Context) ([]KindStats, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT kind, COUNT(*),
		       COALESCE(SUM(CASE WHEN status_code = 200 THEN units ELSE 0 END), 0),
		       COALESCE(AVG(latency_ms), 0)
		FROM request_logs
		GROUP BY kind
		ORDER BY kind
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []KindStats{}
	for rows.Next() {
		var s KindStats
		if err := rows.Scan(&s.Kind, &s.Requests, &s.Units, &s.AvgLatencyMs); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// GetUserStats returns per-user statistics
func (t *Tracker) GetUserStats(ctx context.Context) ([]UserStats, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT user_id, COUNT(*),
		       COALESCE(SUM(CASE WHEN status_code = 200 THEN units ELSE 0 END), 0),
		       CAST(SUM(CASE WHEN status_code = 200 THEN 1 ELSE 0 END) AS FLOAT) / COUNT(*) * 100
		FROM request_logs
		GROUP BY user_id
		ORDER BY COUNT(*) DESC, user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []UserStats{}
	for rows.Next() {
		var s UserStats
		if err := rows.Scan(&s.UserID, &s.Requests, &s.Units, &s.SuccessRate); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// GetRecentRequests returns the latest request log rows
func (t *Tracker) GetRecentRequests(ctx context.Context, limit int) ([]RecentRequest, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, user_id, kind, units, latency_ms, status_code, request_id, created_at
		FROM request_logs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []RecentRequest{}
	for rows.Next() {
		var r RecentRequest
		if err := rows.Scan(&r.ID, &r.UserID, &r.Kind, &r.Units, &r.LatencyMs, &r.StatusCode, &r.RequestID, &r.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, r)
	}

	return logs, rows.Err()
}

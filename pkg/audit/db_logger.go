package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/rolegate/pkg/rbac"
)

// GetMigrations returns the access log table migrations
func GetMigrations() []rbac.Migration {
	return []rbac.Migration{
		{
			Version:     200,
			Description: "Create access_log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS access_log (
					id {{id}},
					request_id VARCHAR(36) NOT NULL,
					user_id BIGINT NOT NULL,
					resource VARCHAR(255) NOT NULL,
					action VARCHAR(100) NOT NULL,
					result VARCHAR(16) NOT NULL,
					ip_address VARCHAR(45) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					context TEXT NOT NULL DEFAULT '{}',
					timestamp TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_access_log_user_timestamp ON access_log(user_id, timestamp);
				CREATE INDEX IF NOT EXISTS idx_access_log_resource_timestamp ON access_log(resource, timestamp);
			`,
		},
	}
}

// DBLogger appends access entries to the access_log table
type DBLogger struct {
	db    *sql.DB
	clock rbac.Clock
}

// NewDBLogger creates a database sink. A nil clock uses the system clock.
// The table is created by GetMigrations.
func NewDBLogger(db *sql.DB, clock rbac.Clock) *DBLogger {
	if clock == nil {
		clock = rbac.SystemClock{}
	}
	return &DBLogger{db: db, clock: clock}
}

// Append inserts entry and sets its ID. A zero timestamp is filled from the
// logger's clock and a nil request id gets a fresh one.
func (l *DBLogger) Append(ctx context.Context, entry *AccessLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock.Now()
	}
	if entry.RequestID == uuid.Nil {
		entry.RequestID = uuid.New()
	}

	contextJSON := []byte("{}")
	if len(entry.Context) > 0 {
		var err error
		contextJSON, err = json.Marshal(entry.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal access context: %w", err)
		}
	}

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO access_log (request_id, user_id, resource, action, result, ip_address, user_agent, context, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		entry.RequestID.String(),
		entry.UserID,
		entry.Resource,
		entry.Action,
		string(entry.Result),
		entry.IPAddress,
		entry.UserAgent,
		string(contextJSON),
		entry.Timestamp.UTC(),
	).Scan(&entry.ID)
	if err != nil {
		return &rbac.StorageError{Op: "append access log", Err: fmt.Errorf("failed to insert access log entry: %w", err)}
	}
	return nil
}

// QueryStatistics summarizes entries over [now - days, now], optionally for a
// single user. days must be positive.
func (l *DBLogger) QueryStatistics(ctx context.Context, userID *int64, days int) (*Stats, error) {
	if days <= 0 {
		return nil, &rbac.ValidationError{Field: "days", Message: "must be positive"}
	}

	end := l.clock.Now().UTC()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)
	stats := &Stats{
		AccessByResult: make(map[Result]int64),
		TopResources:   make([]ResourceCount, 0),
		Start:          start,
		End:            end,
	}

	whereClause := "WHERE timestamp >= $1 AND timestamp <= $2"
	args := []interface{}{start, end}
	if userID != nil {
		whereClause += " AND user_id = $3"
		args = append(args, *userID)
	}

	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM access_log "+whereClause, args...).Scan(&stats.TotalAccesses)
	if err != nil {
		return nil, &rbac.StorageError{Op: "query statistics", Err: fmt.Errorf("failed to count accesses: %w", err)}
	}

	rows, err := l.db.QueryContext(ctx, "SELECT result, COUNT(*) FROM access_log "+whereClause+" GROUP BY result", args...)
	if err != nil {
		return nil, &rbac.StorageError{Op: "query statistics", Err: fmt.Errorf("failed to count by result: %w", err)}
	}
	for rows.Next() {
		var result string
		var count int64
		if err := rows.Scan(&result, &count); err != nil {
			rows.Close()
			return nil, &rbac.StorageError{Op: "query statistics", Err: err}
		}
		stats.AccessByResult[Result(result)] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &rbac.StorageError{Op: "query statistics", Err: err}
	}
	rows.Close()

	rows, err = l.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT resource, COUNT(*) AS n FROM access_log %s
		GROUP BY resource
		ORDER BY n DESC, resource ASC
		LIMIT %d
	`, whereClause, TopResourcesLimit), args...)
	if err != nil {
		return nil, &rbac.StorageError{Op: "query statistics", Err: fmt.Errorf("failed to rank resources: %w", err)}
	}
	defer rows.Close()
	for rows.Next() {
		var rc ResourceCount
		if err := rows.Scan(&rc.Resource, &rc.Count); err != nil {
			return nil, &rbac.StorageError{Op: "query statistics", Err: err}
		}
		stats.TopResources = append(stats.TopResources, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, &rbac.StorageError{Op: "query statistics", Err: err}
	}

	return stats, nil
}

// Search returns entries matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter Filter) ([]*AccessLogEntry, error) {
	query := `
		SELECT id, request_id, user_id, resource, action, result, ip_address, user_agent, context, timestamp
		FROM access_log
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	if filter.Resource != "" {
		query += fmt.Sprintf(" AND resource = $%d", argCount)
		args = append(args, filter.Resource)
		argCount++
	}

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, filter.Action)
		argCount++
	}

	if filter.Result != "" {
		query += fmt.Sprintf(" AND result = $%d", argCount)
		args = append(args, string(filter.Result))
		argCount++
	}

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, filter.StartTime.UTC())
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, filter.EndTime.UTC())
		argCount++
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++

		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET $%d", argCount)
			args = append(args, filter.Offset)
		}
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &rbac.StorageError{Op: "search access log", Err: fmt.Errorf("failed to search access log: %w", err)}
	}
	defer rows.Close()

	entries := make([]*AccessLogEntry, 0)
	for rows.Next() {
		entry := &AccessLogEntry{}
		var result, contextJSON string

		err := rows.Scan(
			&entry.ID, &entry.RequestID, &entry.UserID,
			&entry.Resource, &entry.Action, &result,
			&entry.IPAddress, &entry.UserAgent, &contextJSON, &entry.Timestamp,
		)
		if err != nil {
			return nil, &rbac.StorageError{Op: "search access log", Err: fmt.Errorf("failed to scan access log: %w", err)}
		}
		entry.Result = Result(result)

		if contextJSON != "" && contextJSON != "{}" {
			if err := json.Unmarshal([]byte(contextJSON), &entry.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal access context: %w", err)
			}
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, &rbac.StorageError{Op: "search access log", Err: fmt.Errorf("error iterating access log: %w", err)}
	}

	return entries, nil
}

// Close is a no-op; the database handle belongs to the caller
func (l *DBLogger) Close() error {
	return nil
}

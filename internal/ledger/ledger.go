// Package ledger keeps an append-only history of light commands and their outcomes.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType classifies a ledger entry.
type EventType string

const (
	EventCommandCompleted EventType = "command_completed"
	EventCommandFailed    EventType = "command_failed"
	EventBackgroundFailed EventType = "background_failed"
)

// Entry is one row of the history.
type Entry struct {
	ID            int64
	EventType     EventType
	Timestamp     time.Time
	LightID       int
	CorrelationID string
	Command       string
	Error         string
	Payload       map[string]any
}

// Ledger appends to and queries the event_ledger table.
type Ledger struct {
	db *sql.DB
}

// New creates a Ledger over an already migrated database.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append writes an entry. A zero Timestamp means now.
func (l *Ledger) Append(e Entry) error {
	var payload sql.NullString
	if e.Payload != nil {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := l.db.Exec(`
		INSERT INTO event_ledger (event_type, timestamp, light_id, correlation_id, command, error, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(e.EventType), ts.UTC().UnixMilli(), e.LightID, e.CorrelationID, e.Command, e.Error, payload)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries for a light, newest first.
func (l *Ledger) Recent(lightID, limit int) ([]Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, light_id, correlation_id, command, error, payload
		FROM event_ledger
		WHERE light_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, lightID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()
	return scan(rows)
}

// ByCorrelation returns every entry sharing a correlation id, oldest first.
func (l *Ledger) ByCorrelation(id string) ([]Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, light_id, correlation_id, command, error, payload
		FROM event_ledger
		WHERE correlation_id = ?
		ORDER BY timestamp, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()
	return scan(rows)
}

// DeleteOlderThan removes entries older than retention.
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().UnixMilli()
	res, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartRetention prunes old entries every interval until ctx is done.
func (l *Ledger) StartRetention(ctx context.Context, interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := l.DeleteOlderThan(retention)
				if err != nil {
					log.Warn().Err(err).Msg("Failed to prune ledger")
					continue
				}
				if n > 0 {
					log.Debug().Int64("deleted", n).Msg("Pruned ledger")
				}
			}
		}
	}()
}

func scan(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e                      Entry
			ts                     int64
			correlation, cmd, errS sql.NullString
			payload                sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EventType, &ts, &e.LightID, &correlation, &cmd, &errS, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.CorrelationID = correlation.String
		e.Command = cmd.String
		e.Error = errS.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

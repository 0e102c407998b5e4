// Package query provides read-only access to the Postgres event log.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Service reads event history from the dyad.events table. Live state is
// served from the engine directly; the event log answers historical
// questions.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// EventRecord is one logged event for API responses.
type EventRecord struct {
	Sequence  int64           `json:"sequence"`
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Block     uint64          `json:"block"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// RecentEvents returns up to limit events at or after fromSequence, in
// sequence order. A fromSequence of zero starts from the beginning.
func (s *Service) RecentEvents(ctx context.Context, fromSequence int64, limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, block, payload, timestamp
		FROM dyad.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// PositionHistory returns the logged events touching one position id,
// newest first. Position ids appear in payloads under different keys
// depending on the event type.
func (s *Service) PositionHistory(ctx context.Context, id uint64, limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, block, payload, timestamp
		FROM dyad.events
		WHERE payload->>'position_id' = $1::TEXT
		   OR payload->>'from_id' = $1::TEXT
		   OR payload->>'to_id' = $1::TEXT
		   OR payload->>'old_id' = $1::TEXT
		   OR payload->>'new_id' = $1::TEXT
		ORDER BY sequence DESC
		LIMIT $2
	`, int64(id), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// SyncHistory returns the most recent completed sync cycles, newest first.
func (s *Service) SyncHistory(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, block, payload, timestamp
		FROM dyad.events
		WHERE event_type = 'SyncCompleted'
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]EventRecord, error) {
	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		var block int64
		if err := rows.Scan(&e.Sequence, &e.EventID, &e.EventType, &block, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Block = uint64(block)
		events = append(events, e)
	}
	return events, rows.Err()
}

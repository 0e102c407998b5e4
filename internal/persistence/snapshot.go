package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"dyadledger/internal/engine"
	"dyadledger/internal/registry"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for
// recovery. A snapshot captures the full in-memory state: the engine
// globals, every live position, the stable ledger, and the vault.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serializable full state at a point in time.
type SnapshotData struct {
	Globals        engine.GlobalsSnap      `json:"globals"`
	Positions      []registry.PositionSnap `json:"positions"`
	NextPositionID uint64                  `json:"next_position_id"`
	Balances       map[string]string       `json:"balances"` // address -> stable balance
	TotalSupply    string                  `json:"total_supply"`
	VaultBalance   string                  `json:"vault_balance"`
	CreatedAt      time.Time               `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Size in bytes is returned
// for the snapshot gauge.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO dyad.snapshots
			(snapshot_id, sequence, data, format_version, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, size_bytes = $5
	`, uuid.New(), snap.Globals.Sequence, data, int32(1), len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent snapshot, or nil on cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM dyad.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// LatestSequence returns the highest sequence in the event log, zero when
// the log is empty.
func (sm *SnapshotManager) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM dyad.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

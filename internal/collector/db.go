package collector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	device_id  TEXT PRIMARY KEY,
	share_code TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS device_status (
	device_id  TEXT PRIMARY KEY REFERENCES devices(device_id),
	location   TEXT,
	did_fall   INTEGER NOT NULL DEFAULT 0,
	samples    INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);`

// ShareCodePrefix starts every share code
const ShareCodePrefix = "seesafe/"

// DeviceStatus is the latest known state of a device
type DeviceStatus struct {
	DeviceID  string                `json:"deviceId"`
	Location  *types.LocationSample `json:"locationData"`
	DidFall   bool                  `json:"didFall"`
	Samples   int                   `json:"samples"`
	UpdatedAt int64                 `json:"updatedAt"`
}

// DB stores registered devices and their latest status
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// OpenDB opens (or creates) the collector database. ":memory:" works for tests.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open collector db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000;", "PRAGMA foreign_keys = ON;"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure collector db: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate collector db: %w", err)
	}
	return &DB{db: db, now: time.Now}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Register returns the device context for deviceID, creating it when the id
// is empty or unknown. created reports whether a row was inserted.
func (d *DB) Register(ctx context.Context, deviceID string) (dc types.DeviceContext, created bool, err error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID != "" {
		err = d.db.QueryRowContext(ctx,
			`SELECT device_id, share_code FROM devices WHERE device_id = ?`, deviceID).
			Scan(&dc.DeviceID, &dc.ShareCode)
		if err == nil {
			return dc, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return dc, false, fmt.Errorf("lookup device: %w", err)
		}
	} else {
		deviceID = uuid.NewString()
	}

	dc = types.DeviceContext{DeviceID: deviceID, ShareCode: newShareCode()}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO devices (device_id, share_code, created_at) VALUES (?, ?, ?)`,
		dc.DeviceID, dc.ShareCode, d.now().UnixMilli())
	if err != nil {
		return types.DeviceContext{}, false, fmt.Errorf("register device: %w", err)
	}
	logger.Info("Collector", "Registered device %s", dc.DeviceID)
	return dc, true, nil
}

// ResolveShareCode maps a share code to its device id
func (d *DB) ResolveShareCode(ctx context.Context, code string) (string, bool, error) {
	var id string
	err := d.db.QueryRowContext(ctx,
		`SELECT device_id FROM devices WHERE share_code = ?`, strings.TrimSpace(code)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve share code: %w", err)
	}
	return id, true, nil
}

// Known reports whether deviceID is registered
func (d *DB) Known(ctx context.Context, deviceID string) (bool, error) {
	var n int
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE device_id = ?`, deviceID).Scan(&n); err != nil {
		return false, fmt.Errorf("lookup device: %w", err)
	}
	return n > 0, nil
}

// ApplySnapshot merges a snapshot into the stored status. A snapshot without
// location keeps the stored one; didFall is sticky until ClearFall.
func (d *DB) ApplySnapshot(ctx context.Context, snap types.TelemetrySnapshot, fell bool) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var locJSON sql.NullString
	if snap.LocationData != nil {
		b, err := json.Marshal(snap.LocationData)
		if err != nil {
			return err
		}
		locJSON = sql.NullString{String: string(b), Valid: true}
	}
	samples := len(snap.AccelerometerData) + len(snap.GyroscopeData)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO device_status (device_id, location, did_fall, samples, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			location   = COALESCE(excluded.location, device_status.location),
			did_fall   = MAX(device_status.did_fall, excluded.did_fall),
			samples    = device_status.samples + excluded.samples,
			updated_at = excluded.updated_at`,
		snap.DeviceID, locJSON, fell, samples, d.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store status: %w", err)
	}
	return tx.Commit()
}

// ClearFall resets the fall flag once a caregiver acknowledged it
func (d *DB) ClearFall(ctx context.Context, deviceID string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE device_status SET did_fall = 0 WHERE device_id = ?`, deviceID)
	return err
}

// Status returns the latest status; ok is false for unknown devices. A known
// device without telemetry yet has an empty status.
func (d *DB) Status(ctx context.Context, deviceID string) (st DeviceStatus, ok bool, err error) {
	known, err := d.Known(ctx, deviceID)
	if err != nil || !known {
		return st, false, err
	}
	st.DeviceID = deviceID

	var loc sql.NullString
	err = d.db.QueryRowContext(ctx,
		`SELECT location, did_fall, samples, updated_at FROM device_status WHERE device_id = ?`, deviceID).
		Scan(&loc, &st.DidFall, &st.Samples, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return st, true, nil
	}
	if err != nil {
		return st, false, fmt.Errorf("load status: %w", err)
	}
	if loc.Valid {
		var l types.LocationSample
		if err := json.Unmarshal([]byte(loc.String), &l); err != nil {
			return st, false, fmt.Errorf("decode location: %w", err)
		}
		st.Location = &l
	}
	return st, true, nil
}

func newShareCode() string {
	return ShareCodePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/study-buddy/internal/domain"
	"github.com/ashureev/study-buddy/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	sqliteRetryAttempts = 3
	sqliteRetryDelay    = 50 * time.Millisecond
)

// SQLiteStore implements Repository and KV using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	deleteMu sync.Mutex // serializes namespace sweeps with device deletes
}

var (
	_ Repository = (*SQLiteStore)(nil)
	_ KV         = (*SQLiteStore)(nil)
)

// NewSQLite creates a new SQLite-backed store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_devices_last_seen ON devices(last_seen_at);

	CREATE TABLE IF NOT EXISTS kv (
		ns TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (ns, key)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by id.
func (s *SQLiteStore) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	query := `
		SELECT device_id, last_seen_at, created_at, updated_at
		FROM devices WHERE device_id = ?`

	var device domain.Device
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(
		&device.DeviceID, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan device row: %w", err)
	}

	device.LastSeenAt = time.Unix(lastSeen, 0)
	device.CreatedAt = time.Unix(createdAt, 0)
	device.UpdatedAt = time.Unix(updatedAt, 0)
	return &device, nil
}

// UpsertDevice creates or updates a device record.
func (s *SQLiteStore) UpsertDevice(ctx context.Context, device *domain.Device) error {
	query := `
	INSERT INTO devices (device_id, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(device_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return shared.RetrySQLite(ctx, sqliteRetryAttempts, sqliteRetryDelay, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			device.DeviceID, device.LastSeenAt.Unix(),
			device.CreatedAt.Unix(), device.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert device: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a device.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, deviceID string, lastSeen time.Time) error {
	query := `UPDATE devices SET last_seen_at = ?, updated_at = ? WHERE device_id = ?`

	var rows int64
	err := shared.RetrySQLite(ctx, sqliteRetryAttempts, sqliteRetryDelay, func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), deviceID)
		if err != nil {
			return fmt.Errorf("update last_seen: %w", err)
		}
		rows, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "device_id", deviceID)
	}
	return nil
}

// GetExpiredDevices retrieves devices inactive for longer than ttl.
func (s *SQLiteStore) GetExpiredDevices(ctx context.Context, ttl time.Duration) ([]*domain.Device, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT device_id, last_seen_at, created_at, updated_at
		FROM devices WHERE last_seen_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired devices: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired devices rows", "error", closeErr)
		}
	}()

	var devices []*domain.Device
	for rows.Next() {
		var device domain.Device
		var lastSeen, createdAt, updatedAt int64
		if err := rows.Scan(&device.DeviceID, &lastSeen, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan expired device row: %w", err)
		}
		device.LastSeenAt = time.Unix(lastSeen, 0)
		device.CreatedAt = time.Unix(createdAt, 0)
		device.UpdatedAt = time.Unix(updatedAt, 0)
		devices = append(devices, &device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired devices: %w", err)
	}

	return devices, nil
}

// DeleteDevice removes a device record.
func (s *SQLiteStore) DeleteDevice(ctx context.Context, deviceID string) error {
	s.deleteMu.Lock()
	defer s.deleteMu.Unlock()

	return shared.RetrySQLite(ctx, sqliteRetryAttempts, sqliteRetryDelay, func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE device_id = ?`, deviceID); err != nil {
			return fmt.Errorf("delete device: %w", err)
		}
		return nil
	})
}

// Get implements KV.
func (s *SQLiteStore) Get(ctx context.Context, ns, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE ns = ? AND key = ?`, ns, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements KV.
func (s *SQLiteStore) Set(ctx context.Context, ns, key, value string) error {
	query := `
	INSERT INTO kv (ns, key, value, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(ns, key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	return shared.RetrySQLite(ctx, sqliteRetryAttempts, sqliteRetryDelay, func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, query, ns, key, value, time.Now().Unix()); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		return nil
	})
}

// Delete implements KV.
func (s *SQLiteStore) Delete(ctx context.Context, ns, key string) error {
	return shared.RetrySQLite(ctx, sqliteRetryAttempts, sqliteRetryDelay, func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE ns = ? AND key = ?`, ns, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	})
}

// Take implements KV with a single DELETE ... RETURNING statement, so the
// read and the delete cannot be interleaved with another writer.
func (s *SQLiteStore) Take(ctx context.Context, ns, key string) (string, bool, error) {
	var value string
	found := false
	err := shared.RetrySQLite(ctx, sqliteRetryAttempts, sqliteRetryDelay, func(ctx context.Context) error {
		err := s.db.QueryRowContext(ctx,
			`DELETE FROM kv WHERE ns = ? AND key = ? RETURNING value`, ns, key,
		).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("take %s: %w", key, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// Keys implements KV.
func (s *SQLiteStore) Keys(ctx context.Context, ns, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE ns = ? AND instr(key, ?) = 1 ORDER BY key`, ns, prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close key rows", "error", closeErr)
		}
	}()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// DeleteNamespace implements KV.
func (s *SQLiteStore) DeleteNamespace(ctx context.Context, ns string) (int64, error) {
	s.deleteMu.Lock()
	defer s.deleteMu.Unlock()

	var deleted int64
	err := shared.RetrySQLite(ctx, sqliteRetryAttempts, sqliteRetryDelay, func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE ns = ?`, ns)
		if err != nil {
			return fmt.Errorf("delete namespace: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

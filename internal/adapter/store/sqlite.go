package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/internal/core/port"

	"github.com/jmoiron/sqlx"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
    ip TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    device_type TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
`

// SQLiteStore keeps device records in a single sqlite file. The ip column is the
// uniqueness claim that survives restarts.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

type deviceRow struct {
	IP         string `db:"ip"`
	Name       string `db:"name"`
	DeviceType string `db:"device_type"`
	CreatedAt  int64  `db:"created_at"`
}

func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		logger.Error("failed to open database", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		logger.Error("failed to create schema", zap.Error(err))
		db.Close()
		return nil, err
	}
	logger.Debug("database ready", zap.String("path", path))
	return &SQLiteStore{
		db:     db,
		logger: logger,
	}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, record domain.DeviceRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.NamedExecContext(ctx, `
    INSERT INTO devices (ip, name, device_type, created_at)
    VALUES (:ip, :name, :device_type, :created_at)
    ON CONFLICT(ip) DO NOTHING`, toRow(record))
	if err != nil {
		return fmt.Errorf("insert %s: %w", record.IP, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert %s: %w", record.IP, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateDevice, record.IP)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, ip string) (domain.DeviceRecord, error) {
	var row deviceRow
	err := s.db.GetContext(ctx, &row, `SELECT ip, name, device_type, created_at FROM devices WHERE ip = $1`, ip)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeviceRecord{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, ip)
	}
	if err != nil {
		return domain.DeviceRecord{}, fmt.Errorf("get %s: %w", ip, err)
	}
	return row.record(), nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]domain.DeviceRecord, error) {
	var rows []deviceRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT ip, name, device_type, created_at FROM devices ORDER BY created_at, ip`); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	records := make([]domain.DeviceRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, ip string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE ip = $1`, ip)
	if err != nil {
		return fmt.Errorf("delete %s: %w", ip, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", ip, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, ip)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.logger.Debug("closing database")
	return s.db.Close()
}

func toRow(record domain.DeviceRecord) deviceRow {
	return deviceRow{
		IP:         record.IP,
		Name:       record.Name,
		DeviceType: string(record.DeviceType),
		CreatedAt:  record.CreatedAt.UnixMilli(),
	}
}

func (r deviceRow) record() domain.DeviceRecord {
	return domain.DeviceRecord{
		IP:         r.IP,
		Name:       r.Name,
		DeviceType: domain.DeviceType(r.DeviceType),
		CreatedAt:  time.UnixMilli(r.CreatedAt).UTC(),
	}
}

// ensure interface compliance
var _ port.RecordStore = (*SQLiteStore)(nil)

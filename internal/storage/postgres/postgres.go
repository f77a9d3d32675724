package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pv/sensorhub-go/internal/storage"
)

type Config struct {
	ConnString string
	MaxConns   int32
}

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres: connection string is empty")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: init schema: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, r storage.Reading) (storage.Reading, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, insertSQL,
		r.ID, r.Temperature, r.MoistureLevel, r.MotorStatus, r.RainDetected, r.Timestamp.UTC())
	if err != nil {
		return storage.Reading{}, fmt.Errorf("postgres: insert: %w", err)
	}
	return r, nil
}

func (s *Store) Latest(ctx context.Context) (storage.Reading, error) {
	row := s.pool.QueryRow(ctx, latestSQL)
	r, err := scanReading(row.Scan)
	if err == pgx.ErrNoRows {
		return storage.Reading{}, storage.ErrNoReadings
	}
	if err != nil {
		return storage.Reading{}, fmt.Errorf("postgres: latest: %w", err)
	}
	return r, nil
}

func (s *Store) History(ctx context.Context) ([]storage.Reading, error) {
	rows, err := s.pool.Query(ctx, historySQL)
	if err != nil {
		return nil, fmt.Errorf("postgres: history query: %w", err)
	}
	defer rows.Close()

	readings := make([]storage.Reading, 0, 64)
	for rows.Next() {
		r, err := scanReading(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("postgres: history scan: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// Reset удаляет все записи. Используется генераторами данных и тестами.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE sensor_readings`); err != nil {
		return fmt.Errorf("postgres: reset: %w", err)
	}
	return nil
}

func scanReading(scan func(...any) error) (storage.Reading, error) {
	var r storage.Reading
	var ts time.Time
	if err := scan(&r.ID, &r.Temperature, &r.MoistureLevel, &r.MotorStatus, &r.RainDetected, &ts); err != nil {
		return storage.Reading{}, err
	}
	r.Timestamp = ts.UTC()
	return r, nil
}

// seq фиксирует порядок вставки: при равных timestamp свежей считается
// более поздняя запись.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS sensor_readings (
	seq            BIGINT GENERATED ALWAYS AS IDENTITY,
	id             TEXT PRIMARY KEY,
	temperature    DOUBLE PRECISION NOT NULL,
	moisture_level DOUBLE PRECISION NOT NULL,
	motor_status   BOOLEAN NOT NULL,
	rain_data      BOOLEAN NOT NULL,
	ts             TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sensor_readings_ts ON sensor_readings(ts DESC, seq DESC);
`

const insertSQL = `
INSERT INTO sensor_readings(id, temperature, moisture_level, motor_status, rain_data, ts)
VALUES ($1, $2, $3, $4, $5, $6);
`

const latestSQL = `
SELECT id, temperature, moisture_level, motor_status, rain_data, ts
FROM sensor_readings
ORDER BY ts DESC, seq DESC
LIMIT 1;
`

const historySQL = `
SELECT id, temperature, moisture_level, motor_status, rain_data, ts
FROM sensor_readings
ORDER BY ts DESC, seq DESC;
`

func IsPostgresURL(db string) bool {
	return strings.HasPrefix(db, "postgres://") || strings.HasPrefix(db, "postgresql://")
}

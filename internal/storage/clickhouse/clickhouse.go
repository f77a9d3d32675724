package clickhouse

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"github.com/pv/sensorhub-go/internal/storage"
)

type Config struct {
	DSN   string
	Table string
}

type Store struct {
	conn  ch.Conn
	table string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("clickhouse: DSN is empty")
	}
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: parse DSN: %w", err)
	}
	host := parsed.Host
	if host == "" {
		host = "localhost:9000"
	}
	if !strings.Contains(host, ":") {
		host = net.JoinHostPort(host, "9000")
	}
	database := strings.TrimPrefix(parsed.Path, "/")
	if database == "" {
		database = "default"
	}
	username := parsed.User.Username()
	password, _ := parsed.User.Password()

	opts := &ch.Options{
		Addr: []string{host},
		Auth: ch.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}
	table := cfg.Table
	if table == "" {
		table = "sensor_readings"
	}
	if !strings.Contains(table, ".") {
		table = fmt.Sprintf("%s.%s", database, table)
	}
	store := &Store{conn: conn, table: table}
	if err := store.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(schemaSQL, s.table)
	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("clickhouse: init schema: %w", err)
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
	query := fmt.Sprintf(insertSQL, s.table)
	err := s.conn.Exec(ctx, query,
		ch.Named("id", r.ID),
		ch.Named("temperature", r.Temperature),
		ch.Named("moisture", r.MoistureLevel),
		ch.Named("motor", r.MotorStatus),
		ch.Named("rain", r.RainDetected),
		ch.Named("ts", r.Timestamp.UTC()))
	if err != nil {
		return storage.Reading{}, fmt.Errorf("clickhouse: insert: %w", err)
	}
	return r, nil
}

func (s *Store) Latest(ctx context.Context) (storage.Reading, error) {
	query := fmt.Sprintf(latestSQL, s.table)
	row := s.conn.QueryRow(ctx, query)
	r, err := scanReading(row.Scan)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return storage.Reading{}, storage.ErrNoReadings
		}
		return storage.Reading{}, fmt.Errorf("clickhouse: latest: %w", err)
	}
	if r.ID == "" {
		// Агрегат по пустой таблице отдаёт нулевую строку.
		return storage.Reading{}, storage.ErrNoReadings
	}
	return r, nil
}

func (s *Store) History(ctx context.Context) ([]storage.Reading, error) {
	query := fmt.Sprintf(historySQL, s.table)
	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: history query: %w", err)
	}
	defer rows.Close()

	readings := make([]storage.Reading, 0, 64)
	for rows.Next() {
		r, err := scanReading(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("clickhouse: history scan: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// Reset удаляет все записи. Используется генераторами данных и тестами.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.conn.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", s.table)); err != nil {
		return fmt.Errorf("clickhouse: reset: %w", err)
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

const schemaSQL = `
CREATE TABLE IF NOT EXISTS %s (
	id             String,
	temperature    Float64,
	moisture_level Float64,
	motor_status   Bool,
	rain_data      Bool,
	timestamp      DateTime64(6, 'UTC')
) ENGINE = MergeTree
ORDER BY timestamp;
`

const insertSQL = `
INSERT INTO %s (id, temperature, moisture_level, motor_status, rain_data, timestamp)
VALUES (@id, @temperature, @moisture, @motor, @rain, @ts);
`

const latestSQL = `
SELECT id, temperature, moisture_level, motor_status, rain_data, timestamp
FROM %s
ORDER BY timestamp DESC
LIMIT 1;
`

const historySQL = `
SELECT id, temperature, moisture_level, motor_status, rain_data, timestamp
FROM %s
ORDER BY timestamp DESC;
`

func IsSource(dsn string) bool {
	if dsn == "" {
		return false
	}
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "clickhouse://") || strings.HasPrefix(lower, "ch://")
}

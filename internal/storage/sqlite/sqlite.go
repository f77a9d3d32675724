package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pv/sensorhub-go/internal/storage"
)

type Pragmas struct {
	CacheMB    int
	WAL        bool
	SyncOff    bool
	TempMemory bool
}

type Config struct {
	Source  string
	Pragmas Pragmas
}

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("sqlite: database path is empty")
	}
	db, err := sql.Open("sqlite", cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	applyPragmas(ctx, db, cfg.Pragmas)
	store := &Store{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func applyPragmas(ctx context.Context, db *sql.DB, p Pragmas) {
	pragmas := make([]string, 0, 4)
	if p.CacheMB > 0 {
		// Отрицательное значение cache_size задаёт размер в KiB.
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size=-%d", p.CacheMB*1024))
	}
	if p.WAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	if p.SyncOff {
		pragmas = append(pragmas, "PRAGMA synchronous=OFF")
	}
	if p.TempMemory {
		pragmas = append(pragmas, "PRAGMA temp_store=MEMORY")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Printf("sqlite: %s failed: %v", pragma, err)
		}
	}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlite: init schema: %w", err)
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
	ts := r.Timestamp.UTC()
	_, err := s.db.ExecContext(ctx, insertSQL,
		r.ID, r.Temperature, r.MoistureLevel, r.MotorStatus, r.RainDetected,
		ts.Truncate(time.Second).Format(time.RFC3339), ts.Nanosecond()/1000)
	if err != nil {
		return storage.Reading{}, fmt.Errorf("sqlite: insert: %w", err)
	}
	return r, nil
}

func (s *Store) Latest(ctx context.Context) (storage.Reading, error) {
	row := s.db.QueryRowContext(ctx, latestSQL)
	r, err := scanReading(row.Scan)
	if err == sql.ErrNoRows {
		return storage.Reading{}, storage.ErrNoReadings
	}
	if err != nil {
		return storage.Reading{}, fmt.Errorf("sqlite: latest: %w", err)
	}
	return r, nil
}

func (s *Store) History(ctx context.Context) ([]storage.Reading, error) {
	rows, err := s.db.QueryContext(ctx, historySQL)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history query: %w", err)
	}
	defer rows.Close()

	readings := make([]storage.Reading, 0, 64)
	for rows.Next() {
		r, err := scanReading(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: history scan: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// Reset удаляет все записи. Используется генераторами данных и тестами.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sensor_readings`); err != nil {
		return fmt.Errorf("sqlite: reset: %w", err)
	}
	return nil
}

func scanReading(scan func(...any) error) (storage.Reading, error) {
	var r storage.Reading
	var ts string
	var usec sql.NullInt64
	if err := scan(&r.ID, &r.Temperature, &r.MoistureLevel, &r.MotorStatus, &r.RainDetected, &ts, &usec); err != nil {
		return storage.Reading{}, err
	}
	parsed, err := parseTimestamp(ts, usec.Int64)
	if err != nil {
		return storage.Reading{}, err
	}
	r.Timestamp = parsed
	return r, nil
}

func parseTimestamp(raw string, usec int64) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	var err error
	for _, layout := range layouts {
		var parsed time.Time
		parsed, err = time.Parse(layout, strings.TrimSpace(raw))
		if err == nil {
			return parsed.Add(time.Duration(usec) * time.Microsecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("sqlite: unknown timestamp format %q: %v", raw, err)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sensor_readings (
	id             TEXT PRIMARY KEY,
	temperature    REAL NOT NULL,
	moisture_level REAL NOT NULL,
	motor_status   INTEGER NOT NULL,
	rain_data      INTEGER NOT NULL,
	timestamp      TEXT NOT NULL,
	time_usec      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sensor_readings_ts ON sensor_readings(timestamp, time_usec);
`

const insertSQL = `
INSERT INTO sensor_readings(id, temperature, moisture_level, motor_status, rain_data, timestamp, time_usec)
VALUES (?, ?, ?, ?, ?, ?, ?);
`

const latestSQL = `
SELECT id, temperature, moisture_level, motor_status, rain_data, timestamp, time_usec
FROM sensor_readings
ORDER BY timestamp DESC, time_usec DESC, rowid DESC
LIMIT 1;
`

const historySQL = `
SELECT id, temperature, moisture_level, motor_status, rain_data, timestamp, time_usec
FROM sensor_readings
ORDER BY timestamp DESC, time_usec DESC, rowid DESC;
`

func IsSource(src string) bool {
	if src == "" {
		return false
	}
	lower := strings.ToLower(src)
	switch {
	case strings.HasPrefix(lower, "sqlite://"),
		strings.HasPrefix(lower, "file:"),
		strings.HasSuffix(lower, ".db"),
		src == ":memory:":
		return true
	default:
		return false
	}
}

func NormalizeSource(src string) string {
	if strings.HasPrefix(src, "sqlite://") {
		return strings.TrimPrefix(src, "sqlite://")
	}
	return src
}

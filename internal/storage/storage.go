package storage

import (
	"context"
	"errors"
	"time"
)

// Reading — одно показание датчиков устройства. Поля id и timestamp
// присваивает хранилище при вставке.
type Reading struct {
	ID            string    `json:"id"`
	Temperature   float64   `json:"temperature"`
	MoistureLevel float64   `json:"moisture_level"`
	MotorStatus   bool      `json:"motor_status"`
	RainDetected  bool      `json:"rain_data"`
	Timestamp     time.Time `json:"timestamp"`
}

// ErrNoReadings возвращает Latest, когда в хранилище ещё нет записей.
var ErrNoReadings = errors.New("storage: no readings")

// Store — интерфейс для записи и чтения показаний из конкретного
// хранилища (Postgres, SQLite, ClickHouse...).
type Store interface {
	// Insert добавляет показание. Пустые ID/Timestamp хранилище присваивает
	// само; возвращается сохранённая запись.
	Insert(ctx context.Context, r Reading) (Reading, error)
	// Latest возвращает самую свежую запись по timestamp или ErrNoReadings.
	Latest(ctx context.Context) (Reading, error)
	// History возвращает все записи, отсортированные по timestamp по убыванию.
	History(ctx context.Context) ([]Reading, error)
}

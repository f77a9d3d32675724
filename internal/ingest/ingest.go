package ingest

import (
	"context"
	"fmt"

	"github.com/pv/sensorhub-go/internal/storage"
)

// RawReading — необработанный payload от устройства. Поля-указатели
// позволяют отличить отсутствующее поле от явного false/0: устройство
// законно шлёт rain_data=false, и это полноценное значение.
type RawReading struct {
	Temperature   *float64 `json:"temperature"`
	MoistureLevel *float64 `json:"moisture_level"`
	MotorStatus   *bool    `json:"motor_status"`
	RainDetected  *bool    `json:"rain_data"`
}

// ValidationError описывает нарушение контракта входного payload.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ingest: missing required field %q", e.Field)
}

// Validate проверяет наличие всех четырёх обязательных полей. Проверяется
// именно присутствие поля, а не его «истинность».
func Validate(raw RawReading) (storage.Reading, error) {
	switch {
	case raw.Temperature == nil:
		return storage.Reading{}, &ValidationError{Field: "temperature"}
	case raw.MoistureLevel == nil:
		return storage.Reading{}, &ValidationError{Field: "moisture_level"}
	case raw.MotorStatus == nil:
		return storage.Reading{}, &ValidationError{Field: "motor_status"}
	case raw.RainDetected == nil:
		return storage.Reading{}, &ValidationError{Field: "rain_data"}
	}
	return storage.Reading{
		Temperature:   *raw.Temperature,
		MoistureLevel: *raw.MoistureLevel,
		MotorStatus:   *raw.MotorStatus,
		RainDetected:  *raw.RainDetected,
	}, nil
}

// Notifier получает сохранённую запись для рассылки подписчикам.
type Notifier interface {
	NotifyNewReading(r storage.Reading)
}

// Service реализует путь записи: валидация → хранилище → рассылка.
type Service struct {
	Store storage.Store
	Hub   Notifier
}

// Ingest валидирует payload, сохраняет запись и уведомляет подписчиков.
// Ошибка доставки подписчику не влияет на результат вызова: запись уже
// сохранена, и вызывающему сообщается именно это.
func (s *Service) Ingest(ctx context.Context, raw RawReading) (storage.Reading, error) {
	reading, err := Validate(raw)
	if err != nil {
		return storage.Reading{}, err
	}
	saved, err := s.Store.Insert(ctx, reading)
	if err != nil {
		return storage.Reading{}, fmt.Errorf("ingest: save reading: %w", err)
	}
	if s.Hub != nil {
		s.Hub.NotifyNewReading(saved)
	}
	return saved, nil
}

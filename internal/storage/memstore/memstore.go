package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pv/sensorhub-go/internal/storage"
)

// Store хранит показания в памяти. Используется как хранилище по умолчанию
// (пустой --db) и в тестах.
type Store struct {
	mu       sync.RWMutex
	readings []storage.Reading
}

func New() *Store {
	return &Store{}
}

func (s *Store) Insert(ctx context.Context, r storage.Reading) (storage.Reading, error) {
	if err := ctx.Err(); err != nil {
		return storage.Reading{}, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	s.readings = append(s.readings, r)
	s.mu.Unlock()
	return r, nil
}

func (s *Store) Latest(ctx context.Context) (storage.Reading, error) {
	if err := ctx.Err(); err != nil {
		return storage.Reading{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.readings) == 0 {
		return storage.Reading{}, storage.ErrNoReadings
	}
	// При равных timestamp побеждает более поздняя вставка.
	latest := s.readings[0]
	for _, r := range s.readings[1:] {
		if !r.Timestamp.Before(latest.Timestamp) {
			latest = r
		}
	}
	return latest, nil
}

func (s *Store) History(ctx context.Context) ([]storage.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Копия в обратном порядке вставки: при равных timestamp более поздняя
	// вставка оказывается раньше, как и в Latest.
	s.mu.RLock()
	out := make([]storage.Reading, len(s.readings))
	for i, r := range s.readings {
		out[len(out)-1-i] = r
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Count возвращает количество записей (для тестов и отладки).
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}

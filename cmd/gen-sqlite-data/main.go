package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"time"

	"github.com/pv/sensorhub-go/internal/storage"
	sqliteStore "github.com/pv/sensorhub-go/internal/storage/sqlite"
)

type options struct {
	dbPath  string
	points  int
	step    time.Duration
	startTS string
	reset   bool
}

// Генератор тестовых показаний для SQLite.
func main() {
	var opts options
	flag.StringVar(&opts.dbPath, "db", "readings.db", "path to SQLite database")
	flag.IntVar(&opts.points, "points", 1000, "number of readings to generate")
	flag.DurationVar(&opts.step, "step", time.Second, "interval between readings")
	flag.StringVar(&opts.startTS, "start", time.Now().UTC().Add(-time.Hour).Format(time.RFC3339), "timestamp of the first reading (RFC3339)")
	flag.BoolVar(&opts.reset, "reset", false, "clear existing readings before generating")
	flag.Parse()

	start, err := time.Parse(time.RFC3339, opts.startTS)
	if err != nil {
		log.Fatalf("invalid --start: %v", err)
	}

	ctx := context.Background()
	store, err := sqliteStore.New(ctx, sqliteStore.Config{Source: sqliteStore.NormalizeSource(opts.dbPath)})
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	if opts.reset {
		if err := store.Reset(ctx); err != nil {
			log.Fatalf("reset: %v", err)
		}
	}

	ts := start
	for i := 0; i < opts.points; i++ {
		if _, err := store.Insert(ctx, syntheticReading(ts)); err != nil {
			log.Fatalf("insert reading %d: %v", i, err)
		}
		if (i+1)%1000 == 0 {
			log.Printf("inserted %d/%d readings", i+1, opts.points)
		}
		ts = ts.Add(opts.step)
	}
	log.Printf("done: %d readings from %s step %s", opts.points, start.Format(time.RFC3339), opts.step)
}

func syntheticReading(ts time.Time) storage.Reading {
	moisture := 20 + rand.Float64()*60
	rain := rand.Float64() < 0.2
	return storage.Reading{
		Temperature:   18 + rand.Float64()*12,
		MoistureLevel: moisture,
		MotorStatus:   moisture < 35 && !rain,
		RainDetected:  rain,
		Timestamp:     ts,
	}
}

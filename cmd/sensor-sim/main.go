package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pv/sensorhub-go/internal/feedclient"
	"github.com/pv/sensorhub-go/internal/ingest"
)

type options struct {
	output   string
	interval time.Duration
	count    int
	verbose  bool
}

// sensor-sim имитирует устройство: генерирует показания и шлёт их в hub API.
func main() {
	var opt options
	flag.StringVar(&opt.output, "output", "stdout", "output: stdout или http://localhost:3001 (hub API base URL)")
	flag.DurationVar(&opt.interval, "interval", 5*time.Second, "period between readings")
	flag.IntVar(&opt.count, "count", 0, "stop after N readings (0 = infinite)")
	flag.BoolVar(&opt.verbose, "v", false, "verbose logging (HTTP requests)")
	flag.Parse()

	client := initClient(opt)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(opt.interval)
	defer ticker.Stop()

	sent := 0
	for {
		reading := nextReading()
		if err := client.Send(ctx, reading); err != nil {
			log.Printf("send reading: %v", err)
		} else {
			sent++
		}
		if opt.count > 0 && sent >= opt.count {
			log.Printf("sent %d readings, exiting", sent)
			return
		}
		select {
		case <-ctx.Done():
			log.Printf("interrupted after %d readings", sent)
			return
		case <-ticker.C:
		}
	}
}

func initClient(opt options) feedclient.Client {
	lower := strings.ToLower(opt.output)
	if lower == "stdout" || opt.output == "" {
		return &feedclient.StdoutClient{Writer: os.Stdout}
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		var logger *log.Logger
		if opt.verbose {
			logger = log.New(log.Writer(), "[sim] ", log.Flags())
		}
		return &feedclient.HTTPClient{
			BaseURL: opt.output,
			Logger:  logger,
		}
	}
	log.Fatalf("unsupported --output value: %s", opt.output)
	return nil
}

// nextReading генерирует правдоподобное показание теплицы.
func nextReading() ingest.RawReading {
	temperature := 18 + rand.Float64()*12 // 18..30 °C
	moisture := 20 + rand.Float64()*60    // 20..80 %
	rain := rand.Float64() < 0.2
	// Полив включается на сухой почве и выключается в дождь.
	motor := moisture < 35 && !rain
	return ingest.RawReading{
		Temperature:   &temperature,
		MoistureLevel: &moisture,
		MotorStatus:   &motor,
		RainDetected:  &rain,
	}
}

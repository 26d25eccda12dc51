package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"sync"
	"time"

	"marketstream/internal/bus"
	"marketstream/internal/mdg"
	"marketstream/internal/model"
	"marketstream/internal/model/enum"
	"marketstream/internal/obs"
	"marketstream/internal/recorder"
	"marketstream/pkg/exception"
)

func main() {
	dir := flag.String("dir", "data/journal", "Journal directory for generated events")
	ticks := flag.Int("ticks", 10, "Number of events to generate")
	interval := flag.Duration("interval", 0, "Delay between events")
	symbols := flag.String("symbols", "BTCUSDT", "Comma separated symbols")
	categories := flag.String("categories", "trade,ticker", "Comma separated categories")
	basePrice := flag.Float64("base-price", 100, "Base price")
	baseSize := flag.Float64("base-size", 1, "Base size")
	spread := flag.Float64("spread", 0.01, "Half bid/ask spread")
	flag.Parse()

	if *ticks <= 0 {
		log.Fatalf("ticks must be > 0")
	}

	cats, err := parseCategories(*categories)
	if err != nil {
		log.Fatalf("invalid categories: %v", err)
	}
	generator, err := mdg.NewGenerator(strings.Split(*symbols, ","), cats, *basePrice, *baseSize, *spread)
	if err != nil {
		log.Fatalf("generator init failed: %+v", err)
	}

	ctx := context.Background()
	writer, err := recorder.NewWriter(recorder.DefaultConfig(*dir))
	if err != nil {
		log.Fatalf("journal init failed: %+v", err)
	}
	if err := writer.Start(ctx); err != nil {
		log.Fatalf("journal start failed: %+v", err)
	}

	queue := bus.NewQueue[model.Event](1024)
	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	metrics := obs.NewMetrics()

	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Run(ctx, func(e model.Event) {
			if err := writer.Append(e); err != nil {
				select {
				case errCh <- err:
				default:
				}
			}
		})
	}()

	for i := 0; i < *ticks; i++ {
		start := time.Now()
		e := generator.Next(start.UTC())
		if err := queue.TryPublish(e); err != nil {
			if err == exception.ErrQueueFull {
				metrics.IncQueueDrop()
				continue
			}
			log.Fatalf("publish failed: %+v", err)
		}
		metrics.IncProcessed(time.Since(start))
		if *interval > 0 && i < *ticks-1 {
			time.Sleep(*interval)
		}
	}

	queue.Close()
	wg.Wait()

	var appendErr error
	select {
	case appendErr = <-errCh:
	default:
	}

	if err := writer.Close(); err != nil {
		log.Fatalf("journal close failed: %+v", err)
	}
	if appendErr != nil {
		log.Fatalf("journal append failed: %+v", appendErr)
	}
	snapshot := metrics.Snapshot()
	log.Printf("generated=%d written=%d queue_drops=%d", snapshot.Processed, writer.Written(), snapshot.QueueDrops)
}

func parseCategories(s string) ([]enum.Category, error) {
	var out []enum.Category
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); len(part) == 0 {
			continue
		}
		cat, ok := enum.ParseCategory(part)
		if !ok {
			return nil, exception.ErrInvalidArgument
		}
		out = append(out, cat)
	}
	return out, nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"

	"marketstream/internal/chaos"
	"marketstream/internal/model"
	"marketstream/internal/ops"
	"marketstream/internal/recorder"
	"marketstream/internal/stream"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (stream options are applied to the replay processor)")
	dir := flag.String("dir", "data/journal", "Journal directory")
	prefix := flag.String("prefix", "", "Journal file prefix (default: journal)")
	speed := flag.Float64("speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	verbose := flag.Bool("print", false, "Print every replayed event")
	chaosSeed := flag.Int64("chaos-seed", 0, "Chaos RNG seed (0=time based)")
	chaosDrop := flag.Float64("chaos-drop", 0, "Probability of dropping an event")
	chaosDup := flag.Float64("chaos-dup", 0, "Probability of duplicating an event")
	chaosReorder := flag.Int("chaos-reorder", 1, "Reorder window size (1=keep order)")
	chaosSkew := flag.Duration("chaos-skew", 0, "Max event timestamp skew")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %+v", err)
	}

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		Speed:           *speed,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	})
	if err != nil {
		log.Fatalf("playback init failed: %+v", err)
	}

	engine, err := chaos.NewEngine(chaos.Config{
		Seed:          *chaosSeed,
		DropRate:      *chaosDrop,
		DuplicateRate: *chaosDup,
		ReorderWindow: *chaosReorder,
		MaxSkew:       *chaosSkew,
	})
	if err != nil {
		log.Fatalf("chaos init failed: %+v", err)
	}

	proc, err := stream.New(loaded.Stream)
	if err != nil {
		log.Fatalf("processor init failed: %+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := proc.Start(ctx); err != nil {
		log.Fatalf("processor start failed: %+v", err)
	}

	var index, accepted int
	ingest := func(events []model.Event) {
		for _, e := range events {
			index++
			if proc.Ingest(e) {
				accepted++
			}
			if *verbose {
				fmt.Printf("%06d %s\n", index, e.Debug())
			}
		}
	}
	err = pb.Run(ctx, func(_ recorder.Header, e model.Event) error {
		ingest(engine.Process(e))
		return nil
	})
	ingest(engine.Flush())
	proc.Stop()
	if err != nil && ctx.Err() == nil {
		log.Fatalf("playback run failed: %+v", err)
	}

	stats, err := sonic.ConfigStd.MarshalIndent(proc.Stats(), "", "  ")
	if err != nil {
		log.Fatalf("encode stats failed: %+v", err)
	}
	fmt.Printf("replayed=%d accepted=%d\n%s\n", index, accepted, stats)
}

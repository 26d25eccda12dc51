package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"marketstream/internal/api"
	"marketstream/internal/feed"
	"marketstream/internal/model/enum"
	"marketstream/internal/ops"
	"marketstream/internal/persist"
	"marketstream/internal/publish"
	"marketstream/internal/recorder"
	"marketstream/internal/stream"
	"marketstream/pkg/conn"
)

const (
	memoryReportInterval = time.Minute
	shutdownTimeout      = 5 * time.Second
	publishQueueSize     = 4096
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("stream: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to config file (json/yaml/toml)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if loaded.Profiling.Enabled {
		profiler, err := startProfiler(loaded.Profiling)
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	proc, err := stream.New(loaded.Stream)
	if err != nil {
		return errors.Wrap(err, "create processor")
	}

	lc := &lifecycle{}
	defer lc.Shutdown()
	lc.OnStop(proc.Stop)

	var candles api.CandleReader
	if loaded.Postgres.Enabled {
		pg := loaded.Postgres
		client, err := conn.New(conn.Option{
			Host:            pg.Host,
			Port:            pg.Port,
			User:            pg.User,
			Password:        pg.Password,
			Database:        pg.Database,
			SSLMode:         pg.SSLMode,
			ApplicationName: pg.ApplicationName,
			ConnectTimeout:  time.Duration(pg.ConnectTimeoutMs) * time.Millisecond,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
		})
		if err != nil {
			return errors.Wrap(err, "connect postgres")
		}
		lc.OnRelease(func() { _ = client.Close() })

		repo := persist.NewRepository(client.DB())
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		writer := persist.NewWriter(repo, pg.QueueSize)
		proc.Subscribe(writer.Filter(), writer.Handle)
		lc.Spawn(writer.Run)
		lc.OnDrain(writer.Close)
		candles = repo
		logs.Infof("candle persistence enabled, host: %s, database: %s", pg.Host, pg.Database)
	}

	if loaded.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     loaded.Redis.Addr,
			Password: loaded.Redis.Password,
			DB:       loaded.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return errors.Wrap(err, "ping redis").With("addr", loaded.Redis.Addr)
		}
		lc.OnRelease(func() { _ = rdb.Close() })

		snapshots := publish.NewSnapshotPublisher(rdb, loaded.Redis.KeyPrefix, time.Duration(loaded.Redis.TTLMs)*time.Millisecond, publishQueueSize)
		proc.Subscribe(snapshots.Filter(), snapshots.Handle)
		lc.Spawn(snapshots.Run)
		lc.OnDrain(snapshots.Close)
		logs.Infof("redis snapshots enabled, addr: %s", loaded.Redis.Addr)
	}

	if loaded.Kafka.Enabled {
		bars := publish.NewCandlePublisher(publish.NewKafkaWriter(loaded.Kafka.Brokers, loaded.Kafka.Topic), publishQueueSize)
		proc.Subscribe(bars.Filter(), bars.Handle)
		lc.Spawn(bars.Run)
		lc.OnDrain(bars.Close)
		lc.OnRelease(func() { _ = bars.CloseWriter() })
		logs.Infof("kafka candles enabled, topic: %s", loaded.Kafka.Topic)
	}

	if err := proc.Start(ctx); err != nil {
		return errors.Wrap(err, "start processor")
	}

	var server *http.Server
	if loaded.HTTP.Enabled {
		server = &http.Server{
			Addr:              loaded.HTTP.Addr,
			Handler:           api.NewHandler(proc, candles).SetupRoutes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logs.Infof("http listening: %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logs.Errorf("http server, err: %+v", err)
				stop()
			}
		}()
	}

	if loaded.Feed.Enabled {
		var sink feed.Ingester = proc
		if loaded.Journal.Enabled {
			journal, err := startJournal(loaded.Journal)
			if err != nil {
				return err
			}
			lc.OnRelease(func() {
				if err := journal.Close(); err != nil {
					logs.Errorf("close journal, err: %+v", err)
				}
				logs.Infof("journal closed, written: %d, dropped: %d", journal.Written(), journal.Dropped())
			})
			sink = recorder.NewTee(proc, journal)
		}
		go runFeed(ctx, loaded.Feed, loaded.Stream.Symbols, sink)
	}

	go func() {
		ticker := time.NewTicker(memoryReportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				proc.ReportMemory()
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-sys.Shutdown():
	}
	logs.Info("shutting down")
	stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logs.Errorf("http shutdown, err: %+v", err)
		}
		cancel()
	}

	lc.Shutdown()

	stats := proc.Stats()
	logs.Infof("stopped, processed: %d, skipped: %d, malformed: %d", stats.TotalProcessed, stats.BackpressureCount, stats.Malformed)
	return nil
}

func startJournal(cfg ops.JournalConfig) (*recorder.Writer, error) {
	rc := recorder.DefaultConfig(cfg.Dir)
	if cfg.SegmentMaxBytes > 0 {
		rc.SegmentMaxBytes = cfg.SegmentMaxBytes
	}
	if cfg.SegmentMaxDurationMs > 0 {
		rc.SegmentMaxDuration = time.Duration(cfg.SegmentMaxDurationMs) * time.Millisecond
	}
	if cfg.QueueSize > 0 {
		rc.QueueSize = cfg.QueueSize
	}
	rc.FlushInterval = time.Duration(cfg.FlushIntervalMs) * time.Millisecond

	journal, err := recorder.NewWriter(rc)
	if err != nil {
		return nil, errors.Wrap(err, "create journal")
	}
	if err := journal.Start(context.Background()); err != nil {
		return nil, err
	}
	logs.Infof("feed journal enabled, dir: %s", rc.Dir)
	return journal, nil
}

func runFeed(ctx context.Context, cfg ops.FeedConfig, symbols []string, sink feed.Ingester) {
	cats := make([]enum.Category, 0, len(cfg.Streams))
	for _, s := range cfg.Streams {
		cat, ok := enum.ParseCategory(s)
		if !ok {
			logs.Warnf("skip unknown feed stream %q", s)
			continue
		}
		cats = append(cats, cat)
	}

	pub := feed.NewBinancePub(cfg.URL, sink)
	unsubscribe, err := pub.Run(ctx, symbols, cats)
	if err != nil {
		logs.Errorf("binance feed, err: %+v", err)
		return
	}
	<-ctx.Done()
	unsubscribe()
	pub.Close()
	logs.Infof("binance feed closed, received: %d, decode failures: %d", pub.Received(), pub.DecodeFailures())
}

func startProfiler(cfg ops.ProfilingConfig) (*pyroscope.Profiler, error) {
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Logger:          emptyLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "start pyroscope")
	}
	return profiler, nil
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"movierec/internal/changelog"
	"movierec/internal/config"
	"movierec/internal/logging"
	"movierec/internal/manifest"
	"movierec/internal/metrics"
	"movierec/internal/restore"
	"movierec/internal/state"
)

// Config holds CLI flags for the recovery loop.
type Config struct {
	Bootstrap       string
	ManifestSource  string // file|kafka
	ChangelogSource string // file|kafka
	ChangelogPath   string
	TopicSnapshots  string
	TopicChangelog  string
	SnapshotDir     string
	State           state.Options
	HTTPAddr        string
	PollIntervalSec int
	Once            bool
	LogFile         string
}

func main() {
	if err := config.LoadDotenv(".env"); err != nil {
		log.Fatalf("recover: %v", err)
	}
	cfg := readFlags()
	closer := logging.Setup("recover", cfg.LogFile)
	defer closer.Close()

	mreg := metrics.NewRegistry()
	go func() {
		if err := mreg.Serve(cfg.HTTPAddr); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	var mReader manifest.Reader
	if cfg.ManifestSource == "file" {
		mReader = manifest.NewFilesystemManifest(cfg.SnapshotDir)
	} else {
		mReader = manifest.NewKafkaReader(cfg.Bootstrap, cfg.TopicSnapshots, manifest.LatestKey)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(time.Duration(cfg.PollIntervalSec) * time.Second)
	defer ticker.Stop()
	for {
		if err := cycle(cfg, mReader, mreg); err != nil {
			log.Printf("recovery cycle: %v", err)
		}
		if cfg.Once {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func readFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Bootstrap, "bootstrap", config.Env("KAFKA_BOOTSTRAP", "localhost:19092"), "kafka bootstrap")
	flag.StringVar(&cfg.ManifestSource, "manifest-source", "file", "file|kafka")
	flag.StringVar(&cfg.ChangelogSource, "changelog-source", "file", "file|kafka")
	flag.StringVar(&cfg.ChangelogPath, "changelog", "./changelog/movies.jsonl", "changelog path for file mode")
	flag.StringVar(&cfg.TopicSnapshots, "topic-snapshots", "movierec.snapshots", "manifest topic")
	flag.StringVar(&cfg.TopicChangelog, "topic-changelog", "movierec.changelog", "changelog topic")
	flag.StringVar(&cfg.SnapshotDir, "snapshot-dir", "./snapshots", "snapshot dir")
	flag.StringVar(&cfg.State.Backend, "state-backend", "memory", "restore target: memory|pebble|badger|redis")
	flag.StringVar(&cfg.State.PebbleDir, "pebble-dir", "./data/recover-pebble", "pebble data directory")
	flag.StringVar(&cfg.State.BadgerDir, "badger-dir", "./data/recover-badger", "badger data directory")
	flag.StringVar(&cfg.State.RedisAddr, "redis-addr", config.Env("REDIS_ADDR", "localhost:6379"), "redis address")
	flag.StringVar(&cfg.State.RedisPass, "redis-password", config.Env("REDIS_PASSWORD", ""), "redis password")
	flag.StringVar(&cfg.State.RedisPrefix, "redis-prefix", "movierec-recover:", "redis key prefix")
	flag.StringVar(&cfg.HTTPAddr, "http", ":9090", "http listen for /metrics")
	flag.IntVar(&cfg.PollIntervalSec, "poll", 10, "poll interval seconds for manifest")
	flag.BoolVar(&cfg.Once, "once", false, "run a single recovery cycle and exit")
	flag.StringVar(&cfg.LogFile, "log-file", config.Env("MOVIEREC_LOG_FILE", ""), "also log to this rotating file")
	flag.Parse()
	return cfg
}

// cycle restores the latest snapshot into a fresh store and replays the changelog tail.
func cycle(cfg Config, mReader manifest.Reader, mreg *metrics.Registry) error {
	t1 := time.Now()
	st, closer, err := state.Open(cfg.State)
	if err != nil {
		return err
	}
	defer closer.Close()

	r := restore.NewRestorer(st, mReader, cfg.SnapshotDir)
	m, err := mReader.ReadLatest()
	if err != nil {
		return err
	}
	if err := r.RestoreFromSnapshot(m.SnapshotID); err != nil {
		return err
	}

	var res restore.RestoreResult
	if cfg.ChangelogSource == "file" {
		res = r.ReplayChangelog(cfg.ChangelogPath, m.LastChangelogOffset)
	} else {
		res = r.ReplayChangelogKafka(changelog.SplitBrokers(cfg.Bootstrap), cfg.TopicChangelog, m.LastChangelogOffset)
	}
	if res.Error != nil {
		return res.Error
	}

	mreg.ReplayApplied.Add(float64(res.Applied))
	mreg.ReplaySkipped.Add(float64(res.Skipped))
	mreg.TTRSec.Set(time.Since(t1).Seconds())
	// Lag: head - lastApplied, both as message counts.
	if cfg.ChangelogSource == "kafka" {
		head := headOffset(cfg.TopicChangelog, cfg.Bootstrap)
		if head >= 0 && res.LastAppliedOffset >= 0 {
			mreg.Lag.Set(float64(head - res.LastAppliedOffset))
		}
	} else if head, err := changelog.CountLines(cfg.ChangelogPath); err == nil && res.LastAppliedOffset >= 0 {
		mreg.Lag.Set(float64(head - res.LastAppliedOffset))
	}
	mreg.LastManifestAgeSec.Set(time.Since(time.Unix(m.CreatedAtEpochSecond, 0)).Seconds())
	log.Printf("recovery cycle: snapshot=%s applied=%d skipped=%d ttr=%.3fs", m.SnapshotID, res.Applied, res.Skipped, time.Since(t1).Seconds())
	return nil
}

// headOffset returns the high watermark of partition 0, i.e. the number of messages written.
func headOffset(topic string, bootstrap string) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	brokers := changelog.SplitBrokers(bootstrap)
	if len(brokers) == 0 {
		return -1
	}
	conn, err := kafka.DialLeader(ctx, "tcp", brokers[0], topic, 0)
	if err != nil {
		return -1
	}
	defer conn.Close()
	off, err := conn.ReadLastOffset()
	if err != nil {
		return -1
	}
	return off
}

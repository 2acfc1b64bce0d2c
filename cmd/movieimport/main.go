package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"movierec/internal/changelog"
	"movierec/internal/config"
	"movierec/internal/importer"
	"movierec/internal/logging"
	"movierec/internal/manifest"
	"movierec/internal/metrics"
	"movierec/internal/snapshot"
	"movierec/internal/state"
)

// Config holds CLI flags for the bulk import.
type Config struct {
	Input       string
	Namespace   string
	Workers     int
	Attempts    int
	ExportPath  string
	MaxWatched  int
	StoreExport string
	State       state.Options

	// Snapshot + manifest published after the import
	SnapshotDir    string
	ChangelogPath  string
	ManifestSink   string // file|kafka|both
	KafkaBootstrap string
	TopicSnapshots string
	LogFile        string
	HTTPAddr       string
}

func main() {
	if err := config.LoadDotenv(".env"); err != nil {
		log.Fatalf("movieimport: %v", err)
	}
	cfg := readFlags()
	closer := logging.Setup("movieimport", cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg)
	stop()
	os.Exit(logging.Finish(closer, err))
}

func readFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Input, "input", config.Env("MOVIEREC_INPUT", "movies.jsonl"), "bulk JSON movie documents (JSON lines or array)")
	flag.StringVar(&cfg.Namespace, "namespace", config.Env("MOVIEREC_NAMESPACE", "test"), "store namespace")
	flag.IntVar(&cfg.Workers, "workers", config.EnvInt("MOVIEREC_WORKERS", 8), "concurrent movie writers")
	flag.IntVar(&cfg.Attempts, "attempts", 3, "store write attempts per movie")
	flag.StringVar(&cfg.ExportPath, "export", "", "write the imported documents back out as JSON lines")
	flag.IntVar(&cfg.MaxWatched, "max-watched", 0, "sort and trim exported histories to this size (0 keeps all)")
	flag.StringVar(&cfg.StoreExport, "store-export", "", "after import, dump the stored aggregates as JSON lines")
	flag.StringVar(&cfg.State.Backend, "state-backend", config.Env("MOVIEREC_STATE_BACKEND", "pebble"), "state backend: memory|pebble|badger|redis")
	flag.StringVar(&cfg.State.PebbleDir, "pebble-dir", "./data/pebble", "pebble data directory")
	flag.StringVar(&cfg.State.BadgerDir, "badger-dir", "./data/badger", "badger data directory")
	flag.StringVar(&cfg.State.RedisAddr, "redis-addr", config.Env("REDIS_ADDR", "localhost:6379"), "redis address")
	flag.StringVar(&cfg.State.RedisPass, "redis-password", config.Env("REDIS_PASSWORD", ""), "redis password")
	flag.StringVar(&cfg.State.RedisPrefix, "redis-prefix", "movierec:", "redis key prefix")
	flag.StringVar(&cfg.SnapshotDir, "snapshot-dir", "./snapshots", "snapshot directory (empty disables)")
	flag.StringVar(&cfg.ChangelogPath, "changelog", "./changelog/movies.jsonl", "file changelog whose length the manifest records")
	flag.StringVar(&cfg.ManifestSink, "manifest-sink", "file", "manifest sink: file|kafka|both")
	flag.StringVar(&cfg.KafkaBootstrap, "kafka-bootstrap", config.Env("KAFKA_BOOTSTRAP", ""), "kafka bootstrap servers")
	flag.StringVar(&cfg.TopicSnapshots, "topic-snapshots", "movierec.snapshots", "kafka topic for manifest (compacted)")
	flag.StringVar(&cfg.LogFile, "log-file", config.Env("MOVIEREC_LOG_FILE", ""), "also log to this rotating file")
	flag.StringVar(&cfg.HTTPAddr, "http", "", "serve /metrics on this address while importing")
	flag.Parse()
	return cfg
}

func run(ctx context.Context, cfg Config) error {
	log.Printf("starting import input=%s backend=%s namespace=%s workers=%d", cfg.Input, cfg.State.Backend, cfg.Namespace, cfg.Workers)

	st, closer, err := state.Open(cfg.State)
	if err != nil {
		return fmt.Errorf("init state: %w", err)
	}
	defer closer.Close()

	mreg := metrics.NewRegistry()
	if cfg.HTTPAddr != "" {
		go func() {
			if err := mreg.Serve(cfg.HTTPAddr); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	in, err := os.Open(cfg.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	loader := &importer.Loader{
		Store:     st,
		Namespace: cfg.Namespace,
		Workers:   cfg.Workers,
		Attempts:  uint(cfg.Attempts),
		Delay:     100 * time.Millisecond,
		Metrics:   mreg,
	}
	if cfg.ExportPath != "" {
		out, err := os.Create(cfg.ExportPath)
		if err != nil {
			return fmt.Errorf("create export: %w", err)
		}
		defer out.Close()
		loader.Export = importer.NewExporter(out, cfg.MaxWatched)
	}

	t0 := time.Now()
	res, err := loader.Load(ctx, in)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	log.Printf("imported movies=%d events=%d in %s", res.Movies, res.Events, time.Since(t0).Round(time.Millisecond))

	if cfg.StoreExport != "" {
		if err := exportStore(st, cfg); err != nil {
			return err
		}
	}
	if cfg.SnapshotDir == "" {
		return nil
	}
	return publishSnapshot(st, cfg, mreg)
}

func exportStore(st state.Store, cfg Config) error {
	out, err := os.Create(cfg.StoreExport)
	if err != nil {
		return fmt.Errorf("create store export: %w", err)
	}
	defer out.Close()
	n, err := importer.ExportStore(out, st, cfg.Namespace)
	if err != nil {
		return fmt.Errorf("store export: %w", err)
	}
	log.Printf("exported %d stored movies to %s", n, cfg.StoreExport)
	return nil
}

// publishSnapshot writes a snapshot and points the manifest at it. The manifest
// offset is the current changelog length, so replay starts after it.
func publishSnapshot(st state.Store, cfg Config, mreg *metrics.Registry) error {
	snap := snapshot.NewFilesystemSnapshotter(cfg.SnapshotDir)
	id := time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	n, err := snap.WriteSnapshot(id, st)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	mreg.SnapshotRecords.Set(float64(n))
	offset, err := changelog.CountLines(cfg.ChangelogPath)
	if err != nil {
		return fmt.Errorf("changelog offset: %w", err)
	}

	var mani manifest.Publisher = manifest.NewFilesystemManifest(cfg.SnapshotDir)
	if (cfg.ManifestSink == "kafka" || cfg.ManifestSink == "both") && cfg.KafkaBootstrap != "" {
		maniK := manifest.NewKafkaManifest(cfg.KafkaBootstrap, cfg.TopicSnapshots, manifest.LatestKey)
		if cfg.ManifestSink == "kafka" {
			mani = maniK
		} else {
			mani = manifest.MultiPublisher(mani, maniK)
		}
	}
	if err := mani.PublishLatest(id, offset); err != nil {
		return fmt.Errorf("publish manifest: %w", err)
	}
	log.Printf("snapshot %s published: records=%d changelog-offset=%d", id, n, offset)
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"movierec/internal/changelog"
	"movierec/internal/config"
	"movierec/internal/logging"
	"movierec/internal/manifest"
	"movierec/internal/metrics"
	"movierec/internal/ratings"
	"movierec/internal/snapshot"
	"movierec/internal/state"
)

// Config holds CLI flags for the ratings daemon.
type Config struct {
	Namespace        string
	GroupID          string
	SnapshotInterval int
	ChangelogOn      bool
	ChangelogDir     string
	SnapshotDir      string
	State            state.Options
	CrashMode        string // ""|before|mid|after

	// Kafka sinks
	KafkaBootstrap string
	ChangelogSink  string // file|kafka|both
	ManifestSink   string // file|kafka|both
	TopicChangelog string
	TopicSnapshots string

	// Rating events input
	InputSource  string // file|kafka
	InputFile    string
	TopicRatings string

	// Output EOS (movie aggregates)
	OutputTopic string
	OutputTxID  string

	HTTPAddr string
	LogFile  string
}

const changelogFile = "movies.jsonl"

func main() {
	if err := config.LoadDotenv(".env"); err != nil {
		log.Fatalf("ratingsd: %v", err)
	}
	cfg := readFlags()
	closer := logging.Setup("ratingsd", cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg)
	stop()
	os.Exit(logging.Finish(closer, err))
}

func readFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Namespace, "namespace", config.Env("MOVIEREC_NAMESPACE", "test"), "store namespace")
	flag.StringVar(&cfg.GroupID, "group-id", "ratingsd", "consumer group id")
	flag.IntVar(&cfg.SnapshotInterval, "snapshot-interval", config.EnvInt("MOVIEREC_SNAPSHOT_INTERVAL", 60), "snapshot interval seconds (0 disables)")
	flag.BoolVar(&cfg.ChangelogOn, "changelog", config.EnvBool("MOVIEREC_CHANGELOG", true), "enable changelog emission")
	flag.StringVar(&cfg.ChangelogDir, "changelog-dir", "./changelog", "file changelog directory")
	flag.StringVar(&cfg.SnapshotDir, "snapshot-dir", "./snapshots", "snapshot directory")
	flag.StringVar(&cfg.State.Backend, "state-backend", config.Env("MOVIEREC_STATE_BACKEND", "pebble"), "state backend: memory|pebble|badger|redis")
	flag.StringVar(&cfg.State.PebbleDir, "pebble-dir", "./data/pebble", "pebble data directory")
	flag.StringVar(&cfg.State.BadgerDir, "badger-dir", "./data/badger", "badger data directory")
	flag.StringVar(&cfg.State.RedisAddr, "redis-addr", config.Env("REDIS_ADDR", "localhost:6379"), "redis address")
	flag.StringVar(&cfg.State.RedisPass, "redis-password", config.Env("REDIS_PASSWORD", ""), "redis password")
	flag.StringVar(&cfg.State.RedisPrefix, "redis-prefix", "movierec:", "redis key prefix")
	flag.StringVar(&cfg.CrashMode, "crash", "", "simulate crash: before|mid|after")
	flag.StringVar(&cfg.KafkaBootstrap, "kafka-bootstrap", config.Env("KAFKA_BOOTSTRAP", ""), "kafka bootstrap servers, e.g. localhost:9092")
	flag.StringVar(&cfg.ChangelogSink, "changelog-sink", "file", "changelog sink: file|kafka|both")
	flag.StringVar(&cfg.ManifestSink, "manifest-sink", "file", "manifest sink: file|kafka|both")
	flag.StringVar(&cfg.TopicChangelog, "topic-changelog", "movierec.changelog", "kafka topic for changelog")
	flag.StringVar(&cfg.TopicSnapshots, "topic-snapshots", "movierec.snapshots", "kafka topic for manifest (compacted)")
	flag.StringVar(&cfg.InputSource, "input-source", "file", "rating events source: file|kafka")
	flag.StringVar(&cfg.InputFile, "input", "ratings.jsonl", "rating events JSON lines for file input")
	flag.StringVar(&cfg.TopicRatings, "topic-ratings", "movierec.ratings", "kafka topic for rating events")
	flag.StringVar(&cfg.OutputTopic, "output-topic", "movierec.aggregates", "kafka topic for aggregate output")
	flag.StringVar(&cfg.OutputTxID, "output-tx-id", "", "transactional id for aggregate output (enable EOS when set)")
	flag.StringVar(&cfg.HTTPAddr, "http", ":8080", "http listen for /metrics and /healthz")
	flag.StringVar(&cfg.LogFile, "log-file", config.Env("MOVIEREC_LOG_FILE", ""), "also log to this rotating file")
	flag.Parse()
	return cfg
}

func run(ctx context.Context, cfg Config) error {
	log.Printf("starting ratingsd input=%s backend=%s snapshot-interval=%ds changelog=%v", cfg.InputSource, cfg.State.Backend, cfg.SnapshotInterval, cfg.ChangelogOn)

	st, closer, err := state.Open(cfg.State)
	if err != nil {
		return fmt.Errorf("init state: %w", err)
	}
	defer closer.Close()

	mreg := metrics.NewRegistry()
	go func() {
		if err := mreg.Serve(cfg.HTTPAddr); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	d := &daemon{
		st:        st,
		namespace: cfg.Namespace,
		snap:      snapshot.NewFilesystemSnapshotter(cfg.SnapshotDir),
		mreg:      mreg,
	}
	if err := d.initManifest(cfg); err != nil {
		return err
	}
	if cfg.ChangelogOn {
		if err := d.initChangelog(cfg); err != nil {
			return err
		}
	}

	if cfg.InputSource == "kafka" && cfg.KafkaBootstrap != "" {
		err = consumeKafka(ctx, cfg, d)
	} else {
		err = consumeFile(ctx, cfg, d)
	}
	if err != nil {
		return err
	}
	if cfg.SnapshotInterval > 0 {
		return d.snapshot()
	}
	return nil
}

func (d *daemon) initManifest(cfg Config) error {
	maniFS := manifest.NewFilesystemManifest(cfg.SnapshotDir)
	d.mani = maniFS
	if (cfg.ManifestSink == "kafka" || cfg.ManifestSink == "both") && cfg.KafkaBootstrap != "" {
		maniK := manifest.NewKafkaManifest(cfg.KafkaBootstrap, cfg.TopicSnapshots, manifest.LatestKey)
		if cfg.ManifestSink == "kafka" {
			d.mani = maniK
		} else {
			d.mani = manifest.MultiPublisher(maniFS, maniK)
		}
	}
	return nil
}

// initChangelog opens the sinks. The file sink's existing length seeds the
// offset recorded in manifests; kafka-only deployments start at 0 and rely on
// seq idempotency during replay.
func (d *daemon) initChangelog(cfg Config) error {
	var clog changelog.Writer
	if cfg.ChangelogSink == "file" || cfg.ChangelogSink == "both" || cfg.ChangelogSink == "" {
		fw, err := changelog.NewFileWriter(cfg.ChangelogDir, changelogFile)
		if err != nil {
			return fmt.Errorf("init changelog file: %w", err)
		}
		n, err := changelog.CountLines(fw.Path())
		if err != nil {
			return fmt.Errorf("changelog offset: %w", err)
		}
		d.offset = n
		clog = fw
	}
	if (cfg.ChangelogSink == "kafka" || cfg.ChangelogSink == "both") && cfg.KafkaBootstrap != "" {
		kw := changelog.NewKafkaWriter(cfg.KafkaBootstrap, cfg.TopicChangelog)
		d.closers = append(d.closers, kw.Close)
		if clog == nil {
			clog = kw
		} else {
			clog = changelog.NewMultiWriter(clog, kw)
		}
	}
	d.clog = clog
	return nil
}

// consumeFile applies every event in the input file, snapshotting on the interval.
// An event without an explicit seq is sequenced by its line number.
func consumeFile(ctx context.Context, cfg Config, d *daemon) error {
	f, err := os.Open(cfg.InputFile)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	defer d.close()

	interval := time.Duration(cfg.SnapshotInterval) * time.Second
	last := time.Now()
	dec := json.NewDecoder(f)
	for line := int64(1); ; line++ {
		if err := ctx.Err(); err != nil {
			return nil
		}
		var ev ratings.Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode event %d: %w", line, err)
		}
		if ev.Seq == 0 {
			ev.Seq = line
		}
		if _, _, err := d.handle(ev, nil); err != nil {
			return err
		}
		if interval > 0 && time.Since(last) >= interval {
			if err := d.snapshot(); err != nil {
				return err
			}
			last = time.Now()
		}
	}
}

// consumeKafka reads rating events until ctx is done. Each event is sequenced
// by its offset, so a redelivery after a failed commit is skipped by the store.
// With an output transactional id set, each event's aggregate is produced to
// the output topic in a transaction carrying the consumer offsets; a failed
// transaction rewinds to the event so its output is produced again.
func consumeKafka(ctx context.Context, cfg Config, d *daemon) error {
	defer d.close()
	c, err := ck.NewConsumer(&ck.ConfigMap{
		"bootstrap.servers":  cfg.KafkaBootstrap,
		"group.id":           cfg.GroupID,
		"enable.auto.commit": false,
		"isolation.level":    "read_committed",
		"auto.offset.reset":  "earliest",
	})
	if err != nil {
		return fmt.Errorf("consumer: %w", err)
	}
	defer c.Close()
	if err := c.SubscribeTopics([]string{cfg.TopicRatings}, nil); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	var p *ck.Producer
	if cfg.OutputTxID != "" {
		prod, err := ck.NewProducer(&ck.ConfigMap{
			"bootstrap.servers":  cfg.KafkaBootstrap,
			"enable.idempotence": true,
			"acks":               "all",
			"transactional.id":   cfg.OutputTxID,
		})
		if err != nil {
			return fmt.Errorf("producer: %w", err)
		}
		if err := prod.InitTransactions(ctx); err != nil {
			prod.Close()
			return fmt.Errorf("init tx: %w", err)
		}
		p = prod
		defer p.Close()
	}

	interval := time.Duration(cfg.SnapshotInterval) * time.Second
	last := time.Now()
	for ctx.Err() == nil {
		if interval > 0 && time.Since(last) >= interval {
			if err := d.snapshot(); err != nil {
				return err
			}
			last = time.Now()
		}

		msg, err := c.ReadMessage(time.Second)
		if err != nil {
			var kerr ck.Error
			if errors.As(err, &kerr) && kerr.Code() == ck.ErrTimedOut {
				continue
			}
			log.Printf("read: %v", err)
			continue
		}
		var ev ratings.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Printf("skip malformed event at %v: %v", msg.TopicPartition, err)
			d.mreg.RatingsFailed.Inc()
			if _, err := c.CommitMessage(msg); err != nil {
				log.Printf("commit: %v", err)
			}
			continue
		}
		ev.Seq = int64(msg.TopicPartition.Offset) + 1

		if p == nil {
			if _, _, err := d.handle(ev, nil); err != nil {
				return err
			}
			if _, err := c.CommitMessage(msg); err != nil {
				log.Printf("commit: %v", err)
			}
			continue
		}

		if err := p.BeginTransaction(); err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if cfg.CrashMode == "before" {
			log.Fatalf("crash before SendOffsetsToTransaction")
		}
		produce := func(out ratings.Output, b []byte) error {
			return p.Produce(&ck.Message{
				TopicPartition: ck.TopicPartition{Topic: &cfg.OutputTopic, Partition: ck.PartitionAny},
				Key:            []byte(out.Key),
				Value:          b,
			}, nil)
		}
		if _, _, err := d.handle(ev, produce); err != nil {
			abort(ctx, p, d.mreg)
			return err
		}
		if err := sendOffsets(ctx, c, p); err != nil {
			log.Printf("send offsets: %v", err)
			abort(ctx, p, d.mreg)
			if err := rewind(c, msg); err != nil {
				return err
			}
			continue
		}
		if cfg.CrashMode == "mid" {
			log.Fatalf("crash mid (after SendOffsetsToTransaction, before CommitTransaction)")
		}
		if err := p.CommitTransaction(ctx); err != nil {
			log.Printf("commit tx: %v", err)
			abort(ctx, p, d.mreg)
			if err := rewind(c, msg); err != nil {
				return err
			}
			continue
		}
		if cfg.CrashMode == "after" {
			log.Fatalf("crash after CommitTransaction")
		}
		d.mreg.TxProduced.Inc()
	}
	return nil
}

func sendOffsets(ctx context.Context, c *ck.Consumer, p *ck.Producer) error {
	parts, err := c.Assignment()
	if err != nil {
		return err
	}
	offsets, err := c.Position(parts)
	if err != nil {
		return err
	}
	meta, err := c.GetConsumerGroupMetadata()
	if err != nil {
		return err
	}
	return p.SendOffsetsToTransaction(ctx, offsets, meta)
}

// rewind moves the consumer back to msg so it is read again after an abort.
func rewind(c *ck.Consumer, msg *ck.Message) error {
	if err := c.Seek(msg.TopicPartition, 0); err != nil {
		return fmt.Errorf("seek %v: %w", msg.TopicPartition, err)
	}
	return nil
}

func abort(ctx context.Context, p *ck.Producer, mreg *metrics.Registry) {
	if err := p.AbortTransaction(ctx); err != nil {
		log.Printf("abort tx: %v", err)
	}
	mreg.TxAborted.Inc()
}

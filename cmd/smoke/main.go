// Command smoke checks that the configured store, spatial engine and Kafka
// brokers are reachable before a deploy.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geostore/internal/core/config"
	"github.com/mohammed-shakir/geostore/internal/core/httpclient"
	"github.com/mohammed-shakir/geostore/internal/events"
	"github.com/mohammed-shakir/geostore/internal/logger"
	"github.com/mohammed-shakir/geostore/internal/store"
	"github.com/mohammed-shakir/geostore/internal/store/backend"
	"github.com/mohammed-shakir/geostore/internal/upstream"
)

var errNoReply = errors.New("no reply")

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "dotenv file to load when present")
	timeout := flag.Duration("timeout", 20*time.Second, "overall deadline")
	skipKafka := flag.Bool("skip-kafka", false, "skip the Kafka roundtrip even when events are enabled")
	flag.Parse()

	cfg := config.Load(*envFile)
	zl := logger.Build(logger.Config{Level: cfg.LogLevel, Console: cfg.LogConsole, Env: cfg.AppEnv, Component: "smoke"}, os.Stdout)
	log := logger.NewSlog(&zl)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	b, err := backend.Open(ctx, cfg.Store, log)
	if err == nil {
		err = checkStore(ctx, b)
		_ = b.Close()
	}
	if err != nil {
		log.Error("store check failed", "driver", cfg.Store.Driver, "err", err)
		return 1
	}
	log.Info("store ok", "driver", cfg.Store.Driver)

	src, release, err := upstream.Open(ctx, cfg.Upstream, httpclient.NewOutbound(httpclient.Options{Timeout: cfg.Upstream.Timeout, UserAgent: "geostore-smoke"}), log)
	if err == nil {
		err = checkUpstream(ctx, src)
		release()
	}
	if err != nil {
		log.Error("upstream check failed", "driver", cfg.Upstream.Driver, "err", err)
		return 1
	}
	log.Info("upstream ok", "driver", cfg.Upstream.Driver)

	if !cfg.Events.Enabled || *skipKafka {
		log.Info("kafka check skipped")
		return 0
	}
	if err := checkKafka(ctx, cfg.Events, log); err != nil {
		log.Error("kafka check failed", "brokers", cfg.Events.Brokers, "err", err)
		return 1
	}
	log.Info("all checks passed")
	return 0
}

func checkStore(ctx context.Context, s store.Store) error {
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func checkUpstream(ctx context.Context, src upstream.Source) error {
	rows, err := src.Query(ctx, upstream.Query{Name: "smoke", SQL: "SELECT 1 AS ok"})
	if err != nil {
		return err
	}
	if len(rows) != 1 {
		return fmt.Errorf("want 1 row, got %d", len(rows))
	}
	if v := rows[0].Float("ok"); v == nil || *v != 1 {
		return fmt.Errorf("unexpected row %v", rows[0])
	}
	return nil
}

func checkKafka(ctx context.Context, cfg config.EventsCfg, log *slog.Logger) error {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_5_0_0
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	cons, err := sarama.NewConsumer(cfg.Brokers, sc)
	if err != nil {
		return fmt.Errorf("consumer create: %w", err)
	}
	defer func() { _ = cons.Close() }()

	return roundtrip(ctx, prod, cons, cfg.Topic, logger.NewID(), log)
}

// roundtrip sends a smoke event keyed by nonce and reads it back from the
// partition and offset the broker assigned.
func roundtrip(ctx context.Context, prod sarama.SyncProducer, cons sarama.Consumer, topic, nonce string, log *slog.Logger) error {
	payload, err := json.Marshal(events.Event{Hash: nonce, Kind: "smoke", Source: "smoke", TS: time.Now().UTC()})
	if err != nil {
		return err
	}
	partition, offset, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(nonce),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	log.Debug("smoke event produced", "topic", topic, "partition", partition, "offset", offset)

	pc, err := cons.ConsumePartition(topic, partition, offset)
	if err != nil {
		return fmt.Errorf("consume partition: %w", err)
	}
	defer func() { _ = pc.Close() }()

	for {
		select {
		case m, ok := <-pc.Messages():
			if !ok {
				return fmt.Errorf("%w: partition consumer closed", errNoReply)
			}
			if string(m.Key) != nonce {
				continue
			}
			var ev events.Event
			if err := json.Unmarshal(m.Value, &ev); err != nil {
				return fmt.Errorf("decode smoke event: %w", err)
			}
			if ev.Hash != nonce {
				return fmt.Errorf("smoke event hash %q, want %q", ev.Hash, nonce)
			}
			return nil
		case err, ok := <-pc.Errors():
			if !ok {
				return fmt.Errorf("%w: partition consumer closed", errNoReply)
			}
			return fmt.Errorf("consume: %w", err)
		case <-ctx.Done():
			return fmt.Errorf("%w after %s: %w", errNoReply, topic, ctx.Err())
		}
	}
}

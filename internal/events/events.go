// Package events publishes record-created notifications to Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geostore/internal/core/observability"
)

// Event announces that a new geometry record was stored.
type Event struct {
	Hash   string    `json:"hash"`
	Kind   string    `json:"kind,omitempty"`
	Source string    `json:"source"`
	ISO    string    `json:"iso,omitempty"`
	Locked bool      `json:"lock,omitempty"`
	TS     time.Time `json:"ts"`
}

// Sink accepts events without blocking the caller.
type Sink interface {
	Publish(ev Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) {}

type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	stopped chan struct{}
}

var _ Sink = (*Publisher)(nil)

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, logger), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		logger:  logger,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				observability.IncEvent("marshal_error")
				p.logger.Warn("events: marshal", "error", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Hash),
				Value: sarama.ByteEncoder(b),
			}
			observability.IncEvent("sent")
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncEvent("error")
				p.logger.Warn("events: producer error", "error", err)
			}
		}
	}()

	return p
}

// Publish enqueues ev; a full queue drops it.
func (p *Publisher) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case p.events <- ev:
	default:
		observability.IncEvent("dropped")
	}
}

// Close drains the queue and closes the producer. Publish must not be called afterwards.
func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}

// Package events publishes "lake extracted" events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/lakeextract/internal/lake"
	"github.com/mohammed-shakir/lakeextract/internal/logger"
)

const DefaultTopic = "lake-extract-events"

type Product struct {
	Year int    `json:"year"`
	Tile string `json:"tile"`
	File string `json:"file"`
}

type FailedYear struct {
	Year  int    `json:"year,omitempty"`
	Tile  string `json:"tile"`
	Error string `json:"error"`
}

type Event struct {
	LakeID    string       `json:"lake_id"`
	StartYear int          `json:"start_year"`
	EndYear   int          `json:"end_year"`
	Tile      string       `json:"tile,omitempty"`
	Fallback  bool         `json:"fallback,omitempty"`
	Products  []Product    `json:"products"`
	Failed    []FailedYear `json:"failed,omitempty"`
	Published []string     `json:"published,omitempty"`
	TS        time.Time    `json:"ts"`
}

// FromReport flattens a run report into an event.
func FromReport(r lake.Report) Event {
	ev := Event{
		LakeID:    r.LakeID,
		StartYear: r.Years.Start,
		EndYear:   r.Years.End,
		Tile:      r.Tile,
		Fallback:  r.Fallback,
		Products:  make([]Product, 0, len(r.Products)),
		Published: r.Published,
		TS:        r.Finished,
	}
	for _, p := range r.Products {
		ev.Products = append(ev.Products, Product{Year: p.Year, Tile: p.Tile, File: filepath.Base(p.Path)})
	}
	for _, f := range r.Failed {
		ev.Failed = append(ev.Failed, FailedYear{Year: f.Year, Tile: f.Tile, Error: f.Err.Error()})
	}
	return ev
}

// Publisher sends one message per finished run, keyed by lake id.
type Publisher struct {
	topic string
	prod  sarama.SyncProducer
	log   *slog.Logger
	now   func() time.Time
}

func NewPublisher(brokers []string, topic string, log *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: no brokers")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create sync producer: %w", err)
	}
	return NewWithProducer(prod, topic, log), nil
}

// NewWithProducer wraps an existing producer.
func NewWithProducer(prod sarama.SyncProducer, topic string, log *slog.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{topic: topic, prod: prod, log: logger.OrDiscard(log), now: time.Now}
}

func (p *Publisher) PublishExtracted(ctx context.Context, ev Event) error {
	if ev.TS.IsZero() {
		ev.TS = p.now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.LakeID),
		Value: sarama.ByteEncoder(b),
	}
	partition, offset, err := p.prod.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("events: send: %w", err)
	}
	p.log.DebugContext(ctx, "extraction event sent", "topic", p.topic, "partition", partition, "offset", offset)
	return nil
}

// Notify implements lake.Notifier.
func (p *Publisher) Notify(ctx context.Context, r lake.Report) error {
	return p.PublishExtracted(ctx, FromReport(r))
}

func (p *Publisher) Close() error {
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}

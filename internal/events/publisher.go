// Package events publishes tracker events (evictions, completed aging
// passes) to Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/hottrack/internal/hottrack"
)

// Publisher is a hottrack.EventSink. Publish never blocks: when the queue is
// full the event is dropped and counted.
type Publisher struct {
	topic   string
	log     zerolog.Logger
	events  chan hottrack.Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	errDone chan struct{}
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ hottrack.EventSink = (*Publisher)(nil)

func NewPublisher(brokers []string, topic string, queueSize int, log zerolog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, log), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, log zerolog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Publisher{
		topic:   topic,
		log:     log.With().Str("component", "events").Logger(),
		events:  make(chan hottrack.Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Error().Err(err).Msg("marshal event")
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Domain + "/" + strconv.FormatUint(ev.ObjectID, 10)),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn().Err(err).Msg("producer error")
			}
		}
	}()

	return p
}

func (p *Publisher) Publish(ev hottrack.Event) {
	if p.closed.Load() {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
	}
}

// Dropped counts events lost to a full queue.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Close flushes queued events and closes the producer. Roots publishing to p
// must be stopped first.
func (p *Publisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.events)
	<-p.stopped

	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}

// Package kafkaconsumer feeds access events from a Kafka topic into the
// tracked domains.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/hottrack/internal/access"
	mylog "github.com/mohammed-shakir/hottrack/internal/logger"
	obs "github.com/mohammed-shakir/hottrack/internal/observability"
)

// Recorder is the slice of a tracking root the consumer needs.
type Recorder interface {
	RecordAccess(objectID, offset, length uint64, write bool)
}

// Resolver finds the recorder of a domain.
type Resolver func(domain string) (Recorder, bool)

type Consumer struct {
	cfg     Config
	log     *zerolog.Logger
	resolve Resolver
	dedupe  *offsetDedupe

	assignMu sync.RWMutex
	assigned map[int32]struct{}
}

func New(cfg Config, log zerolog.Logger, resolve Resolver) *Consumer {
	base := mylog.WithComponent(context.Background(), "kafka_ingest")
	return &Consumer{
		cfg:      cfg,
		log:      mylog.FromContext(base, &log),
		resolve:  resolve,
		dedupe:   newOffsetDedupe(cfg.DedupeSize),
		assigned: map[int32]struct{}{},
	}
}

// Start consumes until ctx is cancelled. Consume errors are logged and
// retried after a pause.
func (c *Consumer) Start(ctx context.Context) error {
	if c.resolve == nil {
		return errors.New("kafkaconsumer: missing domain resolver")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := c.handler()
	c.log.Info().
		Strs("brokers", c.cfg.Brokers).
		Str("topic", c.cfg.Topic).
		Str("group", c.cfg.GroupID).
		Msg("kafka access consumer starting")

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			c.log.Error().Err(err).Str("topic", c.cfg.Topic).Msg("kafka consumer error")
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			c.log.Info().Msg("kafka access consumer shutting down")
			return nil
		}
	}
}

func (c *Consumer) handler() *groupHandler {
	return &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			c.assignMu.Lock()
			c.assigned = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					c.assigned[p] = struct{}{}
				}
			}
			c.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			c.assignMu.Lock()
			c.assigned = map[int32]struct{}{}
			c.assignMu.Unlock()
		},
		process: c.ProcessOne,
	}
}

// Partitions lists the partitions of the current group generation.
func (c *Consumer) Partitions() []int32 {
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	out := make([]int32, 0, len(c.assigned))
	for p := range c.assigned {
		out = append(out, p)
	}
	return out
}

// ProcessOne records a single access event. Malformed events and events for
// untracked domains are skipped, so they never block the partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if !c.dedupe.shouldApply(msg.Topic, msg.Partition, msg.Offset) {
		obs.IncIngested("duplicate")
		return nil
	}

	var ev access.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.skip(ctx, msg, "decode", err)
		return nil
	}
	ctx = mylog.WithObjectID(mylog.WithDomain(ctx, ev.Domain), ev.ObjectID)
	if err := ev.Validate(); err != nil {
		c.skip(ctx, msg, "invalid", err)
		return nil
	}
	rec, ok := c.resolve(ev.Domain)
	if !ok {
		obs.IncIngested("unknown_domain")
		mylog.FromContext(ctx, c.log).Debug().
			Int64("offset", msg.Offset).
			Msg("access event for untracked domain")
		return nil
	}

	rec.RecordAccess(ev.ObjectID, ev.Offset, ev.Length, ev.Write())
	obs.IncIngested("ok")
	return nil
}

func (c *Consumer) skip(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	obs.IncIngested(kind)
	mylog.FromContext(ctx, c.log).Warn().
		Err(err).
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("skipping access event")
}

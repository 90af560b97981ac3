// Package eventbus publishes stream-controller lifecycle and cycle events
// onto Kafka so external observers (dashboards, alerting) can follow a
// strategy without polling the database.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/zeromicro/go-zero/core/logx"
)

// StatusEvent announces a stream controller state transition.
type StatusEvent struct {
	StrategyID string `json:"strategy_id"`
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
	TsMs       int64  `json:"ts_ms"`
}

// CycleEvent announces the outcome of one decision cycle.
type CycleEvent struct {
	StrategyID      string `json:"strategy_id"`
	ComposeID       string `json:"compose_id"`
	CycleIndex      int64  `json:"cycle_index"`
	InstructionCount int   `json:"instruction_count"`
	TradeCount      int    `json:"trade_count"`
	TsMs            int64  `json:"ts_ms"`
}

// Publisher writes strategy lifecycle events to a Kafka topic. A nil
// Publisher (or one built with no brokers) is a safe no-op, so event
// publishing never becomes a hard dependency for running a strategy.
type Publisher struct {
	writer *kafka.Writer
}

// Config configures the Kafka writer backing a Publisher.
type Config struct {
	Brokers []string
	Topic   string
}

// NewPublisher constructs a Kafka-backed publisher, or nil if no brokers are
// configured.
func NewPublisher(cfg Config) *Publisher {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
			Async:        true,
		},
	}
}

func (p *Publisher) ok() bool { return p != nil && p.writer != nil }

// PublishStatus emits a StatusEvent, keyed by strategy_id so a consumer can
// partition and order per-strategy transitions.
func (p *Publisher) PublishStatus(ctx context.Context, event StatusEvent) {
	p.publish(ctx, event.StrategyID, "status", event)
}

// PublishCycle emits a CycleEvent.
func (p *Publisher) PublishCycle(ctx context.Context, event CycleEvent) {
	p.publish(ctx, event.StrategyID, "cycle", event)
}

func (p *Publisher) publish(ctx context.Context, key, kind string, payload any) {
	if !p.ok() {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		logx.WithContext(ctx).Errorf("eventbus: marshal %s event err=%v", kind, err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logx.WithContext(ctx).Errorf("eventbus: publish %s event strategy=%s err=%v", kind, key, err)
	}
}

// Close releases the underlying Kafka writer.
func (p *Publisher) Close() error {
	if !p.ok() {
		return nil
	}
	return p.writer.Close()
}

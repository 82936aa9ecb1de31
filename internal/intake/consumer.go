package intake

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// ConsumerConfig configures the Kafka consumer group.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	ClientID string
}

// Validate checks the required settings.
func (c ConsumerConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka brokers is empty")
	}
	if strings.TrimSpace(c.GroupID) == "" {
		return errors.New("kafka consumer group id is empty")
	}
	if len(c.Topics) == 0 {
		return errors.New("kafka topics is empty")
	}
	return nil
}

// Consumer reads trigger events from a Kafka consumer group.
type Consumer struct {
	cg     sarama.ConsumerGroup
	topics []string
	logger *slog.Logger
}

// NewConsumer connects a consumer group.
func NewConsumer(cfg ConsumerConfig, logger *slog.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Group.Rebalance.Timeout = 30 * time.Second
	sc.Consumer.Group.Session.Timeout = 30 * time.Second
	if id := strings.TrimSpace(cfg.ClientID); id != "" {
		sc.ClientID = id
	}

	cg, err := sarama.NewConsumerGroup(cfg.Brokers, strings.TrimSpace(cfg.GroupID), sc)
	if err != nil {
		return nil, err
	}
	return &Consumer{cg: cg, topics: cfg.Topics, logger: logger}, nil
}

// Run consumes until ctx is canceled. Consume returns on every rebalance,
// so it is called in a loop.
func (c *Consumer) Run(ctx context.Context, handler MessageHandler) error {
	if handler == nil {
		return errors.New("handler is nil")
	}
	h := &groupHandler{h: handler, logger: c.logger}

	c.logger.Info("intake consumer started", slog.Any("topics", c.topics))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.cg.Consume(ctx, c.topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
	}
}

// Close leaves the group.
func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	return c.cg.Close()
}

type groupHandler struct {
	h      MessageHandler
	logger *slog.Logger
}

func (groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (g *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for m := range claim.Messages() {
		msg := Message{
			Topic: m.Topic,
			Key:   m.Key,
			Value: m.Value,
		}
		if len(m.Headers) > 0 {
			msg.Headers = make(map[string]string, len(m.Headers))
			for _, hdr := range m.Headers {
				if hdr == nil || len(hdr.Key) == 0 {
					continue
				}
				msg.Headers[string(hdr.Key)] = string(hdr.Value)
			}
		}

		if err := g.h.Handle(sess.Context(), msg); err != nil {
			g.logger.Warn("trigger event not acknowledged",
				slog.String("topic", m.Topic),
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
			continue
		}
		sess.MarkMessage(m, "")
	}
	return nil
}

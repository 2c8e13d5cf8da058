package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// MessageHandler обрабатывает одно сообщение. Ошибка оставляет offset неподтверждённым.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer читает topics в составе consumer group до вызова Stop.
type Consumer struct {
	group  sarama.ConsumerGroup
	topics []string
	claims *claimHandler
	logger *log.Entry
	wg     sync.WaitGroup
}

func consumerConfig(fromOldest bool) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = producerClientID + "-consumer"
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	if fromOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	return cfg
}

// NewConsumer подключается к брокерам. fromOldest читает topic с начала для новой группы.
func NewConsumer(brokers []string, groupID string, topics []string, fromOldest bool, handler MessageHandler) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, consumerConfig(fromOldest))
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group %s: %w", groupID, err)
	}
	return newConsumer(group, topics, handler), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler) *Consumer {
	logger := log.WithField("component", "kafka-consumer")
	return &Consumer{
		group:  group,
		topics: topics,
		claims: &claimHandler{handle: handler, logger: logger},
		logger: logger,
	}
}

// Start запускает чтение и сбор ошибок группы в фоне.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается на каждом rebalance.
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.topics, c.claims); err != nil {
				c.logger.WithError(err).Error("consume failed")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт завершения фоновых горутин.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// claimHandler передаёт сообщения партиции в MessageHandler.
type claimHandler struct {
	handle MessageHandler
	logger *log.Entry
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim маркирует только обработанные сообщения: упавшее перечитается после rebalance.
func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			if err := h.handle(ctx, msg); err != nil {
				h.logger.WithError(err).WithFields(log.Fields{
					"topic":     msg.Topic,
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("message handler failed")
				continue
			}
			session.MarkMessage(msg, "")
		}
	}
}

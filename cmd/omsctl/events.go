package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// eventConsumer — часть kafka.Consumer, нужная команде tail.
type eventConsumer interface {
	Start(ctx context.Context) error
	Stop() error
}

var newEventConsumer = func(brokers []string, groupID string, topics []string, fromOldest bool, handler kafka.MessageHandler) (eventConsumer, error) {
	return kafka.NewConsumer(brokers, groupID, topics, fromOldest, handler)
}

type tailOptions struct {
	brokers     []string
	topic       string
	group       string
	fromOldest  bool
	maxMessages int
}

func newEventsCmd(cfg app.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect order events published to Kafka",
	}

	opts := tailOptions{brokers: cfg.KafkaBrokers, topic: cfg.KafkaTopic}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print order events as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return tailEvents(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	tail.Flags().StringSliceVar(&opts.brokers, "brokers", opts.brokers, "Kafka brokers (default from OMS_KAFKA_BROKERS)")
	tail.Flags().StringVar(&opts.topic, "topic", opts.topic, "topic to read")
	tail.Flags().StringVar(&opts.group, "group", "", "consumer group (default: random, so every run sees new messages)")
	tail.Flags().BoolVar(&opts.fromOldest, "from-beginning", false, "read the topic from the oldest offset")
	tail.Flags().IntVar(&opts.maxMessages, "max-messages", 0, "exit after this many messages (0 = until interrupted)")

	cmd.AddCommand(tail)
	return cmd
}

func tailEvents(ctx context.Context, out io.Writer, opts tailOptions) error {
	if len(opts.brokers) == 0 {
		return errors.New("kafka brokers are required (--brokers or OMS_KAFKA_BROKERS)")
	}
	if opts.topic == "" {
		opts.topic = kafka.TopicOrderEvents
	}
	if opts.group == "" {
		opts.group = "omsctl-tail-" + uuid.NewString()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	seen := 0
	handler := func(_ context.Context, msg *sarama.ConsumerMessage) error {
		mu.Lock()
		defer mu.Unlock()
		if opts.maxMessages > 0 && seen >= opts.maxMessages {
			return nil
		}
		if err := writeEvent(out, msg); err != nil {
			return err
		}
		seen++
		if opts.maxMessages > 0 && seen >= opts.maxMessages {
			cancel()
		}
		return nil
	}

	consumer, err := newEventConsumer(opts.brokers, opts.group, []string{opts.topic}, opts.fromOldest, handler)
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return consumer.Stop()
}

// writeEvent печатает одну строку на сообщение. Не-envelope сообщения выводятся как есть.
func writeEvent(out io.Writer, msg *sarama.ConsumerMessage) error {
	env, err := kafka.ParseEnvelope(msg.Value)
	if err != nil || env.EventType == "" {
		_, err = fmt.Fprintf(out, "%s[%d]@%d key=%s raw=%s\n", msg.Topic, msg.Partition, msg.Offset, msg.Key, msg.Value)
		return err
	}

	line := fmt.Sprintf("%s[%d]@%d %s %s/%s", msg.Topic, msg.Partition, msg.Offset, env.EventType, env.AggregateType, env.AggregateID)
	if event, err := env.OrderEvent(); err == nil {
		if event.OrderID != 0 {
			line += fmt.Sprintf(" order=%d", event.OrderID)
		}
		if event.Status != "" {
			line += " status=" + event.Status
		}
		if event.TotalAmount != "" {
			line += " total=" + event.TotalAmount
		}
		if event.ReservationID != "" {
			line += " reservation=" + event.ReservationID
		}
		if event.Reason != "" {
			line += fmt.Sprintf(" reason=%q", event.Reason)
		}
	}
	_, err = fmt.Fprintln(out, line)
	return err
}

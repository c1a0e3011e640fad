package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrPermanent marks a message that can never be processed. Handlers wrap it
// to have the message terminated instead of redelivered.
var ErrPermanent = errors.New("permanent message failure")

// redeliveryDelay spaces out retries of a failed message.
const redeliveryDelay = 2 * time.Second

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeEvents starts consuming replicated attendance events. Only events
// published after the consumer is created are delivered. The name is
// sanitised like a subject token. workerCount goroutines run handler
// concurrently.
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName string, handler MessageHandler, workerCount int) error {
	if workerCount < 1 {
		workerCount = 1
	}
	consumerName = subjectToken(consumerName)
	stream, err := c.js.Stream(ctx, AttendanceStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", AttendanceStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: AttendanceSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(workerCount*5, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch attendance events error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				err := handler(ctx, msg)
				switch {
				case err == nil:
					_ = msg.Ack()
				case errors.Is(err, ErrPermanent):
					slog.Error("dropping attendance event", "worker", workerID, "error", err, "subject", msg.Subject())
					_ = msg.Term()
				default:
					slog.Warn("process attendance event error", "worker", workerID, "error", err, "subject", msg.Subject())
					_ = msg.NakWithDelay(redeliveryDelay)
				}
			}
		}(i)
	}

	slog.Info("attendance event consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}

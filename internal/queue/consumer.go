// Package queue turns "booking finalized" messages from the payment flow
// into hold commits.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/efreitasn/seathold/internal/domain"
	"github.com/efreitasn/seathold/internal/observability"
	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
	prefetch   = 16
)

// Committer stops holding seats whose booking has been persisted.
type Committer interface {
	Commit(showtimeID string, seatCodes []string) int
}

// finalizedMessage is the body published once a paid booking is stored.
type finalizedMessage struct {
	ShowtimeID string   `json:"showtime_id" validate:"required,ident"`
	SeatCodes  []string `json:"seat_codes" validate:"required,min=1,dive,required,seat_code"`
}

// CommitConsumer reads finalized bookings from a durable queue and commits
// the matching holds.
type CommitConsumer struct {
	url       string
	queue     string
	committer Committer
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewCommitConsumer creates a new CommitConsumer.
func NewCommitConsumer(url, queue string, committer Committer, validate *validator.Validate, logger *slog.Logger) *CommitConsumer {
	return &CommitConsumer{
		url:       url,
		queue:     queue,
		committer: committer,
		validate:  validate,
		logger:    logger,
	}
}

// Run connects and consumes until ctx is cancelled, reconnecting with
// exponential backoff whenever the broker goes away.
func (c *CommitConsumer) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Warn("commit consumer: dial failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)
		} else {
			backoff = minBackoff
			err = c.consume(ctx, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("commit consumer: consume loop ended",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (c *CommitConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	c.logger.Info("commit consumer started", slog.String("queue", c.queue))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.process(d)
		}
	}
}

// process commits one delivery and acknowledges it. Malformed bodies are
// rejected without requeue so they cannot loop.
func (c *CommitConsumer) process(d amqp.Delivery) {
	if err := c.handle(d.Body); err != nil {
		observability.CommitMessages.WithLabelValues("malformed").Inc()
		c.logger.Warn("commit consumer: message rejected",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.String("error", err.Error()),
		)
		_ = d.Nack(false, false)
		return
	}
	observability.CommitMessages.WithLabelValues("ok").Inc()
	_ = d.Ack(false)
}

func (c *CommitConsumer) handle(body []byte) error {
	var msg finalizedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if err := c.validate.Struct(msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	c.committer.Commit(msg.ShowtimeID, msg.SeatCodes)
	return nil
}

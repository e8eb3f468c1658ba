package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/sabarim/stockharvest/internal/pipeline"
)

// Config defines where run summaries are published
type Config struct {
	AMQPURL  string `mapstructure:"amqp_url" yaml:"amqp_url"`
	Exchange string `mapstructure:"exchange" yaml:"exchange"`
}

// Publisher announces completed runs.
type Publisher interface {
	Publish(ctx context.Context, summary pipeline.RunSummary) error
	Close() error
}

// AMQPPublisher publishes run summaries to a durable fanout exchange
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      *logrus.Entry
	mu       sync.Mutex
}

// Dial connects to the broker and declares the exchange.
func Dial(url, exchange string, log *logrus.Entry) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	log.WithField("exchange", exchange).Info("Run notifications enabled")
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange, log: log}, nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, summary pipeline.RunSummary) error {
	msg, err := publishing(summary)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.PublishWithContext(ctx, p.exchange, "", false, false, msg); err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	p.log.WithField("run_id", summary.RunID).Debug("Run summary published")
	return nil
}

// Close implements Publisher.
func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.log.WithError(err).Error("close rabbitmq channel")
	}
	return p.conn.Close()
}

func publishing(summary pipeline.RunSummary) (amqp.Publishing, error) {
	body, err := json.Marshal(summary)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal payload: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    summary.RunID,
		Type:         "stockharvest.run_summary",
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}

// Noop discards summaries.
type Noop struct{}

func (Noop) Publish(context.Context, pipeline.RunSummary) error { return nil }
func (Noop) Close() error                                       { return nil }

// New returns an AMQP publisher when a URL is configured and Noop otherwise.
func New(cfg Config, log *logrus.Entry) (Publisher, error) {
	if cfg.AMQPURL == "" {
		return Noop{}, nil
	}
	return Dial(cfg.AMQPURL, cfg.Exchange, log)
}

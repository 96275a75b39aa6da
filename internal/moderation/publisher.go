package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"roulette/pkg/types"
)

// Channel is the slice of *amqp.Channel the publisher needs
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Config describes where flagged reports go
type Config struct {
	URL            string        `json:"url" yaml:"url"`
	Exchange       string        `json:"exchange" yaml:"exchange"`
	Buffer         int           `json:"buffer" yaml:"buffer"`
	PublishTimeout time.Duration `json:"publish_timeout" yaml:"publish_timeout"`
}

// DefaultConfig leaves publishing disabled until a broker URL is set
func DefaultConfig() Config {
	return Config{
		Exchange:       "moderation",
		Buffer:         100,
		PublishTimeout: 5 * time.Second,
	}
}

// EventPayload is the message body on the exchange
type EventPayload struct {
	EventType string       `json:"event_type"`
	Data      types.Report `json:"data"`
}

// Publisher forwards flagged reports to a topic exchange from its own goroutine
// ARCHITECTURAL DISCOVERY: The hub hands reports over through a buffered
// channel so a slow or absent broker never stalls matchmaking
type Publisher struct {
	channel Channel
	closer  func() error
	cfg     Config
	logger  *zap.Logger

	queue  chan types.Report
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Dial connects to the broker in cfg.URL. An empty URL yields a log-only publisher.
func Dial(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		logger.Info("Moderation publishing disabled; flagged reports are only logged")
		return newPublisher(nil, nil, cfg, logger), nil
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := NewPublisher(ch, cfg, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.closer = conn.Close
	return p, nil
}

// NewPublisher declares the exchange on ch and starts the publish worker
func NewPublisher(ch Channel, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if ch == nil {
		return nil, ErrNilChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	err := ch.ExchangeDeclare(
		cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}
	return newPublisher(ch, nil, cfg, logger), nil
}

func newPublisher(ch Channel, closer func() error, cfg Config, logger *zap.Logger) *Publisher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	p := &Publisher{
		channel: ch,
		closer:  closer,
		cfg:     cfg,
		logger:  logger,
		queue:   make(chan types.Report, cfg.Buffer),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

// RoutingKey is report.<reason>, so consumers can bind per category
func RoutingKey(report types.Report) string {
	return "report." + report.Reason
}

// Publish queues a report without blocking; a full buffer drops it
func (p *Publisher) Publish(report types.Report) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("Report not published", zap.String("report", report.ID), zap.Error(ErrPublisherClosed))
		return
	}
	select {
	case p.queue <- report:
	default:
		p.logger.Warn("Moderation queue full, report dropped",
			zap.String("report", report.ID), zap.String("reason", report.Reason))
	}
}

func (p *Publisher) worker() {
	defer p.wg.Done()
	for report := range p.queue {
		if err := p.publish(report); err != nil {
			p.logger.Error("Failed to publish report", zap.String("report", report.ID), zap.Error(err))
		}
	}
}

func (p *Publisher) publish(report types.Report) error {
	if p.channel == nil {
		p.logger.Warn("Flagged report",
			zap.String("report", report.ID),
			zap.String("reporter", report.ReporterID),
			zap.String("target", report.TargetID),
			zap.String("reason", report.Reason))
		return nil
	}

	body, err := json.Marshal(EventPayload{EventType: "report.flagged", Data: report})
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(ctx,
		p.cfg.Exchange,
		RoutingKey(report),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    report.ID,
			Timestamp:    report.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.logger.Debug("Report published", zap.String("report", report.ID), zap.String("routing_key", RoutingKey(report)))
	return nil
}

// Close stops accepting reports, drains the queue and releases the broker connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()

	var err error
	if p.channel != nil {
		err = p.channel.Close()
	}
	if p.closer != nil {
		if cerr := p.closer(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

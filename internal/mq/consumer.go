package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает одно сообщение очереди. Ошибка означает
// неудачную обработку: первая доставка возвращается в очередь,
// повторная уходит в DLQ.
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — доставленный конверт с привязкой к исходному AMQP
// сообщению для подтверждения.
type Delivery struct {
	// Message — распарсенный конверт.
	Message Message

	// Queue — очередь, из которой пришло сообщение.
	Queue string

	raw amqp.Delivery
}

// Redelivered сообщает, что брокер доставляет сообщение повторно.
func (d *Delivery) Redelivered() bool {
	return d.raw.Redelivered
}

// Ack подтверждает успешную обработку.
func (d *Delivery) Ack() error {
	return d.raw.Ack(false)
}

// Requeue возвращает сообщение в очередь для повторной попытки.
func (d *Delivery) Requeue() error {
	return d.raw.Nack(false, true)
}

// Reject отбрасывает сообщение; при настроенном DLQ оно уходит туда.
func (d *Delivery) Reject() error {
	return d.raw.Nack(false, false)
}

// Consumer потребляет сообщения одной очереди и переживает
// разрывы соединения с брокером.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	tag      string
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — число неподтверждённых сообщений в полёте.
	Prefetch int
}

// NewConsumer создаёт Consumer для очереди.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		tag:      "conveyor-" + cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start запускает цикл потребления. Блокируется до отмены ctx
// или вызова Stop.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for {
		deliveries, err := c.open()
		if err != nil {
			c.logger.Error("failed to open consume channel", "error", err)
			if err := c.awaitReconnect(ctx); err != nil {
				return err
			}
			continue
		}

		c.logger.Info("consumer started", "tag", c.tag)

		if err := c.drain(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect")
			if err := c.awaitReconnect(ctx); err != nil {
				return err
			}
		}
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

func (c *Consumer) awaitReconnect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.conn.ReconnectNotify():
		c.logger.Info("reconnected, restarting consumer")
		return nil
	}
}

// open настраивает prefetch и подписывается на очередь.
func (c *Consumer) open() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, errors.New("no channel available")
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}

	return deliveries, nil
}

// drain обрабатывает сообщения до отмены ctx или закрытия канала.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handle(ctx, raw)
		}
	}
}

// handle разбирает конверт и передаёт его обработчику.
//
// Политика подтверждений:
//   - нечитаемый конверт — сразу в DLQ, повтор его не исправит
//   - ошибка обработчика на первой доставке — requeue
//   - ошибка на повторной доставке — в DLQ, чтобы не зациклиться
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	d := &Delivery{Queue: c.queue, raw: raw}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked",
				"message_id", d.Message.ID,
				"panic", r,
			)
			d.Reject()
		}
	}()

	if err := json.Unmarshal(raw.Body, &d.Message); err != nil {
		c.logger.Error("malformed message rejected",
			"error", err,
			"body", string(raw.Body),
		)
		d.Reject()
		return
	}

	c.logger.Debug("message received",
		"message_id", d.Message.ID,
		"type", d.Message.Type,
		"redelivered", d.Redelivered(),
	)

	if err := c.handler(ctx, d); err != nil {
		c.logger.Error("handler failed",
			"message_id", d.Message.ID,
			"type", d.Message.Type,
			"redelivered", d.Redelivered(),
			"error", err,
		)
		if d.Redelivered() {
			d.Reject()
		} else {
			d.Requeue()
		}
		return
	}

	d.Ack()
}

// ParsePayload десериализует payload конверта в конкретный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return result, fmt.Errorf("unmarshal %s payload: %w", msg.Type, err)
	}
	return result, nil
}

package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunTriggered MessageType = "run.triggered"
	MessageTypeRunCancel    MessageType = "run.cancel"
	MessageTypeApproval     MessageType = "run.approval"
	MessageTypeJobReady     MessageType = "job.ready"
	MessageTypeJobCompleted MessageType = "job.completed"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка. Хранится сырым JSON, чтобы
	// потребитель десериализовал её по Type один раз.
	Payload json.RawMessage `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// newMessage заворачивает payload в конверт.
func newMessage(t MessageType, payload any) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		Timestamp: time.Now(),
	}, nil
}

// RunTriggeredPayload — payload для события нового run.
type RunTriggeredPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// RunCancelPayload — payload команды отмены run.
type RunCancelPayload struct {
	RunID  uuid.UUID `json:"run_id"`
	Actor  string    `json:"actor"`
	Reason string    `json:"reason,omitempty"`
}

// ApprovalPayload — payload решения по approval gate.
type ApprovalPayload struct {
	RunID       uuid.UUID `json:"run_id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	Approver    string    `json:"approver"`
	Approved    bool      `json:"approved"`
	Reason      string    `json:"reason,omitempty"`
}

// JobReadyPayload — payload dispatch'а job'а runner-агенту.
type JobReadyPayload struct {
	ExecutionID uuid.UUID         `json:"execution_id"`
	RunID       uuid.UUID         `json:"run_id"`
	JobID       string            `json:"job_id"`
	JobName     string            `json:"job_name,omitempty"`
	Inputs      map[string]string `json:"inputs,omitempty"`
	Pipeline    string            `json:"pipeline"`
	Branch      string            `json:"branch"`
	Event       string            `json:"event"`
	CommitSHA   string            `json:"commit_sha,omitempty"`
}

// JobArtifact — артефакт в отчёте runner-агента.
type JobArtifact struct {
	Name string `json:"name"`
	Ref  string `json:"ref"`
	Size int64  `json:"size"`
}

// JobCompletedPayload — payload отчёта о завершённом job'е.
type JobCompletedPayload struct {
	ExecutionID uuid.UUID     `json:"execution_id"`
	RunID       uuid.UUID     `json:"run_id"`
	JobID       string        `json:"job_id"`
	Status      string        `json:"status"` // SUCCEEDED или FAILED
	Detail      string        `json:"detail,omitempty"`
	Artifacts   []JobArtifact `json:"artifacts,omitempty"`
	LogRef      string        `json:"log_ref,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishRunTriggered публикует событие о новом run.
// Потребитель: Coordinator.
func (p *Publisher) PublishRunTriggered(ctx context.Context, runID uuid.UUID) error {
	msg, err := newMessage(MessageTypeRunTriggered, RunTriggeredPayload{RunID: runID})
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeRuns, RoutingKeyTriggered, msg)
}

// PublishRunCancel публикует команду отмены run.
// Потребитель: Coordinator.
func (p *Publisher) PublishRunCancel(ctx context.Context, payload RunCancelPayload) error {
	msg, err := newMessage(MessageTypeRunCancel, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeRuns, RoutingKeyControl, msg)
}

// PublishApproval публикует решение approver'а по environment gate.
// Потребитель: Coordinator.
func (p *Publisher) PublishApproval(ctx context.Context, payload ApprovalPayload) error {
	msg, err := newMessage(MessageTypeApproval, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeRuns, RoutingKeyControl, msg)
}

// PublishJobReady публикует dispatch job'а.
// Потребитель: runner-агенты.
func (p *Publisher) PublishJobReady(ctx context.Context, payload JobReadyPayload) error {
	msg, err := newMessage(MessageTypeJobReady, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeJobs, RoutingKeyReady, msg)
}

// PublishJobCompleted публикует отчёт о завершённом job'е.
// Потребитель: Coordinator.
func (p *Publisher) PublishJobCompleted(ctx context.Context, payload JobCompletedPayload) error {
	msg, err := newMessage(MessageTypeJobCompleted, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeJobs, RoutingKeyCompleted, msg)
}

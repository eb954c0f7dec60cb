// Package nats delivers committed approval events to NATS so notification
// services can tell approvers and requesters what happened.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/procure-approval/internal/application/port"
	"github.com/garyjia/procure-approval/internal/domain/event"
	"github.com/garyjia/procure-approval/pkg/metrics"
)

// Config holds NATS connection settings
type Config struct {
	URL           string
	ClientName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	FlushTimeout  time.Duration
}

// conn is the part of *nats.Conn the publisher uses
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
	IsConnected() bool
}

// Publisher publishes approval events to <prefix>.<event type>.
// Publishing is non-fatal: failures are logged and counted, never returned.
type Publisher struct {
	conn          conn
	subjectPrefix string
	flushTimeout  time.Duration
	logger        *zap.Logger
}

// NotificationEvent is the JSON body published for every approval event
type NotificationEvent struct {
	EventID      string                 `json:"event_id"`
	EventType    string                 `json:"event_type"`
	InstanceID   string                 `json:"instance_id"`
	ActorID      string                 `json:"actor_id,omitempty"`
	Recipients   []string               `json:"recipients,omitempty"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	IsActionable bool                   `json:"is_actionable"`
	Severity     string                 `json:"severity"`
	Category     string                 `json:"category"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// Connect dials the NATS server
func Connect(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info("Connected to NATS", zap.String("url", cfg.URL))
	return newPublisher(nc, cfg, logger), nil
}

func newPublisher(c conn, cfg Config, logger *zap.Logger) *Publisher {
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "notifications.procurement"
	}
	flush := cfg.FlushTimeout
	if flush <= 0 {
		flush = 2 * time.Second
	}
	return &Publisher{conn: c, subjectPrefix: prefix, flushTimeout: flush, logger: logger}
}

// Subject returns the subject an event type is published on
func (p *Publisher) Subject(t event.Type) string {
	return p.subjectPrefix + "." + strings.TrimPrefix(t.String(), "approval.")
}

// NotifyApprovalEvent implements port.ApprovalNotifier
func (p *Publisher) NotifyApprovalEvent(ctx context.Context, evt *event.Event) {
	if p == nil || p.conn == nil || evt == nil {
		return
	}

	data, err := json.Marshal(toNotification(evt))
	if err != nil {
		metrics.EventPublishFailuresTotal.WithLabelValues("nats").Inc()
		p.logger.Warn("notification: failed to marshal event", zap.String("event_type", evt.Type.String()), zap.Error(err))
		return
	}

	subject := p.Subject(evt.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		metrics.EventPublishFailuresTotal.WithLabelValues("nats").Inc()
		p.logger.Warn("notification: failed to publish NATS event (non-fatal)",
			zap.String("subject", subject),
			zap.String("instance_id", evt.InstanceID),
			zap.Error(err))
		return
	}

	flushCtx, cancel := context.WithTimeout(ctx, p.flushTimeout)
	defer cancel()
	if err := p.conn.FlushWithContext(flushCtx); err != nil {
		metrics.EventPublishFailuresTotal.WithLabelValues("nats").Inc()
		p.logger.Warn("notification: NATS flush failed (non-fatal)", zap.String("subject", subject), zap.Error(err))
		return
	}

	p.logger.Debug("notification: event published",
		zap.String("subject", subject),
		zap.String("instance_id", evt.InstanceID))
}

// Handle adapts the publisher to a dispatcher handler
func (p *Publisher) Handle(ctx context.Context, evt *event.Event) error {
	p.NotifyApprovalEvent(ctx, evt)
	return nil
}

// Healthy reports whether the connection is up
func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.IsConnected()
}

// Close drains pending messages and closes the connection
func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

func toNotification(evt *event.Event) *NotificationEvent {
	n := &NotificationEvent{
		EventID:      evt.ID,
		EventType:    evt.Type.String(),
		InstanceID:   evt.InstanceID,
		ActorID:      evt.GetPayloadString("actor_user_id"),
		ResourceType: evt.GetPayloadString("document_kind"),
		ResourceID:   evt.GetPayloadString("document_id"),
		Severity:     "info",
		Category:     "procurement_approval",
		OccurredAt:   evt.Timestamp,
		Payload:      evt.Payload,
	}

	switch evt.Type {
	case event.TypeApprovalOpened, event.TypeApprovalAdvanced:
		n.IsActionable = true
	case event.TypeApprovalRejected:
		n.Severity = "warning"
	}

	if openedBy := evt.GetPayloadString("opened_by"); openedBy != "" && evt.Type.IsTerminal() {
		n.Recipients = []string{openedBy}
	}
	return n
}

// Verify interface compliance
var _ port.ApprovalNotifier = (*Publisher)(nil)

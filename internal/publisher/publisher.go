// Package publisher publishes structured alerts to NATS.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/sgerhart/logwhisperer/internal/model"
)

// DefaultSubject is used when no subject is configured
const DefaultSubject = "logwhisperer.alerts"

const defaultFlushTimeout = 5 * time.Second

// Conn is the subset of *nats.Conn the publisher needs
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushTimeout(timeout time.Duration) error
	IsConnected() bool
}

// Connect dials the NATS server with a client name and dial timeout
func Connect(url, name string, timeout time.Duration) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.MaxReconnects(0))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NewAlert wraps the alert items of a report with a fresh id
func NewAlert(report *model.Report, items []model.ReportItem, title, body string) *model.Alert {
	return &model.Alert{
		ID:          uuid.NewString(),
		Title:       title,
		Source:      report.Source,
		Since:       report.Since,
		GeneratedAt: report.GeneratedAt,
		Body:        body,
		Items:       items,
	}
}

// AlertPublisher handles publishing alerts to NATS
type AlertPublisher struct {
	conn    Conn
	subject string
	logger  *slog.Logger
}

// NewAlertPublisher creates a new alert publisher
func NewAlertPublisher(conn Conn, subject string, logger *slog.Logger) *AlertPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &AlertPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}
}

// Subject returns the subject alerts are published on
func (p *AlertPublisher) Subject() string {
	return p.subject
}

// BuildMsg serializes an alert into a NATS message with routing headers.
// The alert id doubles as the JetStream de-duplication id.
func BuildMsg(subject string, alert *model.Alert) (*nats.Msg, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert: %w", err)
	}

	headers := nats.Header{}
	headers.Set("x-alert-id", alert.ID)
	headers.Set("x-source", alert.Source)
	headers.Set("x-alert-count", strconv.Itoa(len(alert.Items)))
	headers.Set("x-timestamp", strconv.FormatInt(alert.GeneratedAt, 10))
	headers.Set(nats.MsgIdHdr, alert.ID)

	return &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  headers,
	}, nil
}

// Publish sends the alert and waits for the server to acknowledge the flush
func (p *AlertPublisher) Publish(ctx context.Context, alert *model.Alert) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return fmt.Errorf("NATS connection not available")
	}

	msg, err := BuildMsg(p.subject, alert)
	if err != nil {
		return err
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	timeout := defaultFlushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := p.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("failed to flush alert: %w", err)
	}

	p.logger.Info("Published alert",
		"alert_id", alert.ID,
		"source", alert.Source,
		"items", len(alert.Items),
		"subject", p.subject)

	return nil
}

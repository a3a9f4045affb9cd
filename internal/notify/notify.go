// Package notify fans alerts out to ntfy, Telegram, SMTP and NATS.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/sgerhart/logwhisperer/internal/metrics"
	"github.com/sgerhart/logwhisperer/internal/model"
)

const defaultHTTPTimeout = 10 * time.Second

// Notifier delivers a plain-text alert
type Notifier interface {
	Name() string
	Notify(ctx context.Context, title, body string) error
}

// AlertNotifier is implemented by transports that carry the structured alert
type AlertNotifier interface {
	Notifier
	NotifyAlert(ctx context.Context, alert *model.Alert) error
}

// Settings holds the transport settings. A transport is only built when all
// of its required fields are set.
type Settings struct {
	Ntfy     NtfySettings
	Telegram TelegramSettings
	Email    EmailSettings
}

// Build returns the notifiers that are fully configured
func Build(s Settings, client *http.Client) []Notifier {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	var notifiers []Notifier
	if s.Ntfy.Topic != "" {
		notifiers = append(notifiers, NewNtfy(s.Ntfy, client))
	}
	if s.Telegram.Token != "" && s.Telegram.ChatID != "" {
		notifiers = append(notifiers, NewTelegram(s.Telegram, client))
	}
	if s.Email.Host != "" && s.Email.From != "" && s.Email.To != "" {
		notifiers = append(notifiers, NewEmail(s.Email))
	}
	return notifiers
}

// Dispatcher sends one alert through every notifier
type Dispatcher struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Dispatcher{logger: logger, metrics: m}
}

// Dispatch tries every notifier even when earlier ones fail. Failures are
// aggregated, each prefixed with the notifier name.
func (d *Dispatcher) Dispatch(ctx context.Context, notifiers []Notifier, alert *model.Alert) error {
	var result *multierror.Error

	for _, n := range notifiers {
		var err error
		if an, ok := n.(AlertNotifier); ok {
			err = an.NotifyAlert(ctx, alert)
		} else {
			err = n.Notify(ctx, alert.Title, alert.Body)
		}

		if err != nil {
			d.metrics.IncrementNotifyFailures(n.Name())
			d.logger.Warn("Notification failed",
				"notifier", n.Name(),
				"alert_id", alert.ID,
				"error", err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}

		d.logger.Info("Notification sent",
			"notifier", n.Name(),
			"alert_id", alert.ID,
			"items", len(alert.Items))
	}

	return result.ErrorOrNil()
}

// Failures flattens a Dispatch error into one line per failed notifier
func Failures(err error) []string {
	if err == nil {
		return nil
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		out := make([]string, 0, len(merr.Errors))
		for _, e := range merr.Errors {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

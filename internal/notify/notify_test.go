package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgerhart/logwhisperer/internal/metrics"
	"github.com/sgerhart/logwhisperer/internal/model"
	"github.com/sgerhart/logwhisperer/internal/publisher"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeNotifier struct {
	name  string
	err   error
	calls []string
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Notify(_ context.Context, title, body string) error {
	f.calls = append(f.calls, title+"|"+body)
	return f.err
}

type fakeAlertNotifier struct {
	fakeNotifier
	alerts []*model.Alert
}

func (f *fakeAlertNotifier) NotifyAlert(_ context.Context, alert *model.Alert) error {
	f.alerts = append(f.alerts, alert)
	return f.err
}

func testAlert() *model.Alert {
	return &model.Alert{
		ID:    "6f1c",
		Title: "Log Whisperer Alert",
		Body:  "Log Whisperer ALERT (1 new patterns)\n",
		Items: []model.ReportItem{{Tag: model.TagNew, Pattern: "p"}},
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		expected []string
	}{
		{"nothing configured", Settings{}, nil},
		{"ntfy", Settings{Ntfy: NtfySettings{Topic: "alerts"}}, []string{"ntfy"}},
		{"telegram without chat id", Settings{Telegram: TelegramSettings{Token: "tok"}}, nil},
		{"telegram", Settings{Telegram: TelegramSettings{Token: "tok", ChatID: "42"}}, []string{"telegram"}},
		{"email without host", Settings{Email: EmailSettings{From: "a@b.c", To: "d@e.f"}}, nil},
		{
			"all",
			Settings{
				Ntfy:     NtfySettings{Topic: "alerts"},
				Telegram: TelegramSettings{Token: "tok", ChatID: "42"},
				Email:    EmailSettings{Host: "smtp.example.com", From: "a@b.c", To: "d@e.f"},
			},
			[]string{"ntfy", "telegram", "email"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var names []string
			for _, n := range Build(tt.settings, nil) {
				names = append(names, n.Name())
			}
			assert.Equal(t, tt.expected, names)
		})
	}
}

func TestDispatch_AllSucceed(t *testing.T) {
	plain := &fakeNotifier{name: "plain"}
	structured := &fakeAlertNotifier{fakeNotifier: fakeNotifier{name: "structured"}}
	d := NewDispatcher(testLogger(), nil)

	err := d.Dispatch(context.Background(), []Notifier{plain, structured}, testAlert())

	require.NoError(t, err)
	assert.Equal(t, []string{"Log Whisperer Alert|Log Whisperer ALERT (1 new patterns)\n"}, plain.calls)
	require.Len(t, structured.alerts, 1)
	assert.Empty(t, structured.calls)
	assert.Equal(t, "6f1c", structured.alerts[0].ID)
}

func TestDispatch_FailuresAreIndependent(t *testing.T) {
	m := metrics.NewMetrics()
	first := &fakeNotifier{name: "ntfy", err: errors.New("connection refused")}
	second := &fakeNotifier{name: "telegram"}
	third := &fakeNotifier{name: "email", err: errors.New("535 auth failed")}
	d := NewDispatcher(testLogger(), m)

	err := d.Dispatch(context.Background(), []Notifier{first, second, third}, testAlert())

	require.Error(t, err)
	assert.Len(t, first.calls, 1)
	assert.Len(t, second.calls, 1)
	assert.Len(t, third.calls, 1)
	assert.Equal(t, []string{"ntfy: connection refused", "email: 535 auth failed"}, Failures(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyFailuresTotal.WithLabelValues("ntfy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyFailuresTotal.WithLabelValues("email")))
}

func TestDispatch_NoNotifiers(t *testing.T) {
	err := NewDispatcher(testLogger(), nil).Dispatch(context.Background(), nil, testAlert())
	assert.NoError(t, err)
}

func TestFailures(t *testing.T) {
	assert.Nil(t, Failures(nil))
	assert.Equal(t, []string{"boom"}, Failures(errors.New("boom")))
}

type fakeConn struct {
	published []*nats.Msg
}

func (f *fakeConn) PublishMsg(msg *nats.Msg) error {
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeConn) FlushTimeout(time.Duration) error { return nil }

func (f *fakeConn) IsConnected() bool { return true }

func TestNATS(t *testing.T) {
	conn := &fakeConn{}
	n := NewNATS(publisher.NewAlertPublisher(conn, "ops.alerts", testLogger()))
	assert.Equal(t, "nats", n.Name())

	d := NewDispatcher(testLogger(), nil)
	require.NoError(t, d.Dispatch(context.Background(), []Notifier{n}, testAlert()))
	require.Len(t, conn.published, 1)
	assert.Equal(t, "ops.alerts", conn.published[0].Subject)
	assert.Equal(t, "6f1c", conn.published[0].Header.Get("x-alert-id"))
	assert.Equal(t, "1", conn.published[0].Header.Get("x-alert-count"))

	require.NoError(t, n.Notify(context.Background(), "title", "body"))
	require.Len(t, conn.published, 2)
	assert.NotEmpty(t, conn.published[1].Header.Get("x-alert-id"))
	assert.Equal(t, "0", conn.published[1].Header.Get("x-alert-count"))
}


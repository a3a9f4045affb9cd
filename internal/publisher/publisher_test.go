package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgerhart/logwhisperer/internal/model"
)

type fakeConn struct {
	connected  bool
	published  []*nats.Msg
	publishErr error
	flushErr   error
	flushes    []time.Duration
}

func (f *fakeConn) PublishMsg(msg *nats.Msg) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeConn) FlushTimeout(timeout time.Duration) error {
	f.flushes = append(f.flushes, timeout)
	return f.flushErr
}

func (f *fakeConn) IsConnected() bool {
	return f.connected
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAlert() *model.Alert {
	report := &model.Report{Source: "docker:web", Since: "1h", GeneratedAt: 1_700_000_000}
	items := []model.ReportItem{
		{Tag: model.TagNew, CountWindow: 4, TotalSeen: 4, Severity: model.SeverityError, Pattern: "oom killed pid <N>", Sample: "oom killed pid 812", Hash: "aa"},
		{Tag: model.TagNew, CountWindow: 1, TotalSeen: 1, Severity: model.SeverityWarn, Pattern: "slow query <N>ms", Sample: "slow query 950ms", Hash: "bb"},
	}
	return NewAlert(report, items, "Log Whisperer Alert", "body\n")
}

func TestNewAlert(t *testing.T) {
	alert := testAlert()

	assert.Len(t, alert.ID, 36)
	assert.Equal(t, "docker:web", alert.Source)
	assert.Equal(t, "1h", alert.Since)
	assert.Equal(t, int64(1_700_000_000), alert.GeneratedAt)
	assert.Len(t, alert.Items, 2)
	assert.NotEqual(t, alert.ID, testAlert().ID)
}

func TestBuildMsg(t *testing.T) {
	alert := testAlert()

	msg, err := BuildMsg("alerts.test", alert)
	require.NoError(t, err)

	assert.Equal(t, "alerts.test", msg.Subject)
	assert.Equal(t, alert.ID, msg.Header.Get("x-alert-id"))
	assert.Equal(t, "docker:web", msg.Header.Get("x-source"))
	assert.Equal(t, "2", msg.Header.Get("x-alert-count"))
	assert.Equal(t, "1700000000", msg.Header.Get("x-timestamp"))
	assert.Equal(t, alert.ID, msg.Header.Get(nats.MsgIdHdr))

	var decoded model.Alert
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, *alert, decoded)
}

func TestPublish(t *testing.T) {
	conn := &fakeConn{connected: true}
	p := NewAlertPublisher(conn, "", testLogger())
	assert.Equal(t, DefaultSubject, p.Subject())

	require.NoError(t, p.Publish(context.Background(), testAlert()))
	require.Len(t, conn.published, 1)
	assert.Equal(t, DefaultSubject, conn.published[0].Subject)
	assert.Equal(t, []time.Duration{defaultFlushTimeout}, conn.flushes)
}

func TestPublish_UsesContextDeadline(t *testing.T) {
	conn := &fakeConn{connected: true}
	p := NewAlertPublisher(conn, "x", testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, p.Publish(ctx, testAlert()))
	require.Len(t, conn.flushes, 1)
	assert.LessOrEqual(t, conn.flushes[0], time.Second)
}

func TestPublish_Errors(t *testing.T) {
	err := NewAlertPublisher(&fakeConn{}, "x", testLogger()).Publish(context.Background(), testAlert())
	assert.EqualError(t, err, "NATS connection not available")

	err = NewAlertPublisher(nil, "x", testLogger()).Publish(context.Background(), testAlert())
	assert.Error(t, err)

	conn := &fakeConn{connected: true, publishErr: errors.New("slow consumer")}
	err = NewAlertPublisher(conn, "x", testLogger()).Publish(context.Background(), testAlert())
	assert.EqualError(t, err, "failed to publish alert: slow consumer")

	conn = &fakeConn{connected: true, flushErr: nats.ErrTimeout}
	err = NewAlertPublisher(conn, "x", testLogger()).Publish(context.Background(), testAlert())
	assert.ErrorIs(t, err, nats.ErrTimeout)
}

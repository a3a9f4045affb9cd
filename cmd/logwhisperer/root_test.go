package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fatih/color"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgerhart/logwhisperer/internal/config"
	"github.com/sgerhart/logwhisperer/internal/model"
	"github.com/sgerhart/logwhisperer/internal/publisher"
)

func init() {
	color.NoColor = true
}

type fakeRunner struct {
	output string
	err    error
	calls  [][]string
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return []byte(f.output), f.err
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

type harness struct {
	t       *testing.T
	dir     string
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	clock   *clock.Mock
	runner  *fakeRunner
	nats    *fakeConn
	natsErr error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))

	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))

	return &harness{
		t:      t,
		dir:    dir,
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		clock:  mock,
		runner: &fakeRunner{},
		nats:   &fakeConn{},
	}
}

func (h *harness) stateDB() string {
	return filepath.Join(h.dir, "state", "logwhisperer", "patterns.db")
}

func (h *harness) baseline() string {
	return filepath.Join(h.dir, "state", "logwhisperer", "baseline.json")
}

func (h *harness) logFile(content string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, "app.log")
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) run(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	return execute(context.Background(), args, deps{
		stdout:     h.stdout,
		stderr:     h.stderr,
		runner:     h.runner,
		clock:      h.clock,
		httpClient: http.DefaultClient,
		connectNATS: func(config.NATSConfig) (publisher.Conn, func(), error) {
			if h.natsErr != nil {
				return nil, nil, h.natsErr
			}
			return h.nats, func() {}, nil
		},
	})
}

type ntfyServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies []string
	status int
}

func newNtfyServer(t *testing.T, status int) *ntfyServer {
	s := &ntfyServer{status: status}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, string(b))
		s.mu.Unlock()
		w.WriteHeader(s.status)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *ntfyServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies...)
}

const appLog = "2024-03-01T10:00:00Z worker 1 started\n" +
	"2024-03-01T10:00:01Z worker 2 started\n" +
	"2024-03-01T10:00:02Z upstream 10.0.0.7 timed out\n"

func TestExecute_RequiresOneSource(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, exitUsage, h.run())
	assert.Contains(t, h.stderr.String(), "choose exactly one source")

	assert.Equal(t, exitUsage, h.run("--docker", "web", "--service", "nginx"))
	assert.Contains(t, h.stderr.String(), "exactly one log source")
}

func TestExecute_UnknownFlag(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, exitUsage, h.run("--bogus"))
}

func TestExecute_TextReportNewThenSeen(t *testing.T) {
	h := newHarness(t)
	path := h.logFile(appLog)

	require.Equal(t, exitOK, h.run("--file", path, "--show-samples"))
	out := h.stdout.String()
	assert.Contains(t, out, "Source: file:"+path+" | since=1h | lines<=5000")
	assert.Contains(t, out, "[NEW][INFO] x2     total=2        worker <N> started")
	assert.Contains(t, out, "[NEW][WARN] x1     total=1        upstream <IP> timed out")
	assert.Contains(t, out, "  sample: 2024-03-01T10:00:00Z worker 1 started")

	require.Equal(t, exitOK, h.run("--file", path))
	out = h.stdout.String()
	assert.Contains(t, out, "[seen][INFO] x2     total=4        worker <N> started")
	assert.NotContains(t, out, "sample:")
}

func TestExecute_JSONReport(t *testing.T) {
	h := newHarness(t)
	path := h.logFile(appLog)

	require.Equal(t, exitOK, h.run("--file", path, "--json", "--min-severity", "warn", "--lines", "100", "--since", "10m"))

	var report model.Report
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &report))
	assert.Equal(t, "file:"+path, report.Source)
	assert.Equal(t, "10m", report.Since)
	assert.Equal(t, 100, report.LinesLimit)
	assert.Equal(t, h.stateDB(), report.StateDB)
	assert.Equal(t, int64(1_700_000_000), report.GeneratedAt)
	require.Len(t, report.Items, 1)
	assert.Equal(t, model.SeverityWarn, report.Items[0].Severity)
}

func TestExecute_DockerSource(t *testing.T) {
	h := newHarness(t)
	h.runner.output = "GET /healthz 200\nGET /healthz 200\n"

	require.Equal(t, exitOK, h.run("--docker", "web", "--since", "5m"))
	require.Len(t, h.runner.calls, 1)
	assert.Equal(t, []string{"docker", "logs", "--since", "5m", "web"}, h.runner.calls[0])
	assert.Contains(t, h.stdout.String(), "Source: docker:web")
}

func TestExecute_SourceFailureLeavesDBUntouched(t *testing.T) {
	h := newHarness(t)

	code := h.run("--file", filepath.Join(h.dir, "missing.log"))
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, h.stderr.String(), "file not found")

	_, err := os.Stat(h.stateDB())
	assert.True(t, os.IsNotExist(err))

	h.runner.err = errors.New("docker: command not found")
	assert.Equal(t, exitUsage, h.run("--docker", "web"))
	_, err = os.Stat(h.stateDB())
	assert.True(t, os.IsNotExist(err))
}

func TestExecute_InvalidBaselineDuration(t *testing.T) {
	h := newHarness(t)
	path := h.logFile(appLog)

	assert.Equal(t, exitUsage, h.run("--file", path, "--baseline-learn", "soon"))
	assert.Contains(t, h.stderr.String(), "invalid duration format")

	assert.Equal(t, exitUsage, h.run("--file", path, "--baseline-learn", "200000000000000d"))
	assert.NotContains(t, h.stdout.String(), "Baseline learning enabled")

	_, err := os.Stat(h.baseline())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(h.stateDB())
	assert.True(t, os.IsNotExist(err))
}

func TestExecute_InvalidConfig(t *testing.T) {
	h := newHarness(t)
	path := h.logFile(appLog)

	assert.Equal(t, exitUsage, h.run("--file", path, "--min-severity", "loud"))
	assert.Contains(t, h.stderr.String(), "invalid configuration")
}

func TestExecute_AlertsSentOnce(t *testing.T) {
	h := newHarness(t)
	srv := newNtfyServer(t, http.StatusOK)
	path := h.logFile(appLog)

	require.Equal(t, exitOK, h.run("--file", path, "--notify-ntfy-server", srv.URL, "--notify-ntfy-topic", "ops"))
	bodies := srv.received()
	require.Len(t, bodies, 1)
	assert.True(t, strings.HasPrefix(bodies[0], "Log Whisperer ALERT (2 new patterns)\nSource: file:"+path+" | since=1h\n"))

	require.Equal(t, exitOK, h.run("--file", path, "--notify-ntfy-server", srv.URL, "--notify-ntfy-topic", "ops"))
	assert.Len(t, srv.received(), 1)
}

func TestExecute_BaselineSuppressesAlerts(t *testing.T) {
	h := newHarness(t)
	srv := newNtfyServer(t, http.StatusOK)
	path := h.logFile(appLog)

	require.Equal(t, exitOK, h.run("--file", path, "--baseline-learn", "1h", "--notify-ntfy-server", srv.URL, "--notify-ntfy-topic", "ops"))
	assert.Contains(t, h.stdout.String(), "Baseline learning enabled until")
	assert.Contains(t, h.stdout.String(), "Baseline: ACTIVE (learning)")
	assert.Empty(t, srv.received())

	// learned patterns stay quiet once the baseline expires
	h.clock.Add(2 * time.Hour)
	require.Equal(t, exitOK, h.run("--file", path, "--notify-ntfy-server", srv.URL, "--notify-ntfy-topic", "ops"))
	assert.Empty(t, srv.received())
}

func TestExecute_NotificationFailureDoesNotFailRun(t *testing.T) {
	h := newHarness(t)
	srv := newNtfyServer(t, http.StatusForbidden)
	path := h.logFile(appLog)

	require.Equal(t, exitOK, h.run("--file", path, "--notify-ntfy-server", srv.URL, "--notify-ntfy-topic", "ops"))
	assert.Contains(t, h.stderr.String(), "Notification failures:\n - ntfy: unexpected status 403")
}

func TestExecute_NATSAlert(t *testing.T) {
	h := newHarness(t)
	path := h.logFile(appLog)

	require.Equal(t, exitOK, h.run("--file", path, "--notify-nats-url", "nats://bus:4222", "--notify-nats-subject", "ops.alerts"))
	require.Len(t, h.nats.published, 1)
	msg := h.nats.published[0]
	assert.Equal(t, "ops.alerts", msg.Subject)
	assert.Equal(t, "2", msg.Header.Get("x-alert-count"))
	assert.Equal(t, "file:"+path, msg.Header.Get("x-source"))

	var alert model.Alert
	require.NoError(t, json.Unmarshal(msg.Data, &alert))
	assert.Equal(t, "Log Whisperer Alert", alert.Title)
	assert.Len(t, alert.Items, 2)
}

func TestExecute_NATSConnectFailure(t *testing.T) {
	h := newHarness(t)
	h.natsErr = errors.New("no servers available for connection")
	path := h.logFile(appLog)

	require.Equal(t, exitOK, h.run("--file", path, "--notify-nats-url", "nats://bus:4222"))
	assert.Contains(t, h.stderr.String(), " - nats: no servers available for connection")
}

func TestExecute_Reset(t *testing.T) {
	h := newHarness(t)
	path := h.logFile(appLog)

	require.Equal(t, exitOK, h.run("--file", path, "--baseline-learn", "1h"))
	require.FileExists(t, h.stateDB())
	require.FileExists(t, h.baseline())

	require.Equal(t, exitOK, h.run("--reset"))
	assert.Equal(t, "Reset: removed "+h.stateDB()+" and "+h.baseline()+"\n", h.stdout.String())
	assert.NoFileExists(t, h.stateDB())
	assert.NoFileExists(t, h.baseline())

	require.Equal(t, exitOK, h.run("--file", path))
	assert.Contains(t, h.stdout.String(), "[NEW]")
}

func TestExecute_MetricsTextfile(t *testing.T) {
	h := newHarness(t)
	path := h.logFile(appLog)
	prom := filepath.Join(h.dir, "logwhisperer.prom")

	require.Equal(t, exitOK, h.run("--file", path, "--metrics-textfile", prom))

	data, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(data), "logwhisperer_lines_total 3")
	assert.Contains(t, string(data), "logwhisperer_patterns_new_total 2")
}

func TestExecute_ConfigFile(t *testing.T) {
	h := newHarness(t)
	path := h.logFile(appLog)
	cfgPath := filepath.Join(h.dir, "logwhisperer.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("min_severity: WARN\nsince: 2h\n"), 0o644))

	require.Equal(t, exitOK, h.run("--config", cfgPath, "--file", path, "--json"))

	var report model.Report
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &report))
	assert.Equal(t, "2h", report.Since)
	require.Len(t, report.Items, 1)

	// flags win over the file
	require.Equal(t, exitOK, h.run("--config", cfgPath, "--file", path, "--json", "--min-severity", "INFO"))
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &report))
	assert.Len(t, report.Items, 2)
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, exitOK, h.run("version"))
	assert.Equal(t, "logwhisperer dev\n", h.stdout.String())
}

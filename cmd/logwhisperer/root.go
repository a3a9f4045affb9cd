package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/sgerhart/logwhisperer/internal/analysis"
	"github.com/sgerhart/logwhisperer/internal/config"
	"github.com/sgerhart/logwhisperer/internal/logging"
	"github.com/sgerhart/logwhisperer/internal/metrics"
	"github.com/sgerhart/logwhisperer/internal/model"
	"github.com/sgerhart/logwhisperer/internal/notify"
	"github.com/sgerhart/logwhisperer/internal/publisher"
	"github.com/sgerhart/logwhisperer/internal/render"
	"github.com/sgerhart/logwhisperer/internal/source"
	"github.com/sgerhart/logwhisperer/internal/store"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// deps are the process-level collaborators, replaced in tests
type deps struct {
	stdout     io.Writer
	stderr     io.Writer
	runner     source.Runner
	clock      clock.Clock
	httpClient *http.Client
	// connectNATS returns the connection used by the nats notifier
	connectNATS func(cfg config.NATSConfig) (publisher.Conn, func(), error)
}

func defaultDeps() deps {
	return deps{
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		runner:     source.ExecRunner{},
		clock:      clock.New(),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		connectNATS: func(cfg config.NATSConfig) (publisher.Conn, func(), error) {
			nc, err := publisher.Connect(cfg.URL, "logwhisperer", time.Duration(cfg.TimeoutSeconds)*time.Second)
			if err != nil {
				return nil, nil, err
			}
			return nc, nc.Close, nil
		},
	}
}

// exitCodeError carries the process exit status out of RunE
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error {
	return e.err
}

func withCode(code int, err error) error {
	return &exitCodeError{code: code, err: err}
}

// options are the raw command line values
type options struct {
	configPath string
	sel        source.Selection

	since         string
	lines         int
	showNew       bool
	minSeverity   string
	showSamples   bool
	jsonOut       bool
	stateDB       string
	baselineState string
	reset         bool
	baselineLearn string

	metricsTextfile string
	logLevel        string
	logFormat       string

	ntfyTopic      string
	ntfyServer     string
	telegramToken  string
	telegramChatID string
	emailHost      string
	emailPort      int
	emailUser      string
	emailPass      string
	emailFrom      string
	emailTo        string
	emailNoTLS     bool
	natsURL        string
	natsSubject    string
}

// execute runs the CLI and maps the outcome to an exit status
func execute(ctx context.Context, args []string, d deps) int {
	cmd := newRootCommand(d)
	cmd.SetArgs(args)
	cmd.SetOut(d.stdout)
	cmd.SetErr(d.stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	fmt.Fprintf(d.stderr, "Error: %v\n", err)
	var ce *exitCodeError
	if errors.As(err, &ce) {
		return ce.code
	}
	// Flag parsing errors
	return exitUsage
}

func newRootCommand(d deps) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "logwhisperer",
		Short:         "Cluster logs into patterns, detect new patterns, and optionally notify",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd, opts, d)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML config file")

	f.StringVar(&opts.sel.Docker, "docker", "", "docker logs --since <since> <container>")
	f.StringVar(&opts.sel.Compose, "compose", "", "docker compose logs --since <since> <service>")
	f.BoolVar(&opts.sel.ComposeAll, "compose-all", false, "docker compose logs --since <since> (all services)")
	f.StringVar(&opts.sel.Service, "service", "", "journalctl -u <service> --since <since>")
	f.StringVar(&opts.sel.File, "file", "", "read the last N lines from a file (gzip and zstd supported)")

	f.StringVar(&opts.since, "since", "1h", `time window passed to the source, e.g. "10m", "1h", "today"`)
	f.IntVar(&opts.lines, "lines", 5000, "max lines to process")
	f.BoolVar(&opts.showNew, "show-new", false, "only show never-seen patterns")
	f.StringVar(&opts.minSeverity, "min-severity", "INFO", "filter by severity: INFO, WARN or ERROR")
	f.BoolVar(&opts.showSamples, "show-samples", false, "print one raw sample line per pattern")
	f.BoolVar(&opts.jsonOut, "json", false, "output report as JSON (still updates the DB)")
	f.StringVar(&opts.stateDB, "state-db", "", "pattern DB path")
	f.StringVar(&opts.baselineState, "baseline-state", "", "baseline state path")
	f.BoolVar(&opts.reset, "reset", false, "reset pattern DB and baseline state")
	f.StringVar(&opts.baselineLearn, "baseline-learn", "", `start baseline learning, e.g. "24h", "30m"`)

	f.StringVar(&opts.metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this .prom file")
	f.StringVar(&opts.logLevel, "log-level", "", "diagnostic log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", "", "diagnostic log format: text or json")

	f.StringVar(&opts.ntfyTopic, "notify-ntfy-topic", "", "ntfy topic")
	f.StringVar(&opts.ntfyServer, "notify-ntfy-server", "", "ntfy server")
	f.StringVar(&opts.telegramToken, "notify-telegram-token", "", "Telegram bot token")
	f.StringVar(&opts.telegramChatID, "notify-telegram-chat-id", "", "Telegram chat id")
	f.StringVar(&opts.emailHost, "notify-email-host", "", "SMTP host")
	f.IntVar(&opts.emailPort, "notify-email-port", 0, "SMTP port")
	f.StringVar(&opts.emailUser, "notify-email-user", "", "SMTP username")
	f.StringVar(&opts.emailPass, "notify-email-pass", "", "SMTP password")
	f.StringVar(&opts.emailFrom, "notify-email-from", "", "email From")
	f.StringVar(&opts.emailTo, "notify-email-to", "", "email To (comma-separated)")
	f.BoolVar(&opts.emailNoTLS, "notify-email-no-tls", false, "disable STARTTLS for SMTP")
	f.StringVar(&opts.natsURL, "notify-nats-url", "", "NATS server URL")
	f.StringVar(&opts.natsSubject, "notify-nats-subject", "", "NATS subject for alerts")

	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "logwhisperer %s\n", version)
		},
	}
}

// applyFlags overrides config values with the flags that were set explicitly
func applyFlags(cmd *cobra.Command, opts *options, cfg *config.Config) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}

	set("since", func() { cfg.Since = opts.since })
	set("lines", func() { cfg.Lines = opts.lines })
	set("min-severity", func() { cfg.MinSeverity = opts.minSeverity })
	set("state-db", func() { cfg.StateDB = opts.stateDB })
	set("baseline-state", func() { cfg.BaselineState = opts.baselineState })
	set("metrics-textfile", func() { cfg.MetricsTextfile = opts.metricsTextfile })
	set("log-level", func() { cfg.Log.Level = opts.logLevel })
	set("log-format", func() { cfg.Log.Format = opts.logFormat })

	n := &cfg.Notify
	set("notify-ntfy-topic", func() { n.Ntfy.Topic = opts.ntfyTopic })
	set("notify-ntfy-server", func() { n.Ntfy.Server = opts.ntfyServer })
	set("notify-telegram-token", func() { n.Telegram.Token = opts.telegramToken })
	set("notify-telegram-chat-id", func() { n.Telegram.ChatID = opts.telegramChatID })
	set("notify-email-host", func() { n.Email.Host = opts.emailHost })
	set("notify-email-port", func() { n.Email.Port = opts.emailPort })
	set("notify-email-user", func() { n.Email.Username = opts.emailUser })
	set("notify-email-pass", func() { n.Email.Password = opts.emailPass })
	set("notify-email-from", func() { n.Email.From = opts.emailFrom })
	set("notify-email-to", func() { n.Email.To = opts.emailTo })
	set("notify-email-no-tls", func() { n.Email.NoTLS = opts.emailNoTLS })
	set("notify-nats-url", func() { n.NATS.URL = opts.natsURL })
	set("notify-nats-subject", func() { n.NATS.Subject = opts.natsSubject })
}

func run(ctx context.Context, cmd *cobra.Command, opts *options, d deps) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return withCode(exitUsage, err)
	}
	applyFlags(cmd, opts, cfg)
	if err := cfg.Validate(); err != nil {
		return withCode(exitUsage, fmt.Errorf("invalid configuration: %w", err))
	}

	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: d.stderr})
	slog.SetDefault(logger)

	if opts.reset {
		if err := store.ResetPatternDB(cfg.StateDB); err != nil {
			return withCode(exitError, err)
		}
		if err := store.ResetBaseline(cfg.BaselineState); err != nil {
			return withCode(exitError, err)
		}
		fmt.Fprintf(d.stdout, "Reset: removed %s and %s\n", cfg.StateDB, cfg.BaselineState)
		return nil
	}

	src, err := source.New(opts.sel, source.Options{
		Since:  cfg.Since,
		Limit:  cfg.Lines,
		Runner: d.runner,
		Logger: logging.WithComponent(logger, "source"),
	})
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("choose exactly one source: --docker, --compose, --compose-all, --service, or --file: %w", err))
	}

	if opts.baselineLearn != "" {
		seconds, err := store.ParseDuration(opts.baselineLearn)
		if err != nil {
			return withCode(exitUsage, err)
		}
		until, err := store.EnableLearning(cfg.BaselineState, seconds, d.clock.Now())
		if errors.Is(err, store.ErrInvalidFormat) {
			return withCode(exitUsage, err)
		}
		if err != nil {
			return withCode(exitError, err)
		}
		fmt.Fprintf(d.stdout, "Baseline learning enabled until %s. (No alerts during this period)\n",
			time.Unix(until, 0).Local().Format("2006-01-02 15:04:05"))
	}

	lines, err := src.Read(ctx)
	if err != nil {
		logger.Error("Source read failed", "source", src.Describe(), "error", err)
		return withCode(exitUsage, err)
	}

	m := metrics.NewMetrics()

	db, err := store.OpenPatternDB(cfg.StateDB, store.WithLogger(logging.WithComponent(logger, "store")))
	if err != nil {
		return withCode(exitError, err)
	}
	runLock, err := db.AcquireRunLock()
	if err != nil {
		return withCode(exitError, err)
	}
	defer runLock.Release()

	window := analysis.NewClusterer(cfg.CacheSize).Cluster(lines)
	m.AddLines(window.Lines())

	builder := analysis.NewBuilder(logging.WithComponent(logger, "analysis"), d.clock, m)
	result, err := builder.Build(analysis.BuildInput{
		Source:       src.Describe(),
		Since:        cfg.Since,
		LinesLimit:   cfg.Lines,
		DB:           db,
		BaselinePath: cfg.BaselineState,
		Window:       window,
		ShowNewOnly:  opts.showNew,
		MinSeverity:  model.Severity(cfg.MinSeverity),
	})
	if err != nil {
		return withCode(exitError, err)
	}
	if err := runLock.Release(); err != nil {
		logger.Warn("Failed to release run lock", "error", err)
	}

	if opts.jsonOut {
		err = render.WriteJSON(d.stdout, result.Report)
	} else {
		err = render.WriteText(d.stdout, result.Report, render.TextOptions{
			ShowSamples: opts.showSamples,
			Now:         d.clock.Now(),
		})
	}
	if err != nil {
		return withCode(exitError, err)
	}

	if !result.BaselineActive && len(result.Alerts) > 0 {
		sendAlerts(ctx, cfg, result, m, logger, d)
	}

	m.ObserveRun(d.clock.Now())
	if cfg.MetricsTextfile != "" {
		if err := m.WriteTextfile(cfg.MetricsTextfile); err != nil {
			logger.Warn("Failed to write metrics textfile", "path", cfg.MetricsTextfile, "error", err)
		}
	}

	return nil
}

// sendAlerts dispatches the alert to every configured transport. Failures
// are reported on stderr but never fail the run.
func sendAlerts(ctx context.Context, cfg *config.Config, result *analysis.BuildResult, m *metrics.Metrics, logger *slog.Logger, d deps) {
	body := analysis.FormatAlert(result.Report, result.Alerts, cfg.MaxAlertItems)
	alert := publisher.NewAlert(result.Report, result.Alerts, analysis.AlertTitle, body)

	notifiers := notify.Build(cfg.NotifySettings(), d.httpClient)
	var failures []string

	if cfg.Notify.NATS.URL != "" {
		conn, closeConn, err := d.connectNATS(cfg.Notify.NATS)
		if err != nil {
			m.IncrementNotifyFailures("nats")
			failures = append(failures, "nats: "+err.Error())
		} else {
			defer closeConn()
			pub := publisher.NewAlertPublisher(conn, cfg.Notify.NATS.Subject, logging.WithComponent(logger, "publisher"))
			logger.Debug("NATS notifier enabled", "subject", pub.Subject())
			notifiers = append(notifiers, notify.NewNATS(pub))
		}
	}

	if len(notifiers) == 0 && len(failures) == 0 {
		logger.Info("No notifiers configured", "alerts", len(result.Alerts))
		return
	}

	dispatcher := notify.NewDispatcher(logging.WithComponent(logger, "notify"), m)
	failures = append(failures, notify.Failures(dispatcher.Dispatch(ctx, notifiers, alert))...)

	if len(failures) > 0 {
		fmt.Fprintln(d.stderr, "Notification failures:")
		for _, f := range failures {
			fmt.Fprintf(d.stderr, " - %s\n", f)
		}
	}
}

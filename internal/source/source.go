// Package source reads the bounded tail of log lines from docker, docker
// compose, journald or plain (optionally compressed) files.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrNoSource is returned when no source was selected
	ErrNoSource = errors.New("no log source provided")
	// ErrMultipleSources is returned when more than one source was selected
	ErrMultipleSources = errors.New("exactly one log source must be provided")
)

// Source yields the raw lines of one run
type Source interface {
	Read(ctx context.Context) ([]string, error)
	// Describe returns the descriptor shown in reports, e.g. "docker:web"
	Describe() string
}

// Selection mirrors the mutually exclusive source flags
type Selection struct {
	Docker     string
	Compose    string
	ComposeAll bool
	Service    string
	File       string
}

func (s Selection) count() int {
	n := 0
	for _, set := range []bool{s.Docker != "", s.Compose != "", s.ComposeAll, s.Service != "", s.File != ""} {
		if set {
			n++
		}
	}
	return n
}

// Options are shared by every source kind
type Options struct {
	Since  string
	Limit  int
	Runner Runner
	Logger *slog.Logger
}

// New builds the single source named by sel
func New(sel Selection, opts Options) (Source, error) {
	switch sel.count() {
	case 0:
		return nil, ErrNoSource
	case 1:
	default:
		return nil, ErrMultipleSources
	}

	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch {
	case sel.Docker != "":
		return newCommandSource("docker:"+sel.Docker, opts,
			"docker", "logs", "--since", opts.Since, sel.Docker), nil
	case sel.Compose != "":
		return newCommandSource("compose:"+sel.Compose, opts,
			"docker", "compose", "logs", "--since", opts.Since, "--no-color", sel.Compose), nil
	case sel.ComposeAll:
		return newCommandSource("compose:all", opts,
			"docker", "compose", "logs", "--since", opts.Since, "--no-color"), nil
	case sel.Service != "":
		return newCommandSource("journal:"+sel.Service, opts,
			"journalctl", "-u", sel.Service, "--since", opts.Since, "-o", "cat", "--no-pager"), nil
	default:
		return NewFile(sel.File, opts.Limit, opts.Logger), nil
	}
}

// commandSource runs an external command and keeps the tail of its stdout
type commandSource struct {
	desc   string
	name   string
	args   []string
	limit  int
	runner Runner
	logger *slog.Logger
}

func newCommandSource(desc string, opts Options, name string, args ...string) *commandSource {
	return &commandSource{
		desc:   desc,
		name:   name,
		args:   args,
		limit:  opts.Limit,
		runner: opts.Runner,
		logger: opts.Logger,
	}
}

func (s *commandSource) Describe() string {
	return s.desc
}

func (s *commandSource) Read(ctx context.Context) ([]string, error) {
	s.logger.Debug("Reading log source",
		"source", s.desc,
		"command", s.name,
		"args", s.args)

	out, err := s.runner.Output(ctx, s.name, s.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.desc, err)
	}
	return TailBytes(out, s.limit), nil
}

package fetch

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvcrn/quotabar/internal/usage"
)

// CommandRunner executes a local command and returns its stdout. The
// default implementation shells out; tests inject a fake.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// CLIStrategy probes a locally installed provider CLI for usage output.
// The probe itself (which binary, which flags, how the output parses) is
// opaque provider detail held in closures.
type CLIStrategy struct {
	id       string
	provider string
	account  string
	binary   string
	args     []string
	parse    ParseFunc
	runner   CommandRunner
	lookPath func(string) (string, error)
	logger   zerolog.Logger
}

func NewCLIStrategy(provider, account, binary string, args []string, parse ParseFunc, logger zerolog.Logger) *CLIStrategy {
	return &CLIStrategy{
		id:       provider + ":cli",
		provider: provider,
		account:  account,
		binary:   binary,
		args:     args,
		parse:    parse,
		runner:   execRunner{},
		lookPath: exec.LookPath,
		logger:   logger,
	}
}

// WithRunner swaps the command runner, for tests.
func (s *CLIStrategy) WithRunner(r CommandRunner) *CLIStrategy {
	s.runner = r
	return s
}

func (s *CLIStrategy) ID() string { return s.id }

func (s *CLIStrategy) Kind() Kind { return KindCLI }

func (s *CLIStrategy) Available(_ context.Context) bool {
	_, err := s.lookPath(s.binary)
	return err == nil
}

func (s *CLIStrategy) Fetch(ctx context.Context) (*usage.Snapshot, error) {
	out, err := s.runner.Run(ctx, s.binary, s.args...)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.parse(out)
	if err != nil {
		return nil, &MalformedResponseError{Strategy: s.id, Err: err}
	}
	snapshot.Provider = s.provider
	snapshot.Account = s.account
	snapshot.Source = string(KindCLI)
	snapshot.FetchedAt = time.Now()
	return snapshot, nil
}

func (s *CLIStrategy) ShouldFallback(err error) bool {
	var malformed *MalformedResponseError
	return !errors.As(err, &malformed)
}

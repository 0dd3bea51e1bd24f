package fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	out  []byte
	err  error
	name string
	args []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.name = name
	f.args = args
	return f.out, f.err
}

func TestCLIStrategyAvailability(t *testing.T) {
	strat := NewCLIStrategy("demo", "", "demo-cli", nil, parseTestUsage, zerolog.Nop())

	strat.lookPath = func(string) (string, error) { return "/usr/local/bin/demo-cli", nil }
	assert.True(t, strat.Available(context.Background()))

	strat.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	assert.False(t, strat.Available(context.Background()))
}

func TestCLIStrategyFetch(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{"used":0.7}`)}
	strat := NewCLIStrategy("demo", "", "demo-cli", []string{"usage", "--json"},
		parseTestUsage, zerolog.Nop()).WithRunner(runner)

	snapshot, err := strat.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "demo-cli", runner.name)
	assert.Equal(t, []string{"usage", "--json"}, runner.args)
	assert.Equal(t, string(KindCLI), snapshot.Source)
	require.Len(t, snapshot.Windows, 1)
	assert.InDelta(t, 0.7, snapshot.Windows[0].Utilization, 1e-9)
}

func TestCLIStrategyUnparseableOutput(t *testing.T) {
	runner := &fakeRunner{out: []byte("usage: demo-cli [flags]")}
	strat := NewCLIStrategy("demo", "", "demo-cli", nil, parseTestUsage, zerolog.Nop()).
		WithRunner(runner)

	_, err := strat.Fetch(context.Background())
	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.False(t, strat.ShouldFallback(err))
}

func TestCLIStrategyExecErrorFallsBack(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 1")}
	strat := NewCLIStrategy("demo", "", "demo-cli", nil, parseTestUsage, zerolog.Nop()).
		WithRunner(runner)

	_, err := strat.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, strat.ShouldFallback(err))
}

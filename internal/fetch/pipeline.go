package fetch

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/dvcrn/quotabar/internal/credentials"
	"github.com/dvcrn/quotabar/internal/usage"
)

// AttemptRecord documents one strategy attempt. Error descriptions carry
// no token material.
type AttemptRecord struct {
	StrategyID       string `json:"strategy_id"`
	Kind             Kind   `json:"kind"`
	WasAvailable     bool   `json:"was_available"`
	ErrorDescription string `json:"error,omitempty"`
}

// Outcome is the result of one pipeline run. Attempts accumulate across
// the whole run regardless of how it ended and are never mutated
// afterwards. Notices carry user-actionable conditions (a terminal
// refresh failure, for instance) even when a later strategy succeeded.
type Outcome struct {
	Snapshot *usage.Snapshot `json:"snapshot,omitempty"`
	Err      error           `json:"-"`
	Attempts []AttemptRecord `json:"attempts"`
	Notices  []string        `json:"notices,omitempty"`
}

// Pipeline executes strategies strictly in priority order; the first
// success wins and later strategies are never consulted.
type Pipeline struct {
	provider   string
	mode       Mode
	strategies []Strategy
	logger     zerolog.Logger
}

func NewPipeline(provider string, mode Mode, strategies []Strategy, logger zerolog.Logger) *Pipeline {
	if mode == "" {
		mode = ModeAuto
	}
	return &Pipeline{
		provider:   provider,
		mode:       mode,
		strategies: strategies,
		logger:     logger.With().Str("provider", provider).Logger(),
	}
}

// Fetch runs the pipeline once.
func (p *Pipeline) Fetch(ctx context.Context) Outcome {
	outcome := Outcome{}
	for _, strat := range p.strategies {
		if err := ctx.Err(); err != nil {
			outcome.Err = err
			return outcome
		}

		if !strat.Available(ctx) {
			p.logger.Debug().Str("strategy", strat.ID()).Msg("strategy not available")
			outcome.Attempts = append(outcome.Attempts, AttemptRecord{
				StrategyID: strat.ID(),
				Kind:       strat.Kind(),
			})
			continue
		}

		snapshot, err := strat.Fetch(ctx)
		record := AttemptRecord{
			StrategyID:   strat.ID(),
			Kind:         strat.Kind(),
			WasAvailable: true,
		}
		if err == nil {
			outcome.Attempts = append(outcome.Attempts, record)
			outcome.Snapshot = snapshot
			p.logger.Debug().Str("strategy", strat.ID()).Msg("usage fetch succeeded")
			return outcome
		}

		record.ErrorDescription = err.Error()
		outcome.Attempts = append(outcome.Attempts, record)
		if credentials.IsTerminalAuth(err) {
			// Surfaced even if a later strategy succeeds, so the caller
			// can prompt re-authentication without blocking the display.
			outcome.Notices = append(outcome.Notices, remediation(err))
		}

		if p.mode == ModePinned || !strat.ShouldFallback(err) {
			p.logger.Debug().Str("strategy", strat.ID()).Err(err).Msg("strategy failed without fallback")
			outcome.Err = err
			return outcome
		}
		p.logger.Debug().Str("strategy", strat.ID()).Err(err).Msg("strategy failed, falling back")
	}

	if outcome.Err == nil {
		outcome.Err = ErrNoStrategy
	}
	return outcome
}

func remediation(err error) string {
	var r interface{ Remediation() string }
	if errors.As(err, &r) && r.Remediation() != "" {
		return r.Remediation()
	}
	return "re-authentication required: " + err.Error()
}

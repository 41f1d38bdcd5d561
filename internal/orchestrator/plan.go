package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/async-scrapers/internal/pipeline"
	"github.com/JakeFAU/async-scrapers/internal/retry"
)

// DiscoverFunc maps a fetched page to the tasks of the next level.
type DiscoverFunc func(page pipeline.Page, task pipeline.FetchTask) ([]pipeline.FetchTask, error)

// Level is one link-discovery step. Levels[0] of a Plan is applied to the
// seed page; every later level is fetched as a limiter-gated round.
type Level struct {
	Name     string
	Discover DiscoverFunc
	// Dedupe collapses repeated URLs in the task list this level produces.
	Dedupe bool
}

// Handler processes one task of the terminal level: fetch, extract and sink.
// It always returns an outcome and never panics on bad input.
type Handler interface {
	Handle(ctx context.Context, policy *retry.Policy, task pipeline.FetchTask) pipeline.Outcome
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, policy *retry.Policy, task pipeline.FetchTask) pipeline.Outcome

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, policy *retry.Policy, task pipeline.FetchTask) pipeline.Outcome {
	return f(ctx, policy, task)
}

// Plan is the fixed-depth chain a site is crawled with.
type Plan struct {
	Name         string
	Levels       []Level
	TerminalName string
	Terminal     Handler
}

func (p Plan) validate() error {
	if p.Name == "" {
		return errors.New("plan name is required")
	}
	if len(p.Levels) == 0 {
		return fmt.Errorf("plan %s: at least the seed level is required", p.Name)
	}
	for i, lvl := range p.Levels {
		if lvl.Discover == nil {
			return fmt.Errorf("plan %s: level %d (%s) has no discover func", p.Name, i, lvl.Name)
		}
	}
	if p.Terminal == nil {
		return fmt.Errorf("plan %s: terminal handler is required", p.Name)
	}
	return nil
}

func (p Plan) terminalName() string {
	if p.TerminalName == "" {
		return "terminal"
	}
	return p.TerminalName
}

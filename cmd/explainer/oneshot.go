package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/grid/explainer/internal/engine"
	"github.com/grid/explainer/internal/jobs"
	"github.com/grid/explainer/internal/logging"
)

// runOnce explains query in the foreground and prints the outcome. It
// reports whether the run reached done.
func runOnce(query string) (bool, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return false, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg, nil, logger)
	if err != nil {
		return false, err
	}

	id := jobs.NewID()
	out := st.controller.Run(ctx, id, query)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return false, fmt.Errorf("failed to write outcome: %w", err)
	}
	return out.Succeeded(), nil
}

// doctor probes the configured tools once and prints the result.
func doctor() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := engine.NewSubprocessRunner(logging.WithComponent(logger, "engine"))
	caps, err := newDoctor(cfg, runner, logger).Refresh(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(caps)
}

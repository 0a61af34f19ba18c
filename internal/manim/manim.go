// Package manim drives the manim command-line renderer.
package manim

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/grid/explainer/internal/engine"
)

// Renderer renders a single scene class from a source file into a video.
type Renderer struct {
	runner  engine.Runner
	tool    string
	quality string
	logger  *slog.Logger
}

// NewRenderer creates a Renderer that invokes tool (usually "manim").
func NewRenderer(runner engine.Runner, tool, quality string, logger *slog.Logger) *Renderer {
	if quality == "" {
		quality = "l"
	}
	return &Renderer{runner: runner, tool: tool, quality: quality, logger: logger}
}

// Tool returns the configured executable.
func (r *Renderer) Tool() string { return r.tool }

// Args builds the manim argument list. Intermediate media is kept next to
// the output so the whole render stays inside the run's workspace.
func (r *Renderer) Args(sourcePath, scene, outputPath string) []string {
	dir := filepath.Dir(outputPath)
	return []string{
		"-q" + r.quality,
		sourcePath,
		scene,
		"--output_file", outputPath,
		"--media_dir", filepath.Join(dir, "media"),
	}
}

// Render runs manim and waits for it to exit. Errors are those of
// engine.Runner: ErrNotAvailable when manim is missing, *engine.ExitError
// with stdout and stderr when the render fails.
func (r *Renderer) Render(ctx context.Context, sourcePath, scene, outputPath string) error {
	cmd := engine.Command{
		Tool: r.tool,
		Args: r.Args(sourcePath, scene, outputPath),
		Dir:  filepath.Dir(sourcePath),
	}
	res, err := r.runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("manim render: %w", err)
	}
	r.logger.Debug("manim render finished",
		"scene", scene,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return nil
}

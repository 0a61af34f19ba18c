package speech

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/grid/explainer/internal/engine"
)

// OutPlaceholder in a command's arguments is replaced with the output path.
const OutPlaceholder = "{out}"

// Command synthesizes speech with an external executable that reads the
// script on stdin, for example "espeak-ng --stdin -w {out}".
type Command struct {
	runner engine.Runner
	tool   string
	args   []string
	ext    string
	logger *slog.Logger
}

// NewCommand creates a Command engine. The audio extension defaults to wav.
func NewCommand(runner engine.Runner, tool string, args []string, ext string, logger *slog.Logger) *Command {
	if ext == "" {
		ext = "wav"
	}
	return &Command{runner: runner, tool: tool, args: args, ext: ext, logger: logger}
}

func (c *Command) Name() string { return EngineCommand }
func (c *Command) Ext() string  { return c.ext }

// Tool returns the configured executable.
func (c *Command) Tool() string { return c.tool }

// Args substitutes outPath into the configured arguments. When no argument
// carries the placeholder the path is appended.
func (c *Command) Args(outPath string) []string {
	out := make([]string, 0, len(c.args)+1)
	replaced := false
	for _, a := range c.args {
		if strings.Contains(a, OutPlaceholder) {
			a = strings.ReplaceAll(a, OutPlaceholder, outPath)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, outPath)
	}
	return out
}

// Synthesize runs the command with text on stdin.
func (c *Command) Synthesize(ctx context.Context, text, outPath string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	res, err := c.runner.Run(ctx, engine.Command{
		Tool:  c.tool,
		Args:  c.Args(outPath),
		Dir:   filepath.Dir(outPath),
		Stdin: strings.NewReader(text),
	})
	if err != nil {
		return fmt.Errorf("speech command: %w", err)
	}
	c.logger.Debug("speech command finished", "tool", c.tool, "duration_ms", res.Duration.Milliseconds())
	return nil
}

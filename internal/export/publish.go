// Package export publishes the deliverables of a finished run outside its
// temporary workspace.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/grid/explainer/internal/parse"
)

// File names written next to the published video.
const (
	SourceFile   = "animation.py"
	ScriptFile   = "narration.txt"
	MetadataFile = "run.json"
)

// Metadata is written as run.json in every published directory.
type Metadata struct {
	RunID       string    `json:"run_id"`
	Query       string    `json:"query"`
	VideoFile   string    `json:"video_file"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher copies the final video, the animation source and the narration
// script into <outputDir>/<runID>/.
type Publisher struct {
	outputDir string
	logger    *slog.Logger
}

// NewPublisher creates a Publisher rooted at outputDir, creating it if needed.
func NewPublisher(outputDir string, logger *slog.Logger) (*Publisher, error) {
	if err := ensureOutputDir(outputDir); err != nil {
		return nil, err
	}
	return &Publisher{outputDir: outputDir, logger: logger}, nil
}

// RunDir returns the directory a run is published into.
func (p *Publisher) RunDir(runID string) string {
	return filepath.Join(p.outputDir, dirName(runID))
}

func dirName(runID string) string {
	b := []byte(runID)
	for i, c := range b {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
			b[i] = '_'
		}
	}
	if len(b) == 0 || b[0] == '-' {
		return "run_" + string(b)
	}
	return string(b)
}

// Publish copies the deliverables and returns the published video path. A
// partially published directory is removed on failure.
func (p *Publisher) Publish(runID, query, finalVideoPath string, art parse.Artifacts) (_ string, err error) {
	dir := p.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating publish dir: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	videoName := FileStem(query) + ".mp4"
	videoPath := filepath.Join(dir, videoName)
	if err := copyFile(finalVideoPath, videoPath); err != nil {
		return "", fmt.Errorf("copying video: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SourceFile), []byte(art.AnimationSource), 0o644); err != nil {
		return "", fmt.Errorf("writing animation source: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ScriptFile), []byte(art.NarrationScript), 0o644); err != nil {
		return "", fmt.Errorf("writing narration script: %w", err)
	}

	meta, err := json.MarshalIndent(Metadata{
		RunID:       runID,
		Query:       query,
		VideoFile:   videoName,
		PublishedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), meta, 0o644); err != nil {
		return "", fmt.Errorf("writing metadata: %w", err)
	}

	p.logger.Info("run published", "run_id", runID, "path", videoPath)
	return videoPath, nil
}

// copyFile writes dst via a temp file and rename so readers never see a
// partial video.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".publish-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

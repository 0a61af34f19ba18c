package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Slot names one artifact file inside a workspace.
type Slot string

const (
	SlotAnimationSource Slot = "animation-source"
	SlotRenderedVideo   Slot = "rendered-video"
	SlotNarrationAudio  Slot = "narration-audio"
	SlotFinalVideo      Slot = "final-video"
)

// File names of the fixed slots. The narration file takes the extension of
// the speech engine.
const (
	AnimationFile = "Animation.py"
	VideoFile     = "video.mp4"
	NarrationBase = "voiceover"
	FinalFile     = "final.mp4"
)

// ErrSlotClaimed is returned when a slot is claimed a second time.
var ErrSlotClaimed = errors.New("workspace slot already claimed")

// Workspace is the private directory of one run. Each slot may be claimed
// once; Remove deletes everything.
type Workspace struct {
	dir      string
	audioExt string

	mu      sync.Mutex
	claimed map[Slot]bool
}

// NewWorkspace creates a fresh directory under base (the system temp dir
// when base is empty). Concurrent runs never share a directory.
func NewWorkspace(base, runID, audioExt string) (*Workspace, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, fmt.Errorf("creating work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "run-"+safeID(runID)+"-")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	if audioExt == "" {
		audioExt = "mp3"
	}
	return &Workspace{
		dir:      dir,
		audioExt: strings.TrimPrefix(audioExt, "."),
		claimed:  make(map[Slot]bool),
	}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Path returns the file path of slot without claiming it.
func (w *Workspace) Path(slot Slot) string {
	switch slot {
	case SlotAnimationSource:
		return filepath.Join(w.dir, AnimationFile)
	case SlotRenderedVideo:
		return filepath.Join(w.dir, VideoFile)
	case SlotNarrationAudio:
		return filepath.Join(w.dir, NarrationBase+"."+w.audioExt)
	case SlotFinalVideo:
		return filepath.Join(w.dir, FinalFile)
	}
	return ""
}

// Claim reserves slot for the caller and returns its path.
func (w *Workspace) Claim(slot Slot) (string, error) {
	p := w.Path(slot)
	if p == "" {
		return "", fmt.Errorf("unknown workspace slot %q", slot)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.claimed[slot] {
		return "", fmt.Errorf("%w: %s", ErrSlotClaimed, slot)
	}
	w.claimed[slot] = true
	return p, nil
}

// Remove deletes the workspace and everything in it.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.dir)
}

func safeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= 40 {
			break
		}
	}
	return b.String()
}

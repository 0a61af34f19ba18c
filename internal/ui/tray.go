// Package ui shows the agent in the system tray.
package ui

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/grid/explainer/internal/jobs"
)

const refreshInterval = 2 * time.Second

// RunnerView is the part of the background runner the tray reads and drives.
type RunnerView interface {
	Pause()
	Resume()
	IsPaused() bool
	CurrentRunID() string
	LastRun() *jobs.Run
}

type Tray struct {
	runner RunnerView
	apiURL string
	logger *slog.Logger

	statusItem  *systray.MenuItem
	lastRunItem *systray.MenuItem
	pauseItem   *systray.MenuItem

	mu   sync.Mutex
	stop chan struct{}

	onQuit func()
}

type TrayConfig struct {
	Runner RunnerView
	APIURL string
	Logger *slog.Logger
	OnQuit func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		runner: cfg.Runner,
		apiURL: cfg.APIURL,
		logger: cfg.Logger,
		onQuit: cfg.OnQuit,
		stop:   make(chan struct{}),
	}
}

// Run blocks on the platform event loop until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Grid")
	systray.SetTooltip("Grid explainer agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current runner status")
	t.statusItem.Disable()

	t.lastRunItem = systray.AddMenuItem("Last run: none", "Most recently finished run")
	t.lastRunItem.Disable()

	apiItem := systray.AddMenuItem("API: "+t.apiURL, "Local API address")
	apiItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Pause processing queued queries")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Grid")

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	go t.refreshLoop()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.stop)
	t.logger.Info("system tray exiting")
}

func (t *Tray) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.refresh()
		}
	}
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}
	t.statusItem.SetTitle("Status: " + StatusLabel(t.runner.IsPaused(), t.runner.CurrentRunID()))
	t.lastRunItem.SetTitle("Last run: " + LastRunLabel(t.runner.LastRun()))
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause")
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume")
	}
	t.statusItem.SetTitle("Status: " + StatusLabel(t.runner.IsPaused(), t.runner.CurrentRunID()))
}

func (t *Tray) Quit() {
	systray.Quit()
}

// StatusLabel renders the runner state for the status menu item.
func StatusLabel(paused bool, currentRunID string) string {
	switch {
	case paused && currentRunID != "":
		return "Pausing (finishing current run)"
	case paused:
		return "Paused"
	case currentRunID != "":
		return "Explaining…"
	default:
		return "Idle"
	}
}

// LastRunLabel summarises a finished run in one short line.
func LastRunLabel(run *jobs.Run) string {
	if run == nil {
		return "none"
	}
	q := []rune(run.Query)
	if len(q) > 32 {
		q = append(q[:31], '…')
	}
	if run.Status == jobs.StatusDone {
		return fmt.Sprintf("%q done", string(q))
	}
	return fmt.Sprintf("%q failed at %s (%s)", string(q), run.Stage, run.FailureKind)
}

package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/getlantern/systray"

	"github.com/damian-maker/IA-KICK/internal/ledger"
)

const defaultRefreshInterval = 5 * time.Second

// RunControl is the runner surface driven from the menu.
type RunControl interface {
	Pause()
	Resume()
	IsPaused() bool
	CurrentRun() string
	StopCurrent() bool
}

// Busy reports whether a run is being processed.
type Busy interface {
	Busy() bool
}

// StatsSource provides the clip counters shown in the menu.
type StatsSource interface {
	ClipStats(ctx context.Context) (*ledger.ClipStats, error)
}

// Trainer retrains the models from ratings.
type Trainer interface {
	TrainFromRatings(ctx context.Context, minSamples int) (*ledger.TrainReport, error)
}

type Tray struct {
	runner  RunControl
	session Busy
	stats   StatsSource
	trainer Trainer
	logger  *slog.Logger
	refresh time.Duration

	statusItem *systray.MenuItem
	clipsItem  *systray.MenuItem
	pauseItem  *systray.MenuItem
	stopItem   *systray.MenuItem
	trainItem  *systray.MenuItem

	mu       sync.Mutex
	training bool

	onQuit func()
	done   chan struct{}
}

type TrayConfig struct {
	Runner          RunControl
	Session         Busy
	Stats           StatsSource
	Trainer         Trainer
	Logger          *slog.Logger
	RefreshInterval time.Duration
	OnQuit          func()
}

func NewTray(cfg TrayConfig) *Tray {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	return &Tray{
		runner:  cfg.Runner,
		session: cfg.Session,
		stats:   cfg.Stats,
		trainer: cfg.Trainer,
		logger:  cfg.Logger,
		refresh: cfg.RefreshInterval,
		onQuit:  cfg.OnQuit,
		done:    make(chan struct{}),
	}
}

// Run blocks on the native event loop until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes())
	systray.SetTitle("kickclip")
	systray.SetTooltip("kickclip highlight agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()

	t.clipsItem = systray.AddMenuItem("Clips: 0", "Generated and rated clips")
	t.clipsItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Pause the run queue")
	t.stopItem = systray.AddMenuItem("Stop current run", "Stop the run in progress after its current chunk")
	t.trainItem = systray.AddMenuItem("Train now", "Retrain the models from ratings")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit kickclip")

	go t.poll()
	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-t.stopItem.ClickedCh:
				t.stopCurrent()
			case <-t.trainItem.ClickedCh:
				go t.trainNow()
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

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.done)
	t.logger.Info("system tray exiting")
}

func (t *Tray) poll() {
	ticker := time.NewTicker(t.refresh)
	defer ticker.Stop()

	t.update()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.update()
		}
	}
}

func (t *Tray) update() {
	t.mu.Lock()
	defer t.mu.Unlock()

	busy := t.session != nil && t.session.Busy()
	paused := t.runner != nil && t.runner.IsPaused()
	runID := ""
	if t.runner != nil {
		runID = t.runner.CurrentRun()
	}
	t.statusItem.SetTitle(StatusLine(busy, paused, t.training, runID))

	if busy {
		t.stopItem.Enable()
	} else {
		t.stopItem.Disable()
	}

	if t.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stats, err := t.stats.ClipStats(ctx)
	if err != nil {
		t.logger.Warn("failed to load clip stats", "error", err)
		return
	}
	t.clipsItem.SetTitle(ClipsLine(stats))
}

func (t *Tray) togglePause() {
	if t.runner == nil {
		return
	}

	t.mu.Lock()
	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause")
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume")
	}
	t.mu.Unlock()

	t.update()
}

func (t *Tray) stopCurrent() {
	if t.runner == nil {
		return
	}
	if t.runner.StopCurrent() {
		t.logger.Info("stop requested from tray", "run_id", t.runner.CurrentRun())
	}
	t.update()
}

func (t *Tray) trainNow() {
	if t.trainer == nil {
		return
	}

	t.mu.Lock()
	if t.training {
		t.mu.Unlock()
		return
	}
	t.training = true
	t.trainItem.Disable()
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.training = false
		t.trainItem.Enable()
		t.mu.Unlock()
		t.update()
	}()
	t.update()

	report, err := t.trainer.TrainFromRatings(context.Background(), 0)
	if err != nil {
		t.logger.Error("training from tray failed", "error", err)
		return
	}
	t.logger.Info("training from tray finished", "trained", report.Trained())
}

// StatusLine renders the status menu entry.
func StatusLine(busy, paused, training bool, runID string) string {
	switch {
	case training:
		return "Status: Training"
	case busy && runID != "":
		return fmt.Sprintf("Status: Processing %s", shortID(runID))
	case busy:
		return "Status: Processing"
	case paused:
		return "Status: Paused"
	default:
		return "Status: Idle"
	}
}

// ClipsLine renders the clip counters menu entry.
func ClipsLine(s *ledger.ClipStats) string {
	if s == nil || s.Total == 0 {
		return "Clips: none yet"
	}
	return fmt.Sprintf("Clips: %s, %s rated (%.0f%%)",
		humanize.Comma(int64(s.Total)), humanize.Comma(int64(s.Rated)),
		100*float64(s.Rated)/float64(s.Total))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (t *Tray) Quit() {
	systray.Quit()
}

package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kelsos/taskwatch/internal/logger"
	"github.com/kelsos/taskwatch/internal/models"
	"github.com/kelsos/taskwatch/internal/services"
)

const snapshotInterval = 500 * time.Millisecond

type WatchMonitor struct {
	watchService *services.WatchService
	program      *tea.Program
	updates      chan StatusMsg
}

func NewWatchMonitor(watchService *services.WatchService) *WatchMonitor {
	return &WatchMonitor{
		watchService: watchService,
		updates:      make(chan StatusMsg, 256),
	}
}

func (wm *WatchMonitor) Start() error {
	model := NewModel()
	wm.program = tea.NewProgram(model, tea.WithAltScreen())

	// Runs on the subscription loop, so never block here.
	wm.watchService.SetObserver(func(id models.TaskID, status models.TaskStatus, _ json.RawMessage) {
		select {
		case wm.updates <- StatusMsg{TaskID: id, Status: status}:
		default:
		}
	})

	return nil
}

func (wm *WatchMonitor) Stop() {
	if wm.program != nil {
		wm.program.Quit()
	}
}

func (wm *WatchMonitor) AddLog(message string) {
	if wm.program != nil {
		wm.program.Send(LogMessage{
			Message: message,
		})
	}
}

func (wm *WatchMonitor) forward(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-wm.updates:
			wm.program.Send(msg)
		case <-ticker.C:
			wm.program.Send(SnapshotMsg{Snapshot: wm.watchService.Snapshot()})
		}
	}
}

// Run starts watching and blocks until the user quits or ctx is done.
func (wm *WatchMonitor) Run(ctx context.Context) error {
	if wm.program == nil {
		if err := wm.Start(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go wm.forward(ctx)

	go func() {
		cfg := wm.watchService.GetConfig()
		wm.AddLog(fmt.Sprintf("Watching tasks on %s", cfg.StatusURL))
		if err := wm.watchService.Run(ctx); err != nil {
			logger.Error("Watch failed: %v", err)
			wm.AddLog(fmt.Sprintf("❌ Fatal error: %v", err))
		}
	}()

	go func() {
		<-ctx.Done()
		wm.Stop()
	}()

	// Run the TUI (blocks until quit)
	if _, err := wm.program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}

	return nil
}

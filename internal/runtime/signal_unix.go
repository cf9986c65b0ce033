//go:build !windows

package runtime

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
)

// watchToggleSignal toggles the pipeline on SIGUSR1 so desktop hotkey
// daemons can bind `pkill -USR1 loqa-dictate`.
func (r *Runtime) watchToggleSignal(ctx context.Context) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	defer signal.Stop(sigs)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			r.logger.Info("toggle requested by signal")
			if err := bus.Apply(r.ctrl, protocol.ActionToggle, 15*time.Second); err != nil {
				r.logger.Warn("signal toggle failed", slog.String("error", err.Error()))
			}
		}
	}
}

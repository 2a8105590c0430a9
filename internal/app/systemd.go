package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "queuewatch/pkg/logx"
)

// startSystemd reports readiness and, when WatchdogSec is set on the unit,
// pings the watchdog while the process is healthy. Outside systemd both
// calls are no-ops.
func (a *App) startSystemd() {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
		return
	}
	if !sent {
		return
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}

	a.sup.Go0("watchdog", func(ctx context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

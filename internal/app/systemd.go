package app

import (
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "sprinklerd/pkg/logx"
)

// notifier speaks the sd_notify protocol. Without NOTIFY_SOCKET every call
// is a no-op.
type notifier struct {
	enabled bool
	log     logx.Logger

	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newNotifier(enabled bool, log logx.Logger) *notifier {
	n := &notifier{enabled: enabled, log: log}
	if !enabled {
		return n
	}
	iv, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog settings unreadable", logx.Err(err))
	}
	// Ping at half the timeout.
	n.interval = iv / 2
	return n
}

func (n *notifier) send(state string) {
	if n == nil || !n.enabled {
		return
	}
	if _, err := daemon.SdNotify(false, state); err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}

func (n *notifier) ready()    { n.send(daemon.SdNotifyReady) }
func (n *notifier) stopping() { n.send(daemon.SdNotifyStopping) }

func (n *notifier) watchdog(now time.Time) {
	if n == nil || !n.enabled || n.interval <= 0 {
		return
	}
	n.mu.Lock()
	due := now.Sub(n.last) >= n.interval
	if due {
		n.last = now
	}
	n.mu.Unlock()
	if due {
		n.send(daemon.SdNotifyWatchdog)
	}
}

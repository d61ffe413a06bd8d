package station

import (
	"strings"
	"sync"

	logx "sprinklerd/pkg/logx"
)

// LogOutputs is the Outputs used when no hardware driver is attached. It
// only records and logs what would have been written.
type LogOutputs struct {
	mu     sync.Mutex
	states []bool
	relay  bool
	log    logx.Logger
}

func NewLogOutputs(log logx.Logger) *LogOutputs {
	return &LogOutputs{log: log}
}

func (o *LogOutputs) SetStations(states []bool) error {
	o.mu.Lock()
	o.states = append(o.states[:0], states...)
	o.mu.Unlock()
	o.log.Info("outputs", logx.String("state", formatStates(states)))
	return nil
}

func (o *LogOutputs) SetRelay(on bool) error {
	o.mu.Lock()
	o.relay = on
	o.mu.Unlock()
	o.log.Info("relay", logx.Bool("on", on))
	return nil
}

// States returns the last written state vector.
func (o *LogOutputs) States() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bool(nil), o.states...)
}

func (o *LogOutputs) RelayState() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.relay
}

// formatStates renders a state vector as e.g. "10010".
func formatStates(states []bool) string {
	var b strings.Builder
	b.Grow(len(states))
	for _, on := range states {
		if on {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

package stream

import "botdash/internal/metrics"

// State - состояние соединения StreamClient
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnectScheduled
)

var allStates = []State{StateDisconnected, StateConnecting, StateOpen, StateReconnectScheduled}

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnectScheduled:
		return "reconnect_scheduled"
	default:
		return "unknown"
	}
}

// recordState выставляет gauge: 1 для текущего состояния, 0 для остальных
func recordState(current State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		metrics.StreamState.WithLabelValues(s.String()).Set(v)
	}
}

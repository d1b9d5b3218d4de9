package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPingInterval matches the reference relay's 29 second keepalive.
const DefaultPingInterval = 29 * time.Second

// ConnState is the liveness monitor's view of the channel.
type ConnState int

const (
	// StateConnecting is the initial state before the first dial completes.
	StateConnecting ConnState = iota
	// StateOpen means the channel is believed writable.
	StateOpen
	// StateReconnecting means the channel died and redials are in progress.
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Monitor is the client-side liveness machine. The fixed interval ticker
// is its sole driver: each tick either pings an open channel or replaces
// a dead one. Fixed-interval retry, no backoff, no attempt cap.
type Monitor struct {
	interval time.Duration
	ping     func(ctx context.Context) error
	redial   func(ctx context.Context) error
	log      *zerolog.Logger

	mu    sync.Mutex
	state ConnState
}

// NewMonitor builds a monitor in the Connecting state.
func NewMonitor(interval time.Duration, ping, redial func(ctx context.Context) error, logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	return &Monitor{
		interval: interval,
		ping:     ping,
		redial:   redial,
		log:      logger,
		state:    StateConnecting,
	}
}

// State returns the current channel state.
func (m *Monitor) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetOpen records that a dial outside the tick loop succeeded.
func (m *Monitor) SetOpen() {
	m.setState(StateOpen)
}

// MarkDown records that the channel died (read loop error, transport
// close). The next tick redials.
func (m *Monitor) MarkDown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateOpen {
		m.state = StateReconnecting
	}
}

func (m *Monitor) setState(s ConnState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// Run drives the machine until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	switch m.State() {
	case StateOpen:
		if err := m.ping(ctx); err != nil {
			m.log.Warn().Err(err).Msg("keepalive ping failed")
			m.setState(StateReconnecting)
		}
	case StateConnecting, StateReconnecting:
		if err := m.redial(ctx); err != nil {
			m.log.Warn().Err(err).Msg("reconnect attempt failed")
			m.setState(StateReconnecting)
			return
		}
		m.log.Info().Msg("channel reopened")
		m.setState(StateOpen)
	}
}

// Package socket owns the long-lived websocket of one channel and keeps it
// open with bounded exponential backoff.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/taptoon/taptoon-fe/internal/bus"
	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"github.com/taptoon/taptoon-fe/internal/identity"
	"github.com/taptoon/taptoon-fe/internal/metrics"
	"github.com/taptoon/taptoon-fe/internal/status"
	"go.uber.org/zap"
)

var errInvalidJSON = errors.New("frame is not valid JSON")

// FrameHandler receives every JSON frame of a channel, in transport order,
// on the channel's read goroutine.
type FrameHandler func(raw []byte)

// ErrorHandler receives errors the manager cannot return to a caller:
// undecodable frames, failed reconnects and the terminal loss.
type ErrorHandler func(err error)

// Timer is a scheduled reconnect.
type Timer interface {
	Stop() bool
}

// Options configures a Manager. Zero fields take production defaults.
type Options struct {
	Policy    Policy
	Dialer    Dialer
	AfterFunc func(d time.Duration, f func()) Timer
	OnError   ErrorHandler
	Bus       *bus.Bus
}

// Manager keeps exactly one socket per channel.
type Manager struct {
	channel Channel
	handler FrameHandler
	opts    Options
	machine *status.Machine
	logger  *zap.Logger

	mu         sync.Mutex
	identity   identity.Identity
	retryCount int
	stopped    bool
	conn       Conn
	gen        uint64
	timer      Timer
	dialCtx    context.Context
	dialCancel context.CancelFunc

	readers sync.WaitGroup
}

// NewManager creates a closed manager for ch.
func NewManager(ch Channel, handler FrameHandler, opts Options, logger *zap.Logger) *Manager {
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.Dialer == nil {
		opts.Dialer = NewWebsocketDialer(10 * time.Second)
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &Manager{
		channel: ch,
		handler: handler,
		opts:    opts,
		machine: status.NewMachine(ch.Name, opts.Bus),
		logger:  logger.With(zap.String("channel", ch.Name)),
	}
}

// Channel returns the channel this manager serves.
func (m *Manager) Channel() Channel {
	return m.channel
}

// State returns the current connection status.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// RetryCount returns the number of reconnects since the last successful open.
func (m *Manager) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount
}

// Connect opens the channel's socket with id. It is a no-op while the socket
// is OPEN or CONNECTING. A failed dial is returned and a reconnect is
// scheduled as for any other close.
func (m *Manager) Connect(ctx context.Context, id identity.Identity) error {
	m.mu.Lock()
	switch m.machine.Current() {
	case status.Open, status.Connecting:
		m.mu.Unlock()
		return nil
	case status.Lost:
		m.retryCount = 0
	}
	if m.stopped {
		m.retryCount = 0
		m.stopped = false
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.identity = id
	if m.dialCancel != nil {
		m.dialCancel()
	}
	m.dialCtx, m.dialCancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	return m.dial(ctx)
}

// Disconnect closes the socket and suppresses any further reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	m.retryCount = m.opts.Policy.MaxRetries
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
	}
	conn := m.conn
	m.conn = nil
	if conn != nil {
		_ = m.machine.Transition(status.Closed)
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		m.logger.Info("socket disconnected")
	}
}

// Wait blocks until the read goroutines of closed sockets have returned.
func (m *Manager) Wait() {
	m.readers.Wait()
}

func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	if err := m.machine.Transition(status.Connecting); err != nil {
		// Another dial is in flight or the socket is already open.
		m.mu.Unlock()
		return nil
	}
	id := m.identity
	attempt := m.retryCount
	dialCtx := m.dialCtx
	m.mu.Unlock()

	ctx, cancel := mergeCancel(ctx, dialCtx)
	conn, err := m.opts.Dialer.Dial(ctx, m.channel.URL(id))
	cancel()

	m.mu.Lock()
	if err != nil {
		_ = m.machine.Transition(status.Closed)
		var authErr *chaterr.AuthRequiredError
		if errors.As(err, &authErr) {
			// Retrying with the same credential cannot succeed.
			m.stopped = true
			m.mu.Unlock()
			m.logger.Warn("socket rejected credential")
			return err
		}
		terminal := m.afterCloseLocked(err)
		m.mu.Unlock()

		m.logger.Warn("socket dial failed", zap.Int("attempt", attempt), zap.Error(err))
		if terminal != nil {
			m.report(terminal)
			return terminal
		}
		return &chaterr.TransportError{Channel: m.channel.Name, Attempt: attempt, Err: err}
	}
	if m.stopped {
		_ = m.machine.Transition(status.Closed)
		m.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	m.conn = conn
	m.retryCount = 0
	m.gen++
	gen := m.gen
	_ = m.machine.Transition(status.Open)
	m.readers.Add(1)
	m.mu.Unlock()

	metrics.SocketConnects.WithLabelValues(m.channel.Kind).Inc()
	m.logger.Info("socket open", zap.Int("attempt", attempt))
	go m.readLoop(conn, gen)
	return nil
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	defer m.readers.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		metrics.FramesReceived.WithLabelValues(m.channel.Kind).Inc()
		if !json.Valid(data) {
			metrics.FramesDropped.WithLabelValues(m.channel.Kind).Inc()
			decErr := &chaterr.DecodeError{Source: m.channel.Name, Err: errInvalidJSON}
			m.logger.Warn("dropping frame", zap.Error(decErr))
			if m.opts.Bus != nil {
				m.opts.Bus.Publish(bus.Event{Kind: bus.KindSocketDecodeError, Timestamp: time.Now(), Payload: decErr})
			}
			m.report(decErr)
			continue
		}
		if m.handler != nil {
			m.handler(data)
		}
	}
}

func (m *Manager) handleClose(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.conn == nil {
		// Closed by Disconnect or superseded by a newer socket.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	_ = m.machine.Transition(status.Closed)
	terminal := m.afterCloseLocked(cause)
	m.mu.Unlock()

	m.logger.Warn("socket closed", zap.Error(cause))
	if terminal != nil {
		m.report(terminal)
	}
}

// afterCloseLocked schedules the next reconnect or, once the budget is
// spent, moves to LOST and returns the terminal error.
func (m *Manager) afterCloseLocked(cause error) error {
	if m.stopped {
		return nil
	}
	if m.retryCount >= m.opts.Policy.MaxRetries {
		_ = m.machine.Transition(status.Lost)
		metrics.ConnectionsLost.WithLabelValues(m.channel.Kind).Inc()
		m.logger.Error("socket lost", zap.Int("attempts", m.retryCount))
		return &chaterr.TransportError{
			Channel:  m.channel.Name,
			Attempt:  m.retryCount,
			Terminal: true,
			Err:      cause,
		}
	}
	delay := m.opts.Policy.Delay(m.retryCount)
	m.retryCount++
	metrics.ReconnectAttempts.WithLabelValues(m.channel.Kind).Inc()
	m.logger.Info("reconnect scheduled", zap.Int("attempt", m.retryCount), zap.Duration("delay", delay))
	m.timer = m.opts.AfterFunc(delay, m.reconnect)
	return nil
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	m.timer = nil
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return
	}
	if err := m.dial(context.Background()); err != nil {
		var terr *chaterr.TransportError
		if errors.As(err, &terr) && terr.Terminal {
			// Already reported by dial.
			return
		}
		m.report(err)
	}
}

func (m *Manager) report(err error) {
	if m.opts.OnError != nil {
		m.opts.OnError(err)
	}
}

// mergeCancel returns a context cancelled when either parent is done.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

package printer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"bambulink/internal/bus"
	"bambulink/internal/events"
	"bambulink/internal/transport"
)

// ServiceOptions bound the connection manager's retry and timing behavior.
type ServiceOptions struct {
	// MaxRetries limits consecutive failed connection attempts; 0 means
	// retry until stopped.
	MaxRetries int
	// AuthFailureLimit is the number of consecutive credential rejections
	// tolerated before the engine gives up for good.
	AuthFailureLimit int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	ReadTimeout      time.Duration
	KeepAlive        time.Duration
}

func (o ServiceOptions) withDefaults() ServiceOptions {
	if o.AuthFailureLimit <= 0 {
		o.AuthFailureLimit = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 15 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 90 * time.Second
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 25 * time.Second
	}
	return o
}

// Service owns the device connection lifecycle: connect, authenticate, read
// loop, write loop and reconnect with backoff. It never touches the state
// store directly; decoded telemetry goes out on the bus.
type Service struct {
	logger     *slog.Logger
	bus        bus.MessageBus
	transport  transport.Transport
	dispatcher *Dispatcher
	opts       ServiceOptions
}

func NewService(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, d *Dispatcher, opts ServiceOptions) *Service {
	return &Service{
		logger:     logger,
		bus:        b,
		transport:  tr,
		dispatcher: d,
		opts:       opts.withDefaults(),
	}
}

// Start launches the connection loop. It returns immediately; the loop runs
// until ctx is canceled or a fatal condition is hit.
func (s *Service) Start(ctx context.Context) {
	go s.runConnector(ctx)
}

// Submit queues a command for transmission and returns its handle.
func (s *Service) Submit(cmd Command) (*CommandHandle, error) {
	return s.dispatcher.Submit(cmd)
}

func (s *Service) runConnector(ctx context.Context) {
	backoff := s.opts.BackoffBase
	attempts := 0
	authFailures := 0

	for {
		if err := ctx.Err(); err != nil {
			s.publishStatus(events.ConnectionStateStopped, nil, attempts)
			return
		}

		attempts++
		s.publishStatus(events.ConnectionStateConnecting, nil, attempts)
		err := s.transport.Connect(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrAuthRejected) {
				authFailures++
				s.logger.Error("authentication rejected", "attempt", authFailures, "limit", s.opts.AuthFailureLimit)
				if authFailures >= s.opts.AuthFailureLimit {
					// One fatal notification, then stop: hammering a
					// wrong access code never becomes right.
					s.publishStatus(events.ConnectionStateAuthFailed, fmt.Errorf("%w: check the LAN access code", ErrAuthentication), attempts)
					return
				}
			} else {
				s.logger.Warn("connect failed", "error", err)
			}
			if s.opts.MaxRetries > 0 && attempts >= s.opts.MaxRetries {
				s.publishStatus(events.ConnectionStateDisconnected, fmt.Errorf("%w: retry limit reached", ErrUnreachable), attempts)
				return
			}
			s.publishStatus(events.ConnectionStateReconnecting, err, attempts)
			if !sleepWithContext(ctx, jitteredBackoff(backoff)) {
				s.publishStatus(events.ConnectionStateStopped, nil, attempts)
				return
			}
			backoff = nextBackoff(backoff, s.opts.BackoffCap)
			continue
		}

		backoff = s.opts.BackoffBase
		attempts = 0
		authFailures = 0
		s.publishStatus(events.ConnectionStateAuthenticated, nil, 0)

		sessionErr := s.runSession(ctx)
		_ = s.transport.Close()
		s.dispatcher.FailAll(fmt.Errorf("%w: %v", ErrConnectionClosed, sessionErr))

		if ctx.Err() != nil {
			// Cooperative shutdown: no reconnect after stop.
			s.publishStatus(events.ConnectionStateStopped, nil, 0)
			return
		}
		s.logger.Warn("session ended, reconnecting", "error", sessionErr)
		s.publishStatus(events.ConnectionStateReconnecting, sessionErr, 0)
		if !sleepWithContext(ctx, jitteredBackoff(backoff)) {
			s.publishStatus(events.ConnectionStateStopped, nil, 0)
			return
		}
		backoff = nextBackoff(backoff, s.opts.BackoffCap)
	}
}

// runSession drives one authenticated connection: full-state request,
// keep-alive, write loop, and the read loop in the current goroutine.
func (s *Service) runSession(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if err := s.requestFullState(sessionCtx); err != nil {
		return fmt.Errorf("request full state: %w", err)
	}

	go s.runKeepAlive(sessionCtx)
	go s.runWriter(sessionCtx, cancel)

	err := s.runReader(sessionCtx)
	cancel(err)
	if cause := context.Cause(sessionCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}

func (s *Service) runReader(ctx context.Context) error {
	streaming := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		readCtx, cancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
		payload, err := s.transport.ReadFrame(readCtx)
		cancel()
		if err != nil {
			return err
		}

		s.bus.Publish(events.TopicRawFrameIn, events.RawFrame{Topic: "report", Len: len(payload)})
		update, ack, err := Decode(payload)
		if err != nil {
			// Malformed frames are dropped; the stream continues.
			s.logger.Warn("decode frame failed", "len", len(payload), "error", err)
			continue
		}

		if !streaming {
			streaming = true
			s.publishStatus(events.ConnectionStateStreaming, nil, 0)
		}
		if ack != nil {
			s.dispatcher.Resolve(*ack)
			s.publishCommandResult(*ack)
		}
		if update.Clamped {
			s.logger.Warn("telemetry values out of range, clamped")
		}
		if !update.Empty() {
			s.bus.Publish(events.TopicTelemetry, update)
		}
	}
}

func (s *Service) runWriter(ctx context.Context, cancel context.CancelCauseFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.dispatcher.Outbox():
			if !s.dispatcher.stillPending(frame.SequenceID) {
				// Left over from a torn-down session; the caller was
				// already told this command failed.
				s.logger.Debug("dropping stale frame", "seq", frame.SequenceID, "kind", frame.Kind)
				continue
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 8*time.Second)
			err := s.transport.WriteFrame(writeCtx, frame.Payload)
			cancelWrite()
			if err != nil {
				s.logger.Warn("write frame failed", "seq", frame.SequenceID, "kind", frame.Kind, "error", err)
				cancel(fmt.Errorf("write %s: %w", frame.Kind, err))
				return
			}
			s.bus.Publish(events.TopicRawFrameOut, events.RawFrame{Topic: "request", Len: len(frame.Payload)})
		}
	}
}

// runKeepAlive periodically requests a full status push. P1-series firmware
// stops pushing deltas to quiet subscribers; the periodic pushall doubles as
// liveness traffic for the read timeout. A failed keep-alive does not tear
// the session down on its own; the read loop detects real faults.
func (s *Service) runKeepAlive(ctx context.Context) {
	ticker := time.NewTicker(s.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.requestFullState(ctx); err != nil {
				s.logger.Debug("keepalive pushall failed", "error", err)
			}
		}
	}
}

func (s *Service) requestFullState(ctx context.Context) error {
	payload, err := NewPushAllCommand().encode("0")
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := s.transport.WriteFrame(writeCtx, payload); err != nil {
		return err
	}
	s.bus.Publish(events.TopicRawFrameOut, events.RawFrame{Topic: "request", Len: len(payload)})
	return nil
}

func (s *Service) publishStatus(state events.ConnectionState, err error, attempt int) {
	status := events.ConnectionStatus{
		State:     state,
		Attempt:   attempt,
		Timestamp: time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	if resolver, ok := s.transport.(transport.StatusTargetResolver); ok {
		status.Target = resolver.StatusTarget()
	}
	s.bus.Publish(events.TopicConnStatus, status)
}

func (s *Service) publishCommandResult(ack Ack) {
	result := events.CommandResult{
		SequenceID: ack.SequenceID,
		Command:    ack.Command,
		Timestamp:  time.Now(),
	}
	if !ack.Ok() {
		if ack.Reason != "" {
			result.Err = ack.Reason
		} else {
			result.Err = ack.Result
		}
	}
	s.bus.Publish(events.TopicCommandResult, result)
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

// jitteredBackoff spreads reconnect attempts by up to 25% so several engines
// on one network do not retry in lockstep.
func jitteredBackoff(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d/4+1)))
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

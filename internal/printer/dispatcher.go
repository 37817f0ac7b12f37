package printer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// CommandState is the resolution state of a dispatched command.
type CommandState int

const (
	CommandStateAwaiting CommandState = iota
	CommandStateAcked
	CommandStateFailed
	CommandStateTimedOut
)

func (s CommandState) String() string {
	switch s {
	case CommandStateAwaiting:
		return "awaiting"
	case CommandStateAcked:
		return "acked"
	case CommandStateFailed:
		return "failed"
	case CommandStateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// CommandHandle lets the caller wait for or poll a command's resolution.
type CommandHandle struct {
	SequenceID string
	Kind       string

	mu    sync.Mutex
	state CommandState
	err   error
	done  chan struct{}
}

// Done is closed once the command reaches a terminal state.
func (h *CommandHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until resolution or context cancellation.
func (h *CommandHandle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return h.Err()
	}
}

// State polls the current resolution state.
func (h *CommandHandle) State() CommandState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the terminal error, nil for an acknowledged command.
func (h *CommandHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *CommandHandle) settle(state CommandState, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != CommandStateAwaiting {
		return false
	}
	h.state = state
	h.err = err
	close(h.done)
	return true
}

// OutboundFrame is an encoded command ready for the write loop.
type OutboundFrame struct {
	SequenceID string
	Kind       string
	Payload    []byte
}

const (
	// DefaultCommandTimeout bounds the wait for a device acknowledgement.
	DefaultCommandTimeout = 10 * time.Second

	outboxCapacity = 64
)

type pendingEntry struct {
	handle *CommandHandle
	timer  *time.Timer
}

// Dispatcher assigns monotonic sequence ids, queues commands for the write
// loop and tracks each one until acknowledgement, timeout or teardown. A
// timed-out command is never retried here: commands have side effects and
// retrying a start could double-start a job.
type Dispatcher struct {
	logger  *slog.Logger
	timeout time.Duration
	nextSeq atomic.Uint64

	mu      sync.Mutex
	pending map[string]*pendingEntry
	outbox  chan OutboundFrame
}

func NewDispatcher(logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Dispatcher{
		logger:  logger,
		timeout: timeout,
		pending: make(map[string]*pendingEntry),
		outbox:  make(chan OutboundFrame, outboxCapacity),
	}
}

// Outbox is consumed by the connection's write loop.
func (d *Dispatcher) Outbox() <-chan OutboundFrame {
	return d.outbox
}

// Submit encodes the command, registers a pending entry and enqueues the
// frame. The returned handle resolves on ack, timeout or connection loss.
func (d *Dispatcher) Submit(cmd Command) (*CommandHandle, error) {
	seq := strconv.FormatUint(d.nextSeq.Add(1), 10)
	payload, err := cmd.encode(seq)
	if err != nil {
		return nil, err
	}

	handle := &CommandHandle{
		SequenceID: seq,
		Kind:       cmd.Kind,
		done:       make(chan struct{}),
	}

	d.mu.Lock()
	entry := &pendingEntry{handle: handle}
	entry.timer = time.AfterFunc(d.timeout, func() { d.expire(seq) })
	d.pending[seq] = entry
	d.mu.Unlock()

	select {
	case d.outbox <- OutboundFrame{SequenceID: seq, Kind: cmd.Kind, Payload: payload}:
	default:
		d.remove(seq)
		handle.settle(CommandStateFailed, errors.New("command outbox is full"))
		return nil, fmt.Errorf("submit %s: command outbox is full", cmd.Kind)
	}

	d.logger.Debug("command submitted", "seq", seq, "kind", cmd.Kind)
	return handle, nil
}

// Resolve settles the pending command the device acknowledged. Unknown
// sequence ids are ignored: the ack may belong to a command that already
// timed out, or to another client on the same channel.
func (d *Dispatcher) Resolve(ack Ack) {
	entry := d.remove(ack.SequenceID)
	if entry == nil {
		return
	}
	entry.timer.Stop()
	if ack.Ok() {
		entry.handle.settle(CommandStateAcked, nil)
		d.logger.Debug("command acked", "seq", ack.SequenceID, "kind", entry.handle.Kind)
		return
	}
	reason := ack.Reason
	if reason == "" {
		reason = ack.Result
	}
	entry.handle.settle(CommandStateFailed, fmt.Errorf("device rejected %s: %s", entry.handle.Kind, reason))
	d.logger.Warn("command rejected", "seq", ack.SequenceID, "kind", entry.handle.Kind, "reason", reason)
}

// FailAll settles every pending command with the given cause. Called on
// connection teardown so nothing is silently dropped.
func (d *Dispatcher) FailAll(cause error) {
	d.mu.Lock()
	entries := make([]*pendingEntry, 0, len(d.pending))
	for _, entry := range d.pending {
		entries = append(entries, entry)
	}
	d.pending = make(map[string]*pendingEntry)
	d.mu.Unlock()

	for _, entry := range entries {
		entry.timer.Stop()
		entry.handle.settle(CommandStateFailed, cause)
	}
	if len(entries) > 0 {
		d.logger.Warn("failed pending commands", "count", len(entries), "cause", cause)
	}
}

// stillPending reports whether the command is still unresolved. The write
// loop checks this before transmitting: a frame whose command already
// settled (timeout, rejection, connection teardown) must never reach the
// device, or a command the caller was told failed could still execute.
func (d *Dispatcher) stillPending(seq string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[seq]
	return ok
}

// PendingCount reports the number of unresolved commands.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) expire(seq string) {
	entry := d.remove(seq)
	if entry == nil {
		return
	}
	entry.handle.settle(CommandStateTimedOut, ErrCommandTimeout)
	d.logger.Warn("command timed out", "seq", seq, "kind", entry.handle.Kind)
}

func (d *Dispatcher) remove(seq string) *pendingEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.pending[seq]
	if !ok {
		return nil
	}
	delete(d.pending, seq)
	return entry
}

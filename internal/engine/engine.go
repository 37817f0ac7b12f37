package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"bambulink/internal/bus"
	"bambulink/internal/config"
	"bambulink/internal/domain"
	"bambulink/internal/events"
	"bambulink/internal/logging"
	"bambulink/internal/notify"
	"bambulink/internal/persistence"
	"bambulink/internal/printer"
	"bambulink/internal/transport"
)

// Options tune one engine instance. Zero values give a production setup
// driven entirely by the config.
type Options struct {
	// DBPath enables sqlite job history when non-empty.
	DBPath string
	// Notifier receives desktop notifications; nil disables them.
	Notifier notify.Sender
	// Transport overrides the MQTT transport, used by tests.
	Transport transport.Transport
	// CommandTimeout bounds the wait for device acknowledgements.
	CommandTimeout time.Duration
	// Service overrides connection-manager timing and retry limits.
	Service printer.ServiceOptions
}

// Engine is one printer's connection and state-synchronization engine. It
// owns its connection, state store and dispatcher; nothing here is global.
type Engine struct {
	cfg    config.AppConfig
	logMgr *logging.Manager

	bus        *bus.PubSubBus
	transport  transport.Transport
	dispatcher *printer.Dispatcher
	service    *printer.Service
	store      *domain.StateStore
	monitor    *domain.JobMonitor

	db      *sql.DB
	jobRepo *persistence.JobRepo
	writer  *persistence.WriterQueue
	opts    Options

	mu      sync.RWMutex
	status  events.ConnectionStatus
	started bool
	cancel  context.CancelFunc
}

func New(cfg config.AppConfig, logMgr *logging.Manager, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		logMgr: logMgr,
		opts:   opts,
	}
	e.bus = bus.New(logMgr.Logger("bus"))
	e.store = domain.NewStateStore()
	e.monitor = domain.NewJobMonitor(logMgr.Logger("jobs"))
	e.dispatcher = printer.NewDispatcher(logMgr.Logger("dispatcher"), opts.CommandTimeout)

	e.transport = opts.Transport
	if e.transport == nil {
		e.transport = transport.NewMQTTTransport(
			logMgr.Logger("transport"),
			cfg.Printer.Host, cfg.Printer.Port,
			cfg.Printer.Serial, cfg.Printer.AccessCode,
		)
	}

	serviceOpts := opts.Service
	if serviceOpts.MaxRetries == 0 {
		serviceOpts.MaxRetries = cfg.Printer.MaxRetries
	}
	e.service = printer.NewService(logMgr.Logger("printer"), e.bus, e.transport, e.dispatcher, serviceOpts)

	return e, nil
}

// Start opens persistence, wires the bus consumers and launches the
// connection loop. It returns once everything is running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	if e.opts.DBPath != "" {
		db, err := persistence.Open(runCtx, e.opts.DBPath)
		if err != nil {
			return err
		}
		e.db = db
		e.jobRepo = persistence.NewJobRepo(db)
		e.writer = persistence.NewWriterQueue(e.logMgr.Logger("persistence"), 256)
		e.writer.Start(runCtx)
		persistence.StartJobProjection(runCtx, e.bus, e.writer, e.jobRepo)
	}

	statusSub := e.bus.Subscribe(events.TopicConnStatus)
	go e.captureStatus(runCtx, statusSub)

	e.store.Start(runCtx, e.bus)
	e.monitor.Start(runCtx, e.bus)
	if e.opts.Notifier != nil {
		notify.NewService(e.bus, e.opts.Notifier, e.logMgr.Logger("notify")).Start(runCtx)
	}
	e.service.Start(runCtx)
	return nil
}

// Close signals the loops to stop, closes the connection and fails all
// pending commands. No reconnect is attempted after Close.
func (e *Engine) Close() error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	_ = e.transport.Close()
	e.dispatcher.FailAll(printer.ErrEngineStopped)
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			return err
		}
		e.db = nil
	}
	e.bus.Close()
	return nil
}

// Snapshot returns an immutable copy of the canonical printer state.
func (e *Engine) Snapshot() domain.PrinterState {
	return e.store.Snapshot()
}

// Trays returns the flat, caller-addressable tray list for the current AMS
// inventory.
func (e *Engine) Trays() []domain.AMSTray {
	return domain.Flatten(e.store.Snapshot().AMS)
}

// CurrentJob returns the active job, if one exists.
func (e *Engine) CurrentJob() (domain.Job, bool) {
	return e.monitor.CurrentJob()
}

// ConnectionStatus returns the last observed connection status.
func (e *Engine) ConnectionStatus() events.ConnectionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// SubscribeState delivers a StateChange per merged telemetry update.
func (e *Engine) SubscribeState() bus.Subscription {
	return e.bus.Subscribe(events.TopicStateChange)
}

// SubscribeJobs delivers one JobEvent per lifecycle transition.
func (e *Engine) SubscribeJobs() bus.Subscription {
	return e.bus.Subscribe(events.TopicJobEvent)
}

// SubscribeStatus delivers connection status changes.
func (e *Engine) SubscribeStatus() bus.Subscription {
	return e.bus.Subscribe(events.TopicConnStatus)
}

func (e *Engine) Unsubscribe(sub bus.Subscription, topics ...string) {
	e.bus.Unsubscribe(sub, topics...)
}

// RecentJobs lists persisted job history, newest first. Requires a DBPath.
func (e *Engine) RecentJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if e.jobRepo == nil {
		return nil, errors.New("job history is not enabled")
	}
	return e.jobRepo.ListRecent(ctx, limit)
}

func (e *Engine) captureStatus(ctx context.Context, sub bus.Subscription) {
	defer e.bus.Unsubscribe(sub, events.TopicConnStatus)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			status, ok := msg.(events.ConnectionStatus)
			if !ok {
				continue
			}
			e.mu.Lock()
			e.status = status
			e.mu.Unlock()
		}
	}
}

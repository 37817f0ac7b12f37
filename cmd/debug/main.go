package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bambulink/internal/config"
	"bambulink/internal/domain"
	"bambulink/internal/engine"
	"bambulink/internal/events"
	"bambulink/internal/logging"
	"bambulink/internal/notify"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run debug tool", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "bambulink.json", "config file path")
	host := flag.String("host", "", "printer ip/hostname (overrides config)")
	serial := flag.String("serial", "", "printer serial number (overrides config)")
	accessCode := flag.String("access-code", "", "LAN access code (overrides config)")
	dbPath := flag.String("db", "", "sqlite job history path (empty disables)")
	desktopNotify := flag.Bool("notify", false, "send desktop notifications for job events")
	listenFor := flag.Duration("listen-for", 0, "listen duration, e.g. 30s (0 means until interrupted)")
	action := flag.String("action", "", "one-shot action: pause, resume, cancel, light-on, light-off")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*host) != "" {
		cfg.Printer.Host = strings.TrimSpace(*host)
	}
	if strings.TrimSpace(*serial) != "" {
		cfg.Printer.Serial = strings.TrimSpace(*serial)
	}
	if strings.TrimSpace(*accessCode) != "" {
		cfg.Printer.AccessCode = strings.TrimSpace(*accessCode)
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, "bambulink.log"); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() { _ = logMgr.Close() }()

	opts := engine.Options{DBPath: *dbPath}
	if *desktopNotify {
		opts.Notifier = notify.NewBeeepSender(logMgr.Logger("notify"))
	}

	eng, err := engine.New(cfg, logMgr, opts)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	stateSub := eng.SubscribeState()
	jobSub := eng.SubscribeJobs()
	statusSub := eng.SubscribeStatus()
	defer eng.Unsubscribe(stateSub, events.TopicStateChange)
	defer eng.Unsubscribe(jobSub, events.TopicJobEvent)
	defer eng.Unsubscribe(statusSub, events.TopicConnStatus)

	if *action != "" {
		go runAction(ctx, eng, *action)
	}

	deadline := ctx
	if *listenFor > 0 {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(ctx, *listenFor)
		defer cancel()
	}

	for {
		select {
		case <-deadline.Done():
			return nil
		case msg := <-statusSub:
			status, ok := msg.(events.ConnectionStatus)
			if !ok {
				continue
			}
			fmt.Printf("[conn] %s target=%s err=%q\n", status.State, status.Target, status.Err)
			if status.Fatal() {
				return fmt.Errorf("connection is fatally broken: %s", status.Err)
			}
		case msg := <-stateSub:
			change, ok := msg.(domain.StateChange)
			if !ok {
				continue
			}
			printState(change.Current)
		case msg := <-jobSub:
			event, ok := msg.(domain.JobEvent)
			if !ok {
				continue
			}
			fmt.Printf("[job] %s: %s -> %s (file=%s)\n",
				event.Job.ID, event.Previous, event.Job.Phase, event.Job.File)
		}
	}
}

func runAction(ctx context.Context, eng *engine.Engine, action string) {
	actionCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var err error
	switch action {
	case "pause":
		err = eng.Pause(actionCtx)
	case "resume":
		err = eng.Resume(actionCtx)
	case "cancel":
		err = eng.Cancel(actionCtx)
	case "light-on":
		err = eng.SetChamberLight(actionCtx, true)
	case "light-off":
		err = eng.SetChamberLight(actionCtx, false)
	default:
		err = fmt.Errorf("unknown action: %s", action)
	}
	if err != nil {
		fmt.Printf("[action] %s failed: %v\n", action, err)
		return
	}
	fmt.Printf("[action] %s acknowledged\n", action)
}

func printState(state domain.PrinterState) {
	fmt.Printf("[state] %s %d%% layer=%d/%d nozzle=%.1f/%.1f bed=%.1f/%.1f chamber=%.1f remaining=%dm\n",
		state.Machine, state.Progress, state.Layer, state.TotalLayers,
		state.Nozzle.Current, state.Nozzle.Target,
		state.Bed.Current, state.Bed.Target,
		state.Chamber, state.RemainingMin)
	for _, tray := range domain.Flatten(state.AMS) {
		if tray.Empty {
			fmt.Printf("[ams] tray %d (unit %d slot %d): empty\n", tray.FlatIndex, tray.UnitIndex, tray.SlotIndex)
			continue
		}
		fmt.Printf("[ams] tray %d (unit %d slot %d): %s %s %d%%\n",
			tray.FlatIndex, tray.UnitIndex, tray.SlotIndex,
			tray.MaterialType, tray.Color, tray.RemainingPct)
	}
}

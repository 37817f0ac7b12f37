package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"bambulink/internal/config"
	"bambulink/internal/domain"
	"bambulink/internal/logging"
	"bambulink/internal/printer"
)

type recordingTransport struct {
	mu     sync.Mutex
	writes [][]byte
}

func (r *recordingTransport) Name() string { return "recording" }

func (r *recordingTransport) Connect(_ context.Context) error { return nil }

func (r *recordingTransport) Close() error { return nil }

func (r *recordingTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (r *recordingTransport) WriteFrame(_ context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, append([]byte(nil), payload...))
	return nil
}

func (r *recordingTransport) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func testConfig() config.AppConfig {
	cfg := config.AppConfig{
		Printer: config.PrinterConfig{
			Host:       "192.168.1.50",
			Serial:     "01S00C123400042",
			AccessCode: "12345678",
			UseAMS:     true,
		},
	}
	cfg.FillMissingDefaults()
	return cfg
}

func newTestEngine(t *testing.T) (*Engine, *recordingTransport) {
	t.Helper()
	tr := &recordingTransport{}
	eng, err := New(testConfig(), logging.NewManager(), Options{Transport: tr})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng, tr
}

func TestEngineNew_RejectsIncompleteConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Printer.AccessCode = ""
	if _, err := New(cfg, logging.NewManager(), Options{}); err == nil {
		t.Fatalf("expected config validation error")
	}
}

func TestEnginePause_WithoutActiveJobIsRejectedLocally(t *testing.T) {
	eng, tr := newTestEngine(t)

	err := eng.Pause(context.Background())
	if !errors.Is(err, printer.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
	if tr.writeCount() != 0 {
		t.Fatalf("a locally rejected pause must not reach the device, wrote %d frames", tr.writeCount())
	}
}

func TestEngineResume_RequiresPausedJob(t *testing.T) {
	eng, tr := newTestEngine(t)
	eng.monitor.Observe(domain.PrinterState{Machine: domain.MachineStateRunning, JobID: "7"})

	err := eng.Resume(context.Background())
	if !errors.Is(err, printer.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition for a running job, got %v", err)
	}
	if tr.writeCount() != 0 {
		t.Fatalf("rejected resume must not reach the device")
	}
}

func TestEngineStartPrint_RejectedWhileJobActive(t *testing.T) {
	eng, tr := newTestEngine(t)
	eng.monitor.Observe(domain.PrinterState{Machine: domain.MachineStateRunning, JobID: "7"})

	err := eng.StartPrint(context.Background(), "benchy.3mf", nil, nil)
	if !errors.Is(err, printer.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
	if tr.writeCount() != 0 {
		t.Fatalf("rejected start must not reach the device")
	}
}

func TestEngineResolveAMSMapping_TranslatesFlatIndices(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.store.Apply(domain.TelemetryUpdate{
		AMS: []domain.AMSUnit{
			{Index: 0, Trays: make([]domain.AMSTray, 4)},
			{Index: 1, Trays: make([]domain.AMSTray, 4)},
		},
	})

	mapping, err := eng.resolveAMSMapping([]int{0, 5, 7})
	if err != nil {
		t.Fatalf("resolve mapping: %v", err)
	}
	want := []int{0, 5, 7}
	for i := range want {
		if mapping[i] != want[i] {
			t.Fatalf("mapping[%d] = %d, want %d", i, mapping[i], want[i])
		}
	}

	if _, err := eng.resolveAMSMapping([]int{8}); err == nil {
		t.Fatalf("expected error for index past the inventory")
	}
}

func TestEngineSpeedLevel_Validation(t *testing.T) {
	eng, tr := newTestEngine(t)
	if err := eng.SetSpeedLevel(context.Background(), 0); err == nil {
		t.Fatalf("expected range error for level 0")
	}
	if err := eng.SetSpeedLevel(context.Background(), 5); err == nil {
		t.Fatalf("expected range error for level 5")
	}
	if tr.writeCount() != 0 {
		t.Fatalf("invalid levels must not reach the device")
	}
}

func TestEngineTrays_FlattensCurrentInventory(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.store.Apply(domain.TelemetryUpdate{
		AMS: []domain.AMSUnit{
			{Index: 0, Trays: []domain.AMSTray{{MaterialType: "PLA"}, {Empty: true}}},
		},
	})

	trays := eng.Trays()
	if len(trays) != 2 {
		t.Fatalf("expected 2 trays, got %d", len(trays))
	}
	if trays[0].FlatIndex != 0 || trays[1].FlatIndex != 1 {
		t.Fatalf("unexpected flat indices: %+v", trays)
	}
}

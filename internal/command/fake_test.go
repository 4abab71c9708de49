package command

import (
	"context"
	"fmt"
	"sync"

	"tradegate/internal/collab"
)

// fakeController records calls and lets tests block or fail operations.
type fakeController struct {
	mu      sync.Mutex
	calls   []string
	failAll bool

	// blockStart, when non-nil, is closed by the test to let StartTrading
	// return.
	blockStart chan struct{}

	trading string
	api     string
}

func newFakeController() *fakeController {
	return &fakeController{trading: collab.StateStopped, api: collab.StateRunning}
}

func (f *fakeController) record(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	fail := f.failAll
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("%s failed", call)
	}
	return nil
}

func (f *fakeController) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeController) StartTrading(ctx context.Context) error {
	if f.blockStart != nil {
		select {
		case <-f.blockStart:
		case <-ctx.Done():
		}
	}
	if err := f.record("start_trading"); err != nil {
		return err
	}
	f.mu.Lock()
	f.trading = collab.StateRunning
	f.mu.Unlock()
	return nil
}

func (f *fakeController) StopTrading(ctx context.Context) error {
	if err := f.record("stop_trading"); err != nil {
		return err
	}
	f.mu.Lock()
	f.trading = collab.StateStopped
	f.mu.Unlock()
	return nil
}

func (f *fakeController) RestartAPI(ctx context.Context) error {
	return f.record("restart_api")
}

func (f *fakeController) StartEA(ctx context.Context, name string) error {
	return f.record("start_ea:" + name)
}

func (f *fakeController) StopEA(ctx context.Context, name string) error {
	return f.record("stop_ea:" + name)
}

func (f *fakeController) TradingStatus(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trading, nil
}

func (f *fakeController) APIStatus(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.api, nil
}

type fakeSignals struct {
	signals []collab.Signal
	err     error
}

func (f *fakeSignals) Latest(ctx context.Context) ([]collab.Signal, error) {
	return f.signals, f.err
}

type fakeLogs struct {
	lines []string
}

func (f *fakeLogs) Tail(ctx context.Context, n int) ([]string, error) {
	if n > len(f.lines) {
		n = len(f.lines)
	}
	return f.lines[len(f.lines)-n:], nil
}

type fakeBackup struct {
	location string
	err      error
}

func (f *fakeBackup) Run(ctx context.Context) (string, error) {
	return f.location, f.err
}

type fakeConfig struct {
	mu      sync.Mutex
	applied map[string]interface{}
}

func (f *fakeConfig) Apply(ctx context.Context, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applied == nil {
		f.applied = make(map[string]interface{})
	}
	for k, v := range updates {
		f.applied[k] = v
	}
	return nil
}

func newTestRegistry(proc *fakeController) *Registry {
	reg := NewRegistry()
	RegisterBuiltin(reg, BuiltinDeps{
		Process: proc,
		Signals: &fakeSignals{signals: []collab.Signal{{Symbol: "EURUSD", Action: "buy"}}},
		Logs:    &fakeLogs{lines: []string{"line1", "line2", "line3"}},
		Backup:  &fakeBackup{location: "/backups/latest.tar.gz"},
		Config:  &fakeConfig{},
	})
	return reg
}

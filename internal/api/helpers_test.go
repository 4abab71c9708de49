package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"tradegate/internal/audit"
	"tradegate/internal/auth"
	"tradegate/internal/cache"
	"tradegate/internal/collab"
	"tradegate/internal/command"
	"tradegate/internal/config"
	"tradegate/internal/monitoring"
	"tradegate/internal/status"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	adminKey  = "admin-key-123456"
	traderKey = "trader-key-12345"
	viewerKey = "viewer-key-12345"
)

// fakeProcess is a controllable collaborator for transport tests.
type fakeProcess struct {
	mu           sync.Mutex
	tradingState string
	apiState     string
	startedEA    string
	failNext     error
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{tradingState: collab.StateRunning, apiState: collab.StateRunning}
}

func (f *fakeProcess) takeErr() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeProcess) StartTrading(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	f.tradingState = collab.StateRunning
	return nil
}

func (f *fakeProcess) StopTrading(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	f.tradingState = collab.StateStopped
	return nil
}

func (f *fakeProcess) RestartAPI(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	f.apiState = collab.StateRunning
	return nil
}

func (f *fakeProcess) StartEA(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startedEA = name
	return nil
}

func (f *fakeProcess) StopEA(context.Context, string) error { return nil }

func (f *fakeProcess) lastStartedEA() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startedEA
}

func (f *fakeProcess) TradingStatus(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tradingState, nil
}

func (f *fakeProcess) APIStatus(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apiState, nil
}

type fakeSignals struct{ set []collab.Signal }

func (f *fakeSignals) LatestSignals(context.Context) ([]collab.Signal, error) {
	return f.set, nil
}

type fakeLogs struct{ lines []string }

func (f *fakeLogs) Tail(_ context.Context, n int) ([]string, error) {
	if n >= len(f.lines) {
		return f.lines, nil
	}
	return f.lines[len(f.lines)-n:], nil
}

type fakeBackup struct{}

func (fakeBackup) Run(context.Context) (string, error) { return "/tmp/backup.tar.gz", nil }

type fakeConfigStore struct{}

func (fakeConfigStore) Apply(context.Context, map[string]interface{}) error { return nil }

type fakeProber struct{}

func (fakeProber) Probe(context.Context) (*status.Resources, error) {
	return &status.Resources{CPU: 10, Memory: 20, Disk: 30}, nil
}

type testEnv struct {
	server  *Server
	process *fakeProcess
	store   *audit.MemoryStore
	tokens  *auth.JWTManager
}

// newTestEnv wires a full server against fakes. TTLs are long so tests can
// assert that explicit invalidation, not expiry, refreshes the snapshot.
func newTestEnv() *testEnv {
	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.Status.TTL = time.Minute
	cfg.Status.ProbeTimeout = time.Second
	cfg.Status.BroadcastInterval = 25 * time.Millisecond
	cfg.Collaborators.MaxLogLines = 1000

	process := newFakeProcess()
	collector := status.NewCollector(process, fakeProber{}, cfg.Status.TTL, cfg.Status.ProbeTimeout)

	mc := cache.NewMemoryCache()
	signals := status.NewSignalService(&fakeSignals{set: []collab.Signal{
		{Symbol: "EURUSD", Action: "buy", EntryPrice: 1.0842, Confidence: 0.8},
	}}, mc, time.Minute)

	registry := command.NewRegistry()
	command.RegisterBuiltin(registry, command.BuiltinDeps{
		Process: process,
		Signals: signals,
		Logs:    &fakeLogs{lines: []string{"line 1", "line 2", "line 3"}},
		Backup:  fakeBackup{},
		Config:  fakeConfigStore{},
	})

	store := audit.NewMemoryStore(100)
	recorder := audit.NewRecorder(store)

	metrics := monitoring.NewMetrics()
	executor := command.NewExecutor(registry, 2*time.Second,
		command.WithCacheInvalidator(collector.Invalidate),
		command.WithAuditSink(recorder),
		command.WithMetrics(metrics),
	)

	creds, err := auth.NewCredentialStore(map[string]string{
		adminKey:  "admin",
		traderKey: "trader",
		viewerKey: "viewer",
	})
	if err != nil {
		panic(fmt.Sprintf("test credential store: %v", err))
	}
	tokens := auth.NewJWTManager("test-secret-0123456789", time.Hour)

	server := NewServer(cfg, Deps{
		Credentials: creds,
		Tokens:      tokens,
		Executor:    executor,
		Collector:   collector,
		Signals:     signals,
		Logs:        &fakeLogs{lines: []string{"line 1", "line 2", "line 3"}},
		Audit:       recorder,
		Metrics:     metrics,
	})
	return &testEnv{server: server, process: process, store: store, tokens: tokens}
}

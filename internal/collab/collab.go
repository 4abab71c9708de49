package collab

import (
	"context"
	"time"
)

// Process state strings reported by collaborators and surfaced in status
// snapshots.
const (
	StateRunning = "Running"
	StateStopped = "Stopped"
	StateDown    = "Down"
	StateUnknown = "Unknown"
)

// Signal is one trading signal produced by the trading collaborator.
type Signal struct {
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Symbol     string    `json:"symbol" yaml:"symbol"`
	Action     string    `json:"action" yaml:"action"`
	EntryPrice float64   `json:"entry_price" yaml:"entry_price"`
	StopLoss   float64   `json:"stop_loss" yaml:"stop_loss"`
	TakeProfit float64   `json:"take_profit" yaml:"take_profit"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
}

// ProcessController is the narrow interface over the local trading-automation
// processes. The gateway orchestrates calls into it but owns none of the
// process management itself, so the core stays testable with a fake.
type ProcessController interface {
	StartTrading(ctx context.Context) error
	StopTrading(ctx context.Context) error
	RestartAPI(ctx context.Context) error
	StartEA(ctx context.Context, eaName string) error
	StopEA(ctx context.Context, eaName string) error

	// TradingStatus and APIStatus are liveness probes. They return one of
	// the State* strings; an error degrades the field to Down/Unknown in
	// the snapshot rather than failing it.
	TradingStatus(ctx context.Context) (string, error)
	APIStatus(ctx context.Context) (string, error)
}

// SignalProvider exposes the latest signal set from the trading collaborator.
type SignalProvider interface {
	LatestSignals(ctx context.Context) ([]Signal, error)
}

// LogStore tails collaborator logs.
type LogStore interface {
	Tail(ctx context.Context, lines int) ([]string, error)
}

// BackupRunner runs a data backup and returns a human-readable location or
// description of the produced archive.
type BackupRunner interface {
	Run(ctx context.Context) (string, error)
}

// ConfigStore applies runtime configuration updates to the collaborator-owned
// config. Gateway API keys are not part of this store; changing them requires
// a restart.
type ConfigStore interface {
	Apply(ctx context.Context, updates map[string]interface{}) error
}

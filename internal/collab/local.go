package collab

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"tradegate/internal/logging"
)

// CommandSet holds the shell commands bound to each operation. Empty entries
// disable the operation.
type CommandSet struct {
	StartTrading  string `yaml:"start_trading"`
	StopTrading   string `yaml:"stop_trading"`
	RestartAPI    string `yaml:"restart_api"`
	StartEA       string `yaml:"start_ea"`
	StopEA        string `yaml:"stop_ea"`
	TradingProbe  string `yaml:"trading_probe"`
	APIProbe      string `yaml:"api_probe"`
	Backup        string `yaml:"backup"`
	SignalsExport string `yaml:"signals_export"`
}

// ExecController drives the local trading-automation processes through
// configured shell commands. Each call runs a short-lived command; the
// caller's context bounds how long the gateway waits.
type ExecController struct {
	commands CommandSet
}

// NewExecController creates a controller over the configured command set.
func NewExecController(commands CommandSet) *ExecController {
	return &ExecController{commands: commands}
}

func (c *ExecController) run(ctx context.Context, command string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("operation not configured")
	}
	parts := strings.Fields(command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %w (%s)", parts[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *ExecController) StartTrading(ctx context.Context) error {
	_, err := c.run(ctx, c.commands.StartTrading)
	return err
}

func (c *ExecController) StopTrading(ctx context.Context) error {
	_, err := c.run(ctx, c.commands.StopTrading)
	return err
}

func (c *ExecController) RestartAPI(ctx context.Context) error {
	_, err := c.run(ctx, c.commands.RestartAPI)
	return err
}

func (c *ExecController) StartEA(ctx context.Context, eaName string) error {
	_, err := c.run(ctx, c.commands.StartEA+" "+eaName)
	return err
}

func (c *ExecController) StopEA(ctx context.Context, eaName string) error {
	_, err := c.run(ctx, c.commands.StopEA+" "+eaName)
	return err
}

// TradingStatus probes the trading engine. The probe command's stdout is
// taken verbatim when it matches a known state, otherwise a zero exit code
// means Running.
func (c *ExecController) TradingStatus(ctx context.Context) (string, error) {
	return c.probe(ctx, c.commands.TradingProbe)
}

func (c *ExecController) APIStatus(ctx context.Context) (string, error) {
	return c.probe(ctx, c.commands.APIProbe)
}

func (c *ExecController) probe(ctx context.Context, command string) (string, error) {
	out, err := c.run(ctx, command)
	if err != nil {
		return StateDown, err
	}
	switch out {
	case StateRunning, StateStopped, StateDown:
		return out, nil
	}
	return StateRunning, nil
}

// FileLogStore tails a collaborator log file.
type FileLogStore struct {
	path     string
	maxLines int
}

// NewFileLogStore creates a log store over the given file. maxLines caps a
// single tail request.
func NewFileLogStore(path string, maxLines int) *FileLogStore {
	if maxLines <= 0 {
		maxLines = 1000
	}
	return &FileLogStore{path: path, maxLines: maxLines}
}

// Tail returns the last n lines of the log file.
func (s *FileLogStore) Tail(ctx context.Context, lines int) ([]string, error) {
	if lines <= 0 {
		lines = 50
	}
	if lines > s.maxLines {
		lines = s.maxLines
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	// Ring over the last n lines; log files here are small enough that a
	// single forward scan is fine.
	ring := make([]string, 0, lines)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if len(ring) == lines {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return ring, nil
}

// ExecBackupRunner runs the configured backup command.
type ExecBackupRunner struct {
	command string
}

// NewExecBackupRunner creates a backup runner over the configured command.
func NewExecBackupRunner(command string) *ExecBackupRunner {
	return &ExecBackupRunner{command: command}
}

// Run executes the backup command and returns its trimmed output, which by
// convention is the archive location.
func (r *ExecBackupRunner) Run(ctx context.Context) (string, error) {
	if r.command == "" {
		return "", fmt.Errorf("backup command not configured")
	}
	parts := strings.Fields(r.command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("backup failed: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// FileConfigStore applies runtime config updates to a YAML file owned by the
// trading collaborator. Updates are shallow-merged at the top level.
type FileConfigStore struct {
	path string
	mu   sync.Mutex
}

// NewFileConfigStore creates a config store over the given YAML file.
func NewFileConfigStore(path string) *FileConfigStore {
	return &FileConfigStore{path: path}
}

// Apply merges the updates into the file and writes it back atomically.
func (s *FileConfigStore) Apply(ctx context.Context, updates map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]interface{})
	data, err := os.ReadFile(s.path)
	if err == nil {
		if err := yaml.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("failed to parse collaborator config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read collaborator config: %w", err)
	}

	for k, v := range updates {
		current[k] = v
	}

	merged, err := yaml.Marshal(current)
	if err != nil {
		return fmt.Errorf("failed to encode collaborator config: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, merged, 0644); err != nil {
		return fmt.Errorf("failed to write collaborator config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace collaborator config: %w", err)
	}

	logging.WithField("keys", len(updates)).Info("Applied collaborator config update")
	return nil
}

// FileSignalProvider reads the latest exported signal set from a JSON lines
// or YAML file written by the trading collaborator.
type FileSignalProvider struct {
	path string
}

// NewFileSignalProvider creates a signal provider over the given file.
func NewFileSignalProvider(path string) *FileSignalProvider {
	return &FileSignalProvider{path: path}
}

// LatestSignals parses the export file. A missing file yields an empty set,
// not an error: no signals generated yet is a normal state.
func (p *FileSignalProvider) LatestSignals(ctx context.Context) ([]Signal, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Signal{}, nil
		}
		return nil, fmt.Errorf("failed to read signal export: %w", err)
	}

	var signals []Signal
	if err := yaml.Unmarshal(data, &signals); err != nil {
		return nil, fmt.Errorf("failed to parse signal export: %w", err)
	}

	// Normalize missing timestamps so consumers can sort reliably.
	now := time.Now()
	for i := range signals {
		if signals[i].Timestamp.IsZero() {
			signals[i].Timestamp = now
		}
	}
	return signals, nil
}

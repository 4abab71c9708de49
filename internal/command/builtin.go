package command

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"tradegate/internal/auth"
	"tradegate/internal/collab"
)

// SignalSource is the (possibly cached) view over the trading collaborator's
// latest signals.
type SignalSource interface {
	Latest(ctx context.Context) ([]collab.Signal, error)
}

// BuiltinDeps are the collaborators the builtin command set drives.
type BuiltinDeps struct {
	Process collab.ProcessController
	Signals SignalSource
	Logs    collab.LogStore
	Backup  collab.BackupRunner
	Config  collab.ConfigStore
}

var startedAt = time.Now()

// RegisterBuiltin registers the gateway's operational command set. This is
// the complete, auditable surface of what remote operators can do.
func RegisterBuiltin(r *Registry, deps BuiltinDeps) {
	r.MustRegister(&Descriptor{
		Name:          "start_trading",
		MinRole:       auth.RoleTrader,
		StateChanging: true,
		Handler: func(ctx context.Context, _ map[string]interface{}) (*Result, error) {
			if err := deps.Process.StartTrading(ctx); err != nil {
				return nil, err
			}
			return OK("Trading started", nil), nil
		},
	})

	r.MustRegister(&Descriptor{
		Name:          "stop_trading",
		MinRole:       auth.RoleTrader,
		StateChanging: true,
		Handler: func(ctx context.Context, _ map[string]interface{}) (*Result, error) {
			if err := deps.Process.StopTrading(ctx); err != nil {
				return nil, err
			}
			return OK("Trading stopped", nil), nil
		},
	})

	r.MustRegister(&Descriptor{
		Name:          "restart_api",
		MinRole:       auth.RoleAdmin,
		StateChanging: true,
		Handler: func(ctx context.Context, _ map[string]interface{}) (*Result, error) {
			if err := deps.Process.RestartAPI(ctx); err != nil {
				return nil, err
			}
			return OK("API process restarted", nil), nil
		},
	})

	r.MustRegister(&Descriptor{
		Name:    "get_signals",
		MinRole: auth.RoleViewer,
		Handler: func(ctx context.Context, _ map[string]interface{}) (*Result, error) {
			signals, err := deps.Signals.Latest(ctx)
			if err != nil {
				return nil, err
			}
			return OK(fmt.Sprintf("%d signals", len(signals)), signals), nil
		},
	})

	r.MustRegister(&Descriptor{
		Name:    "get_logs",
		MinRole: auth.RoleViewer,
		Schema:  Schema{"lines": {Type: ParamInt}},
		Handler: func(ctx context.Context, params map[string]interface{}) (*Result, error) {
			lines := IntParam(params, "lines", 50)
			logs, err := deps.Logs.Tail(ctx, lines)
			if err != nil {
				return nil, err
			}
			return OK(fmt.Sprintf("%d lines", len(logs)), logs), nil
		},
	})

	r.MustRegister(&Descriptor{
		Name:    "system_info",
		MinRole: auth.RoleViewer,
		Handler: func(ctx context.Context, _ map[string]interface{}) (*Result, error) {
			hostname, _ := os.Hostname()
			return OK("system info", map[string]interface{}{
				"hostname":       hostname,
				"os":             runtime.GOOS,
				"arch":           runtime.GOARCH,
				"go_version":     runtime.Version(),
				"goroutines":     runtime.NumGoroutine(),
				"uptime_seconds": int64(time.Since(startedAt).Seconds()),
				"commands":       r.Names(),
			}), nil
		},
	})

	r.MustRegister(&Descriptor{
		Name:          "start_ea",
		MinRole:       auth.RoleTrader,
		StateChanging: true,
		Schema:        Schema{"ea_name": {Type: ParamString, Required: true}},
		Handler: func(ctx context.Context, params map[string]interface{}) (*Result, error) {
			name := params["ea_name"].(string)
			if err := deps.Process.StartEA(ctx, name); err != nil {
				return nil, err
			}
			return OK(fmt.Sprintf("EA %s started", name), nil), nil
		},
	})

	r.MustRegister(&Descriptor{
		Name:          "stop_ea",
		MinRole:       auth.RoleTrader,
		StateChanging: true,
		Schema:        Schema{"ea_name": {Type: ParamString, Required: true}},
		Handler: func(ctx context.Context, params map[string]interface{}) (*Result, error) {
			name := params["ea_name"].(string)
			if err := deps.Process.StopEA(ctx, name); err != nil {
				return nil, err
			}
			return OK(fmt.Sprintf("EA %s stopped", name), nil), nil
		},
	})

	r.MustRegister(&Descriptor{
		Name:    "backup_data",
		MinRole: auth.RoleAdmin,
		Handler: func(ctx context.Context, _ map[string]interface{}) (*Result, error) {
			location, err := deps.Backup.Run(ctx)
			if err != nil {
				return nil, err
			}
			return OK("Backup completed", map[string]interface{}{"location": location}), nil
		},
	})

	r.MustRegister(&Descriptor{
		Name:    "update_config",
		MinRole: auth.RoleAdmin,
		Schema:  Schema{"updates": {Type: ParamObject, Required: true}},
		Handler: func(ctx context.Context, params map[string]interface{}) (*Result, error) {
			updates := params["updates"].(map[string]interface{})
			if err := deps.Config.Apply(ctx, updates); err != nil {
				return nil, err
			}
			return OK(fmt.Sprintf("%d config keys updated", len(updates)), nil), nil
		},
	})
}

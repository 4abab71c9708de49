package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/internal/auth"
	apperrors "tradegate/internal/errors"
)

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	reg := NewRegistry()
	desc := &Descriptor{
		Name:    "start_trading",
		MinRole: auth.RoleTrader,
		Handler: func(context.Context, map[string]interface{}) (*Result, error) { return OK("", nil), nil },
	}
	require.NoError(t, reg.Register(desc))
	assert.Error(t, reg.Register(desc))
}

func TestRegistryUnknownCommand(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Lookup("no_such_command")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnknownCommand, apperrors.GetAppError(err).Code)
}

func TestBuiltinCommandSet(t *testing.T) {
	reg := newTestRegistry(newFakeController())

	expected := []string{
		"backup_data", "get_logs", "get_signals", "restart_api",
		"start_ea", "start_trading", "stop_ea", "stop_trading",
		"system_info", "update_config",
	}
	assert.Equal(t, expected, reg.Names())

	// Role assignments mirror the documented command surface.
	roles := map[string]auth.Role{
		"start_trading": auth.RoleTrader,
		"stop_trading":  auth.RoleTrader,
		"restart_api":   auth.RoleAdmin,
		"get_signals":   auth.RoleViewer,
		"get_logs":      auth.RoleViewer,
		"system_info":   auth.RoleViewer,
		"start_ea":      auth.RoleTrader,
		"stop_ea":       auth.RoleTrader,
		"backup_data":   auth.RoleAdmin,
		"update_config": auth.RoleAdmin,
	}
	for name, minRole := range roles {
		desc, err := reg.Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, minRole, desc.MinRole, name)
	}
}

func TestSchemaValidation(t *testing.T) {
	schema := Schema{
		"ea_name": {Type: ParamString, Required: true},
		"lines":   {Type: ParamInt},
		"updates": {Type: ParamObject},
	}

	assert.NoError(t, schema.Validate(map[string]interface{}{"ea_name": "trend_follower"}))
	assert.NoError(t, schema.Validate(map[string]interface{}{"ea_name": "x", "lines": float64(50)}))
	assert.NoError(t, schema.Validate(map[string]interface{}{
		"ea_name": "x",
		"updates": map[string]interface{}{"risk": 0.5},
	}))

	// Missing required key.
	assert.Error(t, schema.Validate(map[string]interface{}{}))
	// Wrong primitive type.
	assert.Error(t, schema.Validate(map[string]interface{}{"ea_name": 7}))
	// Fractional value for an int parameter.
	assert.Error(t, schema.Validate(map[string]interface{}{"ea_name": "x", "lines": 1.5}))
	// Unknown key.
	assert.Error(t, schema.Validate(map[string]interface{}{"ea_name": "x", "bogus": true}))
}

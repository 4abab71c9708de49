package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradegate/internal/auth"
	apperrors "tradegate/internal/errors"
)

// ParamType is the wire type a command parameter must carry.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamBool   ParamType = "bool"
	ParamObject ParamType = "object"
)

// ParamSpec describes one parameter of a command.
type ParamSpec struct {
	Type     ParamType
	Required bool
}

// Schema is the structural parameter schema validated before a handler runs.
type Schema map[string]ParamSpec

// Validate checks required keys and primitive types. Unknown keys are
// rejected so typos never silently reach a collaborator.
func (s Schema) Validate(params map[string]interface{}) error {
	for name, spec := range s {
		value, present := params[name]
		if !present {
			if spec.Required {
				return fmt.Errorf("missing required parameter %q", name)
			}
			continue
		}
		if err := checkType(name, spec.Type, value); err != nil {
			return err
		}
	}
	for name := range params {
		if _, known := s[name]; !known {
			return fmt.Errorf("unknown parameter %q", name)
		}
	}
	return nil
}

func checkType(name string, t ParamType, value interface{}) error {
	switch t {
	case ParamString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("parameter %q must be a string", name)
		}
	case ParamInt:
		// JSON numbers decode as float64; accept integral floats and ints.
		switch v := value.(type) {
		case int:
		case int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("parameter %q must be an integer", name)
			}
		default:
			return fmt.Errorf("parameter %q must be an integer", name)
		}
	case ParamFloat:
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("parameter %q must be a number", name)
		}
	case ParamBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", name)
		}
	case ParamObject:
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("parameter %q must be an object", name)
		}
	default:
		return fmt.Errorf("parameter %q has unsupported schema type %q", name, t)
	}
	return nil
}

// IntParam extracts an int parameter, tolerating the float64 JSON decoding.
func IntParam(params map[string]interface{}, name string, defaultValue int) int {
	value, ok := params[name]
	if !ok {
		return defaultValue
	}
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return defaultValue
}

// Handler is the collaborator call bound to a command.
type Handler func(ctx context.Context, params map[string]interface{}) (*Result, error)

// Descriptor is one registered command: name, minimum role, parameter schema
// and the handler. Registered once at startup; immutable afterwards.
type Descriptor struct {
	Name    string
	MinRole auth.Role
	Schema  Schema
	Handler Handler

	// StateChanging marks commands whose success (or late completion)
	// invalidates the status snapshot cache.
	StateChanging bool
}

// Invocation is one command request. Created per request, never persisted by
// the executor itself (the audit trail keeps its own record).
type Invocation struct {
	ID          string                 `json:"id"`
	Command     string                 `json:"command"`
	Params      map[string]interface{} `json:"params,omitempty"`
	CallerRole  auth.Role              `json:"-"`
	Source      string                 `json:"source"`
	RequestedAt time.Time              `json:"requested_at"`
}

// NewInvocation builds an invocation with a fresh ID.
func NewInvocation(name string, params map[string]interface{}, role auth.Role, source string) *Invocation {
	return &Invocation{
		ID:          uuid.New().String(),
		Command:     name,
		Params:      params,
		CallerRole:  role,
		Source:      source,
		RequestedAt: time.Now(),
	}
}

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Result is the structured outcome returned to the caller. Code is set for
// gateway-level rejections so transports can map HTTP statuses; handler
// failures leave it at EXECUTION_ERROR.
type Result struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Data    interface{}         `json:"data,omitempty"`
	Code    apperrors.ErrorCode `json:"code,omitempty"`
}

// OK builds a success result.
func OK(message string, data interface{}) *Result {
	return &Result{Status: StatusOK, Message: message, Data: data}
}

// Fail builds an error result from an error code and message.
func Fail(code apperrors.ErrorCode, message string) *Result {
	return &Result{Status: StatusError, Message: message, Code: code}
}

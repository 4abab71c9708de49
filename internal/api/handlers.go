package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tradegate/internal/audit"
	"tradegate/internal/auth"
	"tradegate/internal/collab"
	"tradegate/internal/command"
	apperrors "tradegate/internal/errors"
	"tradegate/internal/status"
)

// Handlers serves the REST surface of the gateway.
type Handlers struct {
	executor    *command.Executor
	collector   *status.Collector
	signals     *status.SignalService
	logs        collab.LogStore
	audit       *audit.Recorder
	tokens      *auth.JWTManager
	maxLogLines int
}

type commandRequest struct {
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters"`
	// Params is accepted as an alias for clients predating the rename.
	Params map[string]interface{} `json:"params"`
}

func (r *commandRequest) parameters() map[string]interface{} {
	if r.Parameters != nil {
		return r.Parameters
	}
	return r.Params
}

// GetStatus returns the current status snapshot. The snapshot is cached, so
// dashboard polling stays cheap.
func (h *Handlers) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.collector.Snapshot(c.Request.Context()))
}

// GetLogs tails the collaborator log file.
func (h *Handlers) GetLogs(c *gin.Context) {
	lines := 50
	if raw := c.Query("lines"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest,
				command.Fail(apperrors.ErrCodeInvalidParams, "lines must be a positive integer"))
			return
		}
		lines = parsed
	}
	if h.maxLogLines > 0 && lines > h.maxLogLines {
		lines = h.maxLogLines
	}

	entries, err := h.logs.Tail(c.Request.Context(), lines)
	if err != nil {
		c.JSON(http.StatusInternalServerError,
			command.Fail(apperrors.ErrCodeExecution, "failed to read logs"))
		return
	}
	c.JSON(http.StatusOK, command.OK(strconv.Itoa(len(entries))+" lines", entries))
}

// GetSignals returns the latest trading signals.
func (h *Handlers) GetSignals(c *gin.Context) {
	signals, err := h.signals.Latest(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError,
			command.Fail(apperrors.ErrCodeExecution, "failed to read signals"))
		return
	}
	c.JSON(http.StatusOK, command.OK(strconv.Itoa(len(signals))+" signals", signals))
}

// PostCommand dispatches one command through the executor. Authorization,
// schema validation and mutual exclusion all happen inside the executor; this
// handler only translates the outcome to an HTTP status.
func (h *Handlers) PostCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest,
			command.Fail(apperrors.ErrCodeInvalidParams, "malformed request body"))
		return
	}
	if req.Command == "" {
		c.JSON(http.StatusBadRequest,
			command.Fail(apperrors.ErrCodeInvalidParams, "command is required"))
		return
	}

	inv := command.NewInvocation(req.Command, req.parameters(), callerRole(c), "rest")
	res := h.executor.Execute(c.Request.Context(), inv)
	c.JSON(httpStatusFor(res), res)
}

// httpStatusFor maps gateway-level rejections to HTTP statuses. Commands that
// were accepted but failed or timed out in the collaborator report that
// in-band with a 200.
func httpStatusFor(res *command.Result) int {
	switch res.Code {
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden
	case apperrors.ErrCodeUnknownCommand, apperrors.ErrCodeInvalidParams:
		return http.StatusBadRequest
	case apperrors.ErrCodeBusy:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

// IssueToken exchanges a valid API key for a short-lived bearer token.
func (h *Handlers) IssueToken(c *gin.Context) {
	role := callerRole(c)
	token, expiresAt, err := h.tokens.GenerateToken(role)
	if err != nil {
		c.JSON(http.StatusInternalServerError,
			command.Fail(apperrors.ErrCodeExecution, "failed to issue token"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"role":       role.String(),
	})
}

// GetAudit returns the most recent audit entries, newest first.
func (h *Handlers) GetAudit(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest,
				command.Fail(apperrors.ErrCodeInvalidParams, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	entries, err := h.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError,
			command.Fail(apperrors.ErrCodeAuditStorage, "failed to read audit trail"))
		return
	}
	c.JSON(http.StatusOK, command.OK(strconv.Itoa(len(entries))+" entries", entries))
}

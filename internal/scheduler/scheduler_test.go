package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/internal/auth"
	"tradegate/internal/command"
)

func newBackupExecutor(runs *atomic.Int64) *command.Executor {
	reg := command.NewRegistry()
	reg.MustRegister(&command.Descriptor{
		Name:    "backup_data",
		MinRole: auth.RoleAdmin,
		Handler: func(context.Context, map[string]interface{}) (*command.Result, error) {
			runs.Add(1)
			return command.OK("Backup completed", nil), nil
		},
	})
	return command.NewExecutor(reg, time.Second)
}

func TestScheduledCommandRuns(t *testing.T) {
	var runs atomic.Int64
	s := New(newBackupExecutor(&runs))

	require.NoError(t, s.ScheduleCommand("@every 20ms", "backup_data", nil))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInvalidScheduleRejected(t *testing.T) {
	var runs atomic.Int64
	s := New(newBackupExecutor(&runs))

	err := s.ScheduleCommand("not a cron spec", "backup_data", nil)
	assert.Error(t, err)
}

func TestScheduledUnknownCommandDoesNotPanic(t *testing.T) {
	var runs atomic.Int64
	s := New(newBackupExecutor(&runs))

	require.NoError(t, s.ScheduleCommand("@every 20ms", "no_such_command", nil))
	s.Start()
	defer s.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, runs.Load())
}

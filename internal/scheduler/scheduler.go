package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"tradegate/internal/auth"
	"tradegate/internal/command"
	"tradegate/internal/logging"
)

// Scheduler runs recurring operational commands through the executor, so
// scheduled runs obey the same mutual exclusion and audit trail as remote
// ones.
type Scheduler struct {
	cron     *cron.Cron
	executor *command.Executor
}

// New creates an empty scheduler.
func New(executor *command.Executor) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		executor: executor,
	}
}

// ScheduleCommand registers a command to run on a cron schedule. Standard
// five-field cron expressions and @every descriptors are accepted.
func (s *Scheduler) ScheduleCommand(spec, name string, params map[string]interface{}) error {
	_, err := s.cron.AddFunc(spec, func() {
		inv := command.NewInvocation(name, params, auth.RoleAdmin, "scheduler")
		res := s.executor.Execute(context.Background(), inv)
		if res.Status != command.StatusOK {
			logging.WithFields(map[string]interface{}{
				"command": name,
				"message": res.Message,
			}).Error("Scheduled command failed")
			return
		}
		logging.WithField("command", name).Info("Scheduled command completed")
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

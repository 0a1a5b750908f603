package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the queue every background job runs on.
	QueueDefault = "default"

	// TaskOutboxRedrive re-attempts pending ledger outbox records.
	TaskOutboxRedrive = "ledger:outbox_redrive"
	// TaskIntegrityCheck verifies account balances and FIFO layer totals.
	TaskIntegrityCheck = "ledger:integrity_check"
)

// NewOutboxRedriveTask builds the re-drive task. It carries no payload; the
// handler drains whatever is pending when it fires.
func NewOutboxRedriveTask() *asynq.Task {
	return asynq.NewTask(TaskOutboxRedrive, nil)
}

// NewIntegrityCheckTask builds the integrity check task.
func NewIntegrityCheckTask() *asynq.Task {
	return asynq.NewTask(TaskIntegrityCheck, nil)
}

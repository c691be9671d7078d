package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeLinkIntegrity is the task type for the orphaned-link sweep.
	TaskTypeLinkIntegrity = "rbac:link_integrity"
)

// LinkIntegrityPayload configures one integrity sweep run.
type LinkIntegrityPayload struct {
	// Repair deletes orphaned rows instead of only reporting them.
	Repair bool `json:"repair"`
}

// NewLinkIntegrityTask constructs an Asynq task for an integrity sweep.
func NewLinkIntegrityTask(payload LinkIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLinkIntegrity, data), nil
}

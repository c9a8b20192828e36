package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCoreProbe checks that the core answers on its policy port.
	TaskCoreProbe = "core:probe"
)

// CoreProbePayload describes a probe run.
type CoreProbePayload struct {
	// Operation is the zero-argument call used as the probe.
	Operation string `json:"operation"`
	// Deadline bounds the probe; zero uses the gateway timeout.
	Deadline time.Duration `json:"deadline,omitempty"`
}

// NewCoreProbeTask constructs an Asynq task for the core probe.
func NewCoreProbeTask(payload CoreProbePayload) (*asynq.Task, error) {
	if payload.Operation == "" {
		payload.Operation = "read_state"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCoreProbe, body, asynq.Queue(QueueDefault), asynq.MaxRetry(0)), nil
}

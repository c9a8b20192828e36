package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/privadome/privadome-api/internal/gateway"
	jobmetrics "github.com/privadome/privadome-api/internal/jobs"
)

// CoreProbeJob calls the core through the gateway and records whether it
// answered.
type CoreProbeJob struct {
	Gateway gateway.Forwarder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCoreProbeJob wires dependencies for the probe handler.
func NewCoreProbeJob(gw gateway.Forwarder, logger *slog.Logger, metrics *jobmetrics.Metrics) *CoreProbeJob {
	return &CoreProbeJob{Gateway: gw, Logger: logger, Metrics: metrics}
}

// Handle processes core probe tasks. Failures are not retried; the next
// scheduled probe runs instead.
func (j *CoreProbeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Gateway == nil {
		return errors.New("core probe: handler not configured")
	}
	var payload CoreProbePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("core probe: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Operation == "" {
		payload.Operation = "read_state"
	}
	if payload.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, payload.Deadline)
		defer cancel()
	}

	tracker := j.Metrics.Track(TaskCoreProbe)
	logger := j.logger()
	start := time.Now()
	_, err := j.Gateway.Forward(ctx, gateway.Call{Operation: payload.Operation, Port: gateway.PortPolicy})
	j.Metrics.SetCoreUp(err == nil)
	if err != nil {
		logger.Warn("core unreachable", slog.String("operation", payload.Operation), slog.Any("error", err))
		return tracker.End(fmt.Errorf("core probe: %v: %w", err, asynq.SkipRetry))
	}
	logger.Info("core reachable", slog.Duration("elapsed", time.Since(start)))
	return tracker.End(nil)
}

func (j *CoreProbeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCoreProbe))
	}
	return slog.Default().With(slog.String("job", TaskCoreProbe))
}

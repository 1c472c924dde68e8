package gologger

import (
	"context"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-smsintake/core"
)

// ForJob resolves the service logger (provider > logger > nop) and returns it
// together with the go-job bridges used by the acknowledgement worker.
func ForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	var jobProvider job.LoggerProvider
	if resolvedProvider != nil {
		jobProvider = job.GoLoggerProvider(resolvedProvider)
	}
	var jobLogger job.Logger
	if resolvedLogger != nil {
		jobLogger = job.GoLogger(resolvedLogger)
	}
	return resolvedProvider, resolvedLogger, jobProvider, jobLogger
}

// WorkerLogHook writes one log line per acknowledgement worker event.
type WorkerLogHook struct {
	Logger glog.Logger
}

func NewWorkerLogHook(logger glog.Logger) WorkerLogHook {
	return WorkerLogHook{Logger: glog.Ensure(logger)}
}

func (h WorkerLogHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.logger(ctx).Debug("sms.worker job started", eventArgs(event)...)
}

func (h WorkerLogHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.logger(ctx).Info("sms.worker job succeeded", eventArgs(event)...)
}

func (h WorkerLogHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.logger(ctx).Error("sms.worker job failed", eventArgs(event)...)
}

func (h WorkerLogHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.logger(ctx).Warn("sms.worker job retrying", eventArgs(event)...)
}

func (h WorkerLogHook) logger(ctx context.Context) glog.Logger {
	logger := glog.Ensure(h.Logger)
	if ctx != nil {
		return logger.WithContext(ctx)
	}
	return logger
}

func eventArgs(event core.JobWorkerEvent) []any {
	args := []any{"attempt", event.Attempt, "duration_ms", event.Duration.Milliseconds()}
	if event.Message != nil {
		args = append(args, "job_id", event.Message.JobID, "idempotency_key", event.Message.IdempotencyKey)
		if key, ok := event.Message.Parameters["message_key"]; ok {
			args = append(args, "message_id", key)
		}
	}
	if event.Delay > 0 {
		args = append(args, "delay_ms", event.Delay.Milliseconds())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	return args
}

var _ core.JobWorkerHook = WorkerLogHook{}

package provisionservice

import (
	"context"
	"errors"
	"time"

	"vm-provisioner/internal/logger"
	"vm-provisioner/internal/metrics"
	"vm-provisioner/internal/retry"
	pve "vm-provisioner/internal/services/proxmox_service"

	"github.com/sirupsen/logrus"
)

// TaskResult is the advisory outcome of a hypervisor task.
// Stopped=false means the wait timed out (or was cancelled).
type TaskResult struct {
	Stopped    bool
	OK         bool
	ExitStatus string
}

// TaskWaiter blocks until a clone/create task reaches a terminal state.
type TaskWaiter struct {
	client       TaskStatusReader
	PollInterval time.Duration
	Sleep        retry.Sleeper
	Now          func() time.Time
}

func NewTaskWaiter(client TaskStatusReader) *TaskWaiter {
	return &TaskWaiter{
		client:       client,
		PollInterval: time.Second,
		Sleep:        retry.SleepContext,
		Now:          time.Now,
	}
}

// Await waits for upid on node. Failures are reported in the result, never returned.
//
// The client's own blocking wait is used when it has one; if that fails for any
// reason other than the timeout, status is polled manually every PollInterval.
func (w *TaskWaiter) Await(ctx context.Context, node string, upid pve.UPID, timeout time.Duration) TaskResult {
	log := logger.FromContext(ctx).WithFields(logrus.Fields{"upid": upid, "node": node})

	if blocker, ok := w.client.(taskBlocker); ok {
		st, err := blocker.WaitTask(ctx, node, upid, timeout)
		switch {
		case err == nil:
			return w.record(log, resultOf(st))
		case errors.Is(err, pve.ErrTaskTimeout):
			return w.record(log, TaskResult{})
		case ctx.Err() != nil:
			return TaskResult{}
		}
		log.WithError(err).Warn("blocking task wait failed, falling back to polling")
	}

	return w.record(log, w.poll(ctx, log, node, upid, timeout))
}

func (w *TaskWaiter) poll(ctx context.Context, log *logrus.Entry, node string, upid pve.UPID, timeout time.Duration) TaskResult {
	start := w.Now()
	for {
		st, err := w.client.TaskStatus(ctx, node, upid)
		if err != nil {
			// 한 번의 조회 실패로 중단하지 않음 (unknown 으로 간주)
			log.WithError(err).Debug("task status unknown")
		} else if st.Stopped() {
			return resultOf(st)
		}

		if w.Now().Sub(start) > timeout {
			return TaskResult{}
		}
		if err := w.Sleep(ctx, w.PollInterval); err != nil {
			return TaskResult{}
		}
	}
}

func (w *TaskWaiter) record(log *logrus.Entry, res TaskResult) TaskResult {
	switch {
	case !res.Stopped:
		metrics.TaskWaitTotal.WithLabelValues(metrics.TaskTimeout).Inc()
		log.Warn("task did not stop before timeout")
	case !res.OK:
		metrics.TaskWaitTotal.WithLabelValues(metrics.TaskFailed).Inc()
	default:
		metrics.TaskWaitTotal.WithLabelValues(metrics.TaskOK).Inc()
	}
	return res
}

func resultOf(st pve.TaskStatus) TaskResult {
	return TaskResult{Stopped: st.Stopped(), OK: st.Stopped() && st.OK(), ExitStatus: st.ExitStatus}
}

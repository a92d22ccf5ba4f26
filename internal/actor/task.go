package actor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/swarmguard/gateway/internal/domain"
)

// TaskInstance owns one task's full lifecycle: PENDING -> PROCESSING ->
// terminal (COMPLETED/FAILED/TIMEOUT/CANCELLED), with up to MAX_RETRIES
// re-dispatches on failure. One instance per task id, addressed through
// System.TaskInstanceFor.
type TaskInstance struct {
	mb  *mailbox
	sys *System

	id   string
	task domain.Task

	waiters []chan domain.Task // goroutines blocked in CreateTask awaiting a terminal status

	timeoutTimer *time.Timer
	cleanupTimer *time.Timer
}

func newTaskInstance(sys *System, id string) *TaskInstance {
	return &TaskInstance{mb: newMailbox(), sys: sys, id: id}
}

// CreateTask records the request, attempts assignment, and — for the
// synchronous path (request.Async == false) — blocks the caller until the
// task reaches a terminal state or ctx is done. This repo resolves the
// spec's open question on createTask's synchronous contract by always
// waiting for the task's own terminal status rather than special-casing
// "no server available yet": the caller waits on a channel that every
// transition into a terminal status signals, whether it comes from a
// task-update callback or from assignment failing, so there is one code
// path for "task reached terminal state", not two. A second call against an instance that already has a
// task is a no-op: it returns the existing record unchanged.
func (t *TaskInstance) CreateTask(ctx context.Context, req domain.TaskRequest) (domain.Task, error) {
	var wait chan domain.Task
	var existing domain.Task
	exists := false

	t.mb.call(func() {
		if t.task.ID != "" {
			exists = true
			existing = t.task
			return
		}

		now := time.Now()
		t.task = domain.Task{
			ID:        t.id,
			Status:    domain.TaskPending,
			Request:   req,
			CreatedAt: now,
			UpdatedAt: now,
		}
		t.sys.Audit.Record("TaskInstance", t.id, "create", "", string(domain.TaskPending))
		t.persistLocked()
		t.sys.StatsAggregatorForNow().RecordTaskStart()

		if !req.Async {
			wait = make(chan domain.Task, 1)
			t.waiters = append(t.waiters, wait)
		}
	})

	if exists {
		return existing, nil
	}

	go t.assignAndExecute()

	if wait == nil {
		return t.GetStatus(), nil
	}

	select {
	case final := <-wait:
		return final, nil
	case <-ctx.Done():
		return t.GetStatus(), ctx.Err()
	}
}

// GetStatus returns a snapshot of the task's current record.
func (t *TaskInstance) GetStatus() domain.Task {
	var snap domain.Task
	t.mb.call(func() { snap = t.task })
	return snap
}

// assignAndExecute selects a server, transitions to PROCESSING, and invokes
// ExecuteTask. Runs outside the mailbox call that creates the task so a slow
// or unavailable backend never blocks CreateTask's own bookkeeping.
func (t *TaskInstance) assignAndExecute() {
	criteria := domain.SelectionCriteria{
		TaskType:             t.task.Request.Type,
		Priority:             t.task.Request.Priority,
		RequiredCapabilities: t.task.Request.RequiredCapabilities,
	}
	serverID := t.sys.LoadBalancer().SelectServer(criteria)
	if serverID == "" {
		t.UpdateTask(taskUpdate{failed: true, errMsg: "No available servers"})
		return
	}

	var req domain.TaskRequest
	t.mb.call(func() {
		t.task.Status = domain.TaskProcessing
		t.task.AssignedServer = serverID
		t.task.UpdatedAt = time.Now()
		t.sys.Audit.Record("TaskInstance", t.id, "assign", string(domain.TaskPending), string(domain.TaskProcessing))
		t.persistLocked()
		t.armTimeoutLocked()
		req = t.task.Request
	})

	si := t.sys.ServerInstanceFor(serverID)
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(t.sys.Config.TaskTimeoutMs)*time.Millisecond)
	defer cancel()

	result, err := si.ExecuteTask(ctx, t.id, req.Payload, t.sys.BaseURL+"/api/task/"+t.id)
	if err != nil {
		t.UpdateTask(taskUpdate{failed: true, errMsg: err.Error()})
		return
	}
	if result.Async {
		// worker will deliver the real result via the callback endpoint later
		return
	}
	t.UpdateTask(taskUpdate{completed: true, result: result.Result})
}

// taskUpdate is the internal shape both the synchronous ExecuteTask return
// path and the asynchronous callback endpoint funnel through, satisfying
// the "one code path for task completion" decision above.
type taskUpdate struct {
	completed bool
	failed    bool
	result    json.RawMessage
	errMsg    string
	progress  *int
}

// CallbackUpdate is the shape of a backend worker's PUT /api/task/{id}
// body. Status drives the transition; Result/Progress/Error are optional
// depending on which branch it takes.
type CallbackUpdate struct {
	Status   domain.TaskStatus
	Result   json.RawMessage
	Progress *int
	Error    string
}

// ApplyCallback translates a worker's callback body into the same
// taskUpdate path assignAndExecute's synchronous return uses, so there is
// exactly one internal representation of "a task outcome arrived."
func (t *TaskInstance) ApplyCallback(u CallbackUpdate) (domain.Task, error) {
	if u.Progress != nil {
		return t.UpdateTask(taskUpdate{progress: u.Progress}), nil
	}
	switch u.Status {
	case domain.TaskCompleted:
		return t.UpdateTask(taskUpdate{completed: true, result: u.Result}), nil
	case domain.TaskFailed:
		return t.UpdateTask(taskUpdate{failed: true, errMsg: u.Error}), nil
	default:
		return domain.Task{}, domain.NewError(domain.KindValidation, "unsupported callback status %q", u.Status)
	}
}

// UpdateTask applies a progress or terminal update to any task that is not
// yet terminal. The current status is not checked beyond that: an update to
// a PENDING task is applied the same way as one to a PROCESSING task, and
// no IllegalTransition error is returned. An update to an already-terminal
// task is accepted but ignored, so a duplicate callback delivery does not
// flip a CANCELLED task back to COMPLETED.
func (t *TaskInstance) UpdateTask(u taskUpdate) domain.Task {
	var snap domain.Task
	var notify []chan domain.Task

	t.mb.call(func() {
		if t.task.Status.IsTerminal() {
			snap = t.task
			return
		}

		from := t.task.Status
		switch {
		case u.progress != nil:
			t.task.Progress = *u.progress
		case u.completed:
			t.task.Status = domain.TaskCompleted
			t.task.Result = u.result
			t.task.Progress = 100
		case u.failed:
			t.failLocked(u.errMsg)
		}
		t.task.UpdatedAt = time.Now()

		if from != t.task.Status {
			t.sys.Audit.Record("TaskInstance", t.id, "update", string(from), string(t.task.Status))
		}
		t.persistLocked()

		if t.task.Status.IsTerminal() {
			t.cancelTimeoutLocked()
			t.armCleanupLocked()
			t.recordCompletionLocked()
			notify = t.waiters
			t.waiters = nil
		}
		snap = t.task
	})

	for _, w := range notify {
		w <- snap
	}
	return snap
}

// recordCompletionLocked must run on the mailbox goroutine, after the task
// has just landed on a terminal status. It folds the outcome into today's
// StatsAggregator.
func (t *TaskInstance) recordCompletionLocked() {
	duration := t.task.UpdatedAt.Sub(t.task.CreatedAt).Milliseconds()
	success := t.task.Status == domain.TaskCompleted
	t.sys.StatsAggregatorForNow().RecordTaskComplete(t.task.AssignedServer, success, duration, t.task.RetryCount > 0)
}

// failLocked must run on the mailbox goroutine. A sync execution failure —
// backend error, no available server, or an explicit worker callback
// failure — lands directly on FAILED. Retry is the only recovery
// mechanism; nothing here re-dispatches automatically.
func (t *TaskInstance) failLocked(errMsg string) {
	t.task.Status = domain.TaskFailed
	t.task.Error = errMsg
}

// attemptRetryLocked must run on the mailbox goroutine. It is the one place
// that appends an Attempt and advances RetryCount, which is what keeps
// invariant 3 (attempts recorded == retries taken) exact: a refused retry
// touches neither. Returns false once RetryCount has reached MaxRetries,
// leaving the task's current (terminal) status untouched for the caller to
// act on.
func (t *TaskInstance) attemptRetryLocked() bool {
	if t.task.RetryCount >= t.sys.Config.MaxRetries {
		return false
	}
	t.task.Attempts = append(t.task.Attempts, domain.Attempt{
		Number:         len(t.task.Attempts) + 1,
		StartedAt:      time.Now(),
		PreviousStatus: t.task.Status,
		PreviousError:  t.task.Error,
	})
	t.task.RetryCount++
	t.task.Status = domain.TaskPending
	t.task.AssignedServer = ""
	t.task.Error = ""
	return true
}

// Retry manually re-queues a FAILED or TIMEOUT task. It refuses to act on a
// task in any other status, and refuses once the retry budget is spent.
func (t *TaskInstance) Retry() error {
	var retErr error
	t.mb.call(func() {
		if t.task.Status != domain.TaskFailed && t.task.Status != domain.TaskTimeout {
			retErr = domain.NewError(domain.KindIllegalTransition, "task %s is %s, not FAILED or TIMEOUT", t.id, t.task.Status)
			return
		}
		from := t.task.Status
		if !t.attemptRetryLocked() {
			retErr = domain.NewError(domain.KindIllegalTransition, "task %s has exhausted its %d retries", t.id, t.sys.Config.MaxRetries)
			return
		}
		t.sys.Audit.Record("TaskInstance", t.id, "retry", string(from), string(domain.TaskPending))
		t.persistLocked()
	})
	if retErr != nil {
		return retErr
	}
	go t.assignAndExecute()
	return nil
}

// Cancel transitions a non-terminal task straight to CANCELLED. Unlike the
// orchestrator teacher's cancellation path, which folds a cancelled
// execution into its FAILED status, this repo uses CANCELLED as its own
// genuine terminal state per the data model's six-member TaskStatus
// invariant.
func (t *TaskInstance) Cancel() error {
	var retErr error
	var notify []chan domain.Task
	var snap domain.Task

	t.mb.call(func() {
		if t.task.Status.IsTerminal() {
			retErr = domain.NewError(domain.KindIllegalTransition, "task %s already %s", t.id, t.task.Status)
			return
		}
		from := t.task.Status
		t.task.Status = domain.TaskCancelled
		t.task.UpdatedAt = time.Now()
		t.sys.Audit.Record("TaskInstance", t.id, "cancel", string(from), string(domain.TaskCancelled))
		t.persistLocked()
		t.cancelTimeoutLocked()
		t.armCleanupLocked()
		t.recordCompletionLocked()
		notify = t.waiters
		t.waiters = nil
		snap = t.task
	})
	for _, w := range notify {
		w <- snap
	}
	return retErr
}

func (t *TaskInstance) persistLocked() {
	_ = t.sys.Store.PutTask(t.task)
}

func (t *TaskInstance) armTimeoutLocked() {
	if t.timeoutTimer != nil {
		t.timeoutTimer.Stop()
	}
	t.timeoutTimer = time.AfterFunc(time.Duration(t.sys.Config.TaskTimeoutMs)*time.Millisecond, func() {
		t.mb.cast(func() {
			if t.task.Status.IsTerminal() {
				return
			}
			from := t.task.Status
			t.task.Status = domain.TaskTimeout
			t.task.Error = "task exceeded timeout"
			t.task.UpdatedAt = time.Now()
			t.sys.Audit.Record("TaskInstance", t.id, "timeout", string(from), string(domain.TaskTimeout))

			if t.attemptRetryLocked() {
				t.sys.Audit.Record("TaskInstance", t.id, "retry", string(domain.TaskTimeout), string(domain.TaskPending))
				t.persistLocked()
				go t.assignAndExecute()
				return
			}

			t.persistLocked()
			t.armCleanupLocked()
			t.recordCompletionLocked()
			notify := t.waiters
			t.waiters = nil
			snap := t.task
			for _, w := range notify {
				w <- snap
			}
		})
	})
}

func (t *TaskInstance) cancelTimeoutLocked() {
	if t.timeoutTimer != nil {
		t.timeoutTimer.Stop()
		t.timeoutTimer = nil
	}
}

// armCleanupLocked schedules removal of the task's handle and persisted
// record CLEANUP_DELAY after it lands on a terminal state.
func (t *TaskInstance) armCleanupLocked() {
	if t.cleanupTimer != nil {
		t.cleanupTimer.Stop()
	}
	t.cleanupTimer = time.AfterFunc(time.Duration(t.sys.Config.CleanupDelayMs)*time.Millisecond, func() {
		_ = t.sys.Store.DeleteTask(t.id)
		t.sys.RemoveTaskInstance(t.id)
	})
}

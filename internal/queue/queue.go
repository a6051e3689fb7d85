// Package queue implements the distributed task queue on Redis: task records
// live in task:{id} hashes, the pending set is a priority-scored sorted set
// holding only ids, and node membership is a TTL-refreshed registry. The
// scheduler is the single writer for assignment; workers only move their own
// tasks forward.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/atheneum-ai/atheneum/internal/errs"
)

// Redis keys.
const (
	pendingKey   = "pending_tasks"
	taskPrefix   = "task:"
	metricPrefix = "metrics:"
)

// metricCap bounds each metrics list.
const metricCap = 100

// Task statuses.
const (
	StatusPending    = "pending"
	StatusAssigned   = "assigned"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Task types dispatched by workers.
const (
	TypeDocumentProcessing = "document_processing"
	TypeTempFileProcessing = "temp_file_processing"
	TypeBatchEmbedding     = "batch_embedding"
	TypeBlobCompensation   = "blob_compensation"
	TypeThumbnail          = "thumbnail_generation"
	TypeFormatConversion   = "format_conversion"
)

// Priorities. The sorted-set score is the priority value, so urgent pops
// first.
const (
	PriorityLow    = 1
	PriorityNormal = 2
	PriorityHigh   = 3
	PriorityUrgent = 4
)

// DefaultTimeout bounds task execution before the scheduler requeues it.
const DefaultTimeout = time.Hour

// Task is one queued unit of work.
type Task struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Priority     int               `json:"priority"`
	Status       string            `json:"status"`
	Data         map[string]string `json:"data"`
	Dependencies []string          `json:"dependencies,omitempty"`
	AssignedNode string            `json:"assigned_node,omitempty"`
	AssignedAt   time.Time         `json:"assigned_at,omitempty"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
	Timeout      time.Duration     `json:"timeout"`
	Error        string            `json:"error,omitempty"`
	Result       string            `json:"result,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    time.Time         `json:"started_at,omitempty"`
	CompletedAt  time.Time         `json:"completed_at,omitempty"`
}

// Queue stores tasks in Redis.
type Queue struct {
	rdb *redis.Client
}

// New binds a Queue to a Redis client.
func New(rdb *redis.Client) *Queue { return &Queue{rdb: rdb} }

// Enqueue stores the task and adds it to the pending set. A missing id gets a
// UUID; zero priority becomes normal.
func (q *Queue) Enqueue(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Priority == 0 {
		t.Priority = PriorityNormal
	}
	if t.Priority < PriorityLow || t.Priority > PriorityUrgent {
		return errs.Newf(errs.KindBadRequest, "invalid priority %d", t.Priority)
	}
	if t.Timeout <= 0 {
		t.Timeout = DefaultTimeout
	}
	t.Status = StatusPending
	t.CreatedAt = time.Now().UTC()
	if err := q.write(ctx, t); err != nil {
		return err
	}
	if err := q.rdb.ZAdd(ctx, pendingKey, redis.Z{Score: float64(t.Priority), Member: t.ID}).Err(); err != nil {
		return fmt.Errorf("queue: add pending: %w", err)
	}
	return nil
}

// Get loads a task record.
func (q *Queue) Get(ctx context.Context, id string) (*Task, error) {
	fields, err := q.rdb.HGetAll(ctx, taskPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: get task: %w", err)
	}
	if len(fields) == 0 {
		return nil, errs.NotFound("task")
	}
	return taskFromFields(id, fields)
}

// PendingReady returns up to max pending task ids in descending priority
// whose dependencies are all completed.
func (q *Queue) PendingReady(ctx context.Context, max int) ([]Task, error) {
	ids, err := q.rdb.ZRevRange(ctx, pendingKey, 0, int64(max*4)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: pending range: %w", err)
	}
	var out []Task
	for _, id := range ids {
		if len(out) >= max {
			break
		}
		t, err := q.Get(ctx, id)
		if errs.Is(err, errs.KindNotFound) {
			// Orphaned id; drop it from the set.
			_ = q.rdb.ZRem(ctx, pendingKey, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		ready, err := q.depsCompleted(ctx, t)
		if err != nil {
			return nil, err
		}
		if ready {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (q *Queue) depsCompleted(ctx context.Context, t *Task) (bool, error) {
	for _, dep := range t.Dependencies {
		d, err := q.Get(ctx, dep)
		if errs.Is(err, errs.KindNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if d.Status != StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// Assign marks the task assigned to a node and removes it from the pending
// set.
func (q *Queue) Assign(ctx context.Context, id, nodeID string) error {
	if err := q.rdb.ZRem(ctx, pendingKey, id).Err(); err != nil {
		return fmt.Errorf("queue: remove pending: %w", err)
	}
	return q.update(ctx, id, map[string]any{
		"status":        StatusAssigned,
		"assigned_node": nodeID,
		"assigned_at":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Requeue puts a task back into the pending set at the given priority.
func (q *Queue) Requeue(ctx context.Context, id string, priority int) error {
	if err := q.update(ctx, id, map[string]any{
		"status":        StatusPending,
		"assigned_node": "",
		"assigned_at":   "",
		"priority":      priority,
	}); err != nil {
		return err
	}
	if err := q.rdb.ZAdd(ctx, pendingKey, redis.Z{Score: float64(priority), Member: id}).Err(); err != nil {
		return fmt.Errorf("queue: requeue: %w", err)
	}
	return nil
}

// RequeueRetry re-queues a timed-out task with an incremented retry counter.
func (q *Queue) RequeueRetry(ctx context.Context, t *Task) error {
	if err := q.update(ctx, t.ID, map[string]any{
		"status":        StatusPending,
		"assigned_node": "",
		"assigned_at":   "",
		"retry_count":   t.RetryCount + 1,
		"started_at":    "",
	}); err != nil {
		return err
	}
	if err := q.rdb.ZAdd(ctx, pendingKey, redis.Z{Score: float64(t.Priority), Member: t.ID}).Err(); err != nil {
		return fmt.Errorf("queue: requeue retry: %w", err)
	}
	return nil
}

// MarkProcessing records that a worker picked the task up.
func (q *Queue) MarkProcessing(ctx context.Context, id string) error {
	return q.update(ctx, id, map[string]any{
		"status":     StatusProcessing,
		"started_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Complete stores the result and marks the task completed.
func (q *Queue) Complete(ctx context.Context, id, result string) error {
	return q.update(ctx, id, map[string]any{
		"status":       StatusCompleted,
		"result":       result,
		"completed_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Fail stores the error and marks the task failed.
func (q *Queue) Fail(ctx context.Context, id, errMsg string) error {
	return q.update(ctx, id, map[string]any{
		"status":       StatusFailed,
		"error":        errMsg,
		"completed_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Cancel cancels a task that has not started processing yet.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	t, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	switch t.Status {
	case StatusPending, StatusAssigned:
	default:
		return errs.Newf(errs.KindConflict, "task is %s and cannot be cancelled", t.Status)
	}
	if err := q.rdb.ZRem(ctx, pendingKey, id).Err(); err != nil {
		return fmt.Errorf("queue: cancel: %w", err)
	}
	return q.update(ctx, id, map[string]any{
		"status":       StatusCancelled,
		"completed_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// InFlight returns tasks currently assigned or processing. Used by the
// scheduler's timeout sweep.
func (q *Queue) InFlight(ctx context.Context) ([]Task, error) {
	return q.scanByStatus(ctx, map[string]bool{StatusAssigned: true, StatusProcessing: true})
}

// GC removes completed, failed and cancelled task records older than maxAge.
// Returns the number of records removed.
func (q *Queue) GC(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	terminal := map[string]bool{StatusCompleted: true, StatusFailed: true, StatusCancelled: true}
	tasks, err := q.scanByStatus(ctx, terminal)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, t := range tasks {
		at := t.CompletedAt
		if at.IsZero() {
			at = t.CreatedAt
		}
		if at.Before(cutoff) {
			if err := q.rdb.Del(ctx, taskPrefix+t.ID).Err(); err != nil {
				return removed, fmt.Errorf("queue: gc: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

// RecordMetric pushes a sample onto a capped metrics list.
func (q *Queue) RecordMetric(ctx context.Context, name string, value float64) error {
	key := metricPrefix + name
	sample, _ := json.Marshal(map[string]any{
		"value": value,
		"at":    time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, key, sample)
	pipe.LTrim(ctx, key, 0, metricCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: record metric: %w", err)
	}
	return nil
}

func (q *Queue) scanByStatus(ctx context.Context, want map[string]bool) ([]Task, error) {
	var (
		out    []Task
		cursor uint64
	)
	for {
		keys, next, err := q.rdb.Scan(ctx, cursor, taskPrefix+"*", 200).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: scan: %w", err)
		}
		for _, key := range keys {
			t, err := q.Get(ctx, key[len(taskPrefix):])
			if errs.Is(err, errs.KindNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if want[t.Status] {
				out = append(out, *t)
			}
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (q *Queue) write(ctx context.Context, t *Task) error {
	data, _ := json.Marshal(t.Data)
	deps, _ := json.Marshal(t.Dependencies)
	fields := map[string]any{
		"type":          t.Type,
		"priority":      t.Priority,
		"status":        t.Status,
		"data":          string(data),
		"dependencies":  string(deps),
		"assigned_node": t.AssignedNode,
		"retry_count":   t.RetryCount,
		"max_retries":   t.MaxRetries,
		"timeout_ms":    t.Timeout.Milliseconds(),
		"error":         t.Error,
		"result":        t.Result,
		"created_at":    t.CreatedAt.Format(time.RFC3339Nano),
	}
	if err := q.rdb.HSet(ctx, taskPrefix+t.ID, fields).Err(); err != nil {
		return fmt.Errorf("queue: write task: %w", err)
	}
	return nil
}

func (q *Queue) update(ctx context.Context, id string, fields map[string]any) error {
	exists, err := q.rdb.Exists(ctx, taskPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("queue: update: %w", err)
	}
	if exists == 0 {
		return errs.NotFound("task")
	}
	if err := q.rdb.HSet(ctx, taskPrefix+id, fields).Err(); err != nil {
		return fmt.Errorf("queue: update: %w", err)
	}
	return nil
}

func taskFromFields(id string, f map[string]string) (*Task, error) {
	t := &Task{
		ID:           id,
		Type:         f["type"],
		Status:       f["status"],
		AssignedNode: f["assigned_node"],
		Error:        f["error"],
		Result:       f["result"],
	}
	t.Priority, _ = strconv.Atoi(f["priority"])
	t.RetryCount, _ = strconv.Atoi(f["retry_count"])
	t.MaxRetries, _ = strconv.Atoi(f["max_retries"])
	if ms, err := strconv.ParseInt(f["timeout_ms"], 10, 64); err == nil {
		t.Timeout = time.Duration(ms) * time.Millisecond
	}
	if f["data"] != "" {
		if err := json.Unmarshal([]byte(f["data"]), &t.Data); err != nil {
			return nil, fmt.Errorf("queue: task %s data: %w", id, err)
		}
	}
	if f["dependencies"] != "" {
		if err := json.Unmarshal([]byte(f["dependencies"]), &t.Dependencies); err != nil {
			return nil, fmt.Errorf("queue: task %s dependencies: %w", id, err)
		}
	}
	t.CreatedAt = parseTime(f["created_at"])
	t.AssignedAt = parseTime(f["assigned_at"])
	t.StartedAt = parseTime(f["started_at"])
	t.CompletedAt = parseTime(f["completed_at"])
	return t, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// Package scheduler runs the coordinator loop of the distributed queue:
// match ready tasks to capable nodes by load score, notify the winning node,
// requeue on timeout and garbage-collect terminal records. It must run on a
// single coordinator node per queue instance.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"goa.design/clue/log"

	"github.com/atheneum-ai/atheneum/internal/queue"
)

// Loop cadence and batch bounds.
const (
	TickInterval  = 5 * time.Second
	DispatchBatch = 10
	GCInterval    = time.Hour
	GCMaxAge      = 24 * time.Hour
	notifyTimeout = 30 * time.Second
)

// Tasks is the slice of the queue the scheduler drives.
type Tasks interface {
	PendingReady(ctx context.Context, max int) ([]queue.Task, error)
	Assign(ctx context.Context, id, nodeID string) error
	Requeue(ctx context.Context, id string, priority int) error
	RequeueRetry(ctx context.Context, t *queue.Task) error
	Fail(ctx context.Context, id, errMsg string) error
	InFlight(ctx context.Context) ([]queue.Task, error)
	GC(ctx context.Context, maxAge time.Duration) (int, error)
	RecordMetric(ctx context.Context, name string, value float64) error
}

// Nodes is the slice of the registry the scheduler consults.
type Nodes interface {
	Active(ctx context.Context) ([]queue.Node, error)
	PurgeStale(ctx context.Context) ([]string, error)
}

// Options configures a Scheduler.
type Options struct {
	Tasks Tasks
	Nodes Nodes
	// HTTPClient posts assignments to worker nodes. Nil gets a client with
	// the notify timeout.
	HTTPClient *http.Client
}

// Scheduler matches pending tasks to worker nodes.
type Scheduler struct {
	tasks  Tasks
	nodes  Nodes
	http   *http.Client
	lastGC time.Time
}

// New builds a Scheduler.
func New(opts Options) *Scheduler {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: notifyTimeout}
	}
	return &Scheduler{tasks: opts.Tasks, nodes: opts.Nodes, http: opts.HTTPClient}
}

// Run ticks the coordinator loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				log.Errorf(ctx, err, "scheduler: tick")
			}
		}
	}
}

// Tick runs one coordinator pass: purge stale nodes, dispatch ready tasks,
// sweep timeouts and periodically garbage-collect.
func (s *Scheduler) Tick(ctx context.Context) error {
	if purged, err := s.nodes.PurgeStale(ctx); err != nil {
		return err
	} else if len(purged) > 0 {
		log.Printf(ctx, "scheduler: purged stale nodes %v", purged)
	}
	if err := s.dispatch(ctx); err != nil {
		return err
	}
	if err := s.sweepTimeouts(ctx); err != nil {
		return err
	}
	if time.Since(s.lastGC) >= GCInterval {
		s.lastGC = time.Now()
		removed, err := s.tasks.GC(ctx, GCMaxAge)
		if err != nil {
			return err
		}
		if removed > 0 {
			log.Printf(ctx, "scheduler: gc removed %d tasks", removed)
		}
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context) error {
	ready, err := s.tasks.PendingReady(ctx, DispatchBatch)
	if err != nil {
		return err
	}
	_ = s.tasks.RecordMetric(ctx, "pending_ready", float64(len(ready)))
	if len(ready) == 0 {
		return nil
	}
	nodes, err := s.nodes.Active(ctx)
	if err != nil {
		return err
	}
	for i := range ready {
		task := ready[i]
		node, ok := pickNode(nodes, task)
		if !ok {
			continue
		}
		if err := s.tasks.Assign(ctx, task.ID, node.ID); err != nil {
			return err
		}
		task.Status = queue.StatusAssigned
		task.AssignedNode = node.ID
		if err := s.notify(ctx, node, task); err != nil {
			log.Errorf(ctx, err, "scheduler: notify %s for task %s", node.ID, task.ID)
			if rerr := s.tasks.Requeue(ctx, task.ID, queue.PriorityNormal); rerr != nil {
				return rerr
			}
			continue
		}
		log.Printf(ctx, "scheduler: task %s (%s) assigned to %s", task.ID, task.Type, node.ID)
	}
	return nil
}

// pickNode returns the online capable node with the lowest dispatch score.
func pickNode(nodes []queue.Node, t queue.Task) (queue.Node, bool) {
	var (
		best      queue.Node
		bestScore float64
		found     bool
	)
	for _, n := range nodes {
		if n.Status != queue.NodeOnline || !n.Can(t.Type) {
			continue
		}
		score := dispatchScore(n, t.Priority)
		if !found || score < bestScore {
			best, bestScore, found = n, score, true
		}
	}
	return best, found
}

// dispatchScore is the node load score divided by the task priority weight,
// so loaded nodes lose and urgent tasks tolerate more load.
func dispatchScore(n queue.Node, priority int) float64 {
	load := 0.4*n.CPUPercent/100 + 0.4*n.MemPercent/100 + 0.2*(1-float64(n.ActiveWorkers)/10)
	return load / priorityWeight(priority)
}

func priorityWeight(p int) float64 {
	switch p {
	case queue.PriorityLow:
		return 0.5
	case queue.PriorityHigh:
		return 1.5
	case queue.PriorityUrgent:
		return 2
	default:
		return 1
	}
}

func (s *Scheduler) notify(ctx context.Context, n queue.Node, t queue.Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("scheduler: marshal task: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.ExecuteURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("scheduler: build notify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("scheduler: notify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("scheduler: notify: node returned %d", resp.StatusCode)
	}
	return nil
}

func (s *Scheduler) sweepTimeouts(ctx context.Context) error {
	inflight, err := s.tasks.InFlight(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range inflight {
		t := inflight[i]
		// Assigned tasks whose node died never reach processing, so fall back
		// to the assignment clock.
		ref := t.StartedAt
		if ref.IsZero() {
			ref = t.AssignedAt
		}
		if ref.IsZero() {
			ref = t.CreatedAt
		}
		if ref.IsZero() || now.Sub(ref) <= t.Timeout {
			continue
		}
		if t.RetryCount < t.MaxRetries {
			log.Printf(ctx, "scheduler: task %s timed out, retry %d/%d", t.ID, t.RetryCount+1, t.MaxRetries)
			if err := s.tasks.RequeueRetry(ctx, &t); err != nil {
				return err
			}
			continue
		}
		log.Printf(ctx, "scheduler: task %s timed out, retries exhausted", t.ID)
		if err := s.tasks.Fail(ctx, t.ID, "timeout"); err != nil {
			return err
		}
	}
	return nil
}

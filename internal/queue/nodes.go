package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Node registry keys.
const (
	activeNodesKey = "active_nodes"
	nodePrefix     = "nodes:"
)

// Heartbeat cadence and the grace period after which a silent node is purged.
const (
	HeartbeatInterval = 30 * time.Second
	NodeGracePeriod   = 2 * time.Minute
)

// Node statuses.
const (
	NodeOnline  = "online"
	NodeOffline = "offline"
)

// Node is a queue participant's live record.
type Node struct {
	ID            string    `json:"id"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	Role          string    `json:"role"`
	Region        string    `json:"region"`
	Status        string    `json:"status"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemPercent    float64   `json:"mem_percent"`
	ActiveWorkers int       `json:"active_workers"`
	Capabilities  []string  `json:"capabilities"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// ExecuteURL is the worker endpoint the scheduler POSTs assignments to.
func (n Node) ExecuteURL() string {
	return fmt.Sprintf("http://%s:%d/api/worker/execute", n.Host, n.Port)
}

// Can reports whether the node declares the capability.
func (n Node) Can(taskType string) bool {
	for _, c := range n.Capabilities {
		if c == taskType {
			return true
		}
	}
	return false
}

// Registry tracks active nodes in Redis.
type Registry struct {
	rdb *redis.Client
}

// NewRegistry binds a Registry to a Redis client.
func NewRegistry(rdb *redis.Client) *Registry { return &Registry{rdb: rdb} }

// Heartbeat refreshes the node's record and membership. The record key
// carries a TTL slightly past the grace period so crashed nodes disappear
// even without a coordinator purge.
func (r *Registry) Heartbeat(ctx context.Context, n Node) error {
	n.LastHeartbeat = time.Now().UTC()
	if n.Status == "" {
		n.Status = NodeOnline
	}
	caps, _ := json.Marshal(n.Capabilities)
	fields := map[string]any{
		"host":           n.Host,
		"port":           n.Port,
		"role":           n.Role,
		"region":         n.Region,
		"status":         n.Status,
		"cpu_percent":    n.CPUPercent,
		"mem_percent":    n.MemPercent,
		"active_workers": n.ActiveWorkers,
		"capabilities":   string(caps),
		"last_heartbeat": n.LastHeartbeat.Format(time.RFC3339Nano),
	}
	key := nodePrefix + n.ID
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, NodeGracePeriod+HeartbeatInterval)
	pipe.SAdd(ctx, activeNodesKey, n.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: heartbeat: %w", err)
	}
	return nil
}

// Active returns the live node records. Members whose record expired are
// skipped (and left for PurgeStale to drop from the set).
func (r *Registry) Active(ctx context.Context) ([]Node, error) {
	ids, err := r.rdb.SMembers(ctx, activeNodesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: active nodes: %w", err)
	}
	var out []Node
	for _, id := range ids {
		n, ok, err := r.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// PurgeStale removes nodes that have not heartbeat within the grace period.
// Returns the purged ids.
func (r *Registry) PurgeStale(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, activeNodesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: purge: %w", err)
	}
	cutoff := time.Now().UTC().Add(-NodeGracePeriod)
	var purged []string
	for _, id := range ids {
		n, ok, err := r.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok && !n.LastHeartbeat.Before(cutoff) {
			continue
		}
		pipe := r.rdb.TxPipeline()
		pipe.SRem(ctx, activeNodesKey, id)
		pipe.Del(ctx, nodePrefix+id)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, fmt.Errorf("queue: purge %s: %w", id, err)
		}
		purged = append(purged, id)
	}
	return purged, nil
}

// Deregister removes a node on graceful shutdown.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.SRem(ctx, activeNodesKey, id)
	pipe.Del(ctx, nodePrefix+id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: deregister: %w", err)
	}
	return nil
}

func (r *Registry) get(ctx context.Context, id string) (Node, bool, error) {
	f, err := r.rdb.HGetAll(ctx, nodePrefix+id).Result()
	if err != nil {
		return Node{}, false, fmt.Errorf("queue: get node: %w", err)
	}
	if len(f) == 0 {
		return Node{}, false, nil
	}
	n := Node{
		ID:     id,
		Host:   f["host"],
		Role:   f["role"],
		Region: f["region"],
		Status: f["status"],
	}
	n.Port, _ = strconv.Atoi(f["port"])
	n.CPUPercent, _ = strconv.ParseFloat(f["cpu_percent"], 64)
	n.MemPercent, _ = strconv.ParseFloat(f["mem_percent"], 64)
	n.ActiveWorkers, _ = strconv.Atoi(f["active_workers"])
	if f["capabilities"] != "" {
		_ = json.Unmarshal([]byte(f["capabilities"]), &n.Capabilities)
	}
	n.LastHeartbeat = parseTime(f["last_heartbeat"])
	return n, true, nil
}

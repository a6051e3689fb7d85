package store

import (
	"context"
	"fmt"
)

// MCPTool is a user-configured remote tool reachable over HTTP.
type MCPTool struct {
	ID          int64
	UserID      int64
	Name        string
	Description string
	Endpoint    string
	InputSchema []byte // JSON schema document
	Enabled     bool
}

// MCPTools persists remote tool configurations.
type MCPTools struct {
	q Querier
}

// NewMCPTools binds the repository to a Querier.
func NewMCPTools(q Querier) *MCPTools { return &MCPTools{q: q} }

// ListEnabled returns a user's enabled tools.
func (r *MCPTools) ListEnabled(ctx context.Context, userID int64) ([]MCPTool, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, name, description, endpoint, input_schema, enabled
		FROM mcp_tools WHERE user_id = $1 AND enabled ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list mcp tools: %w", err)
	}
	defer rows.Close()
	var out []MCPTool
	for rows.Next() {
		var t MCPTool
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Description, &t.Endpoint,
			&t.InputSchema, &t.Enabled); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Upsert creates or replaces a tool by (user, name).
func (r *MCPTools) Upsert(ctx context.Context, t *MCPTool) error {
	return r.q.QueryRow(ctx, `
		INSERT INTO mcp_tools (user_id, name, description, endpoint, input_schema, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, name) DO UPDATE SET
			description = EXCLUDED.description,
			endpoint = EXCLUDED.endpoint,
			input_schema = EXCLUDED.input_schema,
			enabled = EXCLUDED.enabled
		RETURNING id`,
		t.UserID, t.Name, t.Description, t.Endpoint, t.InputSchema, t.Enabled).
		Scan(&t.ID)
}

// Delete removes a tool by (user, name).
func (r *MCPTools) Delete(ctx context.Context, userID int64, name string) error {
	_, err := r.q.Exec(ctx,
		`DELETE FROM mcp_tools WHERE user_id = $1 AND name = $2`, userID, name)
	if err != nil {
		return fmt.Errorf("store: delete mcp tool: %w", err)
	}
	return nil
}

// Package mcptool invokes user-configured remote tools over HTTP. Arguments
// are validated against the tool's declared JSON schema before the request
// leaves the process, so a malformed planner call never reaches the remote
// endpoint.
package mcptool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/atheneum-ai/atheneum/internal/errs"
	"github.com/atheneum-ai/atheneum/internal/store"
)

const defaultTimeout = 30 * time.Second

// Client calls remote MCP endpoints.
type Client struct {
	http *http.Client
}

// New builds a Client. httpClient may be nil.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{http: httpClient}
}

// callRequest is the wire shape POSTed to the tool endpoint.
type callRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// Invoke validates args against the tool's schema and POSTs the call. The
// raw JSON response body is returned for the synthesis prompt to inline.
func (c *Client) Invoke(ctx context.Context, tool store.MCPTool, args json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := validate(tool.InputSchema, args); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(callRequest{Tool: tool.Name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("mcptool: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tool.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("mcptool: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindProviderTransient, "mcp endpoint unreachable")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("mcptool: read: %w", err)
	}
	if resp.StatusCode >= 400 {
		kind := errs.KindProviderFatal
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			kind = errs.KindProviderTransient
		}
		return nil, errs.Newf(kind, "mcp endpoint returned HTTP %d", resp.StatusCode)
	}
	if !json.Valid(body) {
		return nil, errs.New(errs.KindProviderFatal, "mcp endpoint returned non-JSON response")
	}
	return body, nil
}

// validate checks args against schemaBytes. An empty schema accepts anything.
func validate(schemaBytes, args []byte) error {
	if len(schemaBytes) == 0 {
		return nil
	}
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
	if err != nil {
		return errs.Wrap(err, errs.KindBadRequest, "invalid tool schema")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", schemaDoc); err != nil {
		return errs.Wrap(err, errs.KindBadRequest, "invalid tool schema")
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return errs.Wrap(err, errs.KindBadRequest, "invalid tool schema")
	}
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return errs.Wrap(err, errs.KindBadRequest, "tool arguments are not JSON")
	}
	if err := schema.Validate(value); err != nil {
		return errs.Wrap(err, errs.KindBadRequest, "tool arguments rejected by schema")
	}
	return nil
}

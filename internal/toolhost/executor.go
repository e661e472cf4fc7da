package toolhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ExecResult is the outcome of one tool invocation. Errors are data, not
// panics: the graph turns them into observations.
type ExecResult struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Executor sends line-delimited JSON-RPC 2.0 requests to running hosts.
type Executor struct {
	manager *Manager
	timeout time.Duration
}

func NewExecutor(manager *Manager, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{manager: manager, timeout: timeout}
}

// Execute runs one request/response exchange with the named host. It never
// returns a Go error to the caller beyond the structured result.
func (e *Executor) Execute(ctx context.Context, hostName, method string, args map[string]any) ExecResult {
	h, ok := e.manager.runningByName(hostName)
	if !ok {
		return ExecResult{Success: false, Error: fmt.Sprintf("service not running: %s", hostName)}
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  args,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return ExecResult{Success: false, Error: fmt.Sprintf("encode request: %v", err)}
	}

	timeout := e.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return ExecResult{Success: false, Error: "request timeout"}
	}

	// One request/response pair at a time on the shared pipes.
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.stdin.Write(append(payload, '\n')); err != nil {
		return ExecResult{Success: false, Error: fmt.Sprintf("write request: %v", err)}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case line, open := <-h.lines:
			if !open {
				return ExecResult{Success: false, Error: fmt.Sprintf("service not running: %s", hostName)}
			}

			var resp rpcResponse
			if err := json.Unmarshal([]byte(line), &resp); err != nil {
				slog.Warn("Tool host returned unparseable output", "host", hostName, "error", err)
				return ExecResult{Success: false, Error: fmt.Sprintf("unparseable response: %v", err)}
			}
			// A stale line from an earlier timed-out request; skip it.
			if idStr, ok := resp.ID.(string); ok && idStr != req.ID {
				slog.Debug("Skipping stale tool host response", "host", hostName, "id", idStr)
				continue
			}
			if resp.Error != nil {
				return ExecResult{Success: false, Error: resp.Error.Message}
			}
			return ExecResult{Success: true, Result: stringifyResult(resp.Result)}

		case <-deadline.C:
			return ExecResult{Success: false, Error: fmt.Sprintf("request timeout after %v", timeout)}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ExecResult{Success: false, Error: fmt.Sprintf("request timeout after %v", timeout)}
			}
			return ExecResult{Success: false, Error: fmt.Sprintf("request cancelled: %v", ctx.Err())}
		}
	}
}

// stringifyResult renders the result field: JSON text for objects and
// arrays, the bare value otherwise.
func stringifyResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case bool:
		return fmt.Sprintf("%v", val)
	case float64:
		return formatNumber(val)
	default:
		return string(raw)
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

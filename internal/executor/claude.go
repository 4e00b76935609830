package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/jcflow/jc/internal/log"
)

// ClaudeBinary is the agent CLI executable.
const ClaudeBinary = "claude"

// ClaudeArgs builds the argument vector for one non-interactive agent run.
// The prompt travels after a literal "--" so it can never be parsed as a
// flag.
func ClaudeArgs(req Request) []string {
	args := []string{"-p", "--output-format", "json"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	args = append(args, "--", req.Prompt)
	return args
}

// claudeOutput is the JSON envelope the agent CLI prints in json mode.
type claudeOutput struct {
	Result     string  `json:"result"`
	SessionID  string  `json:"session_id"`
	CostUSD    float64 `json:"total_cost_usd"`
	DurationMS int64   `json:"duration_ms"`
	IsError    bool    `json:"is_error"`
}

// ClaudeProvider runs the agent CLI as a subprocess.
type ClaudeProvider struct {
	binary string
}

// NewClaudeProvider creates the subprocess provider. An empty binary falls
// back to the default executable name.
func NewClaudeProvider(binary string) *ClaudeProvider {
	if binary == "" {
		binary = ClaudeBinary
	}
	return &ClaudeProvider{binary: binary}
}

func (p *ClaudeProvider) Name() string { return "claude" }

// Run invokes the CLI and maps its outcome onto a Result. Subprocess
// failures become retryable results rather than hard errors; only context
// cancellation surfaces as an error.
func (p *ClaudeProvider) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.binary, ClaudeArgs(req)...) //nolint:gosec // G204: fixed binary, vector-built args
	cmd.Dir = req.WorkDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start).Milliseconds()
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if err != nil {
		log.Warn(log.CatExec, "agent subprocess failed",
			"workflow_id", req.WorkflowID, "error", err.Error(),
			"stderr", strings.TrimSpace(stderr.String()))
		code := RetryExecutionError
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// The binary never ran (not found, permissions). Retrying
			// will not help.
			code = RetryNone
		}
		return Result{
			Success:    false,
			Output:     stderr.String(),
			DurationMS: elapsed,
			RetryCode:  code,
		}, nil
	}

	var out claudeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Result{
			Success:    false,
			Output:     stdout.String(),
			DurationMS: elapsed,
			RetryCode:  RetryClaudeCodeError,
		}, nil
	}

	duration := out.DurationMS
	if duration == 0 {
		duration = elapsed
	}
	result := Result{
		Success:    !out.IsError,
		Output:     out.Result,
		SessionID:  out.SessionID,
		CostUSD:    out.CostUSD,
		DurationMS: duration,
		RetryCode:  RetryNone,
	}
	if out.IsError {
		result.RetryCode = RetryErrorDuringExecution
	}
	return result, nil
}

// Package executor is the boundary to the AI agent subprocess. The runtime
// only cares that a run yields a Result with cost, duration, and session
// metadata, and that retryable failures are retried with a fixed backoff
// ladder.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcflow/jc/internal/log"
	"github.com/jcflow/jc/internal/tracing"
)

// RetryCode classifies an execution failure for retry purposes.
type RetryCode string

const (
	RetryNone                 RetryCode = "none"
	RetryClaudeCodeError      RetryCode = "claude_code_error"
	RetryTimeout              RetryCode = "timeout"
	RetryExecutionError       RetryCode = "execution_error"
	RetryErrorDuringExecution RetryCode = "error_during_execution"
)

// Retryable reports whether the code drives the retry ladder.
func (c RetryCode) Retryable() bool {
	switch c {
	case RetryClaudeCodeError, RetryTimeout, RetryExecutionError, RetryErrorDuringExecution:
		return true
	}
	return false
}

// Result is the outcome of one agent execution.
type Result struct {
	Success    bool      `json:"success"`
	Output     string    `json:"output"`
	SessionID  string    `json:"session_id,omitempty"`
	CostUSD    float64   `json:"cost_usd,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	RetryCode  RetryCode `json:"retry_code"`
}

// Request describes one agent invocation.
type Request struct {
	WorkflowID string
	Prompt     string
	Model      string
	SessionID  string // resume an earlier session when set
	WorkDir    string
}

// Provider runs an agent request to completion.
type Provider interface {
	Name() string
	Run(ctx context.Context, req Request) (Result, error)
}

// Registry holds the known providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. Re-registering a name replaces the previous
// provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown executor provider %q (registered: %v)", name, r.names())
	}
	return p, nil
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// backoff is the fixed retry ladder. Attempt n sleeps backoff[n-1] before
// retrying.
var backoff = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// maxAttempts bounds the retry ladder: one initial run plus up to three
// retries.
const maxAttempts = 1 + 3

// RunWithRetry executes the request, retrying up to three times with the
// 1s/3s/5s backoff ladder while the result carries a retryable code. A
// cancelled context surfaces ctx.Err() immediately; hard provider errors
// are not retried.
func RunWithRetry(ctx context.Context, p Provider, req Request) (Result, error) {
	ctx, span := otel.Tracer("jc/executor").Start(ctx, "executor.run",
		trace.WithAttributes(attribute.String(tracing.AttrWorkflowID, req.WorkflowID)))
	defer span.End()

	var last Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		result, err := p.Run(ctx, req)
		span.SetAttributes(
			attribute.Int(tracing.AttrAttempt, attempt),
			attribute.String(tracing.AttrRetryCode, string(result.RetryCode)),
		)
		if err != nil {
			return Result{}, fmt.Errorf("executor %s: %w", p.Name(), err)
		}
		last = result
		if result.Success || !result.RetryCode.Retryable() {
			return result, nil
		}
		if attempt == maxAttempts {
			break
		}

		delay := backoff[attempt-1]
		log.Warn(log.CatExec, "execution failed, retrying",
			"workflow_id", req.WorkflowID,
			"attempt", attempt,
			"retry_code", string(result.RetryCode),
			"backoff", delay.String())

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return last, fmt.Errorf("execution failed after %d attempts (retry_code=%s)", maxAttempts, last.RetryCode)
}

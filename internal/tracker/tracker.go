// Package tracker is the boundary to the external task-tracking CLI. Only
// the argument contract and the task id validation rule live here; the
// tracker binary itself is an external collaborator.
package tracker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/jcflow/jc/internal/log"
)

// DefaultBinary is the tracker executable invoked by the client.
const DefaultBinary = "bd"

// taskIDPattern accepts ids shaped like JC-123: a 2-5 letter project prefix,
// a dash, then an alphanumeric suffix. Anything else is rejected before an
// argument vector is ever built, so a hostile id can never reach a process
// invocation.
var taskIDPattern = regexp.MustCompile(`^[A-Za-z]{2,5}-[A-Za-z0-9]+$`)

// InvalidTaskIDError reports a task id that fails validation.
type InvalidTaskIDError struct {
	TaskID string
}

func (e *InvalidTaskIDError) Error() string {
	return fmt.Sprintf("invalid task id %q: must match PREFIX-ALPHANUM (e.g. JC-123)", e.TaskID)
}

// ValidateTaskID checks a task id against the id pattern.
func ValidateTaskID(taskID string) error {
	if !taskIDPattern.MatchString(taskID) {
		return &InvalidTaskIDError{TaskID: taskID}
	}
	return nil
}

// ShowArgs builds the argument vector for fetching one task. The id must
// already be validated.
func ShowArgs(taskID string) []string {
	return []string{"show", taskID, "--json"}
}

// ListArgs builds the argument vector for listing open tasks, optionally
// filtered by assignee.
func ListArgs(assignee string) []string {
	args := []string{"list", "--status", "open", "--json"}
	if assignee != "" {
		args = append(args, "--assignee", assignee)
	}
	return args
}

// Runner executes a tracker command and returns its stdout. Swapped out in
// tests.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Client invokes the tracker binary. Every entry point validates its task
// id before building arguments.
type Client struct {
	binary string
	run    Runner
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBinary overrides the tracker executable name.
func WithBinary(name string) ClientOption {
	return func(c *Client) { c.binary = name }
}

// WithRunner substitutes the process runner.
func WithRunner(run Runner) ClientOption {
	return func(c *Client) { c.run = run }
}

// NewClient creates a tracker client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{binary: DefaultBinary, run: runCommand}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Show fetches one task as raw JSON.
func (c *Client) Show(ctx context.Context, taskID string) ([]byte, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return nil, err
	}
	log.Debug(log.CatTracker, "fetching task", "task_id", taskID)
	out, err := c.run(ctx, c.binary, ShowArgs(taskID)...)
	if err != nil {
		return nil, fmt.Errorf("tracker show %s: %w", taskID, err)
	}
	return out, nil
}

// List fetches open tasks as raw JSON, optionally filtered by assignee.
func (c *Client) List(ctx context.Context, assignee string) ([]byte, error) {
	out, err := c.run(ctx, c.binary, ListArgs(assignee)...)
	if err != nil {
		return nil, fmt.Errorf("tracker list: %w", err)
	}
	return out, nil
}

// runCommand executes the binary with an argument vector. Arguments are
// passed as discrete values; nothing is interpolated through a shell.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s: %s: %w", name, msg, err)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

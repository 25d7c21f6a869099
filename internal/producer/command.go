// ABOUTME: Runner that executes a configured command per query.
// ABOUTME: Speaks newline-delimited JSON items over the child's stdout.

package producer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
)

// maxItemSize bounds a single producer item line. Items are individual agent
// messages, not whole transcripts, so 4 MiB is generous.
const maxItemSize = 4 << 20

// CommandRunner starts one child process per query. The request is written
// as a single JSON line on the child's stdin; the child emits one
// {"type","data"} JSON object per line on stdout and exits zero at its end
// marker. Cancel kills the process.
type CommandRunner struct {
	Command    []string
	WorkingDir string
	Logger     *slog.Logger
}

// Start spawns the command and hands back a Query over its stdout.
func (r *CommandRunner) Start(ctx context.Context, req *Request) (Query, error) {
	if len(r.Command) == 0 {
		return nil, errors.New("producer command not configured")
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(r.Command[0], r.Command[1:]...)
	cmd.Dir = r.WorkingDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting producer command: %w", err)
	}

	// Deliver the request and signal end-of-input. A child that ignores
	// stdin still works; it just sees EOF immediately after the request.
	go func() {
		enc := json.NewEncoder(stdin)
		if err := enc.Encode(req); err != nil {
			logger.Warn("writing producer request", "error", err)
		}
		_ = stdin.Close()
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxItemSize)

	return &commandQuery{
		cmd:     cmd,
		scanner: scanner,
		logger:  logger.With("component", "command-query"),
	}, nil
}

// commandQuery adapts a running child process to the Query interface.
type commandQuery struct {
	cmd       *exec.Cmd
	scanner   *bufio.Scanner
	logger    *slog.Logger
	cancelled atomic.Bool

	waitOnce sync.Once
	waitErr  error
}

// Next returns the next stdout item. Malformed lines are skipped with a
// warning rather than killing the stream. When stdout closes, the child's
// exit status decides between clean EOF and a producer fault.
func (q *commandQuery) Next(ctx context.Context) (*Item, error) {
	for q.scanner.Scan() {
		line := q.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var item Item
		if err := json.Unmarshal(line, &item); err != nil {
			q.logger.Warn("skipping malformed producer item", "error", err)
			continue
		}
		return &item, nil
	}

	waitErr := q.wait()

	if q.cancelled.Load() || ctx.Err() != nil {
		return nil, context.Canceled
	}
	if err := q.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading producer output: %w", err)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("producer process: %w", waitErr)
	}
	return nil, io.EOF
}

// Cancel kills the child process. The pending Next unblocks once stdout
// closes and reports context.Canceled.
func (q *commandQuery) Cancel() {
	if q.cancelled.Swap(true) {
		return
	}
	if q.cmd.Process != nil {
		_ = q.cmd.Process.Kill()
	}
}

// wait reaps the child exactly once.
func (q *commandQuery) wait() error {
	q.waitOnce.Do(func() {
		q.waitErr = q.cmd.Wait()
	})
	return q.waitErr
}

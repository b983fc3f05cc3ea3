package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// SubprocessExecutor delegates agent steps to an external command. The
// rendered request is written to the command's stdin as JSON; each non-empty
// stdout line is parsed as one JSON result (plain text lines pass through as
// strings).
type SubprocessExecutor struct {
	command string
	args    []string
}

// NewSubprocessExecutor creates an executor for the given command line.
func NewSubprocessExecutor(command string, args ...string) *SubprocessExecutor {
	return &SubprocessExecutor{command: command, args: args}
}

func (e *SubprocessExecutor) Execute(ctx context.Context, req Request) ([]any, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal agent request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("agent command failed: %s", detail)
	}

	return parseResults(stdout.Bytes())
}

func parseResults(out []byte) ([]any, error) {
	var results []any
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			results = append(results, line)
			continue
		}
		results = append(results, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read agent output: %w", err)
	}
	return results, nil
}

var _ Executor = (*SubprocessExecutor)(nil)

package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// ShellLoopConfig bounds one shell loop run.
type ShellLoopConfig struct {
	MaxIterations   int
	MaxDuration     time.Duration
	CommandTimeout  time.Duration
	MaxOutputLength int
}

// ShellLoopResult is what a shell loop yields on termination: the model's
// final message and accumulated token usage.
type ShellLoopResult struct {
	OutputText string
	Usage      model.Usage
}

type shellCallArgs struct {
	Commands []string `json:"commands"`
}

// RunShell drives the shell{commands[]} loop: each round the model may
// request a batch of commands, which are executed inside the job's
// workspace and whose outcome is folded back into the running transcript
// (shell_call_output) for the next turn, until the model stops requesting
// commands, max_iterations is reached, or max_duration_seconds elapses
// (§4.7). The workspace ID is scoped to jobID for the lifetime of the loop
// and is never reused across jobs (§5).
func RunShell(ctx context.Context, adapter *llmadapter.Adapter, runner capability.ShellRunner, clock capability.Clock, tenantID, jobID string, step model.Step, initialContext string, cfg ShellLoopConfig) (ShellLoopResult, error) {
	started := clock.Now()
	workspaceID := jobID
	var usage model.Usage
	var transcript strings.Builder
	transcript.WriteString(initialContext)

	for i := 0; i < cfg.MaxIterations; i++ {
		if clock.Now().Sub(started) > cfg.MaxDuration {
			break
		}
		if err := ctx.Err(); err != nil {
			return ShellLoopResult{}, err
		}

		parsed, turnUsage, err := adapter.Generate(ctx, tenantID, jobID, step, transcript.String(), nil)
		if err != nil {
			return ShellLoopResult{}, fmt.Errorf("toolloop: generate: %w", err)
		}
		usage = addUsage(usage, turnUsage)

		calls, err := llmadapter.ExtractToolCalls(parsed.Raw, "shell_call")
		if err != nil {
			return ShellLoopResult{}, fmt.Errorf("toolloop: extract tool calls: %w", err)
		}
		if len(calls) == 0 {
			return ShellLoopResult{OutputText: parsed.OutputText, Usage: usage}, nil
		}

		for _, call := range calls {
			var args shellCallArgs
			if err := json.Unmarshal(call.Arguments, &args); err != nil || len(args.Commands) == 0 {
				continue
			}
			results, err := runner.Run(ctx, args.Commands, workspaceID, cfg.CommandTimeout, cfg.MaxOutputLength)
			if err != nil {
				return ShellLoopResult{}, fmt.Errorf("toolloop: run shell commands: %w", err)
			}
			fmt.Fprintf(&transcript, "\n\nRan commands: %v", args.Commands)
			for j, res := range results {
				transcript.WriteString(formatShellResult(j, res, cfg.MaxOutputLength))
			}
		}
	}

	return ShellLoopResult{OutputText: transcript.String(), Usage: usage}, nil
}

func formatShellResult(index int, res capability.ShellCommandResult, maxOutput int) string {
	var outcome string
	switch res.Outcome.Type {
	case "timeout":
		outcome = "timed out"
	default:
		outcome = fmt.Sprintf("exited %d", res.Outcome.ExitCode)
	}
	return fmt.Sprintf("\ncommand[%d] %s\nstdout: %s\nstderr: %s",
		index, outcome, truncate(res.Stdout, maxOutput), truncate(res.Stderr, maxOutput))
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

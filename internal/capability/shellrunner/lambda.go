// Package shellrunner implements capability.ShellRunner by invoking a
// dedicated AWS Lambda function synchronously, grounded directly on
// original_source's ShellExecutorService.run_shell_job: marshal commands
// plus the workspace id into a JSON payload, invoke
// SHELL_EXECUTOR_FUNCTION_NAME with RequestResponse, and map its
// results/outcome shape onto this engine's own ShellCommandResult (§4.7).
package shellrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
)

// InvokeClient captures the subset of the Lambda client this runner uses.
type InvokeClient interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Runner implements capability.ShellRunner over a single Lambda function,
// the shell command sandbox (§4.7).
type Runner struct {
	client       InvokeClient
	functionName string
}

// New constructs a Runner invoking functionName for every Run call.
func New(client InvokeClient, functionName string) (*Runner, error) {
	if client == nil {
		return nil, errors.New("shellrunner: client is required")
	}
	if functionName == "" {
		return nil, errors.New("shellrunner: function name is required")
	}
	return &Runner{client: client, functionName: functionName}, nil
}

var _ capability.ShellRunner = (*Runner)(nil)

type invokePayload struct {
	Commands        []string `json:"commands"`
	WorkspaceID     string   `json:"workspace_id,omitempty"`
	TimeoutMS       int64    `json:"timeout_ms,omitempty"`
	MaxOutputLength int      `json:"max_output_length,omitempty"`
}

type invokeResult struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Body       string `json:"body"`
	Results    []struct {
		Status   string `json:"status"`
		ExitCode int    `json:"exit_code"`
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
	} `json:"results"`
}

// Run invokes the configured Lambda once with all of commands and maps its
// per-command results back, in order.
func (r *Runner) Run(ctx context.Context, commands []string, workspaceID string, timeout time.Duration, maxOutput int) ([]capability.ShellCommandResult, error) {
	if len(commands) == 0 {
		return nil, errors.New("shellrunner: commands must be non-empty")
	}

	payload, err := json.Marshal(invokePayload{
		Commands:        commands,
		WorkspaceID:     workspaceID,
		TimeoutMS:       timeout.Milliseconds(),
		MaxOutputLength: maxOutput,
	})
	if err != nil {
		return nil, fmt.Errorf("shellrunner: marshal payload: %w", err)
	}

	out, err := r.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: &r.functionName,
		Payload:      payload,
	})
	if err != nil {
		return nil, fmt.Errorf("shellrunner: invoke %s: %w", r.functionName, err)
	}
	if out.FunctionError != nil {
		return nil, fmt.Errorf("shellrunner: %s returned a function error: %s", r.functionName, *out.FunctionError)
	}

	var res invokeResult
	if err := json.Unmarshal(out.Payload, &res); err != nil {
		return nil, fmt.Errorf("shellrunner: decode response from %s: %w", r.functionName, err)
	}
	if res.StatusCode != 0 && res.StatusCode != 200 {
		msg := res.Error
		if msg == "" {
			msg = res.Body
		}
		return nil, fmt.Errorf("shellrunner: %s failed: %s", r.functionName, msg)
	}

	results := make([]capability.ShellCommandResult, 0, len(res.Results))
	for _, item := range res.Results {
		outcome := capability.ShellCommandOutcome{Type: "exit", ExitCode: item.ExitCode}
		if item.Status == "timeout" {
			outcome = capability.ShellCommandOutcome{Type: "timeout"}
		}
		results = append(results, capability.ShellCommandResult{
			Stdout:  item.Stdout,
			Stderr:  item.Stderr,
			Outcome: outcome,
		})
	}
	return results, nil
}

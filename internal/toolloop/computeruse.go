// Package toolloop implements C7: the three cooperative agent loops that
// sit between the LLM Adapter and an external effector — a headless
// browser, a shell runner, or the image provider — each bounded by
// iteration count and wall-clock duration and cancellable mid-turn (§4.7,
// §5).
package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/grandcanyonsmith/leadengine/internal/artifactstore"
	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// ComputerUseConfig bounds one computer-use loop run.
type ComputerUseConfig struct {
	MaxIterations    int
	MaxDuration      time.Duration
	ViewportWidth    int
	ViewportHeight   int
}

// ComputerUseResult is what a computer-use loop yields on termination (§4.7):
// the model's final message, every screenshot taken along the way (already
// stored via the artifact store), and accumulated token usage.
type ComputerUseResult struct {
	OutputText     string
	ScreenshotURLs []string
	Usage          model.Usage
}

// computerCallAction is the flat shape of a computer_use_preview tool call's
// arguments: an "action" discriminator (click|type|scroll|keypress|wait|
// navigate|screenshot) plus whichever of the remaining fields that action
// uses (§4.7).
type computerCallAction struct {
	Action string   `json:"action"`
	X      int      `json:"x"`
	Y      int      `json:"y"`
	Button string   `json:"button"`
	Text   string   `json:"text"`
	DeltaX int      `json:"delta_x"`
	DeltaY int      `json:"delta_y"`
	Keys   []string `json:"keys"`
	WaitMS int      `json:"ms"`
	URL    string   `json:"url"`
}

// RunComputerUse drives the click/type/scroll/keypress/wait/navigate/
// screenshot loop until the model returns a final message with no tool
// calls, max_iterations is reached, or max_duration_seconds elapses (§4.7).
func RunComputerUse(ctx context.Context, adapter *llmadapter.Adapter, browser capability.Browser, store *artifactstore.Store, clock capability.Clock, tenantID, jobID string, step model.Step, initialContext string, cfg ComputerUseConfig) (ComputerUseResult, error) {
	if err := browser.Start(ctx, cfg.ViewportWidth, cfg.ViewportHeight, nil); err != nil {
		return ComputerUseResult{}, fmt.Errorf("toolloop: start browser: %w", err)
	}
	defer browser.Stop(ctx)

	started := clock.Now()
	var screenshotURLs []string
	var usage model.Usage
	var transcript strings.Builder
	transcript.WriteString(initialContext)

	for i := 0; i < cfg.MaxIterations; i++ {
		if clock.Now().Sub(started) > cfg.MaxDuration {
			break
		}
		if err := ctx.Err(); err != nil {
			return ComputerUseResult{}, err
		}

		shot, err := browser.CaptureScreenshot(ctx)
		if err != nil {
			return ComputerUseResult{}, fmt.Errorf("toolloop: capture screenshot: %w", err)
		}
		shotURL, err := store.StoreBase64Image(ctx, tenantID, jobID, shot, "image/png", fmt.Sprintf("computer-use-%d.png", i))
		if err != nil {
			return ComputerUseResult{}, fmt.Errorf("toolloop: store screenshot: %w", err)
		}
		screenshotURLs = append(screenshotURLs, shotURL)

		parsed, turnUsage, err := adapter.Generate(ctx, tenantID, jobID, step, transcript.String(), []string{shotURL})
		if err != nil {
			return ComputerUseResult{}, fmt.Errorf("toolloop: generate: %w", err)
		}
		usage = addUsage(usage, turnUsage)

		calls, err := llmadapter.ExtractToolCalls(parsed.Raw, "computer_use_preview")
		if err != nil {
			return ComputerUseResult{}, fmt.Errorf("toolloop: extract tool calls: %w", err)
		}
		if len(calls) == 0 {
			return ComputerUseResult{OutputText: parsed.OutputText, ScreenshotURLs: screenshotURLs, Usage: usage}, nil
		}

		for _, call := range calls {
			var parsedAction computerCallAction
			if err := json.Unmarshal(call.Arguments, &parsedAction); err != nil {
				continue
			}
			action := toBrowserAction(parsedAction)
			if err := browser.ExecuteAction(ctx, action); err != nil {
				return ComputerUseResult{}, fmt.Errorf("toolloop: execute action %q: %w", action.Type, err)
			}
			fmt.Fprintf(&transcript, "\n\nPerformed action: %s", describeAction(parsedAction))
		}
	}

	url, err := browser.CurrentURL(ctx)
	if err == nil && url != "" {
		fmt.Fprintf(&transcript, "\n\nStopped at URL: %s", url)
	}
	return ComputerUseResult{OutputText: transcript.String(), ScreenshotURLs: screenshotURLs, Usage: usage}, nil
}

func toBrowserAction(a computerCallAction) capability.BrowserAction {
	return capability.BrowserAction{
		Type:   a.Action,
		X:      a.X,
		Y:      a.Y,
		Button: a.Button,
		Text:   a.Text,
		DeltaX: a.DeltaX,
		DeltaY: a.DeltaY,
		Keys:   a.Keys,
		WaitMS: a.WaitMS,
		URL:    a.URL,
	}
}

func describeAction(a computerCallAction) string {
	switch a.Action {
	case "click":
		return fmt.Sprintf("click(%d,%d,%s)", a.X, a.Y, a.Button)
	case "type":
		return fmt.Sprintf("type(%q)", a.Text)
	case "scroll":
		return fmt.Sprintf("scroll(dx=%d,dy=%d)", a.DeltaX, a.DeltaY)
	case "keypress":
		return fmt.Sprintf("keypress(%v)", a.Keys)
	case "wait":
		return fmt.Sprintf("wait(%dms)", a.WaitMS)
	case "navigate":
		return fmt.Sprintf("navigate(%s)", a.URL)
	default:
		return a.Action
	}
}

func addUsage(a, b model.Usage) model.Usage {
	return model.Usage{
		InputTokens:  a.InputTokens + b.InputTokens,
		OutputTokens: a.OutputTokens + b.OutputTokens,
		ImageCount:   a.ImageCount + b.ImageCount,
		CostEstimate: a.CostEstimate + b.CostEstimate,
	}
}

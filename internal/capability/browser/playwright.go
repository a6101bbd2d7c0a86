// Package browser implements capability.Browser over a headless Chromium
// instance driven by playwright-go, grounded directly on original_source's
// PlaywrightEnvironment (services/cua/drivers/playwright.py): launch
// Chromium headless with the same sandbox-disabling flags, open one page per
// session, dispatch click/type/scroll/keypress/wait/navigate actions onto
// it, and capture JPEG screenshots of the viewport only (§4.7 computer-use
// loop).
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
)

// chromiumLaunchArgs mirrors PlaywrightEnvironment.initialize's launch flags,
// needed to run Chromium inside a restricted worker container.
var chromiumLaunchArgs = []string{
	"--disable-gpu",
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-accelerated-2d-canvas",
	"--disable-web-security",
	"--single-process",
}

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// keyMapping translates the computer-use tool's key names onto the
// playwright keyboard names, matching PlaywrightEnvironment.execute_action's
// keypress mapping table.
var keyMapping = map[string]string{
	"CTRL": "Control", "CONTROL": "Control",
	"CMD": "Meta", "COMMAND": "Meta", "META": "Meta",
	"ALT": "Alt", "OPTION": "Alt",
	"SHIFT": "Shift",
	"ENTER": "Enter",
	"ESC":   "Escape", "ESCAPE": "Escape",
	"BACKSPACE": "Backspace",
	"SPACE":     "Space",
	"TAB":       "Tab",
}

// writeStorageStateFile stages storageState (a Playwright storageState JSON
// document) to a temp file, the shape BrowserNewContextOptions.StorageStatePath
// expects.
func writeStorageStateFile(storageState []byte) (string, error) {
	f, err := os.CreateTemp("", "leadengine-storage-state-*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(storageState); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// Session implements capability.Browser. One Session is exclusive to a
// single step's computer-use loop (§5) — Start/Stop bracket the loop.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	ctx     playwright.BrowserContext
	page    playwright.Page
}

// New constructs an idle Session. Start must be called before any other
// method.
func New() *Session {
	return &Session{}
}

var _ capability.Browser = (*Session)(nil)

// Start launches headless Chromium, opens one context/page sized to the
// requested viewport, and optionally restores a previously captured storage
// state (cookies/localStorage) before navigating to a blank page.
func (s *Session) Start(_ context.Context, viewportW, viewportH int, storageState []byte) error {
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("browser: start playwright: %w", err)
	}
	headless := true
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
		Args:     chromiumLaunchArgs,
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("browser: launch chromium: %w", err)
	}

	opts := playwright.BrowserNewContextOptions{
		Viewport:  &playwright.Size{Width: viewportW, Height: viewportH},
		UserAgent: playwright.String(userAgent),
	}
	if len(storageState) > 0 {
		path, err := writeStorageStateFile(storageState)
		if err != nil {
			b.Close()
			pw.Stop()
			return fmt.Errorf("browser: stage storage state: %w", err)
		}
		defer os.Remove(path)
		opts.StorageStatePath = playwright.String(path)
	}

	bctx, err := b.NewContext(opts)
	if err != nil {
		b.Close()
		pw.Stop()
		return fmt.Errorf("browser: new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		b.Close()
		pw.Stop()
		return fmt.Errorf("browser: new page: %w", err)
	}
	if _, err := page.Goto("about:blank", playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateDomcontentloaded}); err != nil {
		// Non-fatal: original_source logs and continues on a blank-page nav failure.
		_ = err
	}

	s.pw, s.browser, s.ctx, s.page = pw, b, bctx, page
	return nil
}

// ExecuteAction dispatches one computer-use action onto the session's page.
func (s *Session) ExecuteAction(_ context.Context, action capability.BrowserAction) error {
	if s.page == nil {
		return errors.New("browser: session not started")
	}

	switch strings.ToLower(action.Type) {
	case "click":
		button := playwright.MouseButtonLeft
		switch strings.ToLower(action.Button) {
		case "right":
			button = playwright.MouseButtonRight
		case "middle":
			button = playwright.MouseButtonMiddle
		}
		return s.page.Mouse().Click(float64(action.X), float64(action.Y), playwright.MouseClickOptions{Button: button})

	case "type":
		if action.Text == "" {
			return errors.New("browser: type action requires text")
		}
		return s.page.Keyboard().Type(action.Text)

	case "scroll":
		_ = s.page.Mouse().Move(float64(action.X), float64(action.Y))
		return s.page.Mouse().Wheel(float64(action.DeltaX), float64(action.DeltaY))

	case "keypress":
		if len(action.Keys) > 0 {
			mapped := make([]string, 0, len(action.Keys))
			for _, k := range action.Keys {
				up := strings.ToUpper(strings.TrimSpace(k))
				if m, ok := keyMapping[up]; ok {
					mapped = append(mapped, m)
				} else {
					mapped = append(mapped, k)
				}
			}
			return s.page.Keyboard().Press(strings.Join(mapped, "+"))
		}
		return errors.New("browser: keypress action requires keys")

	case "wait":
		s.page.WaitForTimeout(float64(action.WaitMS))
		return nil

	case "screenshot":
		return nil // captured separately every turn by the tool loop

	case "navigate":
		if action.URL == "" {
			return errors.New("browser: navigate action requires a url")
		}
		_, err := s.page.Goto(action.URL, playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateCommit})
		return err

	default:
		return fmt.Errorf("browser: unsupported action type %q", action.Type)
	}
}

// CaptureScreenshot returns a JPEG capture of the current viewport only,
// matching PlaywrightEnvironment.capture_screenshot's quality/format choice.
func (s *Session) CaptureScreenshot(_ context.Context) ([]byte, error) {
	if s.page == nil {
		return nil, errors.New("browser: session not started")
	}
	quality := 80
	fullPage := false
	return s.page.Screenshot(playwright.PageScreenshotOptions{
		Type:     playwright.ScreenshotTypeJpeg,
		Quality:  &quality,
		FullPage: &fullPage,
	})
}

// CurrentURL returns the page's current location.
func (s *Session) CurrentURL(_ context.Context) (string, error) {
	if s.page == nil {
		return "", errors.New("browser: session not started")
	}
	return s.page.URL(), nil
}

// Stop tears the session down in reverse order of construction, tolerating
// a partially-initialized session.
func (s *Session) Stop(_ context.Context) error {
	var errs []error
	if s.ctx != nil {
		if err := s.ctx.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	s.pw, s.browser, s.ctx, s.page = nil, nil, nil, nil
	return errors.Join(errs...)
}

package capture

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"snapshot-reftest/internal/snapshot"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/xerrors"
)

type PlaywrightConfig struct {
	ViewportWidth  int
	ViewportHeight int

	FullPage bool

	Timeout time.Duration
	Delay   time.Duration

	Headless                  bool
	ChromeDevtoolsProtocolURL string
}

func DefaultPlaywrightConfig() PlaywrightConfig {
	return PlaywrightConfig{
		ViewportWidth:  800,
		ViewportHeight: 1000,
		FullPage:       false,
		Timeout:        30 * time.Second,
		Delay:          0,
		Headless:       true,
	}
}

type playwrightCapturer struct {
	config PlaywrightConfig
}

func NewPlaywrightCapturer(ctx context.Context, p PlaywrightConfig) (Capturer, error) {
	return &playwrightCapturer{
		config: p,
	}, nil
}

func (c *playwrightCapturer) Capture(ctx context.Context, url string, options CaptureOptions) (*snapshot.Snapshot, error) {
	p, err := playwright.Run()
	if err != nil {
		return nil, xerrors.Errorf("failed to start playwright: %w", err)
	}
	defer p.Stop()

	var browser playwright.Browser

	if c.config.ChromeDevtoolsProtocolURL == "" {
		browser, err = p.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(c.config.Headless),
		})
		if err != nil {
			return nil, xerrors.Errorf("failed to launch browser: %w", err)
		}
		defer browser.Close()
	} else {
		browser, err = p.Chromium.ConnectOverCDP(c.config.ChromeDevtoolsProtocolURL)
		if err != nil {
			return nil, xerrors.Errorf("failed to connect to browser via CDP at %s: %w", c.config.ChromeDevtoolsProtocolURL, err)
		}
	}

	page, err := browser.NewPage()
	if err != nil {
		return nil, xerrors.Errorf("failed to create new page: %w", err)
	}
	defer page.Close()

	if err := page.SetViewportSize(c.config.ViewportWidth, c.config.ViewportHeight); err != nil {
		return nil, xerrors.Errorf("failed to set viewport size: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			page.Close()
		case <-done:
		}
	}()
	defer close(done)

	if len(options.Headers) > 0 {
		if err := page.SetExtraHTTPHeaders(options.Headers); err != nil {
			return nil, xerrors.Errorf("failed to set HTTP headers: %w", err)
		}
	}

	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(c.config.Timeout.Milliseconds())),
	}); err != nil {
		return nil, xerrors.Errorf("failed to navigate to %s: %w", url, err)
	}

	if c.config.Delay > 0 {
		select {
		case <-time.After(c.config.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if len(options.MaskSelectors) > 0 {
		if err := maskSelectors(page, options.MaskSelectors); err != nil {
			return nil, err
		}
	}

	screenshotOptions := playwright.PageScreenshotOptions{
		FullPage:   playwright.Bool(c.config.FullPage),
		Type:       playwright.ScreenshotTypePng,
		Animations: playwright.ScreenshotAnimationsDisabled,
		Caret:      playwright.ScreenshotCaretHide,
	}
	if options.WithCaret {
		screenshotOptions.Caret = playwright.ScreenshotCaretInitial
	}

	screenshotBytes, err := page.Screenshot(screenshotOptions)
	if err != nil {
		return nil, xerrors.Errorf("failed to take screenshot: %w", err)
	}

	s, err := snapshot.Decode(screenshotBytes)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode screenshot of %s: %w", url, err)
	}
	return s, nil
}

// maskSelectors paints every element matching one of selectors solid black so
// that volatile regions never take part in a comparison.
func maskSelectors(page playwright.Page, selectors []string) error {
	unique := make([]byte, 8)
	if _, err := rand.Read(unique); err != nil {
		return xerrors.Errorf("failed to generate unique identifier: %w", err)
	}
	maskClassName := fmt.Sprintf("mask-%s", hex.EncodeToString(unique))

	maskCSS := fmt.Sprintf(`
.%s {
  position: relative !important;
}
.%s::after {
  content: "" !important;
  position: absolute !important;
  top: 0 !important;
  left: 0 !important;
  right: 0 !important;
  bottom: 0 !important;
  background-color: black !important;
  z-index: 2147483646 !important;
  pointer-events: none !important;
}
`, maskClassName, maskClassName)

	script := fmt.Sprintf(`(selectors) => {
		const style = document.createElement('style');
		style.textContent = %q;
		document.head.appendChild(style);

		selectors.forEach(selector => {
			document.querySelectorAll(selector).forEach(element => {
				if (window.getComputedStyle(element).position === 'static') {
					element.style.position = 'relative';
				}
				element.classList.add(%q);
			});
		});
	}`, maskCSS, maskClassName)

	if _, err := page.Evaluate(script, selectors); err != nil {
		return xerrors.Errorf("failed to mask selectors: %w", err)
	}
	return nil
}

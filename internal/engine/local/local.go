// Package local runs browsers as child Chromium processes through
// Playwright. It is the default backend for development and single-node
// deployments.
package local

import (
	"context"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog/log"

	"github.com/wheelhousehq/wheelhouse/internal/engine"
)

// Backend launches one Chromium instance per session. The Playwright
// driver itself is installed and started once, lazily, on the first
// launch.
type Backend struct {
	mu       sync.Mutex
	pw       *playwright.Playwright
	headless bool
}

var _ engine.Backend = (*Backend)(nil)

func New(headless bool) *Backend {
	return &Backend{headless: headless}
}

func (b *Backend) driver() (*playwright.Playwright, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pw != nil {
		return b.pw, nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return nil, engine.ErrInit.Msg("playwright install failed").Err(err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, engine.ErrInit.Msg("playwright driver failed to start").Err(err)
	}
	b.pw = pw
	return pw, nil
}

func (b *Backend) Launch(ctx context.Context, sessionID string) (*engine.BrowserConn, error) {
	pw, err := b.driver()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &b.headless,
	})
	if err != nil {
		return nil, engine.ErrInit.Msg("browser launch failed").Err(err)
	}

	browserCtx, err := browser.NewContext()
	if err != nil {
		browser.Close()
		return nil, engine.ErrInit.Msg("browser context creation failed").Err(err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		return nil, engine.ErrInit.Msg("page creation failed").Err(err)
	}

	log.Debug().Str("session_id", sessionID).Msg("launched local browser")

	return &engine.BrowserConn{
		Page: page,
		Stop: func() error {
			err := page.Close()
			if cerr := browserCtx.Close(); err == nil {
				err = cerr
			}
			if cerr := browser.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}, nil
}

// Close stops the shared Playwright driver. Sessions must be released
// before calling it.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pw == nil {
		return nil
	}
	err := b.pw.Stop()
	b.pw = nil
	return err
}

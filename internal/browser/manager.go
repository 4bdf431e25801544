package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the browser process and the tabs opened in it.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	pages map[string]*Page
	mu    sync.RWMutex
	wg    sync.WaitGroup

	initOnce sync.Once
	initErr  error
}

// NewManager creates a browser manager. The browser is started when the
// first page is requested.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		logger: logger.Named("browser_manager"),
		pages:  make(map[string]*Page),
	}
	m.logger.Debug("Browser manager created (initialization deferred).")
	return m
}

// browserFlags turns the configuration into Chrome command line switches.
func browserFlags(cfg config.BrowserConfig) map[string]any {
	flags := map[string]any{
		"no-sandbox":               true,
		"disable-gpu":              true,
		"disable-dev-shm-usage":    true,
		"no-first-run":             true,
		"no-default-browser-check": true,
		"enable-automation":        true,
	}
	if cfg.Headless {
		flags["headless"] = true
		flags["hide-scrollbars"] = true
		flags["mute-audio"] = true
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}
	if w, h := viewportSize(cfg); w > 0 && h > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", w, h)
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			flags[key] = value
		} else {
			flags[key] = true
		}
	}
	return flags
}

// AllocatorOptions builds the exec allocator options for cfg.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	flags := browserFlags(cfg)
	opts := make([]chromedp.ExecAllocatorOption, 0, len(flags))
	for k, v := range flags {
		opts = append(opts, chromedp.Flag(k, v))
	}
	return opts
}

func viewportSize(cfg config.BrowserConfig) (int, int) {
	return cfg.Viewport["width"], cfg.Viewport["height"]
}

func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser", zap.Bool("headless", m.cfg.Headless))

		// The browser outlives the request that happened to start it.
		root := context.WithoutCancel(ctx)
		allocCtx, allocCancel := chromedp.NewExecAllocator(root, AllocatorOptions(m.cfg)...)

		var ctxOpts []chromedp.ContextOption
		if m.cfg.Debug {
			ctxOpts = append(ctxOpts, chromedp.WithDebugf(m.logger.Sugar().Debugf))
		}
		ctxOpts = append(ctxOpts, chromedp.WithErrorf(m.logger.Sugar().Errorf))
		browserCtx, browserCancel := chromedp.NewContext(allocCtx, ctxOpts...)

		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			m.initErr = fmt.Errorf("failed to start browser: %w", err)
			return
		}
		m.mu.Lock()
		m.allocCancel = allocCancel
		m.browserCtx = browserCtx
		m.browserCancel = browserCancel
		m.mu.Unlock()
		m.logger.Info("Browser started.")
	})
	return m.initErr
}

// NewPage opens a blank tab.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)
	id := uuid.NewString()
	logger := m.logger.Named("page")

	// The first Run on a tab context creates the target; it must not be bound
	// to a shorter lived context or the tab closes with it.
	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(c context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(registryJS).Do(c)
			return err
		}),
	}
	if w, h := viewportSize(m.cfg); w > 0 && h > 0 {
		tasks = append(tasks, chromedp.EmulateViewport(int64(w), int64(h)))
	}
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	dismissDialogs(tabCtx, logger)

	m.wg.Add(1)
	p := newPage(id, cdpDriver{tab: tabCtx, navTimeout: m.cfg.NavigationTimeout}, logger, func() error {
		defer func() {
			m.mu.Lock()
			delete(m.pages, id)
			m.mu.Unlock()
			m.wg.Done()
		}()
		if err := chromedp.Cancel(tabCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to close tab: %w", err)
		}
		return nil
	})

	m.mu.Lock()
	m.pages[id] = p
	m.mu.Unlock()
	m.logger.Debug("Opened page.", zap.String("page_id", id))
	return p, nil
}

// OpenPage opens a tab and navigates it to url.
func (m *Manager) OpenPage(ctx context.Context, url string) (*Page, error) {
	p, err := m.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.Navigate(ctx, url); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Shutdown closes every open page and then the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	if m.browserCtx == nil {
		m.mu.RUnlock()
		m.logger.Debug("Browser was never started, nothing to shut down.")
		return nil
	}
	m.logger.Info("Shutting down browser manager.")

	open := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		open = append(open, p)
	}
	m.mu.RUnlock()

	for _, p := range open {
		go func(p *Page) {
			if err := p.Close(); err != nil {
				m.logger.Warn("Error closing page during shutdown.", zap.String("page_id", p.ID()), zap.Error(err))
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()

	var err error
	select {
	case <-done:
	case <-waitCtx.Done():
		err = fmt.Errorf("timed out waiting for pages to close: %w", waitCtx.Err())
		m.logger.Warn("Forcing browser shutdown with pages still open.")
	}

	if cancelErr := chromedp.Cancel(m.browserCtx); cancelErr != nil && !errors.Is(cancelErr, context.Canceled) {
		m.logger.Warn("Error closing browser.", zap.Error(cancelErr))
	}
	m.browserCancel()
	m.allocCancel()
	m.logger.Info("Browser manager shut down.")
	return err
}

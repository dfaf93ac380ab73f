// Package browser owns the Chrome process the live sensor reads pages from:
// it launches or attaches to Chrome through Rod, recycles it when it grows
// too large or too old, and opens stealth tabs sized to a fixed viewport.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrClosed is returned once the Manager has been closed.
var ErrClosed = errors.New("browser: manager closed")

// Mode selects how Chrome is run.
type Mode int

const (
	ModeHeadless Mode = iota // headless Chrome with stealth patches
	ModeHeadful              // visible Chrome on an Xvfb display
)

// Config configures a Manager.
type Config struct {
	// RemoteURL attaches to an existing Chrome DevTools endpoint instead of
	// launching one.
	RemoteURL string

	Mode Mode

	// MemoryLimit recycles Chrome when the JS heap exceeds it. Default: 1GB.
	MemoryLimit int64

	// RecycleInterval caps the lifetime of one Chrome process. Default: 4h.
	RecycleInterval time.Duration

	// BlockResources lists request types to drop: images, fonts, media.
	// Stylesheets are never dropped, computed styles depend on them.
	BlockResources []string

	// XvfbDisplay is used in ModeHeadful. Default: ":99".
	XvfbDisplay string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process at a time.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	browser   *rod.Browser
	lnch      *launcher.Launcher
	xvfb      *exec.Cmd
	startedAt time.Time
	closed    bool
	onRecycle []func(*rod.Browser)
}

// NewManager creates a Manager. Chrome starts on Start.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// OnRecycle registers fn to run with the new browser after each recycle.
// Sensors use it to reopen their tabs.
func (m *Manager) OnRecycle(fn func(*rod.Browser)) {
	m.mu.Lock()
	m.onRecycle = append(m.onRecycle, fn)
	m.mu.Unlock()
}

// Start launches or attaches to Chrome and starts the health monitor, which
// stops with ctx.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startedAt = time.Now()

	go m.monitor(ctx)
	return b, nil
}

// Browser returns the current browser handle, nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle restarts Chrome and runs the OnRecycle hooks.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.cfg.Logger.Info("browser: recycling", "uptime", time.Since(m.startedAt))
	m.shutdown()
	b, err := m.launch()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startedAt = time.Now()
	hooks := append([]func(*rod.Browser){}, m.onRecycle...)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(b)
	}
	return nil
}

// Close stops Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.shutdown()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: attaching to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().Set("disable-blink-features", "AutomationControlled")
		if m.cfg.Mode == ModeHeadful {
			if err := m.startXvfb(); err != nil {
				return nil, err
			}
			l = l.Headless(false).Env("DISPLAY="+m.cfg.XvfbDisplay)
		} else {
			l = l.Headless(true)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: chrome launched", "url", wsURL, "mode", m.cfg.Mode)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) shutdown() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}

func (m *Manager) monitor(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		b, closed, age := m.browser, m.closed, time.Since(m.startedAt)
		m.mu.RUnlock()
		if closed {
			return
		}
		if b == nil {
			continue
		}

		reason := ""
		if age > m.cfg.RecycleInterval {
			reason = "interval"
		} else if heap, err := heapUsed(b); err != nil {
			m.cfg.Logger.Debug("browser: heap check failed", "error", err)
		} else if heap > m.cfg.MemoryLimit {
			reason = "memory"
		}
		if reason == "" {
			continue
		}
		if err := m.Recycle(); err != nil {
			m.cfg.Logger.Error("browser: recycle failed", "reason", reason, "error", err)
		}
	}
}

// heapUsed reads the JS heap of the first open page.
func heapUsed(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, err
	}
	if len(pages) == 0 {
		return 0, errors.New("browser: no page to measure")
	}
	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}

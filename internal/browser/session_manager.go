package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"a11yscout-mcp-server/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when a page is requested before Start.
var ErrNotConnected = errors.New("browser not connected")

// Session describes the public metadata for an open page.
type Session struct {
	ID        string    `json:"id"`
	TargetID  string    `json:"target_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionManager owns the Chrome connection and the pages opened on it.
// Every page lives in its own incognito context.
type SessionManager struct {
	cfg        config.BrowserConfig
	auth       config.BasicAuthConfig
	logger     *zap.Logger
	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*Page
	controlURL string
}

func NewSessionManager(cfg config.BrowserConfig, auth config.BasicAuthConfig, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		cfg:      cfg,
		auth:     auth,
		logger:   logger,
		sessions: make(map[string]*Page),
	}
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.sessions = make(map[string]*Page)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		url, err := m.launch()
		if err != nil {
			return err
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.logger.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

// launch starts Chrome from the configured command, or lets Rod find or
// download a browser when no command is configured.
func (m *SessionManager) launch() (string, error) {
	l := launcher.New().Headless(m.cfg.IsHeadless())
	if len(m.cfg.Launch) == 0 {
		url, err := l.Launch()
		if err != nil {
			return "", fmt.Errorf("launch chrome: %w", err)
		}
		return url, nil
	}

	bin := m.cfg.Launch[0]
	l = l.Bin(bin)
	for _, rawFlag := range m.cfg.Launch[1:] {
		name, val, hasVal := strings.Cut(strings.TrimLeft(rawFlag, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	url, err := l.Launch()
	if err == nil {
		return url, nil
	}
	// Fallback: let Rod pick the port and defaults.
	alt, altErr := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless()).Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return alt, nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes open pages and the underlying browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.sessions {
		p.release()
		delete(m.sessions, id)
	}

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	m.logger.Info("browser shutdown complete")
	return err
}

// List returns metadata for all open pages.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Session, 0, len(m.sessions))
	for _, p := range m.sessions {
		out = append(out, p.meta)
	}
	return out
}

// Open creates a page in a fresh incognito context and navigates it to url,
// waiting for the network to go idle. The caller must Close the page.
func (m *SessionManager) Open(ctx context.Context, url string) (*Page, error) {
	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b == nil {
		return nil, ErrNotConnected
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	rp, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	p := &Page{
		page:      rp,
		incognito: incognito,
		manager:   m,
		meta: Session{
			ID:        uuid.NewString(),
			TargetID:  string(rp.TargetID),
			URL:       url,
			CreatedAt: time.Now(),
		},
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(rp); err != nil {
		m.logger.Warn("failed to set viewport", zap.Error(err))
	}

	if m.auth.Enabled {
		token := base64.StdEncoding.EncodeToString([]byte(m.auth.Username + ":" + m.auth.Password))
		if _, err := rp.SetExtraHeaders([]string{"Authorization", "Basic " + token}); err != nil {
			p.release()
			return nil, fmt.Errorf("set basic auth: %w", err)
		}
	}

	err = withTimeout(ctx, m.cfg.NavigationTimeout(), func(navCtx context.Context) error {
		nav := rp.Context(navCtx)
		wait := nav.MustWaitRequestIdle()
		if err := nav.Navigate(url); err != nil {
			return fmt.Errorf("navigate to %s: %w", url, err)
		}
		wait()
		if err := nav.WaitLoad(); err != nil {
			return fmt.Errorf("wait for %s: %w", url, err)
		}
		return nil
	})
	if err != nil {
		p.release()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[p.meta.ID] = p
	m.mu.Unlock()

	m.logger.Debug("page opened", zap.String("session", p.meta.ID), zap.String("url", url))
	return p, nil
}

// withTimeout runs fn under a deadline derived from ctx and releases the
// deadline's timer as soon as fn returns.
func withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(tctx)
}

func (m *SessionManager) forget(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Package manager owns the configuration and token lifecycle: first
// load, best-effort reloads triggered by the file watcher or SIGHUP,
// fingerprint-driven token invalidation, and the background expiration
// checker. All reload entry points funnel through one mutex so they
// never interleave.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alexjbarnes/voipnow-mcp/internal/config"
	"github.com/alexjbarnes/voipnow-mcp/internal/logging"
	"github.com/alexjbarnes/voipnow-mcp/internal/oauth"
	"github.com/alexjbarnes/voipnow-mcp/internal/token"
)

const (
	// checkInterval is the base delay between token freshness checks.
	checkInterval = 5 * time.Minute

	// initialCheckDelay avoids racing the first scheduled check
	// against startup.
	initialCheckDelay = 10 * time.Second

	// reloadIssueAttempts bounds how many times one reload may try to
	// obtain a usable token before giving up.
	reloadIssueAttempts = 2
)

// Options configures a Manager.
type Options struct {
	// Secure requires authTokenMCP to be configured.
	Secure bool

	// Level, when set, is adjusted to the configured logLevel on each
	// successful load.
	Level *slog.LevelVar

	// CheckInterval overrides the base token check interval.
	CheckInterval time.Duration

	// NewIssuer overrides issuer construction (tests). Defaults to the
	// OAuth client-credentials issuer.
	NewIssuer func(appID, appSecret, host string, insecure bool) token.Issuer
}

// Manager coordinates configuration loads with token issuance and
// publishes the resulting runtime view into its Store.
type Manager struct {
	configPath string
	secure     bool
	logger     *slog.Logger
	level      *slog.LevelVar
	interval   time.Duration
	newIssuer  func(appID, appSecret, host string, insecure bool) token.Issuer

	store Store

	// reloadMu serializes the whole reload sequence, including token
	// issuance. Watcher, signal, and scheduler triggered reloads all
	// take it; Store.mu stays free for readers meanwhile.
	reloadMu  sync.Mutex
	cfg       *config.Config // last-known-good, nil before first load
	checker   *token.Checker
	tokenPath string
}

// New creates a Manager for the given configuration file path. The
// path is resolved to absolute up front so it matches the absolute
// paths filesystem watch events carry.
func New(configPath string, logger *slog.Logger, opts Options) *Manager {
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}

	m := &Manager{
		configPath: configPath,
		secure:     opts.Secure,
		logger:     logger,
		level:      opts.Level,
		interval:   opts.CheckInterval,
		newIssuer:  opts.NewIssuer,
	}

	if m.interval <= 0 {
		m.interval = checkInterval
	}

	if m.newIssuer == nil {
		m.newIssuer = func(appID, appSecret, host string, insecure bool) token.Issuer {
			return oauth.NewIssuer(appID, appSecret, host, insecure)
		}
	}

	return m
}

// Store returns the runtime configuration store for readers.
func (m *Manager) Store() *Store { return &m.store }

// Snapshot returns the current runtime configuration.
func (m *Manager) Snapshot() RuntimeConfig { return m.store.Snapshot() }

// TokenPath returns the currently configured token file path, or ""
// before the first successful load.
func (m *Manager) TokenPath() string {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	return m.tokenPath
}

// Load performs the first configuration load. Any failure here is
// fatal to startup; there is no previous good state to fall back on.
func (m *Manager) Load() error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	return m.reload()
}

// Reload re-reads the configuration after a file change or SIGHUP.
// Failures are logged and the previous runtime configuration stays
// published untouched.
func (m *Manager) Reload() {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	if err := m.reload(); err != nil {
		m.logger.Warn("skipping config reload", slog.String("error", err.Error()))
	}
}

// Close stops the background token checker.
func (m *Manager) Close() {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	if m.checker != nil {
		m.checker.Stop()
	}
}

// reload runs one full load cycle. Caller holds reloadMu.
func (m *Manager) reload() error {
	cfg, err := config.Load(m.configPath, m.secure)
	if err != nil {
		return err
	}

	// The token path is matched against absolute watch event paths too.
	if abs, err := filepath.Abs(cfg.TokenFile); err == nil {
		cfg.TokenFile = abs
	}

	if m.level != nil {
		m.level.Set(logging.ParseLevel(cfg.LogLevel))
	}

	// A change in the auth-relevant fields invalidates the token on
	// disk regardless of its expiry.
	changed, err := token.SyncFingerprint(token.FingerprintPath(cfg.TokenFile), cfg.Fingerprint())
	if err != nil {
		return fmt.Errorf("updating config fingerprint: %w", err)
	}

	if changed {
		m.logger.Info("authentication configuration changed, discarding token")

		if err := os.Remove(cfg.TokenFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale token file: %w", err)
		}
	}

	issuer := m.newIssuer(cfg.AppID, cfg.AppSecret, cfg.Host, cfg.Insecure)

	tok, err := m.ensureToken(cfg, issuer)
	if err != nil {
		return err
	}

	m.store.publish(RuntimeConfig{
		ServiceURL: cfg.Host,
		Secret:     tok.Secret,
		Insecure:   cfg.Insecure,
	}, cfg.AuthToken)

	m.cfg = cfg
	m.tokenPath = cfg.TokenFile

	m.restartChecker(issuer)

	m.logger.Info("configuration loaded", slog.String("host", cfg.Host))

	return nil
}

// ensureToken returns a token that is readable from disk and not about
// to expire, issuing a fresh one when needed. The loop replaces the
// original retry-by-recursion with a fixed attempt budget.
func (m *Manager) ensureToken(cfg *config.Config, issuer token.Issuer) (token.Token, error) {
	for attempt := 0; attempt < reloadIssueAttempts; attempt++ {
		tok, err := token.Load(cfg.TokenFile)
		if err == nil && (attempt > 0 || !tok.ExpiringWithin(token.ExpiryHorizon)) {
			// A token we just issued is accepted as-is even when its
			// lifetime is shorter than the expiry horizon; the checker
			// schedules around it.
			return tok, nil
		}

		if err != nil && !errors.Is(err, os.ErrNotExist) {
			// Corrupt rather than absent. The parse error carries no
			// token content.
			m.logger.Warn("token file unreadable, reissuing", slog.String("error", err.Error()))
		}

		fresh, err := issuer.Issue(context.Background())
		if err != nil {
			return token.Token{}, fmt.Errorf("issuing token: %w", err)
		}

		if err := token.Save(cfg.TokenFile, fresh); err != nil {
			return token.Token{}, fmt.Errorf("writing token file: %w", err)
		}
	}

	// A just-written token should always load; reaching here means the
	// file is being clobbered underneath us.
	tok, err := token.Load(cfg.TokenFile)
	if err != nil {
		return token.Token{}, fmt.Errorf("token file still invalid after reissue: %w", err)
	}

	return tok, nil
}

// restartChecker replaces the background expiration checker so it uses
// the freshly loaded configuration. Caller holds reloadMu.
func (m *Manager) restartChecker(issuer token.Issuer) {
	if m.checker != nil {
		m.checker.Stop()
	}

	m.checker = token.NewChecker(m.tokenPath, m.interval, issuer, func() {
		m.logger.Debug("token still valid")
	}, m.logger)

	m.checker.Start(initialCheckDelay)
}

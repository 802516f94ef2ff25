package token

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// fastRetryCap caps the retry delay after a transient issue failure.
const fastRetryCap = 60 * time.Second

// Issuer obtains a fresh access token from the identity endpoint.
type Issuer interface {
	Issue(ctx context.Context) (Token, error)
}

// permanentError is implemented by issuance errors that will never
// succeed on retry (invalid client credentials). The checker stops
// instead of rescheduling when it sees one.
type permanentError interface {
	Permanent() bool
}

// Checker periodically verifies the token on disk and reissues it when
// it is missing, corrupt, or within ExpiryHorizon of expiry. It is a
// chain of single-shot timers: at most one timer is ever outstanding,
// so a check never runs concurrently with itself.
type Checker struct {
	tokenPath string
	interval  time.Duration
	issuer    Issuer
	onValid   func()
	logger    *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	running bool

	// gen ties each timer chain to the Start that created it. Stop and
	// Start bump it, so a check that was already in flight across a
	// restart finishes its work but never re-arms alongside the new
	// chain.
	gen uint64
}

// NewChecker creates a checker for the given token file. interval is
// the base delay between checks; onValid (optional) is invoked after
// each check that ends with a valid token on disk.
func NewChecker(tokenPath string, interval time.Duration, issuer Issuer, onValid func(), logger *slog.Logger) *Checker {
	return &Checker{
		tokenPath: tokenPath,
		interval:  interval,
		issuer:    issuer,
		onValid:   onValid,
		logger:    logger,
	}
}

// Start arms the first timer. Any previously outstanding timer is
// cancelled first, so restarting an already-running checker is safe.
// Start after Stop re-arms from scratch.
func (c *Checker) Start(initialDelay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}

	c.running = true
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(initialDelay, func() { c.check(gen) })

	c.logger.Debug("token checker started",
		slog.Duration("initial_delay", initialDelay),
		slog.Duration("interval", c.interval),
	)
}

// Stop cancels any pending timer. A check already in flight finishes
// but will not reschedule.
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running = false
	c.gen++

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	c.logger.Debug("token checker stopped")
}

// Running reports whether the checker will keep scheduling checks.
func (c *Checker) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

func (c *Checker) check(gen uint64) {
	c.mu.Lock()
	live := c.running && gen == c.gen
	c.mu.Unlock()

	if !live {
		return
	}

	delay, stopped := c.runCheck()
	if stopped {
		c.Stop()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running && gen == c.gen {
		c.timer = time.AfterFunc(delay, func() { c.check(gen) })
	}
}

// runCheck performs one freshness check and returns the delay until
// the next one, or stopped=true on a non-retryable auth failure.
func (c *Checker) runCheck() (delay time.Duration, stopped bool) {
	tok, err := Load(c.tokenPath)

	needsIssue := err != nil || tok.ExpiringWithin(ExpiryHorizon)
	if err != nil {
		// Missing or corrupt file; the error carries no token material.
		c.logger.Debug("token unreadable, reissuing", slog.String("error", err.Error()))
	}

	if needsIssue {
		fresh, err := c.issuer.Issue(context.Background())
		if err != nil {
			var perm permanentError
			if errors.As(err, &perm) && perm.Permanent() {
				c.logger.Error("invalid client credentials, stopping token checker")
				return 0, true
			}

			c.logger.Error("token reissue failed", slog.String("error", err.Error()))

			return fastRetry(c.interval), false
		}

		if err := Save(c.tokenPath, fresh); err != nil {
			c.logger.Error("writing token file", slog.String("error", err.Error()))
			return fastRetry(c.interval), false
		}

		c.logger.Debug("token reissued",
			slog.Time("expires_at", time.Unix(fresh.ExpiresAt, 0)),
		)

		tok = fresh
	}

	if c.onValid != nil {
		c.onValid()
	}

	next := c.interval
	if until := time.Until(time.Unix(tok.ExpiresAt, 0)); until > 0 && until < next {
		next = until
	}

	return next, false
}

// fastRetry returns the shortened delay used after transient failures.
func fastRetry(interval time.Duration) time.Duration {
	d := interval / 5
	if d > fastRetryCap {
		d = fastRetryCap
	}

	return d
}

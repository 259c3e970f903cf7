package idp

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/portalgate/portalgate/pkg/observability"
)

// refresherCallTimeout bounds a single background refresh call
const refresherCallTimeout = 30 * time.Second

// refresher owns the periodic token refresh schedule. Its lifetime is
// auditable: started when a session becomes authenticated, stopped exactly
// once at logout or teardown. A duplicate stop is a no-op.
type refresher struct {
	cron *cron.Cron
}

// startRefresher starts the background refresh schedule if not running
func (c *Client) startRefresher() {
	c.refresherMu.Lock()
	defer c.refresherMu.Unlock()

	if c.refresher != nil {
		return
	}

	cr := cron.New()
	spec := fmt.Sprintf("@every %s", c.config.RefreshInterval)
	if _, err := cr.AddFunc(spec, c.backgroundRefresh); err != nil {
		c.logger.WithError(err).Error("Failed to schedule background token refresh")
		return
	}
	cr.Start()
	c.refresher = &refresher{cron: cr}

	c.logger.WithField("interval", c.config.RefreshInterval.String()).
		Debug("Background token refresher started")
}

// stopRefresher stops the background refresh schedule. Safe to call when
// the refresher is not running.
func (c *Client) stopRefresher() {
	c.refresherMu.Lock()
	defer c.refresherMu.Unlock()

	if c.refresher == nil {
		return
	}
	c.refresher.cron.Stop()
	c.refresher = nil

	c.logger.Debug("Background token refresher stopped")
}

// Close stops the background refresher at teardown. The session state is
// left as-is.
func (c *Client) Close() {
	c.stopRefresher()
}

// RefresherRunning reports whether the background refresher is active
func (c *Client) RefresherRunning() bool {
	c.refresherMu.Lock()
	defer c.refresherMu.Unlock()
	return c.refresher != nil
}

// backgroundRefresh is the periodic job. It refreshes with the configured
// validity margin; Refresh itself already takes the logout path on a failed
// remote call, so a permanently dead session stops generating refresh
// traffic after the first failure.
func (c *Client) backgroundRefresh() {
	defer observability.RecoverPanic(c.logger, "background token refresh")

	ctx, cancel := context.WithTimeout(context.Background(), refresherCallTimeout)
	defer cancel()

	refreshed, err := c.Refresh(ctx, c.config.MinTokenValidity)
	if err != nil {
		c.logger.WithError(err).Error("Background token refresh failed")
		return
	}
	if refreshed {
		c.logger.Debug("Token refreshed")
	}
}

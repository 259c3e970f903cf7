// Package authtransport implements the outbound request authorization
// pipeline as an http.RoundTripper: attach the current bearer token,
// dispatch, and on a 401 refresh the token and retry the original request
// exactly once. 403 responses are never retried.
package authtransport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/portalgate/portalgate/pkg/navigation"
	"github.com/portalgate/portalgate/pkg/observability"
)

// TokenSource is the slice of the identity client the pipeline consumes.
// *idp.Client satisfies it.
type TokenSource interface {
	AccessToken() (string, bool)
	Refresh(ctx context.Context, minValidity time.Duration) (bool, error)
}

// Transport is the request authorization pipeline. The retry decision is a
// single linear pass so the at-most-one-retry invariant is structural, not
// just tested.
type Transport struct {
	base      http.RoundTripper
	tokens    TokenSource
	navigator navigation.Navigator
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// New creates the pipeline around a base transport
func New(base http.RoundTripper, tokens TokenSource, navigator navigation.Navigator, logger *observability.Logger, metrics *observability.Metrics) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Transport{
		base:      base,
		tokens:    tokens,
		navigator: navigator,
		logger:    logger,
		metrics:   metrics,
	}
}

var _ http.RoundTripper = (*Transport)(nil)

// RoundTrip implements the pipeline state machine: attach, dispatch, and
// handle 401/403. Every other status passes through unchanged.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	outReq := req
	if token, ok := t.tokens.AccessToken(); ok {
		outReq = cloneWithToken(req, token)
	}

	resp, err := t.base.RoundTrip(outReq)
	if err != nil {
		return nil, err
	}
	t.recordStatus(resp.StatusCode)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return t.refreshAndRetry(req, resp)
	case http.StatusForbidden:
		// Token is valid but access is denied; refreshing cannot help.
		t.logger.WithField("url", req.URL.String()).Warn("Request forbidden")
		if t.navigator != nil {
			t.navigator.ToLanding()
		}
		return resp, nil
	default:
		return resp, nil
	}
}

// refreshAndRetry handles a rejected token: one refresh, one retry of the
// original request with the new token. Both failure modes surface the
// original 401 to the caller; a failed retry surfaces the retry response.
func (t *Transport) refreshAndRetry(req *http.Request, original *http.Response) (*http.Response, error) {
	refreshed, err := t.tokens.Refresh(req.Context(), 0)
	if err != nil || !refreshed {
		// The adapter has already taken the logout path on error; send the
		// user to the login entry point with the original path as the
		// return target and surface the original error.
		t.recordRetry("refresh_failed")
		if err != nil {
			t.logger.WithError(err).Warn("Token refresh failed while handling 401")
		}
		if t.navigator != nil {
			t.navigator.ToLogin(req.URL.RequestURI())
		}
		return original, nil
	}

	token, ok := t.tokens.AccessToken()
	if !ok {
		t.recordRetry("refresh_failed")
		if t.navigator != nil {
			t.navigator.ToLogin(req.URL.RequestURI())
		}
		return original, nil
	}

	retryReq, err := replayRequest(req, token)
	if err != nil {
		// Body cannot be replayed; the original response stands.
		t.logger.WithError(err).Debug("Request not retryable after refresh")
		return original, nil
	}

	drainAndClose(original.Body)
	t.recordRetry("retried")

	resp, err := t.base.RoundTrip(retryReq)
	if err != nil {
		return nil, err
	}
	t.recordStatus(resp.StatusCode)
	// Whatever the retry returned is final; no further refresh attempts.
	return resp, nil
}

// cloneWithToken clones the request with the bearer token attached
func cloneWithToken(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return out
}

// replayRequest rebuilds the original request with a fresh body and the new
// token. Requests with a consumed, non-replayable body cannot be retried.
func replayRequest(req *http.Request, token string) (*http.Request, error) {
	out := cloneWithToken(req, token)
	if req.Body != nil {
		if req.GetBody == nil {
			return nil, fmt.Errorf("request body is not replayable")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		out.Body = body
	}
	return out, nil
}

// drainAndClose releases a response body so the connection can be reused
func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4<<10))
	_ = body.Close()
}

func (t *Transport) recordStatus(status int) {
	if t.metrics != nil {
		t.metrics.PipelineRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

func (t *Transport) recordRetry(outcome string) {
	if t.metrics != nil {
		t.metrics.PipelineRetriesTotal.WithLabelValues(outcome).Inc()
	}
}

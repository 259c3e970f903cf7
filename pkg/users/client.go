// Package users is the REST client for the user service. All calls go
// through the request authorization pipeline; responses are cached per
// entity id and dropped wholesale when the session is invalidated.
package users

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/portalgate/portalgate/pkg/observability"
)

const (
	// cacheSize bounds the per-id entity handle cache
	cacheSize = 256
	// cacheTTL keeps handles from outliving backend updates for too long
	cacheTTL = 5 * time.Minute
)

// Client is the user-service API client
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *observability.Logger
	metrics    *observability.Metrics

	cache *lru.LRU[string, User]

	meMu sync.Mutex
	me   *User
}

// NewClient creates a user-service client. The http.Client is expected to
// carry the authorization pipeline as its transport.
func NewClient(httpClient *http.Client, baseURL string, logger *observability.Logger, metrics *observability.Metrics) (*Client, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
		metrics:    metrics,
		cache:      lru.NewLRU[string, User](cacheSize, nil, cacheTTL),
	}, nil
}

// List fetches a page of users with pagination and sorting
func (c *Client) List(ctx context.Context, page, size int, sortBy string) (Page[User], error) {
	if size <= 0 {
		size = 10
	}
	if sortBy == "" {
		sortBy = "createdAt"
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))
	query.Set("sort", sortBy)

	var result Page[User]
	if err := c.get(ctx, "/users?"+query.Encode(), &result); err != nil {
		return Page[User]{}, err
	}
	return result, nil
}

// Get fetches a user by id, serving repeated lookups from the entity cache
func (c *Client) Get(ctx context.Context, id string) (User, error) {
	if id == "" {
		return User{}, fmt.Errorf("user id is required")
	}

	if user, ok := c.cache.Get(id); ok {
		c.recordCache(true)
		return user, nil
	}
	c.recordCache(false)

	var user User
	if err := c.get(ctx, "/users/"+url.PathEscape(id), &user); err != nil {
		return User{}, err
	}
	c.cache.Add(id, user)
	return user, nil
}

// Me fetches the current user's record, cached until the session changes
func (c *Client) Me(ctx context.Context) (User, error) {
	c.meMu.Lock()
	if c.me != nil {
		me := *c.me
		c.meMu.Unlock()
		c.recordCache(true)
		return me, nil
	}
	c.meMu.Unlock()
	c.recordCache(false)

	var user User
	if err := c.get(ctx, "/users/me", &user); err != nil {
		return User{}, err
	}

	c.meMu.Lock()
	c.me = &user
	c.meMu.Unlock()
	return user, nil
}

// PurgeCache drops every cached entity handle. Registered with the session
// manager's invalidation hook so entities keyed to the old identity never
// leak across sessions.
func (c *Client) PurgeCache() {
	c.cache.Purge()
	c.meMu.Lock()
	c.me = nil
	c.meMu.Unlock()
	c.logger.Debug("User cache purged")
}

// get performs a GET against the user service and decodes the JSON body
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("user service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("user service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode user service response: %w", err)
	}
	return nil
}

func (c *Client) recordCache(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.UserCacheHitsTotal.Inc()
	} else {
		c.metrics.UserCacheMissesTotal.Inc()
	}
}

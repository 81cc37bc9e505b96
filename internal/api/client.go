package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"splitsync/internal/config"
	"splitsync/internal/domain"
	"splitsync/internal/logging"
	"splitsync/internal/metrics"
	"splitsync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = domain.ErrNotFound
	ErrConflict     = errors.New("conflict")
	ErrServer       = errors.New("server error")
)

// HTTPError is a non-2xx response from the entity API.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.Status, e.Body)
	}
	return fmt.Sprintf("%s %s: http %d", e.Method, e.Path, e.Status)
}

func (e *HTTPError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Status == http.StatusForbidden:
		return ErrForbidden
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusConflict:
		return ErrConflict
	case e.Status >= 500:
		return ErrServer
	default:
		return nil
	}
}

const maxErrorBody = 512

// Client calls the per-entity REST API. Requests are paced by a shared rate
// limiter and carry the current access token as a bearer credential.
type Client struct {
	baseURL    string
	tokens     domain.TokenSource
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration
}

var (
	_ domain.EntityTransport = (*Client)(nil)
	_ domain.ListCache       = (*Client)(nil)
)

func NewClient(cfg config.ServerConfig, rl config.RateLimitConfig, tokens domain.TokenSource, logger *zerolog.Logger) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    newLimiter(rl),
		logger:     logging.Component(logger, "api-client"),
	}
}

// UseRedisCache configures optional Redis caching for list endpoints.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

type createExpenseRequest struct {
	ID string `json:"id"`
	*models.ExpensePayload
}

type createGroupRequest struct {
	ID string `json:"id"`
	*models.GroupPayload
}

func expensesPath(groupID string) string {
	return "/groups/" + url.PathEscape(groupID) + "/expenses"
}

func expensesCacheKey(groupID string) string {
	return "splitsync:expenses:" + groupID
}

const groupsCacheKey = "splitsync:groups"

// CreateExpense sends the client-generated id so a replayed create resolves to
// the record the server already holds.
func (c *Client) CreateExpense(ctx context.Context, groupID, clientID string, payload *models.ExpensePayload) (*models.Expense, error) {
	var out models.Expense
	body := createExpenseRequest{ID: clientID, ExpensePayload: withGroup(payload, groupID)}
	if err := c.doJSON(ctx, http.MethodPost, expensesPath(groupID), "expenses.create", body, &out); err != nil {
		return nil, err
	}
	c.invalidate(ctx, expensesCacheKey(groupID))
	return &out, nil
}

func (c *Client) UpdateExpense(ctx context.Context, groupID, id string, payload *models.ExpensePayload) (*models.Expense, error) {
	var out models.Expense
	path := expensesPath(groupID) + "/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodPut, path, "expenses.update", withGroup(payload, groupID), &out); err != nil {
		return nil, err
	}
	c.invalidate(ctx, expensesCacheKey(groupID))
	return &out, nil
}

func (c *Client) DeleteExpense(ctx context.Context, groupID, id string) error {
	path := expensesPath(groupID) + "/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodDelete, path, "expenses.delete", nil, nil); err != nil {
		return err
	}
	c.invalidate(ctx, expensesCacheKey(groupID))
	return nil
}

func (c *Client) ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error) {
	var out []*models.Expense
	key := expensesCacheKey(groupID)
	if c.readCache(ctx, key, &out) {
		return out, nil
	}
	if err := c.doJSON(ctx, http.MethodGet, expensesPath(groupID), "expenses.list", nil, &out); err != nil {
		return nil, err
	}
	c.writeCache(ctx, key, out)
	return out, nil
}

func (c *Client) CreateGroup(ctx context.Context, clientID string, payload *models.GroupPayload) (*models.Group, error) {
	var out models.Group
	body := createGroupRequest{ID: clientID, GroupPayload: payload}
	if err := c.doJSON(ctx, http.MethodPost, "/groups", "groups.create", body, &out); err != nil {
		return nil, err
	}
	c.invalidate(ctx, groupsCacheKey)
	return &out, nil
}

func (c *Client) UpdateGroup(ctx context.Context, id string, payload *models.GroupPayload) (*models.Group, error) {
	var out models.Group
	if err := c.doJSON(ctx, http.MethodPut, "/groups/"+url.PathEscape(id), "groups.update", payload, &out); err != nil {
		return nil, err
	}
	c.invalidate(ctx, groupsCacheKey)
	return &out, nil
}

func (c *Client) DeleteGroup(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/groups/"+url.PathEscape(id), "groups.delete", nil, nil); err != nil {
		return err
	}
	c.invalidate(ctx, groupsCacheKey, expensesCacheKey(id))
	return nil
}

func (c *Client) ListGroups(ctx context.Context) ([]*models.Group, error) {
	var out []*models.Group
	if c.readCache(ctx, groupsCacheKey, &out) {
		return out, nil
	}
	if err := c.doJSON(ctx, http.MethodGet, "/groups", "groups.list", nil, &out); err != nil {
		return nil, err
	}
	c.writeCache(ctx, groupsCacheKey, out)
	return out, nil
}

// InvalidateLists drops the cached group list and the expense lists of groupIDs.
func (c *Client) InvalidateLists(ctx context.Context, groupIDs ...string) {
	keys := []string{groupsCacheKey}
	for _, id := range groupIDs {
		keys = append(keys, expensesCacheKey(id))
	}
	c.invalidate(ctx, keys...)
}

func (c *Client) UpdateProfile(ctx context.Context, payload *models.UserPayload) (*models.User, error) {
	var out models.User
	if err := c.doJSON(ctx, http.MethodPut, "/users/me", "users.update", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func withGroup(p *models.ExpensePayload, groupID string) *models.ExpensePayload {
	out := &models.ExpensePayload{}
	if p != nil {
		copied := *p
		out = &copied
	}
	if out.GroupID == "" {
		out.GroupID = groupID
	}
	return out
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) invalidate(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Strs("keys", keys).Msg("failed to invalidate list cache")
	}
}

func (c *Client) doJSON(ctx context.Context, method, path, endpoint string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", endpoint, err)
		}
		reader = bytes.NewReader(data)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("%s: access token: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.IncHTTP(endpoint, "error")
		return err
	}
	defer resp.Body.Close()

	metrics.IncHTTP(endpoint, fmt.Sprintf("%dxx", resp.StatusCode/100))

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

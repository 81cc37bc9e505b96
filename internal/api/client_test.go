package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"splitsync/internal/auth"
	"splitsync/internal/config"
	"splitsync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]interface{}
}

type fakeServer struct {
	mu       sync.Mutex
	requests []recorded
	handler  func(w http.ResponseWriter, r *http.Request, body map[string]interface{})
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
	f.mu.Unlock()
	f.handler(w, r, body)
}

func (f *fakeServer) all() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.requests...)
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body map[string]interface{})) (*Client, *fakeServer) {
	t.Helper()
	fake := &fakeServer{handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	logger := zerolog.Nop()
	client := NewClient(
		config.ServerConfig{APIURL: srv.URL + "/api/", HTTPTimeout: time.Second},
		config.RateLimitConfig{},
		auth.Static{Access: "tok"},
		&logger,
	)
	return client, fake
}

func writeJSONBody(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCreateExpense_SendsClientIDAndGroup(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, body map[string]interface{}) {
		writeJSONBody(w, http.StatusCreated, map[string]interface{}{
			"id":       body["id"],
			"group_id": body["group_id"],
			"title":    body["title"],
			"amount":   body["amount"],
		})
	})

	got, err := client.CreateExpense(context.Background(), "g1", "local-1", &models.ExpensePayload{
		Title:  "Lunch",
		Amount: decimal.RequireFromString("12.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, "local-1", got.ID)
	assert.Equal(t, "g1", got.GroupID)
	assert.True(t, decimal.RequireFromString("12.5").Equal(got.Amount))

	reqs := fake.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "/api/groups/g1/expenses", reqs[0].path)
	assert.Equal(t, "Bearer tok", reqs[0].auth)
	assert.Equal(t, "local-1", reqs[0].body["id"])
	assert.Equal(t, 12.5, reqs[0].body["amount"])
}

func TestEntityRoutes(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ map[string]interface{}) {
		switch {
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/api/groups":
			writeJSONBody(w, http.StatusOK, []map[string]string{{"id": "g1", "name": "Trip"}})
		case r.Method == http.MethodGet:
			writeJSONBody(w, http.StatusOK, []map[string]string{{"id": "e1", "group_id": "g1"}})
		case r.URL.Path == "/api/users/me":
			writeJSONBody(w, http.StatusOK, map[string]string{"id": "u1", "name": "Ann"})
		default:
			writeJSONBody(w, http.StatusOK, map[string]string{"id": "x1"})
		}
	})
	ctx := context.Background()

	_, err := client.UpdateExpense(ctx, "g1", "e1", &models.ExpensePayload{Title: "Dinner"})
	require.NoError(t, err)
	require.NoError(t, client.DeleteExpense(ctx, "g1", "e1"))
	expenses, err := client.ListExpenses(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, expenses, 1)

	_, err = client.CreateGroup(ctx, "local-g", &models.GroupPayload{Name: "Trip"})
	require.NoError(t, err)
	_, err = client.UpdateGroup(ctx, "g1", &models.GroupPayload{Name: "Trip 2"})
	require.NoError(t, err)
	require.NoError(t, client.DeleteGroup(ctx, "g1"))
	groups, err := client.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Trip", groups[0].Name)

	user, err := client.UpdateProfile(ctx, &models.UserPayload{Name: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	var routes []string
	for _, r := range fake.all() {
		routes = append(routes, r.method+" "+r.path)
	}
	assert.Equal(t, []string{
		"PUT /api/groups/g1/expenses/e1",
		"DELETE /api/groups/g1/expenses/e1",
		"GET /api/groups/g1/expenses",
		"POST /api/groups",
		"PUT /api/groups/g1",
		"DELETE /api/groups/g1",
		"GET /api/groups",
		"PUT /api/users/me",
	}, routes)
	assert.Equal(t, "local-g", fake.all()[3].body["id"])
	assert.Equal(t, "g1", fake.all()[0].body["group_id"])
}

func TestHTTPErrorClassification(t *testing.T) {
	statuses := map[int]error{
		http.StatusUnauthorized:        ErrUnauthorized,
		http.StatusForbidden:           ErrForbidden,
		http.StatusNotFound:            ErrNotFound,
		http.StatusConflict:            ErrConflict,
		http.StatusInternalServerError: ErrServer,
	}
	for status, want := range statuses {
		status, want := status, want
		client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]interface{}) {
			http.Error(w, "nope", status)
		})

		_, err := client.UpdateGroup(context.Background(), "g1", &models.GroupPayload{Name: "x"})
		require.Error(t, err)
		assert.ErrorIs(t, err, want)

		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, status, httpErr.Status)
		assert.Equal(t, "nope", httpErr.Body)
	}
}

func TestMissingToken(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	client := NewClient(config.ServerConfig{APIURL: srv.URL}, config.RateLimitConfig{}, auth.Static{}, &logger)

	_, err := client.ListGroups(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoToken)
	assert.Zero(t, hits.Load())
}

func TestListCacheWithRedis(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	var lists atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ map[string]interface{}) {
		if r.Method == http.MethodGet {
			lists.Add(1)
			writeJSONBody(w, http.StatusOK, []map[string]string{{"id": "g1", "name": "Trip"}})
			return
		}
		writeJSONBody(w, http.StatusOK, map[string]string{"id": "g1", "name": "Renamed"})
	})
	client.UseRedisCache(rdb, time.Minute)
	ctx := context.Background()

	_, err = client.ListGroups(ctx)
	require.NoError(t, err)
	groups, err := client.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, int32(1), lists.Load())
	assert.True(t, s.Exists(groupsCacheKey))

	_, err = client.UpdateGroup(ctx, "g1", &models.GroupPayload{Name: "Renamed"})
	require.NoError(t, err)
	assert.False(t, s.Exists(groupsCacheKey))

	_, err = client.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), lists.Load())
}

func TestNewLimiter(t *testing.T) {
	unlimited := newLimiter(config.RateLimitConfig{})
	assert.True(t, unlimited.Allow())

	lim := newLimiter(config.RateLimitConfig{RPS: 1, Burst: 2})
	assert.True(t, lim.Allow())
	assert.True(t, lim.Allow())
	assert.False(t, lim.Allow())
}

package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"splitsync/internal/auth"
	"splitsync/internal/models"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	token   string
	request request
}

// serve starts a sync server that reads the batch, runs script, then reads
// until the client closes and reports the close code on closed.
func serve(t *testing.T, script func(ctx context.Context, conn *websocket.Conn)) (*httptest.Server, <-chan received, <-chan websocket.StatusCode) {
	t.Helper()
	requests := make(chan received, 4)
	closed := make(chan websocket.StatusCode, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var req request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}
		requests <- received{token: r.URL.Query().Get("token"), request: req}

		script(ctx, conn)

		for {
			if _, _, err := conn.Read(ctx); err != nil {
				closed <- websocket.CloseStatus(err)
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, requests, closed
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sync"
}

func newTestClient(endpoint string, tokens auth.Static) *Client {
	logger := zerolog.Nop()
	return NewClient(endpoint, tokens, &logger)
}

func sendJSON(ctx context.Context, conn *websocket.Conn, raw string) {
	_ = conn.Write(ctx, websocket.MessageText, []byte(raw))
}

func expenseChange(t *testing.T) Change {
	t.Helper()
	change, err := ChangeFromItem(&models.MutationQueueItem{
		EntityType: models.EntityExpense,
		EntityID:   "e1",
		Action:     models.ActionCreate,
		GroupID:    "g1",
		EnqueuedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Payload:    &models.ExpensePayload{Title: "Lunch", Amount: decimal.RequireFromString("12.5")},
	})
	require.NoError(t, err)
	return change
}

func TestSync_Completed(t *testing.T) {
	srv, requests, closed := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		sendJSON(ctx, conn, `{"type":"ack","operation_id":"op1","status":"started","created_at":"2024-05-01T12:00:01Z"}`)
		sendJSON(ctx, conn, `{"type":"completed","operation_id":"op1","status":"completed","completed_at":"2024-05-01T12:00:02Z","notifications":["expense:e1:create"]}`)
	})

	client := newTestClient(wsURL(srv), auth.Static{Access: "tok"})
	completion, err := client.Sync(context.Background(), []Change{expenseChange(t)})
	require.NoError(t, err)
	assert.Equal(t, "op1", completion.OperationID)
	assert.Equal(t, "2024-05-01T12:00:02Z", completion.CompletedAt)
	assert.Equal(t, []string{"expense:e1:create"}, completion.Notifications)

	got := <-requests
	assert.Equal(t, "tok", got.token)
	require.Len(t, got.request.Changes, 1)
	change := got.request.Changes[0]
	assert.Equal(t, models.ActionCreate, change.Type)
	assert.Equal(t, models.EntityExpense, change.Entity)
	assert.Equal(t, "e1", change.EntityID)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(change.Data, &data))
	assert.Equal(t, "g1", data["group_id"])
	assert.Equal(t, "Lunch", data["title"])
	assert.Equal(t, 12.5, data["amount"])

	select {
	case code := <-closed:
		assert.Equal(t, websocket.StatusNormalClosure, code)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the client close")
	}
}

func TestSync_WireShape(t *testing.T) {
	raw, err := json.Marshal(request{Changes: []Change{expenseChange(t)}})
	require.NoError(t, err)

	var generic map[string][]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &generic))
	require.Len(t, generic["changes"], 1)

	keys := make([]string, 0)
	for k := range generic["changes"][0] {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"type", "entity", "entity_id", "data", "timestamp"}, keys)
}

func TestSync_ServerError(t *testing.T) {
	srv, _, _ := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		sendJSON(ctx, conn, `{"type":"error","operation_id":"op2","status":"failed","error":"expense e1 rejected"}`)
	})

	client := newTestClient(wsURL(srv), auth.Static{Access: "tok"})
	_, err := client.Sync(context.Background(), []Change{expenseChange(t)})

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "op2", serverErr.OperationID)
	assert.Equal(t, "expense e1 rejected", serverErr.Message)
}

func TestSync_InvalidJSON(t *testing.T) {
	srv, _, _ := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		sendJSON(ctx, conn, `not json`)
	})

	client := newTestClient(wsURL(srv), auth.Static{Access: "tok"})
	_, err := client.Sync(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestSync_CloseCodes(t *testing.T) {
	tests := []struct {
		code websocket.StatusCode
		want error
	}{
		{CodeMissingToken, ErrMissingToken},
		{CodeInvalidToken, ErrInvalidToken},
		{CodeInvalidPayload, ErrInvalidPayload},
		{websocket.StatusInternalError, ErrServerInternal},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(int(tt.code)), func(t *testing.T) {
			srv, _, _ := serve(t, func(_ context.Context, conn *websocket.Conn) {
				_ = conn.Close(tt.code, "rejected")
			})

			client := newTestClient(wsURL(srv), auth.Static{Access: "tok"})
			_, err := client.Sync(context.Background(), nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSync_CloseBeforeCompletion(t *testing.T) {
	for _, code := range []websocket.StatusCode{websocket.StatusNormalClosure, 4000} {
		t.Run(fmt.Sprint(int(code)), func(t *testing.T) {
			srv, _, _ := serve(t, func(ctx context.Context, conn *websocket.Conn) {
				sendJSON(ctx, conn, `{"type":"ack","operation_id":"op3","status":"started"}`)
				_ = conn.Close(code, "")
			})

			client := newTestClient(wsURL(srv), auth.Static{Access: "tok"})
			_, err := client.Sync(context.Background(), nil)

			var closeErr *CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, code, closeErr.Code)
			assert.Contains(t, err.Error(), "unexpected close")
		})
	}
}

func TestOpen_FailsBeforeDialing(t *testing.T) {
	var dialed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		dialed.Store(true)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	ctx := context.Background()

	_, err = newTestClient("", auth.Static{Access: "tok"}).Open(ctx, nil)
	assert.ErrorIs(t, err, ErrNoEndpoint)

	_, err = newTestClient(wsURL(srv), auth.Static{}).Open(ctx, nil)
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = newTestClient(wsURL(srv), auth.Static{Access: expired}).Open(ctx, nil)
	assert.ErrorIs(t, err, ErrTokenExpired)

	assert.False(t, dialed.Load())
}

type countingTokens struct {
	calls atomic.Int32
}

func (c *countingTokens) AccessToken(context.Context) (string, error) {
	return fmt.Sprintf("tok-%d", c.calls.Add(1)), nil
}

func (c *countingTokens) RefreshToken(context.Context) (string, error) {
	return "", auth.ErrNoToken
}

func TestOpen_ReadsTokenPerAttempt(t *testing.T) {
	srv, requests, _ := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		sendJSON(ctx, conn, `{"type":"completed","operation_id":"op","status":"completed","notifications":[]}`)
	})

	tokens := &countingTokens{}
	logger := zerolog.Nop()
	client := NewClient(wsURL(srv), tokens, &logger)

	for i := 0; i < 2; i++ {
		_, err := client.Sync(context.Background(), nil)
		require.NoError(t, err)
	}

	assert.Equal(t, "tok-1", (<-requests).token)
	assert.Equal(t, "tok-2", (<-requests).token)
}

func TestSession_CloseByCaller(t *testing.T) {
	srv, _, closed := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		sendJSON(ctx, conn, `{"type":"ack","operation_id":"op4","status":"started"}`)
	})

	client := newTestClient(wsURL(srv), auth.Static{Access: "tok"})
	session, err := client.Open(context.Background(), nil)
	require.NoError(t, err)

	ev := <-session.Events()
	ack, ok := ev.(EventAck)
	require.True(t, ok)
	assert.Equal(t, "op4", ack.OperationID)

	session.Close()
	session.Close()

	_, open := <-session.Events()
	assert.False(t, open)

	select {
	case code := <-closed:
		assert.Equal(t, websocket.StatusNormalClosure, code)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the client close")
	}
}

func TestSync_CallerDeadlineSendsNormalClosure(t *testing.T) {
	srv, _, closed := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		sendJSON(ctx, conn, `{"type":"ack","operation_id":"op5","status":"started"}`)
	})

	client := newTestClient(wsURL(srv), auth.Static{Access: "tok"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	completion, err := client.Sync(ctx, []Change{expenseChange(t)})
	assert.Nil(t, completion)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case code := <-closed:
		assert.Equal(t, websocket.StatusNormalClosure, code)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the client close")
	}
}

func TestSync_DialError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := wsURL(srv)
	srv.Close()

	_, err := newTestClient(endpoint, auth.Static{Access: "tok"}).Sync(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoEndpoint))
	assert.Contains(t, err.Error(), "dial bulk endpoint")
}

func TestParseNotification(t *testing.T) {
	key, err := ParseNotification("expense:e1:create")
	require.NoError(t, err)
	assert.Equal(t, models.MutationKey{EntityType: models.EntityExpense, EntityID: "e1", Action: models.ActionCreate}, key)

	key, err = ParseNotification("group:local:g2:update")
	require.NoError(t, err)
	assert.Equal(t, "local:g2", key.EntityID)

	for _, bad := range []string{"", "expense", "expense:e1", "expense::create", "invoice:e1:create", "expense:e1:merge", "expense:e1:"} {
		_, err := ParseNotification(bad)
		assert.Error(t, err, bad)
	}
}

func TestChangeFromItem(t *testing.T) {
	change, err := ChangeFromItem(&models.MutationQueueItem{
		EntityType: models.EntityExpense,
		EntityID:   "e9",
		Action:     models.ActionDelete,
		GroupID:    "g1",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"group_id":"g1"}`, string(change.Data))

	change, err = ChangeFromItem(&models.MutationQueueItem{
		EntityType: models.EntityGroup,
		EntityID:   "g1",
		Action:     models.ActionDelete,
	})
	require.NoError(t, err)
	assert.Nil(t, change.Data)

	_, err = ChangeFromItem(&models.MutationQueueItem{
		EntityType: models.EntityUser,
		EntityID:   "u1",
		Action:     models.ActionUpdate,
		Payload:    &models.UserPayload{Name: "Ann"},
	})
	assert.ErrorIs(t, err, ErrUnsupportedEntity)
}

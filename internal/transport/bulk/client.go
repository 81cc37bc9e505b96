package bulk

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"splitsync/internal/auth"
	"splitsync/internal/domain"
	"splitsync/internal/logging"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
)

const readLimit = 1 << 20

// Client opens bulk sync sessions against a fixed websocket endpoint.
type Client struct {
	endpoint string
	tokens   domain.TokenSource
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewClient(endpoint string, tokens domain.TokenSource, logger *zerolog.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		tokens:   tokens,
		logger:   logging.Component(logger, "bulk"),
		now:      time.Now,
	}
}

// Open dials the endpoint and sends the batch. The access token is read from
// the token source on every call and passed as the token query parameter.
func (c *Client) Open(ctx context.Context, changes []Change) (*Session, error) {
	if c.endpoint == "" {
		return nil, ErrNoEndpoint
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil && !errors.Is(err, auth.ErrNoToken) {
		return nil, fmt.Errorf("%w: %v", ErrNoToken, err)
	}
	if token == "" {
		return nil, ErrNoToken
	}
	if auth.IsExpired(token, c.now()) {
		return nil, ErrTokenExpired
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse bulk endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial bulk endpoint: %w", err)
	}
	conn.SetReadLimit(readLimit)

	if changes == nil {
		changes = []Change{}
	}
	if err := wsjson.Write(ctx, conn, request{Changes: changes}); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("send bulk request: %w", err)
	}

	c.logger.Debug().Int("changes", len(changes)).Msg("bulk request sent")
	return newSession(ctx, conn, c.logger), nil
}

// Completion is the outcome of a successful bulk sync.
type Completion struct {
	OperationID   string
	CompletedAt   string
	Notifications []string
}

// Sync runs a whole session and returns its completion, or the error that
// ended it: *ServerError, a close-code error, or a socket failure.
func (c *Client) Sync(ctx context.Context, changes []Change) (*Completion, error) {
	session, err := c.Open(ctx, changes)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	for ev := range session.Events() {
		switch e := ev.(type) {
		case EventAck:
			c.logger.Debug().Str("operation_id", e.OperationID).Msg("bulk operation started")
		case EventCompleted:
			return &Completion{OperationID: e.OperationID, CompletedAt: e.CompletedAt, Notifications: e.Notifications}, nil
		case EventServerError:
			return nil, &ServerError{OperationID: e.OperationID, Message: e.Error}
		case EventClosed:
			return nil, e.Err
		case EventFailed:
			return nil, e.Err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrSessionEnded
}

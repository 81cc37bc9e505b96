package bulk

import (
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

// Application close codes sent by the sync server.
const (
	CodeMissingToken   websocket.StatusCode = 4401
	CodeInvalidToken   websocket.StatusCode = 4403
	CodeInvalidPayload websocket.StatusCode = 4400
)

var (
	ErrNoEndpoint      = errors.New("bulk endpoint is not configured")
	ErrNoToken         = errors.New("no access token for bulk session")
	ErrTokenExpired    = errors.New("access token has expired")
	ErrMissingToken    = errors.New("server rejected session: missing token")
	ErrInvalidToken    = errors.New("server rejected session: invalid token")
	ErrInvalidPayload  = errors.New("server rejected session: invalid payload")
	ErrServerInternal  = errors.New("server internal error")
	ErrInvalidResponse = errors.New("invalid response")
	ErrSessionEnded    = errors.New("session ended without a terminal event")
)

// CloseError reports a close code outside the known table, including a normal
// closure that arrives before completion.
type CloseError struct {
	Code websocket.StatusCode
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("unexpected close (code %d)", int(e.Code))
}

// ServerError is a terminal error message sent by the server.
type ServerError struct {
	OperationID string
	Message     string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("bulk sync failed: %s", e.Message)
}

func closeCodeError(code websocket.StatusCode) error {
	switch code {
	case CodeMissingToken:
		return ErrMissingToken
	case CodeInvalidToken:
		return ErrInvalidToken
	case CodeInvalidPayload:
		return ErrInvalidPayload
	case websocket.StatusInternalError:
		return ErrServerInternal
	default:
		return &CloseError{Code: code}
	}
}

package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

// Event is a typed message delivered by a Session.
type Event interface {
	isEvent()
}

// EventAck is the informational "started" message.
type EventAck struct {
	OperationID string
	Status      string
	CreatedAt   string
}

// EventCompleted is terminal success.
type EventCompleted struct {
	OperationID   string
	CompletedAt   string
	Notifications []string
}

// EventServerError is a terminal server-reported failure.
type EventServerError struct {
	OperationID string
	Error       string
}

// EventClosed reports that the server closed the connection before a terminal message.
type EventClosed struct {
	Code websocket.StatusCode
	Err  error
}

// EventFailed reports a client-side failure: undecodable message or socket error.
type EventFailed struct {
	Err error
}

func (EventAck) isEvent()         {}
func (EventCompleted) isEvent()   {}
func (EventServerError) isEvent() {}
func (EventClosed) isEvent()      {}
func (EventFailed) isEvent()      {}

// Session is one open bulk connection. Events are delivered in order on
// Events(); the channel closes after the terminal event, after Close, or once
// the context passed to Open ends. The last two send a normal closure.
type Session struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *zerolog.Logger
}

// newSession reads on its own context: a canceled read context makes the
// library drop the socket without a close frame.
func newSession(callerCtx context.Context, conn *websocket.Conn, logger *zerolog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.readLoop()
	go s.watch(callerCtx)
	return s
}

func (s *Session) watch(callerCtx context.Context) {
	select {
	case <-callerCtx.Done():
		s.logger.Debug().Err(callerCtx.Err()).Msg("bulk session abandoned by caller")
		s.shutdown()
	case <-s.done:
	}
}

func (s *Session) Events() <-chan Event {
	return s.events
}

// Close abandons the session with a normal closure. No events are delivered
// once Close returns.
func (s *Session) Close() {
	s.shutdown()
	<-s.done
}

func (s *Session) shutdown() {
	s.once.Do(func() {
		close(s.stop)
		if err := s.conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			s.logger.Debug().Err(err).Msg("close abandoned bulk session")
		}
		s.cancel()
	})
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)
	defer s.cancel()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.handleReadError(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.finish(EventFailed{Err: ErrInvalidResponse})
			return
		}

		switch msg.Type {
		case typeAck:
			if !s.emit(EventAck{OperationID: msg.OperationID, Status: msg.Status, CreatedAt: rawText(msg.CreatedAt)}) {
				return
			}
		case typeCompleted:
			s.finish(EventCompleted{
				OperationID:   msg.OperationID,
				CompletedAt:   rawText(msg.CompletedAt),
				Notifications: msg.Notifications,
			})
			return
		case typeError:
			s.finish(EventServerError{OperationID: msg.OperationID, Error: msg.Error})
			return
		default:
			s.logger.Debug().Str("type", msg.Type).Msg("ignoring unknown bulk message")
		}
	}
}

func (s *Session) handleReadError(err error) {
	if s.stopped() {
		return
	}

	code := websocket.CloseStatus(err)
	if code == -1 {
		s.conn.CloseNow()
		s.emit(EventFailed{Err: err})
		return
	}
	s.emit(EventClosed{Code: code, Err: closeCodeError(code)})
}

// finish closes our side before handing the terminal event to the consumer.
func (s *Session) finish(ev Event) {
	if err := s.conn.Close(websocket.StatusNormalClosure, ""); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug().Err(err).Msg("close after terminal event")
	}
	s.emit(ev)
}

func (s *Session) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Session) emit(ev Event) bool {
	if s.stopped() {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.stop:
		return false
	case <-s.ctx.Done():
		return false
	}
}

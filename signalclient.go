package meetsdk

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

// UnsubscribeFunc removes a previously registered handler.
type UnsubscribeFunc func()

// internal pseudo-events for channel lifecycle
const (
	eventConnect    = "connect"
	eventDisconnect = "disconnect"
)

type wireMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SignalClient maintains the persistent relay connection and fans
// incoming events out to registered handlers. It performs no retries:
// reconnect policy belongs to the transport behind the relay URL.
type SignalClient struct {
	lock        sync.Mutex
	conn        *websocket.Conn
	isConnected *atomic.Bool

	handlerLock   sync.Mutex
	handlers      map[string]map[string]func(json.RawMessage)
	errorHandlers map[string]func(error)
}

func NewSignalClient() *SignalClient {
	return &SignalClient{
		isConnected:   atomic.NewBool(false),
		handlers:      make(map[string]map[string]func(json.RawMessage)),
		errorHandlers: make(map[string]func(error)),
	}
}

// Connect dials the relay. Calling it while already connected is a
// no-op. Dial failures are returned and also reported to error
// subscribers so the UI sees a single connectivity status path.
func (c *SignalClient) Connect(ctx context.Context, urlPrefix string) error {
	if urlPrefix == "" {
		return ErrURLNotProvided
	}
	if c.isConnected.Load() {
		return nil
	}

	if strings.HasPrefix(urlPrefix, "http") {
		urlPrefix = strings.Replace(urlPrefix, "http", "ws", 1)
	}
	u, err := url.Parse(urlPrefix)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		c.dispatchError(err)
		return err
	}

	c.lock.Lock()
	c.conn = conn
	c.lock.Unlock()
	c.isConnected.Store(true)

	go c.readLoop(conn)

	c.dispatch(eventConnect, nil)
	return nil
}

// Close tears down the relay connection. Safe to call repeatedly.
func (c *SignalClient) Close() {
	c.lock.Lock()
	conn := c.conn
	c.conn = nil
	c.lock.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if c.isConnected.CompareAndSwap(true, false) {
		c.dispatch(eventDisconnect, nil)
	}
}

func (c *SignalClient) IsConnected() bool {
	return c.isConnected.Load()
}

func (c *SignalClient) JoinRoom(req JoinRequest) error {
	return c.sendEvent(EventJoinRoom, req)
}

func (c *SignalClient) LeaveRoom(roomID string) error {
	return c.sendEvent(EventLeaveRoom, LeaveRequest{RoomID: roomID})
}

func (c *SignalClient) SendSignal(envelope SignalEnvelope) error {
	return c.sendEvent(EventSignal, envelope)
}

func (c *SignalClient) SendMediaState(update MediaStateUpdate) error {
	return c.sendEvent(EventMediaState, update)
}

func (c *SignalClient) SendChatMessage(msg ChatMessage) error {
	return c.sendEvent(EventChatMessage, msg)
}

func (c *SignalClient) SendScreenShare(share ScreenShare) error {
	return c.sendEvent(EventScreenShare, share)
}

func (c *SignalClient) sendEvent(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(wireMessage{Event: event, Data: data})
	if err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *SignalClient) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if c.isConnected.CompareAndSwap(true, false) {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.dispatchError(err)
				}
				c.lock.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.lock.Unlock()
				c.dispatch(eventDisconnect, nil)
			}
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			logger.Error(err, "could not parse signal message")
			continue
		}
		c.dispatch(msg.Event, msg.Data)
	}
}

// on registers a handler for event. Registering with a key already in
// use for that event replaces the previous handler, so the same
// listener never receives duplicate deliveries. An empty key gets a
// generated one, making the registration unique.
func (c *SignalClient) on(event, key string, handler func(json.RawMessage)) UnsubscribeFunc {
	if key == "" {
		key = uuid.NewString()
	}

	c.handlerLock.Lock()
	byKey := c.handlers[event]
	if byKey == nil {
		byKey = make(map[string]func(json.RawMessage))
		c.handlers[event] = byKey
	}
	byKey[key] = handler
	c.handlerLock.Unlock()

	return func() {
		c.handlerLock.Lock()
		delete(c.handlers[event], key)
		c.handlerLock.Unlock()
	}
}

func (c *SignalClient) dispatch(event string, data json.RawMessage) {
	c.handlerLock.Lock()
	handlers := make([]func(json.RawMessage), 0, len(c.handlers[event]))
	for _, h := range c.handlers[event] {
		handlers = append(handlers, h)
	}
	c.handlerLock.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

func (c *SignalClient) dispatchError(err error) {
	c.handlerLock.Lock()
	handlers := make([]func(error), 0, len(c.errorHandlers))
	for _, h := range c.errorHandlers {
		handlers = append(handlers, h)
	}
	c.handlerLock.Unlock()

	for _, h := range handlers {
		h(err)
	}
}

func (c *SignalClient) OnConnect(key string, f func()) UnsubscribeFunc {
	return c.on(eventConnect, key, func(json.RawMessage) { f() })
}

func (c *SignalClient) OnDisconnect(key string, f func()) UnsubscribeFunc {
	return c.on(eventDisconnect, key, func(json.RawMessage) { f() })
}

// OnError subscribes to connection-level errors. Errors are reported
// here, never thrown from the read loop.
func (c *SignalClient) OnError(key string, f func(error)) UnsubscribeFunc {
	if key == "" {
		key = uuid.NewString()
	}
	c.handlerLock.Lock()
	c.errorHandlers[key] = f
	c.handlerLock.Unlock()

	return func() {
		c.handlerLock.Lock()
		delete(c.errorHandlers, key)
		c.handlerLock.Unlock()
	}
}

func (c *SignalClient) OnRoomJoined(key string, f func(RoomJoined)) UnsubscribeFunc {
	return c.on(EventRoomJoined, key, func(data json.RawMessage) {
		var res RoomJoined
		if err := json.Unmarshal(data, &res); err != nil {
			logger.Error(err, "bad room:joined payload")
			return
		}
		f(res)
	})
}

func (c *SignalClient) OnParticipantJoined(key string, f func(ParticipantInfo)) UnsubscribeFunc {
	return c.on(EventUserJoined, key, func(data json.RawMessage) {
		var pi ParticipantInfo
		if err := json.Unmarshal(data, &pi); err != nil {
			logger.Error(err, "bad user:joined payload")
			return
		}
		f(pi)
	})
}

func (c *SignalClient) OnParticipantLeft(key string, f func(socketID string)) UnsubscribeFunc {
	return c.on(EventUserLeft, key, func(data json.RawMessage) {
		var left struct {
			SocketID string `json:"socketId"`
		}
		if err := json.Unmarshal(data, &left); err != nil {
			logger.Error(err, "bad user:left payload")
			return
		}
		f(left.SocketID)
	})
}

func (c *SignalClient) OnRoomFull(key string, f func()) UnsubscribeFunc {
	return c.on(EventRoomFull, key, func(json.RawMessage) { f() })
}

func (c *SignalClient) OnRoomError(key string, f func(RoomError)) UnsubscribeFunc {
	return c.on(EventRoomError, key, func(data json.RawMessage) {
		var re RoomError
		if err := json.Unmarshal(data, &re); err != nil {
			logger.Error(err, "bad room:error payload")
			return
		}
		f(re)
	})
}

func (c *SignalClient) OnSignal(key string, f func(SignalEnvelope)) UnsubscribeFunc {
	return c.on(EventSignal, key, func(data json.RawMessage) {
		var env SignalEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Error(err, "bad signal payload")
			return
		}
		f(env)
	})
}

func (c *SignalClient) OnMediaState(key string, f func(MediaStateUpdate)) UnsubscribeFunc {
	return c.on(EventMediaState, key, func(data json.RawMessage) {
		var update MediaStateUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			logger.Error(err, "bad media:state payload")
			return
		}
		f(update)
	})
}

// OnMediaStates subscribes to the batch snapshot sent on join, keyed
// by socket id.
func (c *SignalClient) OnMediaStates(key string, f func(map[string]MediaStateUpdate)) UnsubscribeFunc {
	return c.on(EventMediaStates, key, func(data json.RawMessage) {
		var states map[string]MediaStateUpdate
		if err := json.Unmarshal(data, &states); err != nil {
			logger.Error(err, "bad media:states payload")
			return
		}
		f(states)
	})
}

func (c *SignalClient) OnChatMessage(key string, f func(ChatMessage)) UnsubscribeFunc {
	return c.on(EventChatMessage, key, func(data json.RawMessage) {
		var msg ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Error(err, "bad chat:message payload")
			return
		}
		f(msg)
	})
}

func (c *SignalClient) OnScreenShare(key string, f func(ScreenShare)) UnsubscribeFunc {
	return c.on(EventScreenShare, key, func(data json.RawMessage) {
		var share ScreenShare
		if err := json.Unmarshal(data, &share); err != nil {
			logger.Error(err, "bad screen:share payload")
			return
		}
		f(share)
	})
}

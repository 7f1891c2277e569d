package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/ocr-batch/dashboard/internal/dashboard"
	"github.com/ocr-batch/dashboard/internal/registry"
)

// WebSocket message types for the event stream
const (
	// Client -> Server messages
	MsgTypePing    = "ping"
	MsgTypeRefresh = "refresh"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeUpdate    = "update"
	MsgTypeNotice    = "notice"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

// clientBuffer is how many messages may queue for a slow client. Older
// updates are dropped first; every update carries the full view.
const clientBuffer = 16

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSUpdatePayload is pushed after every registry mutation
type WSUpdatePayload struct {
	Event *registry.Event `json:"event,omitempty"`
	View  viewResponse    `json:"view"`
}

// WebSocket error response
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan WSMessage
}

// EventHub pushes the rendered dashboard to websocket clients whenever the
// tracked files change
type EventHub struct {
	app      *dashboard.App
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}

	unsubscribe       func()
	unsubscribeNotice func()
}

// NewEventHub creates a hub subscribed to the app's registry. Close
// unsubscribes and disconnects every client.
func NewEventHub(app *dashboard.App) *EventHub {
	hub := &EventHub{
		app: app,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		clients: make(map[*wsClient]struct{}),
	}
	hub.unsubscribe = app.Registry().Subscribe(hub.onEvent)
	hub.unsubscribeNotice = app.OnNotice(hub.onNotice)
	return hub
}

// ClientCount returns the number of connected clients
func (hub *EventHub) ClientCount() int {
	hub.clientsMu.RLock()
	defer hub.clientsMu.RUnlock()
	return len(hub.clients)
}

// Close stops listening to the registry and disconnects all clients
func (hub *EventHub) Close() {
	hub.unsubscribe()
	hub.unsubscribeNotice()
	hub.clientsMu.Lock()
	for cl := range hub.clients {
		cl.conn.Close()
	}
	hub.clientsMu.Unlock()
}

// HandleWebSocket upgrades the connection and streams updates until the
// client goes away
func (hub *EventHub) HandleWebSocket(c echo.Context) error {
	ws, err := hub.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	cl := &wsClient{conn: ws, send: make(chan WSMessage, clientBuffer)}
	writerDone := make(chan struct{})
	go hub.writeLoop(cl, writerDone)

	hub.clientsMu.Lock()
	hub.clients[cl] = struct{}{}
	hub.clientsMu.Unlock()
	fmt.Println("[WebSocket] Client connected for events")

	hub.enqueue(cl, WSMessage{Type: MsgTypeConnected, Timestamp: time.Now().UnixMilli()})
	hub.enqueue(cl, hub.updateMessage(nil))

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("[WebSocket] Connection error: %v\n", err)
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			hub.enqueue(cl, WSMessage{Type: MsgTypePong, ID: msg.ID, Timestamp: time.Now().UnixMilli()})
		case MsgTypeRefresh:
			hub.enqueue(cl, hub.updateMessage(nil))
		default:
			hub.enqueue(cl, errorMessage("Unknown message type: "+msg.Type, "INVALID_TYPE"))
		}
	}

	hub.clientsMu.Lock()
	delete(hub.clients, cl)
	close(cl.send)
	hub.clientsMu.Unlock()
	<-writerDone
	ws.Close()

	fmt.Println("[WebSocket] Client disconnected")
	return nil
}

func (hub *EventHub) writeLoop(cl *wsClient, done chan<- struct{}) {
	defer close(done)
	for msg := range cl.send {
		if err := cl.conn.WriteJSON(msg); err != nil {
			fmt.Printf("[WebSocket] Failed to send message: %v\n", err)
			cl.conn.Close()
			for range cl.send {
			}
			return
		}
	}
}

func (hub *EventHub) onEvent(ev registry.Event) {
	hub.clientsMu.RLock()
	defer hub.clientsMu.RUnlock()
	if len(hub.clients) == 0 {
		return
	}
	msg := hub.updateMessage(&ev)
	for cl := range hub.clients {
		hub.enqueue(cl, msg)
	}
}

// onNotice sends a notice to every client exactly once.
func (hub *EventHub) onNotice(ev dashboard.NoticeEvent) {
	msg := WSMessage{Type: MsgTypeNotice, Timestamp: ev.At.UnixMilli(), Payload: mustJSON(ev)}
	hub.clientsMu.RLock()
	defer hub.clientsMu.RUnlock()
	for cl := range hub.clients {
		hub.enqueue(cl, msg)
	}
}

// enqueue never blocks: when the buffer is full the oldest message is
// discarded.
func (hub *EventHub) enqueue(cl *wsClient, msg WSMessage) {
	for {
		select {
		case cl.send <- msg:
			return
		default:
		}
		select {
		case <-cl.send:
		default:
		}
	}
}

func (hub *EventHub) updateMessage(ev *registry.Event) WSMessage {
	return WSMessage{
		Type:      MsgTypeUpdate,
		Timestamp: time.Now().UnixMilli(),
		Payload: mustJSON(WSUpdatePayload{
			Event: ev,
			View:  viewResponse{View: hub.app.View(), Notice: hub.app.Notice()},
		}),
	}
}

func errorMessage(message, code string) WSMessage {
	return WSMessage{
		Type:      MsgTypeError,
		Timestamp: time.Now().UnixMilli(),
		Payload: mustJSON(WSErrorResponse{
			Type:    MsgTypeError,
			Message: message,
			Code:    code,
		}),
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

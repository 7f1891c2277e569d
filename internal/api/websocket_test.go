package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ocr-batch/dashboard/internal/dashboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestEventHub(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, MsgTypeConnected, readMessage(t, conn).Type)
	initial := readMessage(t, conn)
	require.Equal(t, MsgTypeUpdate, initial.Type)

	var payload WSUpdatePayload
	require.NoError(t, json.Unmarshal(initial.Payload, &payload))
	assert.Nil(t, payload.Event)
	assert.Empty(t, payload.View.Rows)
	require.Eventually(t, func() bool { return ts.handlers.Events.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	ts.addFiles(t, "a.png")
	update := readMessage(t, conn)
	require.Equal(t, MsgTypeUpdate, update.Type)
	require.NoError(t, json.Unmarshal(update.Payload, &payload))
	require.NotNil(t, payload.Event)
	assert.Equal(t, "added", string(payload.Event.Kind))
	require.Len(t, payload.View.Rows, 1)
	assert.Equal(t, "a.png", payload.View.Rows[0].Name)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing, ID: "p1"}))
	pong := readMessage(t, conn)
	assert.Equal(t, MsgTypePong, pong.Type)
	assert.Equal(t, "p1", pong.ID)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "bogus"}))
	assert.Equal(t, MsgTypeError, readMessage(t, conn).Type)

	conn.Close()
	require.Eventually(t, func() bool { return ts.handlers.Events.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestEventHub_BroadcastsFailureNotice(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, MsgTypeConnected, readMessage(t, conn).Type)
	require.Eventually(t, func() bool { return ts.handlers.Events.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	ts.addFiles(t, "a.png")
	ts.fb.SetUploadReply(http.StatusNotFound, map[string]string{"status": "error"})
	rec := ts.doJSON(t, http.MethodPost, "/api/files/upload", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var notices []dashboard.NoticeEvent
	deadline := time.Now().Add(2 * time.Second)
	for len(notices) == 0 && time.Now().Before(deadline) {
		msg := readMessage(t, conn)
		if msg.Type != MsgTypeNotice {
			continue
		}
		var ev dashboard.NoticeEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		notices = append(notices, ev)
	}
	require.Len(t, notices, 1)
	assert.Equal(t, dashboard.NoticeError, notices[0].Level)
	assert.Equal(t, "Resource not found", notices[0].Message)
}

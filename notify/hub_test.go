package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gobridgetracker/types"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubPublish(t *testing.T) {
	hub := NewHub(zap.NewNop())
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	first := dial(t, server)
	second := dial(t, server)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 10*time.Millisecond)

	sent := &types.BridgeNotification{
		ID:         "t1:CLAIMABLE",
		TransferID: "t1",
		Type:       types.NotificationWithdrawal,
		Status:     types.NotificationClaimable,
		Timestamp:  1100,
		Amount:     "10",
	}
	hub.Publish(sent)

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var got types.BridgeNotification
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, *sent, got)
	}
}

func TestHubForgetsClosedClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubPublishNilIsNoop(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.Publish(nil)
	assert.Equal(t, 0, hub.Clients())
}

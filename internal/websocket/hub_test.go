package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(playerID string) *Client {
	return &Client{
		PlayerID: playerID,
		send:     make(chan []byte, 8),
	}
}

func waitHook(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("hook for %q was never invoked", want)
	}
}

func TestHub_LifecycleHooks(t *testing.T) {
	hub := NewHub(nil, "", zap.NewNop())

	connects := make(chan string, 4)
	disconnects := make(chan string, 4)
	hub.SetLifecycleHooks(
		func(playerID string) { connects <- playerID },
		func(playerID string) { disconnects <- playerID },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := newTestClient("alice")
	hub.register <- client
	waitHook(t, connects, "alice")
	require.True(t, hub.IsOnline("alice"))

	hub.unregister <- client
	waitHook(t, disconnects, "alice")
	assert.False(t, hub.IsOnline("alice"))
}

func TestHub_StaleClientDoesNotTriggerDisconnect(t *testing.T) {
	hub := NewHub(nil, "", zap.NewNop())

	connects := make(chan string, 4)
	disconnects := make(chan string, 4)
	hub.SetLifecycleHooks(
		func(playerID string) { connects <- playerID },
		func(playerID string) { disconnects <- playerID },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	old := newTestClient("bob")
	hub.register <- old
	waitHook(t, connects, "bob")

	// 新连接顶掉旧连接，旧连接随后的注销不算下线
	replacement := newTestClient("bob")
	hub.register <- replacement
	waitHook(t, connects, "bob")

	hub.unregister <- old
	select {
	case got := <-disconnects:
		t.Fatalf("stale client unregister triggered disconnect for %q", got)
	case <-time.After(100 * time.Millisecond):
	}
	assert.True(t, hub.IsOnline("bob"))
}

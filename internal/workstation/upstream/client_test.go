package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiflis/tiflis/internal/common/config"
	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/pkg/protocol"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// fakeTunnel accepts workstation sockets and answers registrations.
type fakeTunnel struct {
	ts       *httptest.Server
	register chan protocol.RegisterPayload
	conns    chan *websocket.Conn
}

func newFakeTunnel(t *testing.T) *fakeTunnel {
	t.Helper()
	ft := &fakeTunnel{
		register: make(chan protocol.RegisterPayload, 4),
		conns:    make(chan *websocket.Conn, 4),
	}
	ft.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ws/workstation", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		require.Equal(t, protocol.TypeWorkstationRegister, msg.Type)

		var reg protocol.RegisterPayload
		require.NoError(t, msg.ParsePayload(&reg))
		ft.register <- reg

		tunnelID := reg.PreviousTunnelID
		restored := tunnelID != ""
		if tunnelID == "" {
			tunnelID = "fresh-id"
		}
		reply, err := protocol.NewMessage(protocol.TypeWorkstationRegistered, protocol.RegisteredPayload{
			TunnelID:  tunnelID,
			PublicURL: "wss://tunnel.example/ws/client",
			Restored:  restored,
		})
		require.NoError(t, err)
		reply.ID = msg.ID
		out, err := reply.Encode()
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, out))

		ft.conns <- conn
	}))
	t.Cleanup(ft.ts.Close)
	return ft
}

func newTestClient(t *testing.T, tunnelURL string) *Client {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	c, err := New(config.WorkstationConfig{
		Name:          "dev-machine",
		TunnelURL:     tunnelURL,
		TunnelAPIKey:  "api-key",
		AuthKey:       "auth-key",
		StatePath:     filepath.Join(t.TempDir(), "state.json"),
		SendQueueSize: 16,
	}, log)
	require.NoError(t, err)
	return c
}

func TestRegistersOnConnect(t *testing.T) {
	ft := newFakeTunnel(t)
	c := newTestClient(t, ft.ts.URL)

	registered := make(chan protocol.RegisteredPayload, 1)
	c.OnRegistered(func(p protocol.RegisteredPayload) { registered <- p })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case reg := <-ft.register:
		assert.Equal(t, "api-key", reg.APIKey)
		assert.Equal(t, "dev-machine", reg.Name)
		assert.Empty(t, reg.PreviousTunnelID)
		assert.Equal(t, protocol.Version, reg.ProtocolVersion)
	case <-time.After(2 * time.Second):
		t.Fatal("no registration received")
	}

	select {
	case p := <-registered:
		assert.Equal(t, "fresh-id", p.TunnelID)
		assert.False(t, p.Restored)
	case <-time.After(2 * time.Second):
		t.Fatal("registration callback not fired")
	}

	// Identity persisted for the next restart.
	assert.Equal(t, "fresh-id", c.state.Load().TunnelID)
}

func TestReclaimsPersistedIdentity(t *testing.T) {
	ft := newFakeTunnel(t)
	c := newTestClient(t, ft.ts.URL)
	require.NoError(t, c.state.Save(persistedState{TunnelID: "old-id"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case reg := <-ft.register:
		assert.Equal(t, "old-id", reg.PreviousTunnelID)
	case <-time.After(2 * time.Second):
		t.Fatal("no registration received")
	}
}

func TestInboundFramesReachHandler(t *testing.T) {
	ft := newFakeTunnel(t)
	c := newTestClient(t, ft.ts.URL)

	frames := make(chan *protocol.Message, 4)
	c.SetHandler(func(msg *protocol.Message) { frames <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	conn := <-ft.conns
	msg, err := protocol.NewMessage(protocol.TypeSync, nil)
	require.NoError(t, err)
	msg.DeviceID = "D1"
	data, err := msg.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	select {
	case got := <-frames:
		assert.Equal(t, protocol.TypeSync, got.Type)
		assert.Equal(t, "D1", got.DeviceID)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestSendGoesOverTheWire(t *testing.T) {
	ft := newFakeTunnel(t)
	c := newTestClient(t, ft.ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	conn := <-ft.conns

	// The send queue exists only after registration.
	require.Eventually(t, func() bool {
		msg, err := protocol.NewMessage(protocol.TypeSessionOutput, nil)
		require.NoError(t, err)
		return c.Send(msg) == nil
	}, 2*time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	got, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeSessionOutput, got.Type)
}

func TestSendWhileDisconnected(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1")
	msg, err := protocol.NewMessage(protocol.TypePing, nil)
	require.NoError(t, err)
	assert.Error(t, c.Send(msg))
}

func TestReconnectsAfterDrop(t *testing.T) {
	ft := newFakeTunnel(t)
	c := newTestClient(t, ft.ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	<-ft.register
	conn := <-ft.conns
	conn.Close()

	// The client reconnects and reclaims the identity it persisted.
	select {
	case reg := <-ft.register:
		assert.Equal(t, "fresh-id", reg.PreviousTunnelID)
	case <-time.After(5 * time.Second):
		t.Fatal("no reconnect registration")
	}
}

func TestWorkstationEndpoint(t *testing.T) {
	cases := map[string]string{
		"ws://tunnel:8080":        "ws://tunnel:8080/ws/workstation",
		"wss://tunnel.example":    "wss://tunnel.example/ws/workstation",
		"http://tunnel:8080":      "ws://tunnel:8080/ws/workstation",
		"https://tunnel.example/": "wss://tunnel.example/ws/workstation",
	}
	for in, want := range cases {
		got, err := workstationEndpoint(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := workstationEndpoint("ftp://nope")
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "scheme"))
}

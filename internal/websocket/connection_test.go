package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

var _ interfaces.Connection = (*Connection)(nil)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type peer struct {
	frames chan string
	closes chan int
}

// dialTestPeer returns a client socket whose server side records every
// text frame and the close code it receives.
func dialTestPeer(t *testing.T) (*websocket.Conn, *peer) {
	t.Helper()
	p := &peer{frames: make(chan string, 64), closes: make(chan int, 1)}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ce, ok := err.(*websocket.CloseError); ok {
					p.closes <- ce.Code
				}
				return
			}
			p.frames <- string(data)
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn, p
}

func bufferedConnection(size int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:       "c1",
		identity: types.Identity{UserID: "u1"},
		writeCh:  make(chan []byte, size),
		ctx:      ctx,
		cancel:   cancel,
		closeReq: make(chan closeFrame, 1),
	}
}

func TestConnection_WritesInOrder(t *testing.T) {
	ws, p := dialTestPeer(t)
	conn := NewConnection("c1", types.Identity{UserID: "u1", Role: types.RoleTeacher}, ws, 16, time.Second)
	defer conn.Close()

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, conn.Enqueue([]byte(msg)))
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case got := <-p.frames:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	assert.Equal(t, "u1", conn.Identity().UserID)
	assert.Equal(t, types.RoleTeacher, conn.Identity().Role)
}

func TestConnection_FullOutboxClosesConnection(t *testing.T) {
	conn := bufferedConnection(2)

	require.NoError(t, conn.Enqueue([]byte("a")))
	require.NoError(t, conn.Enqueue([]byte("b")))

	err := conn.Enqueue([]byte("c"))
	assert.ErrorIs(t, err, ErrSendBufferFull)
	assert.ErrorIs(t, err, types.ErrTransportFailure)

	select {
	case <-conn.Done():
	default:
		t.Fatal("slow consumer should be closed")
	}
	assert.ErrorIs(t, conn.Enqueue([]byte("d")), ErrConnectionClosed)
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	ws, _ := dialTestPeer(t)
	conn := NewConnection("c1", types.Identity{UserID: "u1"}, ws, 4, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conn.Close()
		}()
	}
	wg.Wait()

	<-conn.Done()
	assert.ErrorIs(t, conn.Enqueue([]byte("late")), ErrConnectionClosed)
}

func TestConnection_CloseWithFlushesFirst(t *testing.T) {
	ws, p := dialTestPeer(t)
	conn := NewConnection("c1", types.Identity{UserID: "u1"}, ws, 4, time.Second)

	require.NoError(t, conn.Enqueue([]byte(`{"type":"error"}`)))
	conn.CloseWith(CloseSessionNotFound, "session_not_found")

	select {
	case got := <-p.frames:
		assert.Equal(t, `{"type":"error"}`, got)
	case <-time.After(time.Second):
		t.Fatal("queued frame was not flushed")
	}
	select {
	case code := <-p.closes:
		assert.Equal(t, CloseSessionNotFound, code)
	case <-time.After(time.Second):
		t.Fatal("no close frame")
	}
	<-conn.Done()
}

func TestConnection_SessionID(t *testing.T) {
	conn := bufferedConnection(1)
	assert.Empty(t, conn.SessionID())

	conn.SetSessionID("S1")
	assert.Equal(t, "S1", conn.SessionID())
}

package status

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubscriberConn(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(ts.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server := <-serverConns
	t.Cleanup(func() { server.Close() })
	return server, client
}

// Both participants' receive loops publish to the same hub, so writes to one
// subscriber socket must be serialised.
func TestPublishFromConcurrentGoroutines(t *testing.T) {
	mgr := NewManager()
	server, client := newSubscriberConn(t)
	mgr.Subscribe("ROOM42", server)

	const perWriter = 25
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				mgr.Publish(Update{RoomID: "ROOM42", Event: "speech_start"})
			}
		}()
	}

	for i := 0; i < 2*perWriter; i++ {
		var u Update
		require.NoError(t, client.ReadJSON(&u))
		assert.Equal(t, "ROOM42", u.RoomID)
		assert.Equal(t, "speech_start", u.Event)
	}
	wg.Wait()
}

func TestPublishDropsClosedSubscribers(t *testing.T) {
	mgr := NewManager()
	server, client := newSubscriberConn(t)
	mgr.Subscribe("ROOM42", server)

	client.Close()
	server.Close()

	// The failed write unsubscribes the connection; publishing again is a
	// no-op instead of a repeated error.
	mgr.Publish(Update{RoomID: "ROOM42", Event: "speech_start"})

	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	assert.Empty(t, mgr.subscribers["ROOM42"])
}

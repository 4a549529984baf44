package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pelicanio/socketio/socket"
)

func dialTestChannel(t *testing.T) (*Channel, *websocket.Conn) {
	t.Helper()

	accepted := make(chan *Channel, 1)
	upgrader := &websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		accepted <- NewChannel(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case ch := <-accepted:
		return ch, client
	case <-time.After(2 * time.Second):
		t.Fatal("no connection was accepted")
		return nil, nil
	}
}

func TestChannelReadWrite(t *testing.T) {
	ch, client := dialTestChannel(t)

	if err := client.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	frame, isBinary, err := ch.Read()
	if err != nil || isBinary || string(frame) != "hello" {
		t.Fatalf("unexpected read: %q binary=%v err=%v", frame, isBinary, err)
	}

	if err := ch.Write([]byte{0x01, 0x02}, true); err != nil {
		t.Fatal(err)
	}
	messageType, data, err := client.ReadMessage()
	if err != nil || messageType != websocket.BinaryMessage || len(data) != 2 {
		t.Fatalf("unexpected client read: %v %v %v", messageType, data, err)
	}
}

func TestChannelCloseFiresOnCloseOnce(t *testing.T) {
	ch, client := dialTestChannel(t)

	var fired atomic.Int32
	reason := make(chan string, 2)
	ch.OnClose(func(r string) {
		fired.Add(1)
		reason <- r
	})

	if err := ch.Close(1000, "bye"); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	ch.Close(1000, "again")

	select {
	case r := <-reason:
		if r != "bye" {
			t.Fatalf("unexpected reason %q", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose never fired")
	}
	if fired.Load() != 1 {
		t.Fatalf("OnClose fired %d times", fired.Load())
	}

	// the peer observes the closing handshake
	if _, _, err := client.ReadMessage(); err == nil {
		t.Fatal("expected the client read to fail after close")
	}

	// writes after close are rejected
	if err := ch.Write([]byte("x"), false); err == nil {
		t.Fatal("expected writes after close to fail")
	}
}

func TestChannelRemoteCloseReported(t *testing.T) {
	ch, client := dialTestChannel(t)

	reason := make(chan string, 1)
	ch.OnClose(func(r string) {
		reason <- r
	})

	client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	client.Close()

	if _, _, err := ch.Read(); err == nil {
		t.Fatal("expected the read to fail once the peer left")
	}
	select {
	case r := <-reason:
		if r != socket.ReasonTransportClose {
			t.Fatalf("expected %q, got %q", socket.ReasonTransportClose, r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose never fired")
	}
}

func TestHandlerServesSocketIO(t *testing.T) {
	io := socket.NewServer(nil)
	srv := httptest.NewServer(NewHandler(io))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { io.Close() })

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket.io/?EIO=4&transport=websocket"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	// handshake
	_, data, err := client.ReadMessage()
	if err != nil || !strings.HasPrefix(string(data), `0{"sid":`) {
		t.Fatalf("unexpected handshake: %q err=%v", data, err)
	}

	// attach to the default namespace
	if err := client.WriteMessage(websocket.TextMessage, []byte("40")); err != nil {
		t.Fatal(err)
	}
	_, data, err = client.ReadMessage()
	if err != nil || !strings.HasPrefix(string(data), `40{"sid":`) {
		t.Fatalf("unexpected CONNECT reply: %q err=%v", data, err)
	}

	// deliver a server-side event to the client
	received := make(chan struct{})
	io.Sockets().On("connection", func(args ...any) {})
	sockets, _ := io.FetchSockets()
	if len(sockets) != 1 {
		t.Fatalf("expected one socket, got %d", len(sockets))
	}
	go func() {
		_, data, err := client.ReadMessage()
		if err == nil && strings.HasPrefix(string(data), "42") {
			close(received)
		}
	}()
	if err := sockets[0].Emit("hello", "world"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the client")
	}
}

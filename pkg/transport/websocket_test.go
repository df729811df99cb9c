package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// startEchoServer accepts one websocket connection, wraps it in a
// WebSocketChannel, and hands it to onChannel on its own goroutine.
func startEchoServer(t *testing.T, onChannel func(*WebSocketChannel)) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch, err := Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		onChannel(ch)
	}))
	return srv
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestSendTextAndSendBytesReachClient(t *testing.T) {
	done := make(chan struct{})
	srv := startEchoServer(t, func(ch *WebSocketChannel) {
		defer close(done)
		if err := ch.SendText("hello"); err != nil {
			t.Errorf("SendText: %v", err)
		}
		if err := ch.SendBytes([]byte{1, 2, 3}); err != nil {
			t.Errorf("SendBytes: %v", err)
		}
	})
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn := dial(t, wsURL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgType, payload, err := conn.Read(ctx)
	if err != nil || msgType != websocket.MessageText || string(payload) != "hello" {
		t.Fatalf("got (%v, %q, %v)", msgType, payload, err)
	}

	msgType, payload, err = conn.Read(ctx)
	if err != nil || msgType != websocket.MessageBinary || len(payload) != 3 {
		t.Fatalf("got (%v, %v, %v)", msgType, payload, err)
	}
	<-done
}

func TestReadFrameAndReadTextDemultiplex(t *testing.T) {
	var gotFrame []byte
	var gotText string
	var frameErr, textErr error
	done := make(chan struct{})

	srv := startEchoServer(t, func(ch *WebSocketChannel) {
		defer close(done)
		gotFrame, frameErr = ch.ReadFrame(context.Background(), time.Second)
		gotText, textErr = ch.ReadText(context.Background(), time.Second)
	})
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn := dial(t, wsURL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := context.Background()
	if err := conn.Write(ctx, websocket.MessageText, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{9, 9}); err != nil {
		t.Fatal(err)
	}

	<-done
	if frameErr != nil || len(gotFrame) != 2 {
		t.Fatalf("frame: %v, %v", gotFrame, frameErr)
	}
	if textErr != nil || gotText != "ping" {
		t.Fatalf("text: %q, %v", gotText, textErr)
	}
}

func TestReadFrameTimesOutWithoutData(t *testing.T) {
	var err error
	done := make(chan struct{})
	srv := startEchoServer(t, func(ch *WebSocketChannel) {
		defer close(done)
		_, err = ch.ReadFrame(context.Background(), 30*time.Millisecond)
	})
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn := dial(t, wsURL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	<-done
	if err != context.DeadlineExceeded {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
}

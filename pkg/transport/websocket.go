// Package transport implements the bidirectional client channel over
// github.com/coder/websocket, grounded on the teacher's
// pkg/providers/tts.LokutorTTS connection handling (mutex-guarded *Conn,
// message-type dispatch, conn reset to nil on write/read failure).
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// WebSocketChannel implements pkg/session.Channel over one accepted
// websocket connection. A single background pump goroutine owns the
// only conn.Read call (coder/websocket, like most ws libraries, requires
// reads be sequential) and demultiplexes frames onto two channels so the
// pipeline's ingest loop and heartbeat loop can each read their own
// message kind without contending over the wire.
type WebSocketChannel struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool

	frames chan []byte
	texts  chan string
	readErr chan error
}

// Accept upgrades r to a websocket connection, wraps it, and starts its
// read pump.
func Accept(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (*WebSocketChannel, error) {
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	c := newChannel(conn)
	go c.pump()
	return c, nil
}

func newChannel(conn *websocket.Conn) *WebSocketChannel {
	return &WebSocketChannel{
		conn:    conn,
		frames:  make(chan []byte, 32),
		texts:   make(chan string, 8),
		readErr: make(chan error, 1),
	}
}

// pump is the sole reader of conn; it runs until the connection errors,
// fanning binary frames into c.frames and text frames into c.texts.
func (c *WebSocketChannel) pump() {
	ctx := context.Background()
	for {
		msgType, payload, err := c.conn.Read(ctx)
		if err != nil {
			c.readErr <- err
			close(c.frames)
			close(c.texts)
			return
		}
		switch msgType {
		case websocket.MessageBinary:
			c.frames <- payload
		case websocket.MessageText:
			c.texts <- string(payload)
		}
	}
}

// SendText writes msg as a text frame.
func (c *WebSocketChannel) SendText(msg string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return fmt.Errorf("transport: channel closed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		return fmt.Errorf("transport: write text: %w", err)
	}
	return nil
}

// SendBytes writes data as a binary frame.
func (c *WebSocketChannel) SendBytes(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return fmt.Errorf("transport: channel closed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("transport: write bytes: %w", err)
	}
	return nil
}

// Close closes the underlying connection with a normal status, which
// unblocks the pump's in-flight Read and lets it exit.
func (c *WebSocketChannel) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// ReadFrame returns the next binary frame pumped from the connection, or
// an error if the read pump exits or timeout elapses first. Satisfies
// pkg/pipeline.FrameSource.
func (c *WebSocketChannel) ReadFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case payload, ok := <-c.frames:
		if !ok {
			return nil, c.pumpError()
		}
		return payload, nil
	case <-timer.C:
		return nil, context.DeadlineExceeded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReadText returns the next text frame pumped from the connection.
// Satisfies pkg/pipeline.TextSource.
func (c *WebSocketChannel) ReadText(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-c.texts:
		if !ok {
			return "", c.pumpError()
		}
		return msg, nil
	case <-timer.C:
		return "", context.DeadlineExceeded
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *WebSocketChannel) pumpError() error {
	select {
	case err := <-c.readErr:
		return err
	default:
		return fmt.Errorf("transport: connection closed")
	}
}

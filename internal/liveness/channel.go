package liveness

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// maxFrame caps a single control message. A start message carries a config
// overlay, so this is larger than a heartbeat needs.
const maxFrame = 1 << 20

// Channel is a bidirectional message link to the supervising process.
// Send may be called concurrently with Receive.
type Channel interface {
	Send(Message) error
	Receive() (Message, error)
	Close() error
}

// StreamChannel exchanges newline-delimited JSON over a byte stream, such as
// an inherited pipe.
type StreamChannel struct {
	scanner *bufio.Scanner
	closer  io.Closer

	mu sync.Mutex
	w  io.Writer
}

// NewStreamChannel reads frames from r and writes frames to w.
func NewStreamChannel(r io.Reader, w io.Writer) *StreamChannel {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxFrame)

	ch := &StreamChannel{scanner: sc, w: w}
	if c, ok := r.(io.Closer); ok {
		ch.closer = c
	}
	return ch
}

// OpenFD wraps an inherited file descriptor as a stream channel.
func OpenFD(fd int) (*StreamChannel, error) {
	f := os.NewFile(uintptr(fd), fmt.Sprintf("liveness-fd-%d", fd))
	if f == nil {
		return nil, fmt.Errorf("liveness: invalid fd %d", fd)
	}
	if _, err := f.Stat(); err != nil {
		return nil, fmt.Errorf("liveness: fd %d: %w", fd, err)
	}
	return NewStreamChannel(f, f), nil
}

func (s *StreamChannel) Send(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.w.Write(append(data, '\n'))
	return err
}

func (s *StreamChannel) Receive() (Message, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return Decode(line)
	}
	if err := s.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

func (s *StreamChannel) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// WebSocketChannel carries control messages as text frames over a
// websocket connection to a supervisor.
type WebSocketChannel struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// DialWebSocket connects to a supervisor endpoint.
func DialWebSocket(ctx context.Context, url string, header http.Header) (*WebSocketChannel, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("liveness: dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxFrame)
	return &WebSocketChannel{conn: conn}, nil
}

// NewWebSocketChannel wraps an established connection.
func NewWebSocketChannel(conn *websocket.Conn) *WebSocketChannel {
	conn.SetReadLimit(maxFrame)
	return &WebSocketChannel{conn: conn}
}

func (w *WebSocketChannel) Send(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebSocketChannel) Receive() (Message, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Message{}, io.EOF
			}
			return Message{}, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		return Decode(data)
	}
}

func (w *WebSocketChannel) Close() error {
	w.mu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.mu.Unlock()
	return w.conn.Close()
}

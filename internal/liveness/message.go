package liveness

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
)

// Type identifies a control message.
type Type string

const (
	TypeStart    Type = "start"
	TypePing     Type = "ping"
	TypePong     Type = "pong"
	TypeReload   Type = "reload"
	TypeExit     Type = "exit"
	TypeShutdown Type = "shutdown"
)

// ErrMalformed is returned for frames that are neither an object nor the
// bare "shutdown" string.
var ErrMalformed = errors.New("malformed control message")

// Message is one frame on the control channel. ID is kept raw so a pong
// echoes whatever the peer put in its ping.
type Message struct {
	Type   Type            `json:"type"`
	ID     json.RawMessage `json:"id,omitempty"`
	Paths  json.RawMessage `json:"paths,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Ping builds an outgoing ping with a numeric id.
func Ping(n int64) Message {
	return Message{Type: TypePing, ID: json.RawMessage(strconv.FormatInt(n, 10))}
}

// Pong answers ping with the same id.
func Pong(ping Message) Message {
	return Message{Type: TypePong, ID: ping.ID}
}

// Key returns the id in a form usable for matching pongs to pings.
func (m Message) Key() string {
	return string(bytes.TrimSpace(m.ID))
}

// Decode parses one frame. The bare JSON string "shutdown" decodes to a
// message of TypeShutdown.
func Decode(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Message{}, ErrMalformed
	}

	if data[0] == '"' {
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if Type(s) != TypeShutdown {
			return Message{}, fmt.Errorf("%w: unexpected string %q", ErrMalformed, s)
		}
		return Message{Type: TypeShutdown}, nil
	}

	var m Message
	if err := sonic.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

// Encode serializes m. A shutdown message is written as the bare string.
func Encode(m Message) ([]byte, error) {
	if m.Type == TypeShutdown {
		return sonic.Marshal(string(TypeShutdown))
	}
	return sonic.Marshal(m)
}

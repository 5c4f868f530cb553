package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/i474232898/live-weather-tracker/internal/common"
)

// Engine.IO v4 packet types.
const (
	eioOpen    byte = '0'
	eioClose   byte = '1'
	eioPing    byte = '2'
	eioPong    byte = '3'
	eioMessage byte = '4'
	eioUpgrade byte = '5'
	eioNoop    byte = '6'
)

// Socket.IO v5 packet types, carried inside an Engine.IO message.
const (
	sioConnect      byte = '0'
	sioDisconnect   byte = '1'
	sioEvent        byte = '2'
	sioAck          byte = '3'
	sioConnectError byte = '4'
	sioBinaryEvent  byte = '5'
	sioBinaryAck    byte = '6'
)

var errEmptyPacket = errors.New("empty packet")

// handshake is the body of the Engine.IO open packet.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"` // ms
	PingTimeout  int    `json:"pingTimeout"`  // ms
	MaxPayload   int    `json:"maxPayload"`
}

func (h handshake) liveness() time.Duration {
	d := time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
	if d <= 0 {
		return defaultLiveness
	}
	return d
}

// packet is one decoded websocket frame.
type packet struct {
	eio byte

	// set for eioMessage only
	sio       byte
	namespace string
	ackID     *int64
	data      json.RawMessage
}

// decodePacket parses a single Engine.IO text frame.
func decodePacket(frame []byte) (packet, error) {
	if len(frame) == 0 {
		return packet{}, fmt.Errorf("%w: %w", common.ErrParse, errEmptyPacket)
	}

	p := packet{eio: frame[0]}
	switch p.eio {
	case eioOpen, eioClose, eioPing, eioPong, eioUpgrade, eioNoop:
		p.data = json.RawMessage(frame[1:])
		return p, nil
	case eioMessage:
	default:
		return packet{}, fmt.Errorf("%w: unknown engine.io packet type %q", common.ErrParse, p.eio)
	}

	rest := frame[1:]
	if len(rest) == 0 {
		return packet{}, fmt.Errorf("%w: message packet without socket.io type", common.ErrParse)
	}
	p.sio = rest[0]
	if p.sio < sioConnect || p.sio > sioBinaryAck {
		return packet{}, fmt.Errorf("%w: unknown socket.io packet type %q", common.ErrParse, p.sio)
	}
	rest = rest[1:]

	// binary packets prefix the attachment count: "5<n>-"
	if p.sio == sioBinaryEvent || p.sio == sioBinaryAck {
		i := 0
		for i < len(rest) && rest[i] != '-' {
			i++
		}
		if i == len(rest) {
			return packet{}, fmt.Errorf("%w: binary packet without attachment count", common.ErrParse)
		}
		rest = rest[i+1:]
	}

	p.namespace = "/"
	if len(rest) > 0 && rest[0] == '/' {
		i := 0
		for i < len(rest) && rest[i] != ',' {
			i++
		}
		p.namespace = string(rest[:i])
		if i < len(rest) {
			i++
		}
		rest = rest[i:]
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		var id int64
		for _, c := range rest[:i] {
			id = id*10 + int64(c-'0')
		}
		p.ackID = &id
		rest = rest[i:]
	}

	p.data = json.RawMessage(rest)
	return p, nil
}

// event splits an event packet's data into its name and first argument.
// An event without arguments yields a JSON null payload.
func (p packet) event() (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(p.data, &args); err != nil {
		return "", nil, fmt.Errorf("%w: event body: %v", common.ErrParse, err)
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("%w: event without a name", common.ErrParse)
	}

	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: event name: %v", common.ErrParse, err)
	}
	if len(args) == 1 {
		return name, json.RawMessage("null"), nil
	}
	return name, args[1], nil
}

// encodeConnect is the namespace connect request sent after the handshake.
func encodeConnect(namespace string) []byte {
	if namespace == "" || namespace == "/" {
		return []byte{eioMessage, sioConnect}
	}
	return []byte(string([]byte{eioMessage, sioConnect}) + namespace + ",")
}

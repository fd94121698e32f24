// Package protocol defines the messages exchanged between the supervisor
// and the reload monitor running inside the worker process.
//
// Messages travel as newline-delimited JSON objects over a dedicated
// channel, e.g. {"type":"LOADED"}. Lines that cannot be decoded, or that
// carry an unknown type, decode to an Ignored message.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"
)

const (
	// ExitReloadFailed is the exit status used by the monitor when it
	// terminates the worker because a reload could not be applied.
	ExitReloadFailed = 222

	// EnvChannelFD names the file descriptor of the message channel
	// inherited by the worker process.
	EnvChannelFD = "HOTSWAP_CHANNEL_FD"

	// EnvReloadSignal names the signal the supervisor sends to request
	// a reload, if signal based reloads are configured.
	EnvReloadSignal = "HOTSWAP_RELOAD_SIGNAL"

	// ChannelFD is the descriptor number the channel is passed on.
	ChannelFD = 3
)

type Kind int

const (
	Ignored Kind = iota
	Loaded
	ReloadRequest
	ReloadAck
	ReloadFail
)

var kindNames = map[Kind]string{
	Loaded:        "LOADED",
	ReloadRequest: "HMR_REQUEST",
	ReloadAck:     "HMR_ACK",
	ReloadFail:    "HMR_FAIL",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return "IGNORED"
}

// ParseKind maps a wire tag to its kind. Unknown tags map to Ignored.
func ParseKind(tag string) Kind {
	for kind, name := range kindNames {
		if name == tag {
			return kind
		}
	}

	return Ignored
}

// Message is a single payload on the channel.
type Message struct {
	Kind Kind

	// Raw holds the undecoded line for ignored messages
	Raw string
}

type wireMessage struct {
	Type string `json:"type"`
}

// Encoder writes messages to the channel. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Encode(kind Kind) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return json.NewEncoder(e.w).Encode(wireMessage{Type: kind.String()})
}

// Decoder reads messages from the channel.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode returns the next message. It returns io.EOF once the channel
// has been closed by the other side.
func (d *Decoder) Decode() (Message, error) {
	for {
		line, err := d.r.ReadBytes('\n')

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return decodeLine(line), nil
		}

		if err != nil {
			return Message{}, err
		}
	}
}

func decodeLine(line []byte) Message {
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{Kind: Ignored, Raw: string(line)}
	}

	kind := ParseKind(msg.Type)
	if kind == Ignored {
		return Message{Kind: Ignored, Raw: string(line)}
	}

	return Message{Kind: kind}
}

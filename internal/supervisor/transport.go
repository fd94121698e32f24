package supervisor

import (
	"syscall"

	"github.com/lambda-feedback/hotswap/internal/protocol"
)

// ReloadTransport delivers a reload request to a live worker.
type ReloadTransport interface {
	// Request asks the worker to reload. It reports whether delivery
	// alone completes the session, without a reply from the worker.
	Request(Process) (bool, error)
}

// SignalTransport sends an OS signal. The monitor applies the update
// out of band, there is no reply.
type SignalTransport struct {
	Signal syscall.Signal
}

func (t SignalTransport) Request(p Process) (bool, error) {
	if err := p.Signal(t.Signal); err != nil {
		return false, err
	}

	return true, nil
}

// MessageTransport sends a reload request over the message channel.
// The session stays open until the worker acknowledges or rejects it.
type MessageTransport struct{}

func (MessageTransport) Request(p Process) (bool, error) {
	return false, p.Send(protocol.ReloadRequest)
}

func newTransport(mode ReloadMode, signal syscall.Signal) ReloadTransport {
	switch mode {
	case ReloadSignal:
		return SignalTransport{Signal: signal}
	case ReloadMessage:
		return MessageTransport{}
	default:
		return nil
	}
}

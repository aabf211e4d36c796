package netconf

import "fmt"

type EventType int

const (
	DeviceReply EventType = iota + 1
	DeviceError
	DeviceUnregistered
)

func (t EventType) String() string {
	switch t {
	case DeviceReply:
		return "DEVICE_REPLY"
	case DeviceError:
		return "DEVICE_ERROR"
	case DeviceUnregistered:
		return "DEVICE_UNREGISTERED"
	default:
		return fmt.Sprintf("EVENT_%d", int(t))
	}
}

// Event is one session outcome. Payload is empty unless Type is DeviceReply.
type Event struct {
	Type    EventType
	Device  DeviceInfo
	Payload string
}

// Listener receives events on the reader goroutine, in parse order.
// Implementations must not block for long.
type Listener interface {
	Accept(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) Accept(evt Event) {
	f(evt)
}

type nopListener struct{}

func (nopListener) Accept(Event) {}

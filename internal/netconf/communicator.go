package netconf

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/nccomm/internal/observability"
	"github.com/danmuck/nccomm/internal/protocol/frame"
	"github.com/danmuck/nccomm/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrDeviceUnregistered  = errors.New("netconf: device unregistered")
	ErrIncompleteMessage   = errors.New("netconf: stream ended inside a message")
	ErrCommunicatorStopped = errors.New("netconf: communicator stopped")
)

// Flusher is implemented by writers that buffer, such as *bufio.Writer.
type Flusher interface {
	Flush() error
}

// Communicator reads framed messages from in and writes framed requests to
// out. It never closes either stream.
type Communicator struct {
	in       io.Reader
	out      io.Writer
	device   DeviceInfo
	listener Listener
	replies  *session.PendingReplies
	cfg      session.Config
	label    string
	logger   zerolog.Logger

	writeMu sync.Mutex
	framing atomic.Int32

	done    chan struct{}
	errMu   sync.Mutex
	err     error
	stopped bool
}

// NewCommunicator starts the reader goroutine immediately. A nil replies
// table gets a private one; a nil listener drops events.
func NewCommunicator(in io.Reader, out io.Writer, device DeviceInfo, listener Listener, replies *session.PendingReplies, cfg session.Config) *Communicator {
	cfg = cfg.WithDefaults()
	if listener == nil {
		listener = nopListener{}
	}
	if replies == nil {
		replies = session.NewPendingReplies()
	}
	label := device.HostPort()
	c := &Communicator{
		in:       in,
		out:      out,
		device:   device,
		listener: listener,
		replies:  replies,
		cfg:      cfg,
		label:    label,
		logger:   log.With().Str("device", label).Logger(),
		done:     make(chan struct{}),
	}
	c.framing.Store(int32(cfg.Framing))
	go c.readLoop()
	return c
}

func (c *Communicator) Device() DeviceInfo {
	return c.device
}

func (c *Communicator) Replies() *session.PendingReplies {
	return c.replies
}

// Join blocks until the reader goroutine has returned.
func (c *Communicator) Join() {
	<-c.done
}

func (c *Communicator) Done() <-chan struct{} {
	return c.done
}

// Err reports why the reader stopped. It is nil while running and after a
// single-shot reply.
func (c *Communicator) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// SetFraming selects the framing used by later writes. Inbound framing is
// detected per message.
func (c *Communicator) SetFraming(f frame.Framing) {
	c.framing.Store(int32(f))
	c.logger.Debug().Str("framing", f.String()).Msg("outbound framing set")
}

func (c *Communicator) Framing() frame.Framing {
	return frame.Framing(c.framing.Load())
}

// SendMessage registers a reply slot for messageID, then writes the framed
// payload once and flushes once. A failed write is not flushed.
func (c *Communicator) SendMessage(payload, messageID string) *Call {
	call := &Call{MessageID: messageID}
	pending, err := c.replies.Register(messageID)
	if err != nil {
		c.logger.Warn().Err(err).Str("message_id", messageID).Msg("request rejected")
		call.err = err
		return call
	}
	call.pending = pending

	if err := c.writeFramed(payload); err != nil {
		c.replies.Fail(messageID, err)
		c.logger.Error().Err(err).Str("message_id", messageID).Msg("request write failed")
		call.err = err
		return call
	}
	c.logger.Debug().
		Str("message_id", messageID).
		Str("framing", c.Framing().String()).
		Int("bytes", len(payload)).
		Msg("request written")
	return call
}

// Send writes a framed payload without registering a reply slot. It is
// used for messages that carry no message-id, such as <hello>.
func (c *Communicator) Send(payload string) error {
	if err := c.writeFramed(payload); err != nil {
		c.logger.Error().Err(err).Msg("write failed")
		return err
	}
	return nil
}

func (c *Communicator) writeFramed(payload string) error {
	wire, err := frame.Encode(c.Framing(), []byte(payload), c.cfg.WriteChunkSize)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.out.Write(wire)
	if err == nil {
		if f, ok := c.out.(Flusher); ok {
			err = f.Flush()
		}
	}
	observability.RecordWrite(c.label, err)
	return err
}

func (c *Communicator) readLoop() {
	defer close(c.done)
	decoder := frame.NewDecoder(c.cfg.Limits)
	buf := make([]byte, c.cfg.ReadBufferSize)
	empty := 0

	c.logger.Debug().Int("buffer", len(buf)).Bool("single_shot", c.cfg.SingleShot).Msg("reader started")
	for {
		n, err := c.in.Read(buf)
		if n > 0 {
			empty = 0
			observability.RecordBytesRead(c.label, n)
			if c.handle(decoder.Feed(buf[:n])) {
				return
			}
		}
		if err != nil {
			c.readFailed(decoder, err)
			return
		}
		if n == 0 {
			empty++
			if empty >= session.MaxEmptyReads {
				c.stop(io.ErrNoProgress)
				c.dispatch(Event{Type: DeviceError, Device: c.device})
				return
			}
		}
	}
}

func (c *Communicator) readFailed(decoder *frame.Decoder, err error) {
	if !errors.Is(err, io.EOF) {
		c.stop(err)
		c.dispatch(Event{Type: DeviceError, Device: c.device})
		return
	}
	if decoder.Pending() {
		c.stop(fmt.Errorf("%w: %d bytes buffered", ErrIncompleteMessage, decoder.Buffered()))
		c.dispatch(Event{Type: DeviceError, Device: c.device})
		return
	}
	c.stop(ErrDeviceUnregistered)
	c.dispatch(Event{Type: DeviceUnregistered, Device: c.device})
}

// handle processes decoder results in order and reports whether the loop
// must stop.
func (c *Communicator) handle(results []frame.Result) bool {
	for _, res := range results {
		switch res.Kind {
		case frame.ResultMessage:
			c.deliver(res)
			if c.cfg.SingleShot {
				c.stop(nil)
				return true
			}
		case frame.ResultEndOfSession:
			c.stop(ErrDeviceUnregistered)
			c.dispatch(Event{Type: DeviceUnregistered, Device: c.device})
			return true
		case frame.ResultError:
			observability.RecordDecodeError(c.label, res.Framing.String())
			c.logger.Warn().Err(res.Err).Str("framing", res.Framing.String()).Msg("framing error")
			if c.cfg.SingleShot {
				c.stop(res.Err)
			}
			c.dispatch(Event{Type: DeviceError, Device: c.device})
			if c.cfg.SingleShot {
				return true
			}
		}
	}
	return false
}

func (c *Communicator) deliver(res frame.Result) {
	payload := string(res.Payload)
	if id, ok := ExtractMessageID(payload); ok {
		var waited time.Duration
		if p, found := c.replies.Get(id); found {
			waited = time.Since(p.QueuedAt)
		}
		matched := c.replies.Resolve(id, payload)
		observability.RecordCorrelation(c.label, matched, waited)
		if matched {
			c.logger.Debug().Str("message_id", id).Dur("waited", waited).Msg("reply correlated")
		} else {
			c.logger.Debug().Str("message_id", id).Msg("reply without pending request")
		}
	}
	c.dispatch(Event{Type: DeviceReply, Device: c.device, Payload: payload})
}

func (c *Communicator) dispatch(evt Event) {
	observability.RecordEvent(c.label, evt.Type.String())
	switch evt.Type {
	case DeviceReply:
		c.logger.Debug().Str("event", evt.Type.String()).Int("bytes", len(evt.Payload)).Msg("dispatch")
	default:
		c.logger.Info().Str("event", evt.Type.String()).AnErr("cause", c.Err()).Msg("dispatch")
	}
	c.listener.Accept(evt)
}

func (c *Communicator) stop(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	c.err = err
}

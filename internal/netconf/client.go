package netconf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/nccomm/internal/protocol/frame"
	"github.com/danmuck/nccomm/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrHelloTimeout = errors.New("netconf: hello timeout")
	ErrReplyTimeout = errors.New("netconf: reply timeout")
)

// Client drives a NETCONF session on top of a Communicator: hello
// exchange, framing negotiation, message-id allocation and reply deadlines.
type Client struct {
	tag      string
	device   DeviceInfo
	cfg      session.Config
	replies  *session.PendingReplies
	comm     *Communicator
	listener Listener
	logger   zerolog.Logger

	nextID  atomic.Uint64
	helloCh chan string

	mu     sync.RWMutex
	server Hello
}

// NewClient starts a continuing communicator over in/out with a private
// pending table. listener may be nil.
func NewClient(in io.Reader, out io.Writer, device DeviceInfo, cfg session.Config, listener Listener) *Client {
	cfg = cfg.WithDefaults()
	cfg.SingleShot = false
	tag := uuid.NewString()
	c := &Client{
		tag:      tag,
		device:   device,
		cfg:      cfg,
		replies:  session.NewPendingReplies(),
		listener: listener,
		logger:   log.With().Str("device", device.HostPort()).Str("session", tag).Logger(),
		helloCh:  make(chan string, 1),
	}
	c.comm = NewCommunicator(in, out, device, ListenerFunc(c.accept), c.replies, cfg)
	go c.failPendingOnStop()
	go c.sweepExpired()
	return c
}

func (c *Client) Tag() string {
	return c.tag
}

func (c *Client) Communicator() *Communicator {
	return c.comm
}

func (c *Client) Replies() *session.PendingReplies {
	return c.replies
}

// ServerHello returns the peer hello once Hello has succeeded.
func (c *Client) ServerHello() Hello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

// Wait blocks until the underlying reader stops and returns its cause.
func (c *Client) Wait() error {
	c.comm.Join()
	return c.comm.Err()
}

func (c *Client) accept(evt Event) {
	if evt.Type == DeviceReply && isHello(evt.Payload) {
		select {
		case c.helloCh <- evt.Payload:
		default:
			c.logger.Warn().Msg("extra hello ignored")
		}
	}
	if c.listener != nil {
		c.listener.Accept(evt)
	}
}

func (c *Client) stoppedErr() error {
	cause := c.comm.Err()
	if cause == nil {
		return ErrCommunicatorStopped
	}
	return fmt.Errorf("%w: %w", ErrCommunicatorStopped, cause)
}

func (c *Client) failPendingOnStop() {
	c.comm.Join()
	err := c.stoppedErr()
	if n := c.replies.FailAll(err); n > 0 {
		c.logger.Warn().Int("pending", n).Err(err).Msg("pending requests failed")
	}
}

// sweepExpired fails requests left uncollected for twice ReplyTimeout, such
// as those sent directly through Communicator().SendMessage.
func (c *Client) sweepExpired() {
	ticker := time.NewTicker(c.cfg.ReplyTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-c.comm.Done():
			return
		case now := <-ticker.C:
			if n := c.replies.Expire(now.Add(-2 * c.cfg.ReplyTimeout)); n > 0 {
				c.logger.Warn().Int("expired", n).Msg("stale pending requests expired")
			}
		}
	}
}

// Hello sends the client hello and waits for the server hello. Framing
// switches to chunked when both peers advertise base:1.1.
func (c *Client) Hello(ctx context.Context, capabilities ...string) (Hello, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HelloTimeout)
	defer cancel()

	payload, err := BuildHello(capabilities...)
	if err != nil {
		return Hello{}, err
	}
	local, err := ParseHello(payload)
	if err != nil {
		return Hello{}, err
	}
	if err := c.comm.Send(payload); err != nil {
		return Hello{}, fmt.Errorf("send hello: %w", err)
	}

	var raw string
	select {
	case raw = <-c.helloCh:
	case <-c.comm.Done():
		select {
		case raw = <-c.helloCh:
		default:
			return Hello{}, c.stoppedErr()
		}
	case <-ctx.Done():
		return Hello{}, fmt.Errorf("%w: %v", ErrHelloTimeout, ctx.Err())
	}

	server, err := ParseHello(raw)
	if err != nil {
		return Hello{}, err
	}
	c.mu.Lock()
	c.server = server
	c.mu.Unlock()

	if server.Supports(CapabilityBase11) && local.Supports(CapabilityBase11) {
		c.comm.SetFraming(frame.FramingChunked)
	}
	c.logger.Info().
		Str("session_id", server.SessionID).
		Int("capabilities", len(server.Capabilities)).
		Str("framing", c.comm.Framing().String()).
		Msg("hello exchanged")
	return server, nil
}

// Call sends operation inside an <rpc> and waits for the correlated reply.
// A reply carrying an rpc-error of severity error is returned together with
// an *RPCError.
func (c *Client) Call(ctx context.Context, operation string) (string, error) {
	select {
	case <-c.comm.Done():
		return "", c.stoppedErr()
	default:
	}
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	call := c.comm.SendMessage(BuildRPC(id, operation), id)
	if call.Failed() {
		return "", call.Err()
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReplyTimeout)
	defer cancel()
	reply, err := call.Wait(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.replies.Remove(id)
			c.logger.Warn().Str("message_id", id).Err(ctxErr).Msg("reply wait abandoned")
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: message-id=%s", ErrReplyTimeout, id)
			}
			return "", ctxErr
		}
		return "", err
	}

	parsed, perr := ParseReply(reply)
	if perr != nil {
		c.logger.Debug().Str("message_id", id).Err(perr).Msg("reply envelope not parsed")
		return reply, nil
	}
	if rpcErr := parsed.Err(); rpcErr != nil {
		return reply, rpcErr
	}
	return reply, nil
}

// CloseSession asks the device to end the session.
func (c *Client) CloseSession(ctx context.Context) error {
	_, err := c.Call(ctx, "<close-session/>")
	return err
}

package netconf

import (
	"context"

	"github.com/danmuck/nccomm/internal/protocol/session"
)

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Call is the handle returned by SendMessage. A Call that failed to write
// is already complete.
type Call struct {
	MessageID string

	err     error
	pending *session.PendingReply
}

// Err returns the registration or write error, if any.
func (c *Call) Err() error {
	return c.err
}

func (c *Call) Failed() bool {
	return c.err != nil
}

// Done is closed when the reply arrives or the slot fails.
func (c *Call) Done() <-chan struct{} {
	if c.err != nil || c.pending == nil {
		return closedChan
	}
	return c.pending.Done()
}

// Wait returns the correlated reply payload.
func (c *Call) Wait(ctx context.Context) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.pending.Wait(ctx)
}

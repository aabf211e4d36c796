package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrDuplicateMessageID = errors.New("session: message-id already pending")
	ErrMissingMessageID   = errors.New("session: message-id required")
	ErrReplyExpired       = errors.New("session: pending reply expired")
	ErrReplyRemoved       = errors.New("session: pending reply removed")
)

// PendingReply is a single-resolution slot for one outstanding request.
type PendingReply struct {
	MessageID string
	QueuedAt  time.Time

	once  sync.Once
	done  chan struct{}
	reply string
	err   error
}

func newPendingReply(messageID string, at time.Time) *PendingReply {
	return &PendingReply{
		MessageID: messageID,
		QueuedAt:  at,
		done:      make(chan struct{}),
	}
}

// Done is closed once the slot is resolved or failed.
func (p *PendingReply) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome without blocking; done is false while pending.
func (p *PendingReply) Result() (reply string, done bool, err error) {
	select {
	case <-p.done:
		return p.reply, true, p.err
	default:
		return "", false, nil
	}
}

// Wait blocks until the slot completes or ctx ends. A ctx timeout does not
// withdraw the slot from its table.
func (p *PendingReply) Wait(ctx context.Context) (string, error) {
	select {
	case <-p.done:
		return p.reply, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *PendingReply) complete(reply string, err error) bool {
	completed := false
	p.once.Do(func() {
		p.reply = reply
		p.err = err
		close(p.done)
		completed = true
	})
	return completed
}

// PendingSnapshot is a read-only view of one table entry.
type PendingSnapshot struct {
	MessageID string    `json:"message_id"`
	QueuedAt  time.Time `json:"queued_at"`
}

// PendingReplies maps message-id to its unresolved reply slot.
type PendingReplies struct {
	mu    sync.RWMutex
	items map[string]*PendingReply
	now   func() time.Time
}

func NewPendingReplies() *PendingReplies {
	return &PendingReplies{
		items: make(map[string]*PendingReply),
		now:   time.Now,
	}
}

// Register inserts a new slot for messageID.
func (t *PendingReplies) Register(messageID string) (*PendingReply, error) {
	key := strings.TrimSpace(messageID)
	if key == "" {
		return nil, ErrMissingMessageID
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.items[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateMessageID, key)
	}
	p := newPendingReply(key, t.now())
	t.items[key] = p
	return p, nil
}

// Resolve completes the slot with reply and removes it. It returns false
// when no slot is pending for messageID.
func (t *PendingReplies) Resolve(messageID, reply string) bool {
	p, ok := t.take(messageID)
	if !ok {
		return false
	}
	return p.complete(reply, nil)
}

// Fail completes the slot with err and removes it.
func (t *PendingReplies) Fail(messageID string, err error) bool {
	p, ok := t.take(messageID)
	if !ok {
		return false
	}
	return p.complete("", err)
}

// Remove drops the slot and fails any waiter with ErrReplyRemoved.
func (t *PendingReplies) Remove(messageID string) {
	if p, ok := t.take(messageID); ok {
		p.complete("", ErrReplyRemoved)
	}
}

func (t *PendingReplies) Get(messageID string) (*PendingReply, bool) {
	key := strings.TrimSpace(messageID)
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.items[key]
	return p, ok
}

func (t *PendingReplies) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Expire fails and removes every slot queued before cutoff.
func (t *PendingReplies) Expire(cutoff time.Time) int {
	t.mu.Lock()
	stale := make([]*PendingReply, 0)
	for key, p := range t.items {
		if p.QueuedAt.Before(cutoff) {
			stale = append(stale, p)
			delete(t.items, key)
		}
	}
	t.mu.Unlock()
	for _, p := range stale {
		p.complete("", fmt.Errorf("%w: %s", ErrReplyExpired, p.MessageID))
	}
	return len(stale)
}

// FailAll completes every pending slot with err.
func (t *PendingReplies) FailAll(err error) int {
	t.mu.Lock()
	items := t.items
	t.items = make(map[string]*PendingReply)
	t.mu.Unlock()
	for _, p := range items {
		p.complete("", err)
	}
	return len(items)
}

func (t *PendingReplies) List() []PendingSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PendingSnapshot, 0, len(t.items))
	for _, p := range t.items {
		out = append(out, PendingSnapshot{MessageID: p.MessageID, QueuedAt: p.QueuedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MessageID < out[j].MessageID
	})
	return out
}

func (t *PendingReplies) take(messageID string) (*PendingReply, bool) {
	key := strings.TrimSpace(messageID)
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[key]
	if ok {
		delete(t.items, key)
	}
	return p, ok
}

package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/nccomm/internal/testutil/testlog"
)

func TestBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := cfg.Delay(1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := cfg.Delay(2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := cfg.Delay(3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := cfg.Delay(6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := cfg.Delay(2, rng)
	if got < 250*time.Millisecond || got > 750*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
	for i := 0; i < 50; i++ {
		if d := cfg.Delay(10, rng); d > cfg.MaxDelay {
			t.Fatalf("jittered delay %v exceeds max %v", d, cfg.MaxDelay)
		}
	}
}

func TestPendingRepliesResolveOnce(t *testing.T) {
	testlog.Start(t)
	table := NewPendingReplies()
	p, err := table.Register("101")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, done, _ := p.Result(); done {
		t.Fatalf("slot should start pending")
	}
	if !table.Resolve("101", "<ok/>") {
		t.Fatalf("first resolve should succeed")
	}
	if table.Resolve("101", "<late/>") {
		t.Fatalf("second resolve must be a no-op")
	}
	reply, done, err := p.Result()
	if !done || err != nil || reply != "<ok/>" {
		t.Fatalf("unexpected result reply=%q done=%v err=%v", reply, done, err)
	}
	if table.Len() != 0 {
		t.Fatalf("resolved slot should be removed, len=%d", table.Len())
	}
}

func TestPendingRepliesDuplicateRegister(t *testing.T) {
	testlog.Start(t)
	table := NewPendingReplies()
	if _, err := table.Register("7"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := table.Register(" 7 "); !errors.Is(err, ErrDuplicateMessageID) {
		t.Fatalf("expected ErrDuplicateMessageID, got %v", err)
	}
	if _, err := table.Register(""); !errors.Is(err, ErrMissingMessageID) {
		t.Fatalf("expected ErrMissingMessageID, got %v", err)
	}
	table.Resolve("7", "")
	if _, err := table.Register("7"); err != nil {
		t.Fatalf("id should be reusable after resolution: %v", err)
	}
}

func TestPendingReplyWaitHonorsContext(t *testing.T) {
	testlog.Start(t)
	table := NewPendingReplies()
	p, _ := table.Register("9")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if _, ok := table.Get("9"); !ok {
		t.Fatalf("timed out wait must not withdraw the slot")
	}
	table.Remove("9")
	if _, err := p.Wait(context.Background()); !errors.Is(err, ErrReplyRemoved) {
		t.Fatalf("expected ErrReplyRemoved, got %v", err)
	}
}

func TestPendingRepliesExpire(t *testing.T) {
	testlog.Start(t)
	table := NewPendingReplies()
	base := time.Unix(1700000000, 0)
	table.now = func() time.Time { return base }
	old, _ := table.Register("1")
	table.now = func() time.Time { return base.Add(time.Minute) }
	if _, err := table.Register("2"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if n := table.Expire(base.Add(30 * time.Second)); n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	if _, err := old.Wait(context.Background()); !errors.Is(err, ErrReplyExpired) {
		t.Fatalf("expected ErrReplyExpired, got %v", err)
	}
	list := table.List()
	if len(list) != 1 || list[0].MessageID != "2" {
		t.Fatalf("unexpected list after expire: %+v", list)
	}
}

func TestPendingRepliesConcurrentRegisterResolve(t *testing.T) {
	testlog.Start(t)
	table := NewPendingReplies()
	const n = 64
	slots := make([]*PendingReply, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := table.Register(idFor(i))
			if err != nil {
				t.Errorf("register %d: %v", i, err)
				return
			}
			slots[i] = p
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if !table.Resolve(idFor(i), idFor(i)) {
			t.Fatalf("resolve %d failed", i)
		}
	}
	for i, p := range slots {
		reply, err := p.Wait(context.Background())
		if err != nil || reply != idFor(i) {
			t.Fatalf("slot %d reply=%q err=%v", i, reply, err)
		}
	}
}

func TestFailAll(t *testing.T) {
	testlog.Start(t)
	table := NewPendingReplies()
	a, _ := table.Register("a")
	b, _ := table.Register("b")
	boom := errors.New("boom")
	if n := table.FailAll(boom); n != 2 {
		t.Fatalf("expected 2 failed, got %d", n)
	}
	for _, p := range []*PendingReply{a, b} {
		if _, err := p.Wait(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}
}

func TestValidateClientTransportHostKeyPolicy(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrHostKeyPolicyRequired) {
		t.Fatalf("expected ErrHostKeyPolicyRequired, got %v", err)
	}
	cfg.KnownHostsFile = "/tmp/known_hosts"
	cfg.InsecureIgnoreHostKey = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrHostKeyPolicyConflict) {
		t.Fatalf("expected ErrHostKeyPolicyConflict, got %v", err)
	}
	cfg.InsecureIgnoreHostKey = false
	if err := cfg.ValidateClientTransport(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	testlog.Start(t)
	cfg := Config{SingleShot: true}.WithDefaults()
	def := DefaultConfig()
	if cfg.ReadBufferSize != def.ReadBufferSize || cfg.ReplyTimeout != def.ReplyTimeout {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if !cfg.SingleShot {
		t.Fatalf("explicit fields must survive WithDefaults")
	}
	if err := cfg.ValidateCommunicator(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func idFor(i int) string {
	return "msg-" + string(rune('A'+i%26)) + string(rune('a'+i/26))
}

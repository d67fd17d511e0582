package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"aide/internal/domain"
)

type fakeAdapter struct {
	name       string
	configured bool
	sendErr    error
	startErr   error
	sent       []string
	started    atomic.Bool
}

func (f *fakeAdapter) Name() string     { return f.name }
func (f *fakeAdapter) Configured() bool { return f.configured }
func (f *fakeAdapter) Stop() error      { return nil }

func (f *fakeAdapter) Start(ctx context.Context, _ domain.MessageBus) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started.Store(true)
	<-ctx.Done()
	return nil
}

func (f *fakeAdapter) Send(_ context.Context, recipient, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, recipient+": "+text)
	return nil
}

func TestSendToChannelUnknownFailsFast(t *testing.T) {
	r := NewRouter(nil, nil)

	err := r.SendToChannel(context.Background(), "carrier-pigeon", "u1", "hi")
	if !errors.Is(err, domain.ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestSendToChannelDelivers(t *testing.T) {
	a := &fakeAdapter{name: "telegram", configured: true}
	r := NewRouter([]string{"telegram"}, nil)
	if err := r.Register(a); err != nil {
		t.Fatal(err)
	}

	if err := r.SendToChannel(context.Background(), "telegram", "u1", "hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(a.sent) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(a.sent))
	}
}

func TestSendToPreferredFallsBackAndReportsChannel(t *testing.T) {
	preferred := &fakeAdapter{name: "telegram", configured: false}
	fallback := &fakeAdapter{name: "discord", configured: true}

	r := NewRouter([]string{"telegram", "discord"}, nil)
	for _, a := range []domain.Adapter{preferred, fallback} {
		if err := r.Register(a); err != nil {
			t.Fatal(err)
		}
	}

	delivery, err := r.SendToPreferred(context.Background(), "telegram", "u1", "ping")
	if err != nil {
		t.Fatalf("expected fallback delivery: %v", err)
	}
	if delivery.Channel != "discord" || !delivery.Fallback {
		t.Fatalf("expected fallback via discord, got %+v", delivery)
	}
	if len(fallback.sent) != 1 {
		t.Fatal("fallback adapter did not deliver")
	}
}

func TestSendToPreferredUsesPreferredFirst(t *testing.T) {
	preferred := &fakeAdapter{name: "telegram", configured: true}
	fallback := &fakeAdapter{name: "discord", configured: true}

	r := NewRouter([]string{"telegram", "discord"}, nil)
	r.Register(preferred)
	r.Register(fallback)

	delivery, err := r.SendToPreferred(context.Background(), "telegram", "u1", "ping")
	if err != nil {
		t.Fatal(err)
	}
	if delivery.Channel != "telegram" || delivery.Fallback {
		t.Fatalf("expected preferred delivery, got %+v", delivery)
	}
	if len(fallback.sent) != 0 {
		t.Fatal("fallback must not be used when preferred succeeds")
	}
}

func TestSendToPreferredNoChannelAvailable(t *testing.T) {
	a := &fakeAdapter{name: "telegram", configured: true, sendErr: fmt.Errorf("network down")}
	b := &fakeAdapter{name: "discord", configured: false}

	r := NewRouter([]string{"telegram", "discord"}, nil)
	r.Register(a)
	r.Register(b)

	_, err := r.SendToPreferred(context.Background(), "telegram", "u1", "ping")
	if !errors.Is(err, domain.ErrNoChannelAvailable) {
		t.Fatalf("expected ErrNoChannelAvailable, got %v", err)
	}
}

func TestStartAllIsolatesFailures(t *testing.T) {
	broken := &fakeAdapter{name: "telegram", configured: true, startErr: fmt.Errorf("bad token")}
	healthy := &fakeAdapter{name: "discord", configured: true}
	skipped := &fakeAdapter{name: "slack", configured: false}

	r := NewRouter([]string{"telegram", "discord", "slack"}, nil)
	for _, a := range []domain.Adapter{broken, healthy, skipped} {
		r.Register(a)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartAll(ctx, nil)

	deadline := time.After(2 * time.Second)
	for !healthy.started.Load() {
		select {
		case <-deadline:
			t.Fatal("healthy adapter did not start despite sibling failure")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if skipped.started.Load() {
		t.Fatal("unconfigured adapter must not start")
	}
}

func TestRegisterDuplicateChannel(t *testing.T) {
	r := NewRouter(nil, nil)
	if err := r.Register(&fakeAdapter{name: "telegram"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&fakeAdapter{name: "telegram"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 100); len(got) != 1 || got[0] != "short" {
		t.Fatalf("unexpected chunks: %v", got)
	}

	long := strings.Repeat("line one\n", 50)
	chunks := splitMessage(long, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	var rejoined strings.Builder
	for _, c := range chunks {
		if len(c) > 100 {
			t.Fatalf("chunk exceeds limit: %d", len(c))
		}
		rejoined.WriteString(c)
	}
	if rejoined.String() != long {
		t.Fatal("chunks do not reassemble the original message")
	}
}

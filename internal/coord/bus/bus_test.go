package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/openparlor/parlor/internal/coord/envelope"
	apperrors "github.com/openparlor/parlor/internal/platform/errors"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := NewMemory()

	var mu sync.Mutex
	received := make(map[int]int)
	for i := 0; i < 3; i++ {
		i := i
		b.Subscribe(func(_ context.Context, _ envelope.Envelope) {
			mu.Lock()
			received[i]++
			mu.Unlock()
		})
	}

	env, err := envelope.New(envelope.KindHeartbeat, "agent-1", nil, envelope.All())
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := b.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for i := 0; i < 3; i++ {
		if received[i] != 1 {
			t.Fatalf("subscriber %d received %d deliveries, expected 1", i, received[i])
		}
	}
}

func TestPublishRejectsMalformedAtIngress(t *testing.T) {
	b := NewMemory()

	delivered := false
	b.Subscribe(func(_ context.Context, _ envelope.Envelope) { delivered = true })

	err := b.Publish(context.Background(), envelope.Envelope{Kind: "gossip"})
	if err == nil {
		t.Fatal("expected error for malformed envelope")
	}
	if !apperrors.IsCode(err, apperrors.CodeEnvelopeInvalid) {
		t.Fatalf("expected envelope invalid code, got %v", err)
	}
	if delivered {
		t.Fatal("malformed envelope must not reach subscribers")
	}
}

func TestCancelledSubscriberMissesMessages(t *testing.T) {
	b := NewMemory()

	count := 0
	cancel := b.Subscribe(func(_ context.Context, _ envelope.Envelope) { count++ })

	env, err := envelope.New(envelope.KindAck, "agent-1", nil, envelope.All())
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := b.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	cancel()
	if err := b.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}

	if count != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", count)
	}
}

func TestPublishWithNoSubscribersIsLost(t *testing.T) {
	b := NewMemory()

	env, err := envelope.New(envelope.KindGameEvent, "house", map[string]string{"k": "v"}, envelope.Others())
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	// No durability: publishing into silence succeeds and the message is gone.
	if err := b.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

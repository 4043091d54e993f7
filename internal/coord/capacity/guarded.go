package capacity

import (
	"context"
	"encoding/json"
	"log"

	"github.com/openparlor/parlor/internal/coord/bus"
	"github.com/openparlor/parlor/internal/coord/envelope"
	"github.com/openparlor/parlor/internal/coord/event"
)

// Guarded decorates a bus with admission control for one channel. Every
// publish consults the tracker first; rejected messages are converted into a
// capacity-exceeded event instead of being forwarded.
type Guarded struct {
	next      bus.Bus
	tracker   *Tracker
	channelID string
	emitter   *event.Emitter
}

// NewGuarded wraps next with budget enforcement for channelID. The emitter
// publishes capacity-exceeded notices; it deliberately bypasses the guard so
// drop notices are never themselves counted or dropped.
func NewGuarded(next bus.Bus, tracker *Tracker, channelID string) *Guarded {
	return &Guarded{
		next:      next,
		tracker:   tracker,
		channelID: channelID,
		emitter:   event.NewEmitter(next),
	}
}

// Publish implements bus.Bus.
func (g *Guarded) Publish(ctx context.Context, env envelope.Envelope) error {
	if g.tracker == nil {
		// No tracker means admission control is disabled, not broken.
		return g.next.Publish(ctx, env)
	}

	ok, reason := g.tracker.CanSend(g.channelID, env.SourceID)
	if !ok {
		log.Printf("channel message dropped channel_id=%s source_id=%s reason=%s", g.channelID, env.SourceID, reason)
		dropped, err := json.Marshal(env)
		if err != nil {
			dropped = nil
		}
		return g.emitter.Emit(ctx, event.Event{
			Type: event.TypeCapacityExceeded,
			CapacityExceeded: &event.CapacityExceededPayload{
				ChannelID:     g.channelID,
				ParticipantID: env.SourceID,
				Reason:        reason,
				Dropped:       dropped,
			},
		})
	}

	g.tracker.Track(g.channelID, env.SourceID)
	return g.next.Publish(ctx, env)
}

// Subscribe implements bus.Bus by delegating to the wrapped bus.
func (g *Guarded) Subscribe(handler bus.Handler) (cancel func()) {
	return g.next.Subscribe(handler)
}

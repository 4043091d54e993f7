package event

import (
	"context"
	"time"

	"github.com/openparlor/parlor/internal/coord/envelope"
)

// HouseSourceID is the participant id the coordinator publishes under.
const HouseSourceID = "house"

// Publisher accepts envelopes for fan-out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, env envelope.Envelope) error
}

// Emitter publishes typed coordination events through the bus.
type Emitter struct {
	bus Publisher
	now func() time.Time
}

// NewEmitter creates an emitter that publishes from the house source.
func NewEmitter(bus Publisher) *Emitter {
	return &Emitter{
		bus: bus,
		now: time.Now,
	}
}

// Emit wraps evt in a game-event envelope addressed to all participants and
// publishes it. The timestamp is stamped here so callers only describe the
// event itself.
func (e *Emitter) Emit(ctx context.Context, evt Event) error {
	if e == nil || e.bus == nil {
		// Missing emitter means eventing is disabled, not a caller failure.
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now().UTC()
	}
	if err := evt.Validate(); err != nil {
		return err
	}

	env, err := envelope.New(envelope.KindGameEvent, HouseSourceID, evt, envelope.All())
	if err != nil {
		return err
	}
	return e.bus.Publish(ctx, env)
}

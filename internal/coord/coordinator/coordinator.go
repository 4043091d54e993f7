// Package coordinator combines the phase machine, readiness bookkeeping, and
// deadline timers. It is the only component that initiates phase transitions
// and publishes transition and timer events through the bus.
//
// All mutation goes through a per-session lock, so a timer expiry and a
// readiness quorum racing for the same edge produce exactly one transition.
package coordinator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openparlor/parlor/internal/coord/event"
	"github.com/openparlor/parlor/internal/coord/phase"
	"github.com/openparlor/parlor/internal/coord/session"
	apperrors "github.com/openparlor/parlor/internal/platform/errors"
	"github.com/openparlor/parlor/internal/storage"
)

// Options configures a Coordinator.
type Options struct {
	Store   storage.SessionStore
	Emitter *event.Emitter
	// Durations maps each phase to its deadline duration. Phases without an
	// entry run without a deadline and only advance on quorum.
	Durations map[phase.Phase]time.Duration
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Coordinator owns every session's phase, readiness record, and deadline.
type Coordinator struct {
	store     storage.SessionStore
	emitter   *event.Emitter
	durations map[phase.Phase]time.Duration
	now       func() time.Time
	tracer    trace.Tracer

	mu      sync.Mutex
	handles map[string]*sessionHandle
}

// sessionHandle serializes all transition-initiating work for one session and
// owns its scheduled deadline alarms.
type sessionHandle struct {
	mu     sync.Mutex
	timers []*time.Timer
}

// New creates a coordinator. The store is required; a nil emitter disables
// event publication.
func New(opts Options) *Coordinator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		store:     opts.Store,
		emitter:   opts.Emitter,
		durations: opts.Durations,
		now:       now,
		tracer:    otel.Tracer("parlor/coordinator"),
		handles:   make(map[string]*sessionHandle),
	}
}

// handle returns the per-session lock and timer owner, creating it on first use.
func (c *Coordinator) handle(sessionID string) *sessionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[sessionID]
	if !ok {
		h = &sessionHandle{}
		c.handles[sessionID] = h
	}
	return h
}

// CreateSession creates an active session in the initial phase, persists it,
// arms its deadline alarms, and announces the first phase.
func (c *Coordinator) CreateSession(ctx context.Context, input session.CreateInput) (session.Session, error) {
	sess, err := session.Create(input, c.now, nil)
	if err != nil {
		return session.Session{}, err
	}
	sess.Deadline = c.deadlineFor(sess.Phase)

	h := c.handle(sess.ID)
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := c.store.PutSession(ctx, sess); err != nil {
		return session.Session{}, err
	}
	c.armTimersLocked(h, sess.ID, sess.Deadline)

	c.emit(ctx, event.Event{
		Type:      event.TypePhaseStarted,
		SessionID: sess.ID,
		PhaseStarted: &event.PhaseStartedPayload{
			Phase:    string(sess.Phase),
			Round:    sess.Round,
			Deadline: sess.Deadline,
		},
	})
	return sess, nil
}

// Session returns the current state of a session.
func (c *Coordinator) Session(ctx context.Context, sessionID string) (session.Session, error) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return session.Session{}, apperrors.WithMetadata(apperrors.CodeNotFound,
			"session not found", map[string]string{"SessionID": sessionID})
	}
	return sess, err
}

// RecordReady idempotently marks a participant ready for kind in the current
// phase. When the quorum on the phase's required kind completes, the session
// transitions with reason all-ready.
//
// A missing or inactive session is a logged no-op; an unknown participant or
// readiness kind is rejected.
func (c *Coordinator) RecordReady(ctx context.Context, sessionID, participantID string, kind phase.ReadinessKind) error {
	if !phase.KnownReadinessKind(kind) {
		return apperrors.WithMetadata(apperrors.CodeReadinessKindInvalid,
			"unknown readiness kind", map[string]string{"Kind": string(kind)})
	}

	h := c.handle(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok, err := c.load(ctx, sessionID, "ready signal")
	if err != nil || !ok {
		return err
	}
	if !sess.Active {
		log.Printf("coordinator: session %s inactive, ignoring ready signal from %s", sessionID, participantID)
		return nil
	}
	if _, found := sess.Participant(participantID); !found {
		return apperrors.WithMetadata(apperrors.CodeParticipantUnknown,
			"participant not on the roster", map[string]string{
				"SessionID":     sessionID,
				"ParticipantID": participantID,
			})
	}

	if sess.Readiness == nil {
		sess.Readiness = make(session.Readiness)
	}
	if !sess.Readiness.Mark(kind, participantID) {
		// Duplicate signal; nothing changed.
		return nil
	}
	sess.UpdatedAt = c.now().UTC()

	c.emit(ctx, event.Event{
		Type:      event.TypeParticipantReady,
		SessionID: sess.ID,
		ParticipantReady: &event.ParticipantReadyPayload{
			ParticipantID: participantID,
			Kind:          string(kind),
			Phase:         string(sess.Phase),
		},
	})

	required := phase.RequiredReadiness(sess.Phase)
	if kind != required || !sess.QuorumMet(required) {
		return c.store.PutSession(ctx, sess)
	}

	c.emit(ctx, event.Event{
		Type:      event.TypeAllReady,
		SessionID: sess.ID,
		AllReady: &event.AllReadyPayload{
			Phase: string(sess.Phase),
			Kind:  string(required),
		},
	})

	next, known := phase.Next(sess.Phase)
	if !known {
		log.Printf("coordinator: session %s has unknown phase %q, manual intervention required", sessionID, sess.Phase)
		return c.store.PutSession(ctx, sess)
	}
	return c.initiateTransitionLocked(ctx, h, &sess, next, event.ReasonAllReady)
}

// ManualTransition is an administrative escape hatch. It bypasses quorum and
// timers but still validates the edge against the transition table and goes
// through the same choke point as every other transition.
func (c *Coordinator) ManualTransition(ctx context.Context, sessionID string, from, to phase.Phase, reason event.TransitionReason) error {
	edge, known := phase.Next(from)
	if !known {
		return apperrors.WithMetadata(apperrors.CodePhaseUnknown,
			"unknown phase", map[string]string{"Phase": string(from)})
	}
	if edge.To != to {
		return apperrors.WithMetadata(apperrors.CodeTransitionUnknown,
			"no such transition edge", map[string]string{
				"From": string(from),
				"To":   string(to),
			})
	}
	if reason == "" {
		reason = event.ReasonManual
	}

	h := c.handle(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok, err := c.load(ctx, sessionID, "manual transition")
	if err != nil || !ok {
		return err
	}
	if !sess.Active {
		log.Printf("coordinator: session %s inactive, ignoring manual transition", sessionID)
		return nil
	}
	return c.initiateTransitionLocked(ctx, h, &sess, edge, reason)
}

// RemoveParticipant drops a participant from the roster. A session left with
// one or fewer players is terminal and deactivates; otherwise the departure
// may complete the current quorum and advance the phase.
func (c *Coordinator) RemoveParticipant(ctx context.Context, sessionID, participantID string) error {
	h := c.handle(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok, err := c.load(ctx, sessionID, "participant removal")
	if err != nil || !ok {
		return err
	}
	if !sess.Active {
		return nil
	}
	if !sess.RemoveParticipant(participantID) {
		return nil
	}
	sess.UpdatedAt = c.now().UTC()

	if sess.Terminal() {
		return c.deactivateLocked(ctx, h, &sess)
	}

	required := phase.RequiredReadiness(sess.Phase)
	if sess.QuorumMet(required) {
		if next, known := phase.Next(sess.Phase); known {
			c.emit(ctx, event.Event{
				Type:      event.TypeAllReady,
				SessionID: sess.ID,
				AllReady: &event.AllReadyPayload{
					Phase: string(sess.Phase),
					Kind:  string(required),
				},
			})
			return c.initiateTransitionLocked(ctx, h, &sess, next, event.ReasonAllReady)
		}
	}
	return c.store.PutSession(ctx, sess)
}

// EndSession deactivates a session and cancels its alarms. The record stays in
// the store for inspection; deletion is a storage concern.
func (c *Coordinator) EndSession(ctx context.Context, sessionID string) error {
	h := c.handle(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok, err := c.load(ctx, sessionID, "end session")
	if err != nil || !ok {
		return err
	}
	if !sess.Active {
		return nil
	}
	sess.UpdatedAt = c.now().UTC()
	return c.deactivateLocked(ctx, h, &sess)
}

// Resume reloads every active session after a restart and re-arms deadline
// alarms. Already-passed deadlines fire immediately.
func (c *Coordinator) Resume(ctx context.Context) error {
	sessions, err := c.store.ListActiveSessions(ctx)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if sess.Deadline == nil {
			continue
		}
		h := c.handle(sess.ID)
		h.mu.Lock()
		c.armTimersLocked(h, sess.ID, sess.Deadline)
		h.mu.Unlock()
	}
	log.Printf("coordinator: resumed %d active sessions", len(sessions))
	return nil
}

// Close cancels all scheduled alarms. Sessions stay active in the store.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.handles {
		h.mu.Lock()
		stopTimersLocked(h)
		h.mu.Unlock()
	}
}

// initiateTransitionLocked is the single choke point for all phase changes.
// The caller holds the session handle lock and passes the freshly loaded
// session. A stale edge (current phase no longer matches From) is dropped, so
// a timer expiry and a quorum racing for the same edge transition only once.
func (c *Coordinator) initiateTransitionLocked(ctx context.Context, h *sessionHandle, sess *session.Session, edge phase.Transition, reason event.TransitionReason) error {
	if sess.Phase != edge.From {
		log.Printf("coordinator: session %s stale transition %s->%s dropped, current phase %s",
			sess.ID, edge.From, edge.To, sess.Phase)
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "coordinator.transition",
		trace.WithAttributes(
			attribute.String("session.id", sess.ID),
			attribute.String("phase.from", string(edge.From)),
			attribute.String("phase.to", string(edge.To)),
			attribute.String("reason", string(reason)),
		))
	defer span.End()

	c.emit(ctx, event.Event{
		Type:      event.TypeTransitionInitiated,
		SessionID: sess.ID,
		TransitionInitiated: &event.TransitionInitiatedPayload{
			FromPhase: string(edge.From),
			ToPhase:   string(edge.To),
			Round:     sess.Round,
			Reason:    reason,
		},
	})
	c.emit(ctx, event.Event{
		Type:      event.TypePhaseEnded,
		SessionID: sess.ID,
		PhaseEnded: &event.PhaseEndedPayload{
			Phase: string(sess.Phase),
			Round: sess.Round,
		},
	})

	sess.Phase = edge.To
	if edge.WrapsRound {
		sess.Round++
	}
	sess.ClearReadiness()
	sess.Deadline = c.deadlineFor(sess.Phase)
	sess.UpdatedAt = c.now().UTC()

	if err := c.store.PutSession(ctx, *sess); err != nil {
		return err
	}
	c.armTimersLocked(h, sess.ID, sess.Deadline)

	c.emit(ctx, event.Event{
		Type:      event.TypePhaseStarted,
		SessionID: sess.ID,
		PhaseStarted: &event.PhaseStartedPayload{
			Phase:    string(sess.Phase),
			Round:    sess.Round,
			Deadline: sess.Deadline,
		},
	})
	log.Printf("coordinator: session %s phase %s->%s round %d reason %s",
		sess.ID, edge.From, edge.To, sess.Round, reason)
	return nil
}

// deactivateLocked marks the session inactive and cancels its alarms. All
// future ticks and ready signals become no-ops; cancellation is cooperative.
func (c *Coordinator) deactivateLocked(ctx context.Context, h *sessionHandle, sess *session.Session) error {
	sess.Active = false
	sess.Deadline = nil
	stopTimersLocked(h)
	log.Printf("coordinator: session %s deactivated", sess.ID)
	return c.store.PutSession(ctx, *sess)
}

// load fetches a session, treating a missing record as a logged no-op per the
// coordinator's failure semantics.
func (c *Coordinator) load(ctx context.Context, sessionID, op string) (session.Session, bool, error) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Printf("coordinator: session %s not found for %s, ignoring", sessionID, op)
		return session.Session{}, false, nil
	}
	if err != nil {
		return session.Session{}, false, err
	}
	return sess, true, nil
}

// deadlineFor returns the absolute deadline for entering p, or nil when the
// phase has no configured duration.
func (c *Coordinator) deadlineFor(p phase.Phase) *time.Time {
	d, ok := c.durations[p]
	if !ok || d <= 0 {
		return nil
	}
	deadline := c.now().Add(d).UTC().Truncate(time.Millisecond)
	return &deadline
}

func (c *Coordinator) emit(ctx context.Context, evt event.Event) {
	if err := c.emitter.Emit(ctx, evt); err != nil {
		log.Printf("coordinator: emit %s failed: %v", evt.Type, err)
	}
}

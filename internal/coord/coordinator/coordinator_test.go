package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openparlor/parlor/internal/coord/bus"
	"github.com/openparlor/parlor/internal/coord/envelope"
	"github.com/openparlor/parlor/internal/coord/event"
	"github.com/openparlor/parlor/internal/coord/phase"
	"github.com/openparlor/parlor/internal/coord/policy"
	"github.com/openparlor/parlor/internal/coord/session"
	apperrors "github.com/openparlor/parlor/internal/platform/errors"
	"github.com/openparlor/parlor/internal/storage/memory"
)

var testClock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// eventRecorder captures typed events published through the bus.
type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *eventRecorder) record(_ context.Context, env envelope.Envelope) {
	if env.Kind != envelope.KindGameEvent {
		return
	}
	evt, err := event.Parse(env.Payload)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(t event.Type) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []event.Event
	for _, evt := range r.events {
		if evt.Type == t {
			matched = append(matched, evt)
		}
	}
	return matched
}

type fixture struct {
	coordinator *Coordinator
	store       *memory.Store
	recorder    *eventRecorder
}

func newFixture(t *testing.T, durations map[phase.Phase]time.Duration) *fixture {
	t.Helper()
	store := memory.NewStore()
	transport := bus.NewMemory()
	recorder := &eventRecorder{}
	transport.Subscribe(recorder.record)

	c := New(Options{
		Store:     store,
		Emitter:   event.NewEmitter(transport),
		Durations: durations,
		Now:       func() time.Time { return testClock },
	})
	t.Cleanup(c.Close)
	return &fixture{coordinator: c, store: store, recorder: recorder}
}

func fourPlayers() session.CreateInput {
	return session.CreateInput{
		Participants: []session.Participant{
			{ID: "house-1", Role: policy.RoleHouse},
			{ID: "p1", Role: policy.RolePlayer},
			{ID: "p2", Role: policy.RolePlayer},
			{ID: "p3", Role: policy.RolePlayer},
			{ID: "p4", Role: policy.RolePlayer},
		},
	}
}

func TestCreateSessionStartsInLobby(t *testing.T) {
	f := newFixture(t, map[phase.Phase]time.Duration{phase.Lobby: 10 * time.Minute})
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, fourPlayers())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.Phase != phase.Lobby || sess.Round != 1 || !sess.Active {
		t.Fatalf("unexpected initial session %+v", sess)
	}
	if sess.Deadline == nil || !sess.Deadline.Equal(testClock.Add(10*time.Minute)) {
		t.Fatalf("expected deadline 10m out, got %v", sess.Deadline)
	}

	started := f.recorder.ofType(event.TypePhaseStarted)
	if len(started) != 1 || started[0].PhaseStarted.Phase != string(phase.Lobby) {
		t.Fatalf("expected one phase started event for LOBBY, got %+v", started)
	}
}

func TestQuorumTransitionsExactlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, fourPlayers())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	for _, pid := range []string{"p1", "p2", "p3", "p4"} {
		if err := f.coordinator.RecordReady(ctx, sess.ID, pid, phase.KindPhaseAction); err != nil {
			t.Fatalf("ready %s: %v", pid, err)
		}
	}

	got, err := f.coordinator.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Phase != phase.LobbyReflection {
		t.Fatalf("expected LOBBY_REFLECTION, got %s", got.Phase)
	}
	if got.Round != 1 {
		t.Fatalf("round must not change on a non-wrap edge, got %d", got.Round)
	}

	if all := f.recorder.ofType(event.TypeAllReady); len(all) != 1 {
		t.Fatalf("expected exactly one all-ready event, got %d", len(all))
	}
	initiated := f.recorder.ofType(event.TypeTransitionInitiated)
	if len(initiated) != 1 {
		t.Fatalf("expected exactly one transition, got %d", len(initiated))
	}
	if initiated[0].TransitionInitiated.Reason != event.ReasonAllReady {
		t.Fatalf("expected all-ready reason, got %s", initiated[0].TransitionInitiated.Reason)
	}

	// Leftover phase-action signals after the transition must not fire again:
	// the new phase gates on reflection readiness.
	if err := f.coordinator.RecordReady(ctx, sess.ID, "p1", phase.KindPhaseAction); err != nil {
		t.Fatalf("post-transition ready: %v", err)
	}
	if initiated := f.recorder.ofType(event.TypeTransitionInitiated); len(initiated) != 1 {
		t.Fatalf("stale readiness caused an extra transition, got %d", len(initiated))
	}
}

func TestDuplicateReadyIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, fourPlayers())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := f.coordinator.RecordReady(ctx, sess.ID, "p1", phase.KindPhaseAction); err != nil {
			t.Fatalf("ready: %v", err)
		}
	}

	if ready := f.recorder.ofType(event.TypeParticipantReady); len(ready) != 1 {
		t.Fatalf("duplicate signals must emit one ready event, got %d", len(ready))
	}
	got, err := f.coordinator.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Phase != phase.Lobby {
		t.Fatalf("partial quorum must not transition, got %s", got.Phase)
	}
}

func TestStrategicReadinessNeverGates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, fourPlayers())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	for _, pid := range []string{"p1", "p2", "p3", "p4"} {
		if err := f.coordinator.RecordReady(ctx, sess.ID, pid, phase.KindStrategic); err != nil {
			t.Fatalf("strategic ready %s: %v", pid, err)
		}
	}

	got, err := f.coordinator.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Phase != phase.Lobby {
		t.Fatalf("strategic readiness must not advance the phase, got %s", got.Phase)
	}
	if !got.Readiness.Ready(phase.KindStrategic, "p1") {
		t.Fatal("strategic readiness must still be recorded")
	}
}

func TestRoundIncrementsOnlyOnWrap(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, fourPlayers())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	current := phase.Initial()
	for {
		edge, ok := phase.Next(current)
		if !ok {
			t.Fatalf("no successor for %s", current)
		}
		if err := f.coordinator.ManualTransition(ctx, sess.ID, edge.From, edge.To, event.ReasonManual); err != nil {
			t.Fatalf("manual transition %s->%s: %v", edge.From, edge.To, err)
		}
		got, err := f.coordinator.Session(ctx, sess.ID)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		wantRound := 1
		if edge.WrapsRound {
			wantRound = 2
		}
		if got.Round != wantRound {
			t.Fatalf("after %s->%s expected round %d, got %d", edge.From, edge.To, wantRound, got.Round)
		}
		current = edge.To
		if edge.WrapsRound {
			break
		}
	}
	if current != phase.Initial() {
		t.Fatalf("wrap edge must return to the first content phase, got %s", current)
	}
}

func TestManualTransitionRejectsUnknownEdge(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, fourPlayers())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	err = f.coordinator.ManualTransition(ctx, sess.ID, phase.Lobby, phase.Voting, event.ReasonManual)
	if !apperrors.IsCode(err, apperrors.CodeTransitionUnknown) {
		t.Fatalf("expected transition unknown error, got %v", err)
	}

	err = f.coordinator.ManualTransition(ctx, sess.ID, phase.Phase("TWILIGHT"), phase.Voting, event.ReasonManual)
	if !apperrors.IsCode(err, apperrors.CodePhaseUnknown) {
		t.Fatalf("expected phase unknown error, got %v", err)
	}
}

func TestStaleManualTransitionIsDropped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, fourPlayers())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// The session is in LOBBY; a DISCUSSION->DISCUSSION_REFLECTION request is
	// a valid edge but stale for this session.
	if err := f.coordinator.ManualTransition(ctx, sess.ID, phase.Discussion, phase.DiscussionReflection, event.ReasonManual); err != nil {
		t.Fatalf("stale transition must be a no-op, got %v", err)
	}
	got, err := f.coordinator.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Phase != phase.Lobby {
		t.Fatalf("stale request mutated the session to %s", got.Phase)
	}
}

func TestTickFiresWarningsOnce(t *testing.T) {
	f := newFixture(t, map[phase.Phase]time.Duration{phase.Lobby: 10 * time.Minute})
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, fourPlayers())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	deadline := *sess.Deadline

	// Inside the 5m threshold.
	at := deadline.Add(-4 * time.Minute)
	for i := 0; i < 3; i++ {
		if err := f.coordinator.Tick(ctx, sess.ID, at); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	warnings := f.recorder.ofType(event.TypeTimerWarning)
	if len(warnings) != 1 || warnings[0].TimerWarning.Remaining != "5m" {
		t.Fatalf("expected one 5m warning, got %+v", warnings)
	}

	// A poll that skips straight inside the 30s threshold fires the two
	// remaining thresholds, each once.
	if err := f.coordinator.Tick(ctx, sess.ID, deadline.Add(-10*time.Second)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	warnings = f.recorder.ofType(event.TypeTimerWarning)
	if len(warnings) != 3 {
		t.Fatalf("expected 5m/1m/30s warnings, got %d", len(warnings))
	}
}

func TestTickExpiryTransitionsLikeQuorum(t *testing.T) {
	f := newFixture(t, map[phase.Phase]time.Duration{phase.Lobby: 10 * time.Minute})
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, fourPlayers())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := f.coordinator.Tick(ctx, sess.ID, sess.Deadline.Add(time.Second)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := f.coordinator.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	// Both the timer path and the quorum path converge on the same edge.
	edge, _ := phase.Next(phase.Lobby)
	if got.Phase != edge.To {
		t.Fatalf("expected %s, got %s", edge.To, got.Phase)
	}

	expired := f.recorder.ofType(event.TypeTimerExpired)
	if len(expired) != 1 {
		t.Fatalf("expected one timer expired event, got %d", len(expired))
	}
	initiated := f.recorder.ofType(event.TypeTransitionInitiated)
	if len(initiated) != 1 || initiated[0].TransitionInitiated.Reason != event.ReasonTimerExpired {
		t.Fatalf("expected one timer-expired transition, got %+v", initiated)
	}

	// The deadline is gone; further ticks at the old time are no-ops.
	if err := f.coordinator.Tick(ctx, sess.ID, sess.Deadline.Add(time.Hour)); err != nil {
		t.Fatalf("tick after transition: %v", err)
	}
	if initiated := f.recorder.ofType(event.TypeTransitionInitiated); len(initiated) != 1 {
		t.Fatalf("expired deadline fired twice, got %d transitions", len(initiated))
	}
}

func TestExpiryDeactivatesTerminalSession(t *testing.T) {
	f := newFixture(t, map[phase.Phase]time.Duration{phase.Lobby: time.Minute})
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, session.CreateInput{
		Participants: []session.Participant{
			{ID: "house-1", Role: policy.RoleHouse},
			{ID: "p1", Role: policy.RolePlayer},
		},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := f.coordinator.Tick(ctx, sess.ID, sess.Deadline.Add(time.Second)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := f.coordinator.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Active {
		t.Fatal("terminal session must deactivate instead of transitioning")
	}
	if got.Phase != phase.Lobby {
		t.Fatalf("terminal session must not transition, got %s", got.Phase)
	}
	if initiated := f.recorder.ofType(event.TypeTransitionInitiated); len(initiated) != 0 {
		t.Fatalf("terminal expiry must not transition, got %d", len(initiated))
	}
}

func TestInactiveSessionIgnoresSignals(t *testing.T) {
	f := newFixture(t, map[phase.Phase]time.Duration{phase.Lobby: time.Minute})
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, fourPlayers())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := f.coordinator.EndSession(ctx, sess.ID); err != nil {
		t.Fatalf("end session: %v", err)
	}

	if err := f.coordinator.RecordReady(ctx, sess.ID, "p1", phase.KindPhaseAction); err != nil {
		t.Fatalf("ready on inactive session must be a no-op, got %v", err)
	}
	if err := f.coordinator.Tick(ctx, sess.ID, testClock.Add(time.Hour)); err != nil {
		t.Fatalf("tick on inactive session must be a no-op, got %v", err)
	}
	if initiated := f.recorder.ofType(event.TypeTransitionInitiated); len(initiated) != 0 {
		t.Fatalf("inactive session transitioned, got %d", len(initiated))
	}
}

func TestMissingSessionIsLoggedNoOp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.coordinator.RecordReady(ctx, "ghost", "p1", phase.KindPhaseAction); err != nil {
		t.Fatalf("ready for missing session must not fail the caller, got %v", err)
	}
	if err := f.coordinator.Tick(ctx, "ghost", testClock); err != nil {
		t.Fatalf("tick for missing session must not fail the caller, got %v", err)
	}
}

func TestRecordReadyRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, fourPlayers())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	err = f.coordinator.RecordReady(ctx, sess.ID, "p1", phase.ReadinessKind("vibes"))
	if !apperrors.IsCode(err, apperrors.CodeReadinessKindInvalid) {
		t.Fatalf("expected readiness kind error, got %v", err)
	}

	err = f.coordinator.RecordReady(ctx, sess.ID, "intruder", phase.KindPhaseAction)
	if !apperrors.IsCode(err, apperrors.CodeParticipantUnknown) {
		t.Fatalf("expected participant unknown error, got %v", err)
	}
}

func TestRemoveParticipantCompletesQuorum(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, fourPlayers())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	for _, pid := range []string{"p1", "p2", "p3"} {
		if err := f.coordinator.RecordReady(ctx, sess.ID, pid, phase.KindPhaseAction); err != nil {
			t.Fatalf("ready %s: %v", pid, err)
		}
	}
	// p4 never answers; removing it completes the quorum of the remaining
	// players.
	if err := f.coordinator.RemoveParticipant(ctx, sess.ID, "p4"); err != nil {
		t.Fatalf("remove participant: %v", err)
	}

	got, err := f.coordinator.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Phase != phase.LobbyReflection {
		t.Fatalf("expected departure to complete the quorum, got %s", got.Phase)
	}
}

func TestRemoveParticipantToTerminalDeactivates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, session.CreateInput{
		Participants: []session.Participant{
			{ID: "p1", Role: policy.RolePlayer},
			{ID: "p2", Role: policy.RolePlayer},
		},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := f.coordinator.RemoveParticipant(ctx, sess.ID, "p2"); err != nil {
		t.Fatalf("remove participant: %v", err)
	}
	got, err := f.coordinator.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Active {
		t.Fatal("one remaining player means the game cannot continue")
	}
}

func TestResumeReArmsActiveSessions(t *testing.T) {
	f := newFixture(t, map[phase.Phase]time.Duration{phase.Lobby: 10 * time.Minute})
	ctx := context.Background()

	sess, err := f.coordinator.CreateSession(ctx, fourPlayers())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// A fresh coordinator over the same store stands in for a restart.
	transport := bus.NewMemory()
	recorder := &eventRecorder{}
	transport.Subscribe(recorder.record)
	restarted := New(Options{
		Store:     f.store,
		Emitter:   event.NewEmitter(transport),
		Durations: map[phase.Phase]time.Duration{phase.Lobby: 10 * time.Minute},
		Now:       func() time.Time { return testClock },
	})
	t.Cleanup(restarted.Close)

	if err := restarted.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}

	// The restored deadline still drives expiry.
	if err := restarted.Tick(ctx, sess.ID, sess.Deadline.Add(time.Second)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, err := restarted.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Phase != phase.LobbyReflection {
		t.Fatalf("expected resumed session to expire into LOBBY_REFLECTION, got %s", got.Phase)
	}
}

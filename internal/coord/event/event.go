// Package event defines the closed set of coordination events the core
// publishes for the surrounding game-content layer.
//
// Every event type has its own payload struct; dispatch sites switch on Type
// and unmarshal into the matching struct, so new types fail loudly at the
// dispatch site instead of leaking as untyped maps.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies a coordination event.
type Type string

const (
	// TypeTransitionInitiated marks the start of a phase change.
	TypeTransitionInitiated Type = "session.transition_initiated"
	// TypePhaseEnded marks the outgoing phase of a transition.
	TypePhaseEnded Type = "session.phase_ended"
	// TypePhaseStarted marks the incoming phase of a transition.
	TypePhaseStarted Type = "session.phase_started"
	// TypeParticipantReady records a single participant's readiness signal.
	TypeParticipantReady Type = "session.participant_ready"
	// TypeAllReady records that the readiness quorum for the phase is met.
	TypeAllReady Type = "session.all_ready"
	// TypeTimerWarning fires at the remaining-time thresholds before a deadline.
	TypeTimerWarning Type = "session.timer_warning"
	// TypeTimerExpired fires when a session deadline is reached.
	TypeTimerExpired Type = "session.timer_expired"
	// TypeCapacityExceeded carries a message dropped by admission control.
	TypeCapacityExceeded Type = "channel.capacity_exceeded"
)

// KnownType reports whether t is a recognized coordination event type.
func KnownType(t Type) bool {
	switch t {
	case TypeTransitionInitiated, TypePhaseEnded, TypePhaseStarted,
		TypeParticipantReady, TypeAllReady,
		TypeTimerWarning, TypeTimerExpired, TypeCapacityExceeded:
		return true
	default:
		return false
	}
}

// TransitionReason explains why a transition was initiated.
type TransitionReason string

const (
	// ReasonAllReady indicates the readiness quorum was met.
	ReasonAllReady TransitionReason = "all-ready"
	// ReasonTimerExpired indicates the phase deadline elapsed.
	ReasonTimerExpired TransitionReason = "timer-expired"
	// ReasonManual indicates an operator or test override.
	ReasonManual TransitionReason = "manual"
)

// TransitionInitiatedPayload describes a phase change about to be applied.
type TransitionInitiatedPayload struct {
	FromPhase string           `json:"from_phase"`
	ToPhase   string           `json:"to_phase"`
	Round     int              `json:"round"`
	Reason    TransitionReason `json:"reason"`
}

// PhaseEndedPayload describes the phase a session just left.
type PhaseEndedPayload struct {
	Phase string `json:"phase"`
	Round int    `json:"round"`
}

// PhaseStartedPayload describes the phase a session just entered.
type PhaseStartedPayload struct {
	Phase    string     `json:"phase"`
	Round    int        `json:"round"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

// ParticipantReadyPayload records one participant's readiness signal.
type ParticipantReadyPayload struct {
	ParticipantID string `json:"participant_id"`
	Kind          string `json:"kind"`
	Phase         string `json:"phase"`
}

// AllReadyPayload records that every expected participant signaled readiness.
type AllReadyPayload struct {
	Phase string `json:"phase"`
	Kind  string `json:"kind"`
}

// TimerWarningPayload fires once per threshold as a deadline approaches.
type TimerWarningPayload struct {
	Phase     string    `json:"phase"`
	Remaining string    `json:"remaining"`
	Deadline  time.Time `json:"deadline"`
}

// TimerExpiredPayload records that the phase deadline elapsed.
type TimerExpiredPayload struct {
	Phase    string    `json:"phase"`
	Deadline time.Time `json:"deadline"`
}

// CapacityExceededPayload carries a dropped message and the rejection reason.
// Dropping is an expected outcome of admission control, not a failure, which
// is why it travels as an event rather than an error.
type CapacityExceededPayload struct {
	ChannelID     string          `json:"channel_id"`
	ParticipantID string          `json:"participant_id"`
	Reason        string          `json:"reason"`
	Dropped       json.RawMessage `json:"dropped,omitempty"`
}

// Event is a typed coordination event scoped to a session or channel.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	TransitionInitiated *TransitionInitiatedPayload `json:"transition_initiated,omitempty"`
	PhaseEnded          *PhaseEndedPayload          `json:"phase_ended,omitempty"`
	PhaseStarted        *PhaseStartedPayload        `json:"phase_started,omitempty"`
	ParticipantReady    *ParticipantReadyPayload    `json:"participant_ready,omitempty"`
	AllReady            *AllReadyPayload            `json:"all_ready,omitempty"`
	TimerWarning        *TimerWarningPayload        `json:"timer_warning,omitempty"`
	TimerExpired        *TimerExpiredPayload        `json:"timer_expired,omitempty"`
	CapacityExceeded    *CapacityExceededPayload    `json:"capacity_exceeded,omitempty"`
}

// Validate checks that the event type is known and the matching payload is set.
func (e Event) Validate() error {
	if !KnownType(e.Type) {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	var present bool
	switch e.Type {
	case TypeTransitionInitiated:
		present = e.TransitionInitiated != nil
	case TypePhaseEnded:
		present = e.PhaseEnded != nil
	case TypePhaseStarted:
		present = e.PhaseStarted != nil
	case TypeParticipantReady:
		present = e.ParticipantReady != nil
	case TypeAllReady:
		present = e.AllReady != nil
	case TypeTimerWarning:
		present = e.TimerWarning != nil
	case TypeTimerExpired:
		present = e.TimerExpired != nil
	case TypeCapacityExceeded:
		present = e.CapacityExceeded != nil
	}
	if !present {
		return fmt.Errorf("event %s is missing its payload", e.Type)
	}
	return nil
}

// Parse decodes a raw envelope payload into a typed event.
func Parse(raw json.RawMessage) (Event, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return Event{}, err
	}
	return evt, nil
}

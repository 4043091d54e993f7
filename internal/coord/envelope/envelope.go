// Package envelope defines the common wrapper used for all cross-participant
// signaling and the target-resolution rules subscribers apply before acting.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/openparlor/parlor/internal/platform/errors"
)

// Version is the coordination protocol version stamped on every envelope.
const Version = 1

// Kind identifies the envelope message kind.
type Kind string

const (
	// KindGameEvent carries a typed coordination event payload.
	KindGameEvent Kind = "game_event"
	// KindParticipantReady signals completion of a phase-specific task.
	KindParticipantReady Kind = "participant_ready"
	// KindHeartbeat signals liveness; carries no payload.
	KindHeartbeat Kind = "heartbeat"
	// KindAck acknowledges a previously received envelope.
	KindAck Kind = "ack"
)

// KnownKind reports whether k is one of the four protocol kinds.
func KnownKind(k Kind) bool {
	switch k {
	case KindGameEvent, KindParticipantReady, KindHeartbeat, KindAck:
		return true
	default:
		return false
	}
}

// TargetScope selects which participants an envelope addresses.
type TargetScope string

const (
	// ScopeAll addresses every participant, including the source.
	ScopeAll TargetScope = "all"
	// ScopeOthers addresses every participant except the source.
	ScopeOthers TargetScope = "others"
	// ScopeList addresses only the explicitly listed participant ids.
	ScopeList TargetScope = "list"
)

// Targets describes the addressing of an envelope.
type Targets struct {
	Scope TargetScope `json:"scope"`
	IDs   []string    `json:"ids,omitempty"`
}

// All addresses every participant.
func All() Targets { return Targets{Scope: ScopeAll} }

// Others addresses every participant except the source.
func Others() Targets { return Targets{Scope: ScopeOthers} }

// List addresses only the given participant ids.
func List(ids ...string) Targets { return Targets{Scope: ScopeList, IDs: ids} }

// Resolve reports whether candidateID is addressed by targets.
//
// The bus does not filter deliveries; every subscriber re-checks Resolve
// before acting on an envelope.
func Resolve(targets Targets, sourceID, candidateID string) bool {
	switch targets.Scope {
	case ScopeAll:
		return true
	case ScopeOthers:
		return candidateID != sourceID
	case ScopeList:
		for _, id := range targets.IDs {
			if id == candidateID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Envelope is the common wrapper for all cross-participant signaling.
type Envelope struct {
	Version       int             `json:"version"`
	Kind          Kind            `json:"kind"`
	SourceID      string          `json:"source_id"`
	Targets       Targets         `json:"targets"`
	MessageID     string          `json:"message_id"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope with a fresh message id and current timestamp.
//
// The payload is marshaled once here so downstream code never re-validates
// its shape.
func New(kind Kind, sourceID string, payload any, targets Targets) (Envelope, error) {
	env := Envelope{
		Version:   Version,
		Kind:      kind,
		SourceID:  strings.TrimSpace(sourceID),
		Targets:   targets,
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal envelope payload: %w", err)
		}
		env.Payload = raw
	}

	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks that every required field is present and the kind is known.
// Malformed envelopes are rejected with a domain error; Validate never panics.
func (e Envelope) Validate() error {
	if e.Version != Version {
		return apperrors.WithMetadata(apperrors.CodeEnvelopeInvalid, "unsupported protocol version",
			map[string]string{"Version": fmt.Sprintf("%d", e.Version)})
	}
	if !KnownKind(e.Kind) {
		return apperrors.WithMetadata(apperrors.CodeEnvelopeUnknownKind, "unknown envelope kind",
			map[string]string{"Kind": string(e.Kind)})
	}
	if strings.TrimSpace(e.SourceID) == "" {
		return apperrors.New(apperrors.CodeEnvelopeInvalid, "envelope source id is required")
	}
	if strings.TrimSpace(e.MessageID) == "" {
		return apperrors.New(apperrors.CodeEnvelopeInvalid, "envelope message id is required")
	}
	if e.Timestamp.IsZero() {
		return apperrors.New(apperrors.CodeEnvelopeInvalid, "envelope timestamp is required")
	}
	switch e.Targets.Scope {
	case ScopeAll, ScopeOthers:
	case ScopeList:
		if len(e.Targets.IDs) == 0 {
			return apperrors.New(apperrors.CodeEnvelopeInvalid, "explicit target list is empty")
		}
	default:
		return apperrors.WithMetadata(apperrors.CodeEnvelopeInvalid, "unknown target scope",
			map[string]string{"Scope": string(e.Targets.Scope)})
	}
	return nil
}

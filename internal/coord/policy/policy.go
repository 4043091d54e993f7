// Package policy decides which logical role may emit which message kind.
//
// The decision table is closed: any combination it does not recognize is
// denied, and a denial prevents the send entirely rather than being logged
// and forwarded.
package policy

import (
	"fmt"
	"strings"

	"github.com/openparlor/parlor/internal/coord/envelope"
	"github.com/openparlor/parlor/internal/coord/event"
	apperrors "github.com/openparlor/parlor/internal/platform/errors"
)

// Role is the logical coordination role of a participant. Each participant
// has exactly one role.
type Role string

const (
	// RoleHouse is the authoritative coordinator role.
	RoleHouse Role = "house"
	// RolePlayer is a playing participant.
	RolePlayer Role = "player"
	// RoleObserver may watch but not influence the session.
	RoleObserver Role = "observer"
)

// ParseRole validates a raw role string.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(raw)) {
	case RoleHouse:
		return RoleHouse, nil
	case RolePlayer:
		return RolePlayer, nil
	case RoleObserver:
		return RoleObserver, nil
	default:
		return "", apperrors.WithMetadata(apperrors.CodeRoleInvalid, "unknown role",
			map[string]string{"Role": raw})
	}
}

// playerEmittableEvents is the narrow allow-list of game-event types a player
// may publish directly. Everything else on the game-event kind is house-only.
var playerEmittableEvents = map[event.Type]struct{}{
	event.TypeParticipantReady: {},
}

// CanEmit reports whether role may emit an envelope of the given kind.
//
// For game-event envelopes the decision also depends on the typed event
// inside, so callers pass the parsed event type; for every other kind
// eventType is ignored. The function is total: unrecognized input denies.
func CanEmit(role Role, kind envelope.Kind, eventType event.Type) error {
	switch kind {
	case envelope.KindHeartbeat, envelope.KindAck:
		switch role {
		case RoleHouse, RolePlayer, RoleObserver:
			return nil
		default:
			return denied(role, kind, eventType)
		}

	case envelope.KindParticipantReady:
		switch role {
		case RoleHouse, RolePlayer:
			return nil
		default:
			return denied(role, kind, eventType)
		}

	case envelope.KindGameEvent:
		switch role {
		case RoleHouse:
			return nil
		case RolePlayer:
			if _, ok := playerEmittableEvents[eventType]; ok {
				return nil
			}
			return denied(role, kind, eventType)
		default:
			return denied(role, kind, eventType)
		}

	default:
		return denied(role, kind, eventType)
	}
}

// denied creates a structured fail-closed rejection.
func denied(role Role, kind envelope.Kind, eventType event.Type) *apperrors.Error {
	message := fmt.Sprintf("role %s may not emit %s", roleLabel(role), string(kind))
	metadata := map[string]string{
		"Role": roleLabel(role),
		"Kind": string(kind),
	}
	if eventType != "" {
		metadata["EventType"] = string(eventType)
	}
	return apperrors.WithMetadata(apperrors.CodeRoleNotPermitted, message, metadata)
}

func roleLabel(role Role) string {
	switch role {
	case RoleHouse, RolePlayer, RoleObserver:
		return string(role)
	default:
		return "UNKNOWN"
	}
}

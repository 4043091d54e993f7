// Package session defines the session entity owned by the coordinator:
// current phase, round, roster, deadline, and per-phase readiness records.
package session

import (
	"strings"
	"time"

	"github.com/openparlor/parlor/internal/coord/phase"
	"github.com/openparlor/parlor/internal/coord/policy"
	"github.com/openparlor/parlor/internal/id"
	apperrors "github.com/openparlor/parlor/internal/platform/errors"
)

// Participant is a roster entry. Each participant has exactly one role.
type Participant struct {
	ID   string      `json:"id"`
	Role policy.Role `json:"role"`
}

// Readiness records which participants signaled which readiness kind for the
// current phase. It is cleared on every transition.
type Readiness map[phase.ReadinessKind]map[string]bool

// Mark idempotently records participantID as ready for kind. It reports
// whether the record changed.
func (r Readiness) Mark(kind phase.ReadinessKind, participantID string) bool {
	byParticipant, ok := r[kind]
	if !ok {
		byParticipant = make(map[string]bool)
		r[kind] = byParticipant
	}
	if byParticipant[participantID] {
		return false
	}
	byParticipant[participantID] = true
	return true
}

// Ready reports whether participantID signaled kind.
func (r Readiness) Ready(kind phase.ReadinessKind, participantID string) bool {
	return r[kind][participantID]
}

// Session is the coordinator-owned state for one game.
type Session struct {
	ID           string        `json:"id"`
	Phase        phase.Phase   `json:"phase"`
	Round        int           `json:"round"`
	Deadline     *time.Time    `json:"deadline,omitempty"` // nil when the phase has no duration
	Participants []Participant `json:"participants"`
	Readiness    Readiness     `json:"readiness"`
	// FiredWarnings tracks which deadline warning thresholds already fired
	// for the current phase, so restarts and polls never double-fire.
	FiredWarnings map[string]bool `json:"fired_warnings,omitempty"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CreateInput describes the roster needed to create a session.
type CreateInput struct {
	Participants []Participant
}

// Create builds a new active session in the initial phase at round 1.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	participants, err := normalizeParticipants(input.Participants)
	if err != nil {
		return Session{}, err
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, err
	}

	created := now().UTC()
	return Session{
		ID:            sessionID,
		Phase:         phase.Initial(),
		Round:         1,
		Participants:  participants,
		Readiness:     make(Readiness),
		FiredWarnings: make(map[string]bool),
		Active:        true,
		CreatedAt:     created,
		UpdatedAt:     created,
	}, nil
}

func normalizeParticipants(participants []Participant) ([]Participant, error) {
	normalized := make([]Participant, 0, len(participants))
	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		pid := strings.TrimSpace(p.ID)
		if pid == "" {
			return nil, apperrors.New(apperrors.CodeSessionNoParticipants, "participant id is required")
		}
		if _, dup := seen[pid]; dup {
			return nil, apperrors.WithMetadata(apperrors.CodeSessionNoParticipants,
				"duplicate participant id", map[string]string{"ParticipantID": pid})
		}
		role, err := policy.ParseRole(string(p.Role))
		if err != nil {
			return nil, err
		}
		seen[pid] = struct{}{}
		normalized = append(normalized, Participant{ID: pid, Role: role})
	}

	if countPlayers(normalized) == 0 {
		return nil, apperrors.New(apperrors.CodeSessionNoParticipants, "at least one player is required")
	}
	return normalized, nil
}

func countPlayers(participants []Participant) int {
	players := 0
	for _, p := range participants {
		if p.Role == policy.RolePlayer {
			players++
		}
	}
	return players
}

// Participant returns the roster entry for participantID.
func (s *Session) Participant(participantID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == participantID {
			return p, true
		}
	}
	return Participant{}, false
}

// RemoveParticipant drops participantID from the roster and readiness
// records. It reports whether the roster changed.
func (s *Session) RemoveParticipant(participantID string) bool {
	for i, p := range s.Participants {
		if p.ID != participantID {
			continue
		}
		s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
		for _, byParticipant := range s.Readiness {
			delete(byParticipant, participantID)
		}
		return true
	}
	return false
}

// PlayerCount returns the number of roster entries with the player role.
func (s *Session) PlayerCount() int {
	return countPlayers(s.Participants)
}

// Terminal reports whether the game can no longer continue: readiness gating
// is over the players, so with one or fewer left no quorum is possible and
// the coordinator deactivates instead of transitioning.
func (s *Session) Terminal() bool {
	return s.PlayerCount() <= 1
}

// QuorumMet reports whether every player signaled kind for the current phase.
func (s *Session) QuorumMet(kind phase.ReadinessKind) bool {
	players := 0
	for _, p := range s.Participants {
		if p.Role != policy.RolePlayer {
			continue
		}
		players++
		if !s.Readiness.Ready(kind, p.ID) {
			return false
		}
	}
	return players > 0
}

// ClearReadiness resets all readiness records and warning bookkeeping, called
// on every phase transition.
func (s *Session) ClearReadiness() {
	s.Readiness = make(Readiness)
	s.FiredWarnings = make(map[string]bool)
}

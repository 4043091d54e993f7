package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openparlor/parlor/internal/coord/capacity"
	"github.com/openparlor/parlor/internal/coord/envelope"
	"github.com/openparlor/parlor/internal/coord/event"
	"github.com/openparlor/parlor/internal/coord/grant"
	"github.com/openparlor/parlor/internal/coord/phase"
	"github.com/openparlor/parlor/internal/coord/policy"
	"github.com/openparlor/parlor/internal/coord/session"
)

type createSessionRequest struct {
	Participants []session.Participant `json:"participants"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}

	sess, err := h.coordinator.CreateSession(r.Context(), session.CreateInput{Participants: req.Participants})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if h.tracker != nil && (h.limits.MaxPerParticipant != 0 || h.limits.MaxTotal != 0) {
		h.tracker.Configure(sess.ID, h.limits)
	}
	writeSuccess(w, http.StatusCreated, sess)
}

type mintGrantRequest struct {
	ParticipantID string `json:"participant_id"`
}

type mintGrantResponse struct {
	Grant     string    `json:"grant"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) mintGrant(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req mintGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}

	sess, err := h.coordinator.Session(r.Context(), sessionID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	participant, ok := sess.Participant(req.ParticipantID)
	if !ok {
		writeError(w, http.StatusNotFound, "PARTICIPANT_UNKNOWN", "participant not on the roster")
		return
	}

	token, err := grant.Mint(sessionID, participant.ID, participant.Role, h.grantCfg)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	ttl := h.grantCfg.TTL
	if ttl <= 0 {
		ttl = grant.DefaultTTL
	}
	writeSuccess(w, http.StatusCreated, mintGrantResponse{
		Grant:     token,
		Role:      string(participant.Role),
		ExpiresAt: time.Now().UTC().Add(ttl),
	})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.coordinator.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeSuccess(w, http.StatusOK, sess)
}

type readyRequest struct {
	Kind string `json:"kind"`
}

func (h *Handler) recordReady(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing grant")
		return
	}

	var req readyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}

	if err := policy.CanEmit(claims.Role, envelope.KindParticipantReady, ""); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := h.coordinator.RecordReady(r.Context(), sessionID, claims.ParticipantID, phase.ReadinessKind(req.Kind)); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeMessage(w, http.StatusAccepted, "ready recorded")
}

func (h *Handler) publishEnvelope(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing grant")
		return
	}

	var env envelope.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	if env.SourceID != claims.ParticipantID {
		writeError(w, http.StatusForbidden, "GRANT_MISMATCH", "envelope source does not match the grant")
		return
	}

	// Game events carry a typed payload; the role decision depends on the
	// event type inside.
	var eventType event.Type
	if env.Kind == envelope.KindGameEvent {
		evt, err := event.Parse(env.Payload)
		if err != nil {
			writeError(w, http.StatusBadRequest, "ENVELOPE_INVALID", "invalid game event payload")
			return
		}
		eventType = evt.Type
	}
	if err := policy.CanEmit(claims.Role, env.Kind, eventType); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	guarded := capacity.NewGuarded(h.bus, h.tracker, sessionID)
	if err := guarded.Publish(r.Context(), env); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeMessage(w, http.StatusAccepted, "envelope published")
}

func (h *Handler) getChannelInfo(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing grant")
		return
	}
	info := h.tracker.GetInfo(chi.URLParam(r, "sessionID"), claims.ParticipantID)
	writeSuccess(w, http.StatusOK, info)
}

type transitionRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

func (h *Handler) manualTransition(w http.ResponseWriter, r *http.Request) {
	if _, ok := houseClaims(w, r); !ok {
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	err := h.coordinator.ManualTransition(r.Context(), sessionID,
		phase.Phase(req.From), phase.Phase(req.To), event.TransitionReason(req.Reason))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeMessage(w, http.StatusAccepted, "transition requested")
}

func (h *Handler) tick(w http.ResponseWriter, r *http.Request) {
	if _, ok := houseClaims(w, r); !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.coordinator.Tick(r.Context(), sessionID, time.Now()); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeMessage(w, http.StatusAccepted, "tick processed")
}

func (h *Handler) removeParticipant(w http.ResponseWriter, r *http.Request) {
	if _, ok := houseClaims(w, r); !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	participantID := chi.URLParam(r, "participantID")
	if err := h.coordinator.RemoveParticipant(r.Context(), sessionID, participantID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeMessage(w, http.StatusOK, "participant removed")
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := houseClaims(w, r); !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.coordinator.EndSession(r.Context(), sessionID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if h.tracker != nil {
		h.tracker.Teardown(sessionID)
	}
	writeMessage(w, http.StatusOK, "session ended")
}

// houseClaims requires a house-role grant for administrative endpoints.
func houseClaims(w http.ResponseWriter, r *http.Request) (grant.Claims, bool) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing grant")
		return grant.Claims{}, false
	}
	if claims.Role != policy.RoleHouse {
		writeError(w, http.StatusForbidden, "ROLE_NOT_PERMITTED", "house role required")
		return grant.Claims{}, false
	}
	return claims, true
}

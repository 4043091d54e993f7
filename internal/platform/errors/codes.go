// Package errors provides structured error handling for coordination flows.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Envelope errors
	CodeEnvelopeInvalid     Code = "ENVELOPE_INVALID"
	CodeEnvelopeUnknownKind Code = "ENVELOPE_UNKNOWN_KIND"

	// Role/authorization errors
	CodeRoleInvalid      Code = "ROLE_INVALID"
	CodeRoleNotPermitted Code = "ROLE_NOT_PERMITTED"

	// Grant errors
	CodeGrantInvalid  Code = "GRANT_INVALID"
	CodeGrantExpired  Code = "GRANT_EXPIRED"
	CodeGrantMismatch Code = "GRANT_MISMATCH"

	// Session errors
	CodeSessionEmptyID        Code = "SESSION_EMPTY_ID"
	CodeSessionNoParticipants Code = "SESSION_NO_PARTICIPANTS"
	CodeSessionInactive       Code = "SESSION_INACTIVE"
	CodeParticipantUnknown    Code = "PARTICIPANT_UNKNOWN"
	CodeReadinessKindInvalid  Code = "READINESS_KIND_INVALID"

	// Phase errors
	CodePhaseUnknown      Code = "PHASE_UNKNOWN"
	CodeTransitionUnknown Code = "TRANSITION_UNKNOWN"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeEnvelopeInvalid,
		CodeEnvelopeUnknownKind,
		CodeRoleInvalid,
		CodeSessionEmptyID,
		CodeSessionNoParticipants,
		CodeReadinessKindInvalid,
		CodePhaseUnknown:
		return codes.InvalidArgument

	// PermissionDenied - role policy refused the operation
	case CodeRoleNotPermitted:
		return codes.PermissionDenied

	// Unauthenticated - grant verification failures
	case CodeGrantInvalid,
		CodeGrantExpired,
		CodeGrantMismatch:
		return codes.Unauthenticated

	// FailedPrecondition - state doesn't allow operation
	case CodeSessionInactive,
		CodeTransitionUnknown:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeParticipantUnknown:
		return codes.NotFound

	default:
		return codes.Internal
	}
}

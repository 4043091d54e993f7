// Package storage defines the persistence interfaces the coordinator depends
// on. Implementations own durability; the coordinator only gets and puts
// opaque session records.
package storage

import (
	"context"
	"errors"

	"github.com/openparlor/parlor/internal/coord/session"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// SessionStore persists coordinator session records.
//
// A record carries phase, round, deadline, roster, and phase-local readiness
// bookkeeping — enough to reconstruct the phase machine and re-arm deadline
// timers after a restart.
type SessionStore interface {
	PutSession(ctx context.Context, s session.Session) error
	GetSession(ctx context.Context, id string) (session.Session, error)
	ListActiveSessions(ctx context.Context) ([]session.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

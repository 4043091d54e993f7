package coordinator

import (
	"context"
	"log"
	"time"

	"github.com/openparlor/parlor/internal/coord/event"
	"github.com/openparlor/parlor/internal/coord/phase"
)

// warningThreshold is a remaining-time mark that fires a timer-warning event
// at most once per phase deadline.
type warningThreshold struct {
	remaining time.Duration
	label     string
}

var warningThresholds = []warningThreshold{
	{remaining: 5 * time.Minute, label: "5m"},
	{remaining: time.Minute, label: "1m"},
	{remaining: 30 * time.Second, label: "30s"},
}

// armTimersLocked cancels any previously scheduled alarms for the session and
// schedules fire-once alarms for each warning threshold plus the expiry. The
// caller holds the session handle lock.
//
// Alarms carry no state: when one fires it re-evaluates the session's current
// deadline under the lock, so an alarm left over from a superseded deadline
// either does the right thing or nothing.
func (c *Coordinator) armTimersLocked(h *sessionHandle, sessionID string, deadline *time.Time) {
	stopTimersLocked(h)
	if deadline == nil {
		return
	}

	now := c.now()
	fire := func() {
		if err := c.evaluateDeadline(context.Background(), sessionID, c.now()); err != nil {
			log.Printf("coordinator: session %s deadline evaluation failed: %v", sessionID, err)
		}
	}

	for _, threshold := range warningThresholds {
		at := deadline.Add(-threshold.remaining)
		if !at.After(now) {
			// Already inside the threshold; the expiry alarm or the next
			// tick covers it.
			continue
		}
		h.timers = append(h.timers, time.AfterFunc(at.Sub(now), fire))
	}
	h.timers = append(h.timers, time.AfterFunc(deadline.Sub(now), fire))
}

func stopTimersLocked(h *sessionHandle) {
	for _, t := range h.timers {
		t.Stop()
	}
	h.timers = nil
}

// Tick drives deadline handling for poll-based hosts. It emits each crossed
// warning threshold at most once and, once remaining time reaches zero,
// transitions with reason timer-expired. Scheduled alarms share this exact
// path, so polling and alarms can coexist without double-firing.
func (c *Coordinator) Tick(ctx context.Context, sessionID string, now time.Time) error {
	return c.evaluateDeadline(ctx, sessionID, now)
}

func (c *Coordinator) evaluateDeadline(ctx context.Context, sessionID string, now time.Time) error {
	h := c.handle(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok, err := c.load(ctx, sessionID, "deadline evaluation")
	if err != nil || !ok {
		return err
	}
	if !sess.Active || sess.Deadline == nil {
		return nil
	}

	remaining := sess.Deadline.Sub(now)
	if remaining <= 0 {
		c.emit(ctx, event.Event{
			Type:      event.TypeTimerExpired,
			SessionID: sess.ID,
			TimerExpired: &event.TimerExpiredPayload{
				Phase:    string(sess.Phase),
				Deadline: *sess.Deadline,
			},
		})
		if sess.Terminal() {
			sess.UpdatedAt = c.now().UTC()
			return c.deactivateLocked(ctx, h, &sess)
		}
		next, known := phase.Next(sess.Phase)
		if !known {
			log.Printf("coordinator: session %s has unknown phase %q at expiry, manual intervention required",
				sessionID, sess.Phase)
			return nil
		}
		return c.initiateTransitionLocked(ctx, h, &sess, next, event.ReasonTimerExpired)
	}

	if sess.FiredWarnings == nil {
		sess.FiredWarnings = make(map[string]bool)
	}
	changed := false
	for _, threshold := range warningThresholds {
		if remaining > threshold.remaining || sess.FiredWarnings[threshold.label] {
			continue
		}
		sess.FiredWarnings[threshold.label] = true
		changed = true
		c.emit(ctx, event.Event{
			Type:      event.TypeTimerWarning,
			SessionID: sess.ID,
			TimerWarning: &event.TimerWarningPayload{
				Phase:     string(sess.Phase),
				Remaining: threshold.label,
				Deadline:  *sess.Deadline,
			},
		})
	}
	if !changed {
		return nil
	}
	sess.UpdatedAt = c.now().UTC()
	return c.store.PutSession(ctx, sess)
}

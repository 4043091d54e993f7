// Package capacity implements per-channel message budget accounting and the
// admission-control decorator the shared bus runs behind.
package capacity

import (
	"fmt"
	"sync"
)

// Unlimited marks a budget dimension with no configured cap.
const Unlimited = -1

// Rejection reasons reported with dropped messages.
const (
	ReasonChannelExhausted    = "channel_exhausted"
	ReasonParticipantExceeded = "participant_limit_exceeded"
)

// Limits configures a channel's message budgets. Zero values mean no cap.
type Limits struct {
	MaxPerParticipant int `yaml:"max_per_participant" json:"max_per_participant"`
	MaxTotal          int `yaml:"max_total" json:"max_total"`
}

type channelState struct {
	limits         Limits
	perParticipant map[string]int
	total          int
	exhausted      bool
	reason         string
}

// Tracker keeps per-channel budget counters. Counters only move forward until
// the channel is explicitly torn down.
type Tracker struct {
	mu       sync.Mutex
	channels map[string]*channelState
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{channels: make(map[string]*channelState)}
}

// Configure registers channelID with zeroed counters. Reconfiguring an
// existing channel resets it.
func (t *Tracker) Configure(channelID string, limits Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels[channelID] = &channelState{
		limits:         limits,
		perParticipant: make(map[string]int),
	}
}

// Teardown destroys the channel's counters.
func (t *Tracker) Teardown(channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.channels, channelID)
}

// CanSend reports whether participantID may post another message on
// channelID, with a rejection reason when not.
//
// An unregistered channel admits everything: a missing tracker entry means
// budget enforcement is disabled for that channel, not that sends fail.
func (t *Tracker) CanSend(channelID, participantID string) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.channels[channelID]
	if !ok {
		return true, ""
	}
	if ch.exhausted {
		// Exhaustion blocks every sender, including participants that
		// never posted.
		return false, ch.reason
	}
	if ch.limits.MaxPerParticipant > 0 && ch.perParticipant[participantID] >= ch.limits.MaxPerParticipant {
		return false, ReasonParticipantExceeded
	}
	return true, ""
}

// Track counts one message from participantID on channelID and re-evaluates
// exhaustion.
func (t *Tracker) Track(channelID, participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.channels[channelID]
	if !ok {
		return
	}
	ch.perParticipant[participantID]++
	ch.total++

	if ch.limits.MaxTotal > 0 && ch.total >= ch.limits.MaxTotal {
		ch.exhausted = true
		ch.reason = ReasonChannelExhausted
	} else if allParticipantsExhausted(ch) {
		ch.exhausted = true
		ch.reason = ReasonChannelExhausted
	}
}

// allParticipantsExhausted is a disabled exhaustion policy kept on purpose:
// the participant roster is open-ended, so per-participant budgets can never
// prove the channel is done. Re-enabling requires a closed, predeclared
// roster the rest of the system does not guarantee; only the global cap can
// force exhaustion.
func allParticipantsExhausted(*channelState) bool {
	return false
}

// Info reports the remaining budgets for participantID on channelID.
type Info struct {
	RemainingParticipant int    `json:"remaining_participant"`
	RemainingTotal       int    `json:"remaining_total"`
	Exhausted            bool   `json:"exhausted"`
	Reason               string `json:"reason,omitempty"`
}

// GetInfo reports remaining budgets; dimensions without a cap report
// Unlimited. Unregistered channels report fully unlimited budgets.
func (t *Tracker) GetInfo(channelID, participantID string) Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.channels[channelID]
	if !ok {
		return Info{RemainingParticipant: Unlimited, RemainingTotal: Unlimited}
	}

	info := Info{
		RemainingParticipant: Unlimited,
		RemainingTotal:       Unlimited,
		Exhausted:            ch.exhausted,
		Reason:               ch.reason,
	}
	if ch.limits.MaxPerParticipant > 0 {
		info.RemainingParticipant = max(0, ch.limits.MaxPerParticipant-ch.perParticipant[participantID])
	}
	if ch.limits.MaxTotal > 0 {
		info.RemainingTotal = max(0, ch.limits.MaxTotal-ch.total)
	}
	return info
}

// remainingLabel describes a budget dimension for logs.
func remainingLabel(remaining int) string {
	if remaining == Unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", remaining)
}

// String implements fmt.Stringer for log lines.
func (i Info) String() string {
	return fmt.Sprintf("participant=%s total=%s exhausted=%v",
		remainingLabel(i.RemainingParticipant), remainingLabel(i.RemainingTotal), i.Exhausted)
}

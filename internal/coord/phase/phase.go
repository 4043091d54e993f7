// Package phase defines the fixed game lifecycle as a pure transition table.
//
// Every content phase is followed by its paired reflection sub-phase, and the
// final reflection phase wraps back to the first content phase. Exactly that
// wrap edge carries the round-increment flag. The machine is pure and
// restartable: a stored phase string is all that is needed to resume it.
package phase

// Phase is a named stage in the game lifecycle with exactly one successor.
type Phase string

const (
	Lobby                Phase = "LOBBY"
	LobbyReflection      Phase = "LOBBY_REFLECTION"
	Discussion           Phase = "DISCUSSION"
	DiscussionReflection Phase = "DISCUSSION_REFLECTION"
	Voting               Phase = "VOTING"
	VotingReflection     Phase = "VOTING_REFLECTION"
	Night                Phase = "NIGHT"
	NightReflection      Phase = "NIGHT_REFLECTION"
)

// ReadinessKind names a readiness signal category.
type ReadinessKind string

const (
	// KindPhaseAction gates content phases.
	KindPhaseAction ReadinessKind = "phase-action"
	// KindReflection gates reflection phases.
	KindReflection ReadinessKind = "reflection"
	// KindStrategic is recorded for the content layer's planning signals;
	// it never gates a transition.
	KindStrategic ReadinessKind = "strategic"
)

// KnownReadinessKind reports whether k is a recognized readiness kind.
func KnownReadinessKind(k ReadinessKind) bool {
	switch k {
	case KindPhaseAction, KindReflection, KindStrategic:
		return true
	default:
		return false
	}
}

// contentOrder is the cyclic sequence of content phases. Reflection pairs and
// the wrap edge are derived from it, so the loop lives in data rather than in
// control flow.
var contentOrder = []Phase{Lobby, Discussion, Voting, Night}

// Transition is a single edge in the lifecycle graph.
type Transition struct {
	From Phase
	To   Phase
	// WrapsRound tags the one edge where the round counter increments.
	WrapsRound bool
}

var transitions, reflections = buildTransitions(contentOrder)

func buildTransitions(order []Phase) (map[Phase]Transition, map[Phase]struct{}) {
	table := make(map[Phase]Transition, len(order)*2)
	reflecting := make(map[Phase]struct{}, len(order))
	for i, content := range order {
		reflection := content + "_REFLECTION"
		reflecting[reflection] = struct{}{}
		table[content] = Transition{From: content, To: reflection}

		next := order[(i+1)%len(order)]
		table[reflection] = Transition{
			From:       reflection,
			To:         next,
			WrapsRound: i == len(order)-1,
		}
	}
	return table, reflecting
}

// Initial is the phase every new session starts in.
func Initial() Phase { return contentOrder[0] }

// Next returns the successor edge for p. The second return is false when p is
// not part of the lifecycle, which callers treat as "requires manual
// intervention" rather than a crash.
func Next(p Phase) (Transition, bool) {
	t, ok := transitions[p]
	return t, ok
}

// Parse validates a stored phase string, restoring a machine from snapshot.
func Parse(raw string) (Phase, bool) {
	p := Phase(raw)
	_, ok := transitions[p]
	return p, ok
}

// IsReflection reports whether p is a reflection sub-phase.
func IsReflection(p Phase) bool {
	_, ok := reflections[p]
	return ok
}

// RequiredReadiness returns the readiness kind whose quorum advances p.
func RequiredReadiness(p Phase) ReadinessKind {
	if IsReflection(p) {
		return KindReflection
	}
	return KindPhaseAction
}

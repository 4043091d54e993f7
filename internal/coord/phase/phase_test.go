package phase

import "testing"

func TestEveryPhaseHasExactlyOneSuccessor(t *testing.T) {
	all := []Phase{
		Lobby, LobbyReflection,
		Discussion, DiscussionReflection,
		Voting, VotingReflection,
		Night, NightReflection,
	}
	for _, p := range all {
		tr, ok := Next(p)
		if !ok {
			t.Fatalf("phase %s has no successor", p)
		}
		if tr.From != p {
			t.Fatalf("transition for %s reports from=%s", p, tr.From)
		}
		if tr.To == p {
			t.Fatalf("phase %s transitions to itself", p)
		}
	}
}

func TestContentPhasesTransitionToTheirReflection(t *testing.T) {
	pairs := map[Phase]Phase{
		Lobby:      LobbyReflection,
		Discussion: DiscussionReflection,
		Voting:     VotingReflection,
		Night:      NightReflection,
	}
	for content, reflection := range pairs {
		tr, ok := Next(content)
		if !ok {
			t.Fatalf("no successor for %s", content)
		}
		if tr.To != reflection {
			t.Fatalf("expected %s -> %s, got %s", content, reflection, tr.To)
		}
		if tr.WrapsRound {
			t.Fatalf("content edge %s -> %s must not wrap the round", content, tr.To)
		}
	}
}

func TestOnlyFinalReflectionWrapsRound(t *testing.T) {
	cycle := []struct {
		from  Phase
		to    Phase
		wraps bool
	}{
		{LobbyReflection, Discussion, false},
		{DiscussionReflection, Voting, false},
		{VotingReflection, Night, false},
		{NightReflection, Lobby, true},
	}
	for _, edge := range cycle {
		tr, ok := Next(edge.from)
		if !ok {
			t.Fatalf("no successor for %s", edge.from)
		}
		if tr.To != edge.to {
			t.Fatalf("expected %s -> %s, got %s", edge.from, edge.to, tr.To)
		}
		if tr.WrapsRound != edge.wraps {
			t.Fatalf("edge %s -> %s: expected wraps=%v", edge.from, edge.to, edge.wraps)
		}
	}
}

func TestFullCycleReturnsToInitial(t *testing.T) {
	p := Initial()
	wraps := 0
	for i := 0; i < 8; i++ {
		tr, ok := Next(p)
		if !ok {
			t.Fatalf("cycle broke at %s", p)
		}
		if tr.WrapsRound {
			wraps++
		}
		p = tr.To
	}
	if p != Initial() {
		t.Fatalf("expected to return to %s after full cycle, got %s", Initial(), p)
	}
	if wraps != 1 {
		t.Fatalf("expected exactly 1 wrap edge per cycle, got %d", wraps)
	}
}

func TestNextUnknownPhase(t *testing.T) {
	if _, ok := Next(Phase("LIMBO")); ok {
		t.Fatal("expected no successor for unknown phase")
	}
}

func TestParseRestoresStoredPhase(t *testing.T) {
	p, ok := Parse("VOTING_REFLECTION")
	if !ok {
		t.Fatal("expected stored phase to parse")
	}
	if p != VotingReflection {
		t.Fatalf("expected VOTING_REFLECTION, got %s", p)
	}

	if _, ok := Parse("VOID"); ok {
		t.Fatal("expected unknown phase to fail parsing")
	}
}

func TestRequiredReadiness(t *testing.T) {
	if got := RequiredReadiness(Lobby); got != KindPhaseAction {
		t.Fatalf("expected phase-action for content phase, got %s", got)
	}
	if got := RequiredReadiness(NightReflection); got != KindReflection {
		t.Fatalf("expected reflection for reflection phase, got %s", got)
	}
}

func TestKnownReadinessKind(t *testing.T) {
	for _, k := range []ReadinessKind{KindPhaseAction, KindReflection, KindStrategic} {
		if !KnownReadinessKind(k) {
			t.Fatalf("expected %s to be known", k)
		}
	}
	if KnownReadinessKind("vibes") {
		t.Fatal("expected unknown kind to be rejected")
	}
}

func TestIsReflection(t *testing.T) {
	if IsReflection(Lobby) {
		t.Fatal("LOBBY is a content phase")
	}
	if !IsReflection(LobbyReflection) {
		t.Fatal("LOBBY_REFLECTION is a reflection phase")
	}
	if IsReflection(Phase("LIMBO")) {
		t.Fatal("unknown phase is not a reflection phase")
	}
}

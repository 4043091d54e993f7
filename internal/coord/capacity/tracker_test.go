package capacity

import "testing"

func TestTotalCapExhaustsChannelForEveryone(t *testing.T) {
	tr := NewTracker()
	tr.Configure("table", Limits{MaxTotal: 3})

	for i := 0; i < 3; i++ {
		ok, _ := tr.CanSend("table", "p1")
		if !ok {
			t.Fatalf("message %d should be admitted", i+1)
		}
		tr.Track("table", "p1")
	}

	ok, reason := tr.CanSend("table", "p1")
	if ok {
		t.Fatal("channel should be exhausted after hitting the total cap")
	}
	if reason != ReasonChannelExhausted {
		t.Fatalf("expected channel exhausted reason, got %q", reason)
	}

	// A participant that never posted is blocked too.
	ok, reason = tr.CanSend("table", "newcomer")
	if ok {
		t.Fatal("exhaustion must block newly-joining senders")
	}
	if reason != ReasonChannelExhausted {
		t.Fatalf("expected channel exhausted reason, got %q", reason)
	}
}

func TestPerParticipantCapIsIsolated(t *testing.T) {
	tr := NewTracker()
	tr.Configure("table", Limits{MaxPerParticipant: 2})

	tr.Track("table", "x")
	tr.Track("table", "x")

	if ok, reason := tr.CanSend("table", "x"); ok || reason != ReasonParticipantExceeded {
		t.Fatalf("expected x to be over budget, got ok=%v reason=%q", ok, reason)
	}
	if ok, _ := tr.CanSend("table", "y"); !ok {
		t.Fatal("untouched participant y must remain sendable")
	}
}

func TestPerParticipantBudgetsNeverExhaustChannel(t *testing.T) {
	tr := NewTracker()
	tr.Configure("table", Limits{MaxPerParticipant: 1})

	tr.Track("table", "a")
	tr.Track("table", "b")

	// Both known participants are individually spent, but the roster is
	// open-ended so the channel itself stays open.
	info := tr.GetInfo("table", "a")
	if info.Exhausted {
		t.Fatal("per-participant budgets must not exhaust the channel")
	}
	if ok, _ := tr.CanSend("table", "fresh"); !ok {
		t.Fatal("a fresh participant must still be admitted")
	}
}

func TestGetInfoReportsRemainingBudgets(t *testing.T) {
	tr := NewTracker()
	tr.Configure("table", Limits{MaxPerParticipant: 2, MaxTotal: 5})

	tr.Track("table", "p1")

	info := tr.GetInfo("table", "p1")
	if info.RemainingParticipant != 1 {
		t.Fatalf("expected 1 remaining for p1, got %d", info.RemainingParticipant)
	}
	if info.RemainingTotal != 4 {
		t.Fatalf("expected 4 remaining total, got %d", info.RemainingTotal)
	}

	other := tr.GetInfo("table", "p2")
	if other.RemainingParticipant != 2 {
		t.Fatalf("expected full budget for p2, got %d", other.RemainingParticipant)
	}
}

func TestUncappedDimensionsReportUnlimited(t *testing.T) {
	tr := NewTracker()
	tr.Configure("table", Limits{})

	info := tr.GetInfo("table", "p1")
	if info.RemainingParticipant != Unlimited || info.RemainingTotal != Unlimited {
		t.Fatalf("expected unlimited budgets, got %+v", info)
	}
	if ok, _ := tr.CanSend("table", "p1"); !ok {
		t.Fatal("uncapped channel must admit everything")
	}
}

func TestUnregisteredChannelAdmitsEverything(t *testing.T) {
	tr := NewTracker()

	if ok, _ := tr.CanSend("nowhere", "p1"); !ok {
		t.Fatal("unregistered channel means enforcement disabled")
	}
	tr.Track("nowhere", "p1") // must not panic or create state

	info := tr.GetInfo("nowhere", "p1")
	if info.RemainingParticipant != Unlimited || info.RemainingTotal != Unlimited {
		t.Fatalf("expected unlimited budgets, got %+v", info)
	}
}

func TestTeardownDestroysCounters(t *testing.T) {
	tr := NewTracker()
	tr.Configure("table", Limits{MaxTotal: 1})
	tr.Track("table", "p1")

	if ok, _ := tr.CanSend("table", "p1"); ok {
		t.Fatal("expected channel exhausted before teardown")
	}

	tr.Teardown("table")
	if ok, _ := tr.CanSend("table", "p1"); !ok {
		t.Fatal("teardown should remove enforcement entirely")
	}
}

func TestReconfigureResetsCounters(t *testing.T) {
	tr := NewTracker()
	tr.Configure("table", Limits{MaxTotal: 1})
	tr.Track("table", "p1")

	tr.Configure("table", Limits{MaxTotal: 2})
	if ok, _ := tr.CanSend("table", "p1"); !ok {
		t.Fatal("reconfiguring should zero the counters")
	}
}

package thread

import (
	"reflect"
	"testing"

	"github.com/ashureev/gatewayrt/internal/domain"
	"github.com/ashureev/gatewayrt/internal/eventmap"
)

func TestApplyTurnStartedSetsRunning(t *testing.T) {
	th := domain.ActiveThread{ChatID: "c1"}
	next := Apply(th, eventmap.MappedEvent{Kind: eventmap.KindTurnStarted, TurnID: "u1"})
	if !next.Running || next.ActiveTurnID != "u1" {
		t.Fatalf("expected running=true activeTurnId=u1, got %+v", next)
	}
}

func TestApplyTurnCompletedClearsMatchingTurn(t *testing.T) {
	th := domain.ActiveThread{ChatID: "c1", Running: true, ActiveTurnID: "u1"}
	next := Apply(th, eventmap.MappedEvent{Kind: eventmap.KindTurnCompleted, TurnID: "u1"})
	if next.Running || next.ActiveTurnID != "" {
		t.Fatalf("expected running=false and cleared activeTurnId, got %+v", next)
	}
}

func TestApplyTurnCompletedIgnoresMismatchedTurn(t *testing.T) {
	th := domain.ActiveThread{ChatID: "c1", Running: true, ActiveTurnID: "u1"}
	next := Apply(th, eventmap.MappedEvent{Kind: eventmap.KindTurnCompleted, TurnID: "other"})
	if next.ActiveTurnID != "u1" {
		t.Fatalf("expected activeTurnId unchanged when turn ids mismatch, got %q", next.ActiveTurnID)
	}
}

// TestApplyMessageDeltaCreatesThenUpdates exercises S4: the reducer treats
// the mapped event's text as authoritative, not additive.
func TestApplyMessageDeltaCreatesThenUpdates(t *testing.T) {
	th := domain.ActiveThread{ChatID: "c1"}
	th = Apply(th, eventmap.MappedEvent{Kind: eventmap.KindMessageDelta, TurnID: "u1", ItemID: "m1", Text: "Hel"})
	if len(th.Items) != 1 || th.Items[0].Text != "Hel" || th.Items[0].Kind != domain.ItemKindAssistant {
		t.Fatalf("expected one assistant item with text Hel, got %+v", th.Items)
	}

	th = Apply(th, eventmap.MappedEvent{Kind: eventmap.KindMessageDelta, TurnID: "u1", ItemID: "m1", Text: "Hello!"})
	if len(th.Items) != 1 {
		t.Fatalf("expected delta to update in place, not duplicate; got %d items", len(th.Items))
	}
	if th.Items[0].Text != "Hello!" {
		t.Fatalf("expected accumulated text Hello!, got %q", th.Items[0].Text)
	}
}

func TestApplyItemStartedThenCompletedMergesNonEmptyFields(t *testing.T) {
	th := domain.ActiveThread{ChatID: "c1"}
	th = Apply(th, eventmap.MappedEvent{
		Kind: eventmap.KindItemStarted,
		Item: domain.ChatItem{ID: "i1", Kind: domain.ItemKindCommand, Command: "ls"},
	})
	th = Apply(th, eventmap.MappedEvent{
		Kind: eventmap.KindItemCompleted,
		Item: domain.ChatItem{ID: "i1", Kind: domain.ItemKindCommand, Status: "ok", Output: "file1\nfile2"},
	})
	if len(th.Items) != 1 {
		t.Fatalf("expected item.completed to update in place, got %d items", len(th.Items))
	}
	item := th.Items[0]
	if item.Command != "ls" {
		t.Fatalf("expected command preserved from item.started, got %q", item.Command)
	}
	if item.Status != "ok" || item.Output != "file1\nfile2" {
		t.Fatalf("expected status/output merged from item.completed, got %+v", item)
	}
}

func TestApplyCommandOutputCreatesItemOnReordering(t *testing.T) {
	th := domain.ActiveThread{ChatID: "c1"}
	th = Apply(th, eventmap.MappedEvent{Kind: eventmap.KindCommandOutput, ItemID: "i1", DeltaText: "out1"})
	th = Apply(th, eventmap.MappedEvent{Kind: eventmap.KindCommandOutput, ItemID: "i1", DeltaText: "out2"})
	if len(th.Items) != 1 {
		t.Fatalf("expected single command item, got %d", len(th.Items))
	}
	if th.Items[0].Output != "out1out2" {
		t.Fatalf("expected appended output out1out2, got %q", th.Items[0].Output)
	}
}

func TestApplyPlanUpdatedUpsertsByTurn(t *testing.T) {
	th := domain.ActiveThread{ChatID: "c1"}
	th = Apply(th, eventmap.MappedEvent{
		Kind: eventmap.KindPlanUpdated, TurnID: "u1", Text: "step1",
		Plan: []domain.PlanStep{{Step: "step1"}},
	})
	th = Apply(th, eventmap.MappedEvent{
		Kind: eventmap.KindPlanUpdated, TurnID: "u1", Text: "step1\nstep2",
		Plan: []domain.PlanStep{{Step: "step1"}, {Step: "step2"}},
	})
	if len(th.Items) != 1 {
		t.Fatalf("expected one plan item upserted in place, got %d", len(th.Items))
	}
	if th.Items[0].Text != "step1\nstep2" || len(th.Items[0].Plan) != 2 {
		t.Fatalf("expected updated plan text/steps, got %+v", th.Items[0])
	}
}

// TestApprovalLifecycle exercises S3: a pending approval, then an accepted
// decision, with countPendingApprovals reaching zero.
func TestApprovalLifecycle(t *testing.T) {
	th := domain.ActiveThread{ChatID: "c1"}
	th = Apply(th, eventmap.MappedEvent{
		Kind: eventmap.KindApprovalRequired, TurnID: "u1", ItemID: "a1",
		RequestID: "42", Reason: "needs permission", Command: "rm -rf x",
	})
	if CountPendingApprovals(th.Items) != 1 {
		t.Fatalf("expected one pending approval, got %d", CountPendingApprovals(th.Items))
	}
	pending, ok := PendingApprovalFromThread(th)
	if !ok || pending.RequestID != "42" {
		t.Fatalf("expected pending approval requestId 42, got %+v ok=%v", pending, ok)
	}

	th = ApplyApprovalDecision(th, "42", "accept")
	if CountPendingApprovals(th.Items) != 0 {
		t.Fatalf("expected zero pending approvals after accept, got %d", CountPendingApprovals(th.Items))
	}
	if th.Items[0].Status != "accept" {
		t.Fatalf("expected status accept, got %q", th.Items[0].Status)
	}
}

func TestApplyApprovalStatusSupportsOptimisticRollback(t *testing.T) {
	th := domain.ActiveThread{Items: []domain.ChatItem{
		{ID: "a1", Kind: domain.ItemKindApproval, RequestID: "42", Status: "accept"},
	}}
	th = ApplyApprovalStatus(th, "42", "pending")
	if th.Items[0].Status != "pending" {
		t.Fatalf("expected rollback to pending, got %q", th.Items[0].Status)
	}
}

func TestApplyTokensUsageDoesNotTouchItems(t *testing.T) {
	th := domain.ActiveThread{Items: []domain.ChatItem{{ID: "i1", Kind: domain.ItemKindUser}}}
	next := Apply(th, eventmap.MappedEvent{Kind: eventmap.KindTokensUsage, Usage: domain.UsageCounts{TotalTokens: 10}})
	if len(next.Items) != 1 || next.Items[0].ID != "i1" {
		t.Fatalf("expected items unchanged by tokens.usage, got %+v", next.Items)
	}
}

// TestReducerIdempotence exercises invariant 5: replaying the same event
// log from the same starting state yields the same final thread.
func TestReducerIdempotence(t *testing.T) {
	events := []eventmap.MappedEvent{
		{Kind: eventmap.KindTurnStarted, TurnID: "u1"},
		{Kind: eventmap.KindMessageDelta, TurnID: "u1", ItemID: "m1", Text: "Hi"},
		{Kind: eventmap.KindItemStarted, Item: domain.ChatItem{ID: "i1", Kind: domain.ItemKindCommand, Command: "ls"}},
		{Kind: eventmap.KindTurnCompleted, TurnID: "u1"},
	}

	replay := func() domain.ActiveThread {
		th := domain.ActiveThread{ChatID: "c1"}
		for _, ev := range events {
			th = Apply(th, ev)
		}
		return th
	}

	first := replay()
	second := replay()

	if len(first.Items) != len(second.Items) {
		t.Fatalf("expected identical item counts, got %d vs %d", len(first.Items), len(second.Items))
	}
	for i := range first.Items {
		if !reflect.DeepEqual(first.Items[i], second.Items[i]) {
			t.Fatalf("item %d differs between replays: %+v vs %+v", i, first.Items[i], second.Items[i])
		}
	}
	if first.Running != second.Running || first.ActiveTurnID != second.ActiveTurnID {
		t.Fatalf("expected identical running/activeTurnId, got %+v vs %+v", first, second)
	}
}

func TestApplyDoesNotMutateInputThread(t *testing.T) {
	th := domain.ActiveThread{ChatID: "c1", Items: []domain.ChatItem{{ID: "i1", Kind: domain.ItemKindUser}}}
	_ = Apply(th, eventmap.MappedEvent{Kind: eventmap.KindTurnStarted, TurnID: "u1"})
	if th.Running {
		t.Fatal("expected input thread snapshot to remain unmutated")
	}
}

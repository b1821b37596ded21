// Package thread implements the pure (thread, mappedEvent) -> thread
// reducer (spec §4.6). No function here performs I/O; the coordinator owns
// all mutable state and feeds it through Apply one event at a time.
package thread

import (
	"github.com/ashureev/gatewayrt/internal/domain"
	"github.com/ashureev/gatewayrt/internal/eventmap"
)

// Apply folds one mapped event into thread, returning the next thread
// state. thread is never mutated in place; callers always receive a fresh
// value built from a clone of the input.
func Apply(t domain.ActiveThread, ev eventmap.MappedEvent) domain.ActiveThread {
	next := t.Clone()

	switch ev.Kind {
	case eventmap.KindTurnStarted:
		next.Running = true
		next.ActiveTurnID = ev.TurnID

	case eventmap.KindTurnCompleted:
		next.Running = false
		if next.ActiveTurnID == ev.TurnID {
			next.ActiveTurnID = ""
		}

	case eventmap.KindMessageDelta:
		applyMessageDelta(&next, ev)

	case eventmap.KindItemStarted, eventmap.KindItemCompleted:
		upsertItem(&next, ev.Item)

	case eventmap.KindCommandOutput:
		applyCommandOutput(&next, ev)

	case eventmap.KindPlanUpdated:
		applyPlanUpdated(&next, ev)

	case eventmap.KindApprovalRequired:
		applyApprovalRequired(&next, ev)

	case eventmap.KindTokensUsage:
		// Token usage is a side-channel owned by the coordinator (spec
		// §4.6); it never touches thread items.
	}

	return next
}

// applyMessageDelta locates the assistant item by itemId (ids are unique
// within a thread, so the turn id is not part of the lookup); if absent it
// appends one. The buffer is authoritative: the item's text is
// set to the mapped event's accumulated text, not appended to again.
func applyMessageDelta(t *domain.ActiveThread, ev eventmap.MappedEvent) {
	idx := t.IndexOf(ev.ItemID)
	if idx < 0 {
		t.Items = append(t.Items, domain.ChatItem{
			ID:     ev.ItemID,
			Kind:   domain.ItemKindAssistant,
			TurnID: ev.TurnID,
			Text:   ev.Text,
		})
		return
	}
	t.Items[idx].Text = ev.Text
}

// upsertItem inserts item if its id is absent, or merges it into the
// existing item at that id, never duplicating ids (spec §4.6 item.started /
// item.completed).
func upsertItem(t *domain.ActiveThread, item domain.ChatItem) {
	if item.ID == "" {
		return
	}
	idx := t.IndexOf(item.ID)
	if idx < 0 {
		t.Items = append(t.Items, item)
		return
	}
	t.Items[idx] = mergePreferNonEmpty(t.Items[idx], item)
}

// mergePreferNonEmpty merges incoming into existing field by field,
// preferring incoming's value where it is non-empty (spec: "merge fields
// preferring the new, non-empty ones").
func mergePreferNonEmpty(existing, incoming domain.ChatItem) domain.ChatItem {
	out := existing
	if incoming.Kind != "" {
		out.Kind = incoming.Kind
	}
	if incoming.TurnID != "" {
		out.TurnID = incoming.TurnID
	}
	if incoming.Text != "" {
		out.Text = incoming.Text
	}
	if len(incoming.Summary) > 0 {
		out.Summary = incoming.Summary
	}
	if len(incoming.Content) > 0 {
		out.Content = incoming.Content
	}
	if incoming.Command != "" {
		out.Command = incoming.Command
	}
	if incoming.Cwd != "" {
		out.Cwd = incoming.Cwd
	}
	if incoming.Output != "" {
		out.Output = incoming.Output
	}
	if len(incoming.Changes) > 0 {
		out.Changes = incoming.Changes
	}
	if len(incoming.Plan) > 0 {
		out.Plan = incoming.Plan
	}
	if incoming.Status != "" {
		out.Status = incoming.Status
	}
	if incoming.RequestID != "" {
		out.RequestID = incoming.RequestID
	}
	if incoming.Reason != "" {
		out.Reason = incoming.Reason
	}
	if incoming.Optimistic {
		out.Optimistic = incoming.Optimistic
	}
	if incoming.Raw != nil {
		out.Raw = incoming.Raw
	}
	return out
}

// applyCommandOutput appends deltaText to the command item's output,
// creating the item if it is missing to tolerate event reordering (spec
// §4.6).
func applyCommandOutput(t *domain.ActiveThread, ev eventmap.MappedEvent) {
	idx := t.IndexOf(ev.ItemID)
	if idx < 0 {
		t.Items = append(t.Items, domain.ChatItem{
			ID:     ev.ItemID,
			Kind:   domain.ItemKindCommand,
			TurnID: ev.TurnID,
			Output: ev.DeltaText,
		})
		return
	}
	t.Items[idx].Output += ev.DeltaText
}

// applyPlanUpdated upserts a plan item keyed by turnId, replacing its text
// and structured steps.
func applyPlanUpdated(t *domain.ActiveThread, ev eventmap.MappedEvent) {
	id := planItemID(ev.TurnID)
	idx := t.IndexOf(id)
	if idx < 0 {
		t.Items = append(t.Items, domain.ChatItem{
			ID:     id,
			Kind:   domain.ItemKindPlan,
			TurnID: ev.TurnID,
			Text:   ev.Text,
			Plan:   ev.Plan,
		})
		return
	}
	t.Items[idx].Text = ev.Text
	t.Items[idx].Plan = ev.Plan
}

func planItemID(turnID string) string {
	return "plan:" + turnID
}

// applyApprovalRequired upserts an approval item with status "pending".
func applyApprovalRequired(t *domain.ActiveThread, ev eventmap.MappedEvent) {
	id := ev.ItemID
	if id == "" {
		id = "approval:" + ev.RequestID
	}
	idx := t.IndexOf(id)
	item := domain.ChatItem{
		ID:        id,
		Kind:      domain.ItemKindApproval,
		TurnID:    ev.TurnID,
		Status:    "pending",
		RequestID: ev.RequestID,
		Reason:    ev.Reason,
		Command:   ev.Command,
		Cwd:       ev.Cwd,
	}
	if idx < 0 {
		t.Items = append(t.Items, item)
		return
	}
	t.Items[idx] = item
}

// ApplyApprovalDecision sets the matching approval item's status to
// decision ("accept"|"decline"), driven by the RPC result rather than a
// server event (spec §4.6 "Approval secondary transitions").
func ApplyApprovalDecision(t domain.ActiveThread, requestID, decision string) domain.ActiveThread {
	return ApplyApprovalStatus(t, requestID, decision)
}

// ApplyApprovalStatus updates the matching approval item's status to an
// arbitrary string, including "pending" for optimistic rollback.
func ApplyApprovalStatus(t domain.ActiveThread, requestID, status string) domain.ActiveThread {
	next := t.Clone()
	for i := range next.Items {
		if next.Items[i].Kind == domain.ItemKindApproval && next.Items[i].RequestID == requestID {
			next.Items[i].Status = status
		}
	}
	return next
}

// CountPendingApprovals counts items with kind approval and status absent
// or "pending".
func CountPendingApprovals(items []domain.ChatItem) int {
	n := 0
	for _, item := range items {
		if item.Kind == domain.ItemKindApproval && (item.Status == "" || item.Status == "pending") {
			n++
		}
	}
	return n
}

// PendingApprovalFromThread returns the most recently inserted pending
// approval item, if any.
func PendingApprovalFromThread(t domain.ActiveThread) (domain.ChatItem, bool) {
	for i := len(t.Items) - 1; i >= 0; i-- {
		item := t.Items[i]
		if item.Kind == domain.ItemKindApproval && (item.Status == "" || item.Status == "pending") {
			return item, true
		}
	}
	return domain.ChatItem{}, false
}

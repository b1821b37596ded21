// Package eventmap translates raw gateway events into the normalized
// MappedEvent variants the thread reducer consumes (spec §4.5). MapEvent is
// a pure function: given the same inputs (plus buffer/lookup state) it
// always produces the same output, with no I/O of its own.
package eventmap

import (
	"encoding/json"
	"time"

	"github.com/ashureev/gatewayrt/internal/domain"
	"github.com/ashureev/gatewayrt/internal/wire"
)

// Kind tags the variant a MappedEvent carries.
type Kind string

// Recognized MappedEvent kinds (spec §4.5).
const (
	KindTurnStarted     Kind = "turn.started"
	KindTurnCompleted   Kind = "turn.completed"
	KindMessageDelta    Kind = "message.delta"
	KindItemStarted     Kind = "item.started"
	KindItemCompleted   Kind = "item.completed"
	KindCommandOutput   Kind = "command.output"
	KindPlanUpdated     Kind = "plan.updated"
	KindApprovalRequired Kind = "approval.required"
	KindTokensUsage     Kind = "tokens.usage"
)

// MappedEvent is the normalized shape the thread reducer and coordinator
// operate on. Only the fields relevant to Kind are populated; it is a
// tagged union in spirit, flattened into one struct for simplicity.
type MappedEvent struct {
	Kind       Kind
	ChatID     string
	ThreadID   string
	TurnID     string
	ItemID     string
	ActivityAt time.Time

	Text       string
	DeltaText  string
	Item       domain.ChatItem
	Plan       []domain.PlanStep
	RequestID  string
	Reason     string
	Command    string
	Cwd        string
	Usage      domain.UsageCounts
	ModelContextWindow *int64
}

// ThreadIDLookup maps a server-side threadId to the chatId that currently
// owns it (spec §3 ThreadIdLookup). Callers supply an implementation backed
// by the coordinator's live thread-summary table; nil is treated as empty.
type ThreadIDLookup interface {
	ChatIDForThread(threadID string) (chatID string, ok bool)
}

// DeltaBuffer accumulates assistant text across chat.message.delta events,
// keyed by (turnId, itemId) (spec §3 MessageDeltaBuffer).
type DeltaBuffer struct {
	byKey map[deltaKey]string
}

type deltaKey struct {
	turnID string
	itemID string
}

// NewDeltaBuffer returns an empty buffer.
func NewDeltaBuffer() *DeltaBuffer {
	return &DeltaBuffer{byKey: make(map[deltaKey]string)}
}

// Append adds delta to the accumulated text for (turnID, itemID) and returns
// the new total.
func (b *DeltaBuffer) Append(turnID, itemID, delta string) string {
	key := deltaKey{turnID: turnID, itemID: itemID}
	next := b.byKey[key] + delta
	b.byKey[key] = next
	return next
}

// Clear removes the accumulated text for (turnID, itemID), called when the
// corresponding assistant item completes.
func (b *DeltaBuffer) Clear(turnID, itemID string) {
	delete(b.byKey, deltaKey{turnID: turnID, itemID: itemID})
}

// nowFunc is a seam for tests; production code always uses time.Now.
var nowFunc = time.Now

type turnStartedParams struct {
	ThreadID string `json:"thread_id"`
	TurnID   string `json:"turn_id"`
}

type itemEnvelope struct {
	ThreadID string  `json:"thread_id"`
	TurnID   string  `json:"turn_id"`
	Item     rawItem `json:"item"`
}

type rawItem struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Text    string             `json:"text"`
	Summary []string           `json:"summary"`
	Content []string           `json:"content"`
	Command string             `json:"command"`
	Cwd     string             `json:"cwd"`
	Output  string             `json:"output"`
	Changes []domain.FileChange `json:"changes"`
	Status  string             `json:"status"`
}

type messageDeltaParams struct {
	ThreadID string `json:"thread_id"`
	TurnID   string `json:"turn_id"`
	ItemID   string `json:"item_id"`
	Delta    string `json:"delta"`
}

type commandOutputParams struct {
	ThreadID  string `json:"thread_id"`
	TurnID    string `json:"turn_id"`
	ItemID    string `json:"item_id"`
	DeltaText string `json:"delta_text"`
}

type planUpdatedParams struct {
	ThreadID string           `json:"thread_id"`
	TurnID   string           `json:"turn_id"`
	Plan     []domain.PlanStep `json:"plan"`
}

type approvalRequiredParams struct {
	ThreadID  string `json:"thread_id"`
	TurnID    string `json:"turn_id"`
	ItemID    string `json:"item_id"`
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
	Command   string `json:"command"`
	Cwd       string `json:"cwd"`
}

type tokensUsageParams struct {
	ThreadID string `json:"thread_id"`
	Usage    struct {
		TotalTokens           int64  `json:"total_tokens"`
		InputTokens           int64  `json:"input_tokens"`
		CachedInputTokens     int64  `json:"cached_input_tokens"`
		OutputTokens          int64  `json:"output_tokens"`
		ReasoningOutputTokens int64  `json:"reasoning_output_tokens"`
		ModelContextWindow    *int64 `json:"model_context_window,omitempty"`
	} `json:"usage"`
}

func chatIDFor(lookup ThreadIDLookup, threadID string) string {
	if lookup == nil {
		return threadID
	}
	if chatID, ok := lookup.ChatIDForThread(threadID); ok {
		return chatID
	}
	return threadID
}

// renderPlanText joins plan steps into a single human-readable string, the
// reducer's plan.updated "text" field (spec §4.5).
func renderPlanText(steps []domain.PlanStep) string {
	out := ""
	for i, s := range steps {
		if i > 0 {
			out += "\n"
		}
		out += s.Step
	}
	return out
}

// MapEvent classifies a raw {topic, params} event into a MappedEvent. It
// returns ok=false for unrecognized topics and for item events whose raw
// item type classifies to no ChatItem kind (spec §4.5 "otherwise dropped").
func MapEvent(ev wire.RPCEvent, lookup ThreadIDLookup, buf *DeltaBuffer) (MappedEvent, bool) {
	now := nowFunc()

	switch ev.Topic {
	case "chat.turn.started", "chat.turn.completed":
		var p turnStartedParams
		if err := json.Unmarshal(ev.Params, &p); err != nil {
			return MappedEvent{}, false
		}
		kind := KindTurnStarted
		if ev.Topic == "chat.turn.completed" {
			kind = KindTurnCompleted
		}
		return MappedEvent{
			Kind:       kind,
			ChatID:     chatIDFor(lookup, p.ThreadID),
			ThreadID:   p.ThreadID,
			TurnID:     p.TurnID,
			ActivityAt: now,
		}, true

	case "chat.message.delta":
		var p messageDeltaParams
		if err := json.Unmarshal(ev.Params, &p); err != nil {
			return MappedEvent{}, false
		}
		itemID := p.ItemID
		if itemID == "" {
			// Spec §9 open question: reimplement the source's fallback of
			// synthesizing a key from the turn id alone.
			itemID = p.TurnID
		}
		text := buf.Append(p.TurnID, itemID, p.Delta)
		return MappedEvent{
			Kind:       KindMessageDelta,
			ChatID:     chatIDFor(lookup, p.ThreadID),
			ThreadID:   p.ThreadID,
			TurnID:     p.TurnID,
			ItemID:     itemID,
			Text:       text,
			ActivityAt: now,
		}, true

	case "chat.item.started", "chat.item.completed":
		var env itemEnvelope
		if err := json.Unmarshal(ev.Params, &env); err != nil {
			return MappedEvent{}, false
		}
		kind, ok := domain.ItemKindForRawType(env.Item.Type)
		if !ok {
			return MappedEvent{}, false
		}
		item := domain.ChatItem{
			ID:      env.Item.ID,
			Kind:    kind,
			TurnID:  env.TurnID,
			Text:    env.Item.Text,
			Summary: env.Item.Summary,
			Content: env.Item.Content,
			Command: env.Item.Command,
			Cwd:     env.Item.Cwd,
			Output:  env.Item.Output,
			Changes: env.Item.Changes,
			Status:  env.Item.Status,
		}
		mappedKind := KindItemStarted
		if ev.Topic == "chat.item.completed" {
			mappedKind = KindItemCompleted
			if kind == domain.ItemKindAssistant && buf != nil {
				buf.Clear(env.TurnID, item.ID)
			}
		}
		return MappedEvent{
			Kind:       mappedKind,
			ChatID:     chatIDFor(lookup, env.ThreadID),
			ThreadID:   env.ThreadID,
			TurnID:     env.TurnID,
			ItemID:     item.ID,
			Item:       item,
			ActivityAt: now,
		}, true

	case "chat.command.output":
		var p commandOutputParams
		if err := json.Unmarshal(ev.Params, &p); err != nil {
			return MappedEvent{}, false
		}
		return MappedEvent{
			Kind:       KindCommandOutput,
			ChatID:     chatIDFor(lookup, p.ThreadID),
			ThreadID:   p.ThreadID,
			TurnID:     p.TurnID,
			ItemID:     p.ItemID,
			DeltaText:  p.DeltaText,
			ActivityAt: now,
		}, true

	case "chat.plan.updated":
		var p planUpdatedParams
		if err := json.Unmarshal(ev.Params, &p); err != nil {
			return MappedEvent{}, false
		}
		return MappedEvent{
			Kind:       KindPlanUpdated,
			ChatID:     chatIDFor(lookup, p.ThreadID),
			ThreadID:   p.ThreadID,
			TurnID:     p.TurnID,
			Text:       renderPlanText(p.Plan),
			Plan:       p.Plan,
			ActivityAt: now,
		}, true

	case "chat.approval.required":
		var p approvalRequiredParams
		if err := json.Unmarshal(ev.Params, &p); err != nil {
			return MappedEvent{}, false
		}
		return MappedEvent{
			Kind:       KindApprovalRequired,
			ChatID:     chatIDFor(lookup, p.ThreadID),
			ThreadID:   p.ThreadID,
			TurnID:     p.TurnID,
			ItemID:     p.ItemID,
			RequestID:  p.RequestID,
			Reason:     p.Reason,
			Command:    p.Command,
			Cwd:        p.Cwd,
			ActivityAt: now,
		}, true

	case "chat.tokens.usage":
		var p tokensUsageParams
		if err := json.Unmarshal(ev.Params, &p); err != nil {
			return MappedEvent{}, false
		}
		return MappedEvent{
			Kind:     KindTokensUsage,
			ChatID:   chatIDFor(lookup, p.ThreadID),
			ThreadID: p.ThreadID,
			Usage: domain.UsageCounts{
				TotalTokens:           p.Usage.TotalTokens,
				InputTokens:           p.Usage.InputTokens,
				CachedInputTokens:     p.Usage.CachedInputTokens,
				OutputTokens:          p.Usage.OutputTokens,
				ReasoningOutputTokens: p.Usage.ReasoningOutputTokens,
			},
			ModelContextWindow: p.Usage.ModelContextWindow,
			ActivityAt:         now,
		}, true

	default:
		return MappedEvent{}, false
	}
}

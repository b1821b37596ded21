package coordinator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ashureev/gatewayrt/internal/domain"
	"github.com/ashureev/gatewayrt/internal/rpc"
	thrd "github.com/ashureev/gatewayrt/internal/thread"
)

// SendMessage appends an optimistic user item, then issues chat.message.send.
// If a turn is already running for this chat, the request is sent with
// Inject=true and the transient queued indicator is armed (spec §4.7
// "Queued-while-running"). On failure the optimistic item and running flag
// are rolled back.
func (c *Coordinator) SendMessage(ctx context.Context, req rpc.SendMessageRequest) (rpc.SendMessageResult, error) {
	c.mu.Lock()
	current := c.threads[req.ChatID]
	wasRunning := current.Running
	optimisticID := "optimistic:" + strconv.FormatInt(int64(len(current.Items))+1, 10) + ":" + req.ChatID
	withOptimistic := current.Clone()
	withOptimistic.Items = append(withOptimistic.Items, domain.ChatItem{
		ID:         optimisticID,
		Kind:       domain.ItemKindUser,
		Text:       req.Message,
		Optimistic: true,
	})
	c.threads[req.ChatID] = withOptimistic
	if wasRunning {
		req.Inject = true
		c.setQueuedLocked(req.ChatID)
	}
	c.mu.Unlock()
	c.notify(req.ChatID)

	result, err := c.client.SendMessage(ctx, req)
	if err != nil {
		c.mu.Lock()
		c.rollbackOptimisticLocked(req.ChatID, optimisticID, wasRunning)
		c.mu.Unlock()
		c.notify(req.ChatID)
		return result, fmt.Errorf("send message: %w", err)
	}

	c.mu.Lock()
	t := c.threads[req.ChatID]
	t.Running = true
	t.ActiveTurnID = result.TurnID
	c.threads[req.ChatID] = t
	c.mu.Unlock()
	c.notify(req.ChatID)

	return result, nil
}

// rollbackOptimisticLocked removes the optimistic item added by a failed
// SendMessage and restores the prior running flag. Callers must hold c.mu.
func (c *Coordinator) rollbackOptimisticLocked(chatID, optimisticID string, wasRunning bool) {
	t := c.threads[chatID]
	next := t.Clone()
	filtered := next.Items[:0]
	for _, item := range next.Items {
		if item.ID == optimisticID {
			continue
		}
		filtered = append(filtered, item)
	}
	next.Items = filtered
	next.Running = wasRunning
	c.threads[chatID] = next
}

// Cancel best-effort cancels the active turn for chatID (chat.cancel).
func (c *Coordinator) Cancel(ctx context.Context, chatID string) error {
	c.mu.Lock()
	turnID := c.threads[chatID].ActiveTurnID
	c.mu.Unlock()
	if err := c.client.Cancel(ctx, chatID, turnID); err != nil {
		return fmt.Errorf("cancel turn: %w", err)
	}
	return nil
}

// RespondApproval optimistically marks the approval item decided, calls
// chat.approval.respond, and rolls back to "pending" on failure.
func (c *Coordinator) RespondApproval(ctx context.Context, chatID, requestID, decision string) error {
	c.mu.Lock()
	c.threads[chatID] = thrd.ApplyApprovalDecision(c.threads[chatID], requestID, decision)
	c.mu.Unlock()
	c.notify(chatID)

	err := c.client.RespondApproval(ctx, rpc.RespondApprovalRequest{RequestID: requestID, Decision: decision})
	if err != nil {
		c.mu.Lock()
		c.threads[chatID] = thrd.ApplyApprovalStatus(c.threads[chatID], requestID, "pending")
		c.mu.Unlock()
		c.notify(chatID)
		return fmt.Errorf("respond approval: %w", err)
	}
	return nil
}

// RenameThread optimistically updates the thread's title, then calls
// chat.thread.rename. On success it saves the title override in the KV
// store; on failure it rolls back to the prior title.
func (c *Coordinator) RenameThread(ctx context.Context, chatID, title string) error {
	c.mu.Lock()
	t := c.threads[chatID]
	prevTitle := t.Title
	t.Title = title
	c.threads[chatID] = t
	s := c.summaries[chatID]
	s.Title = title
	c.summaries[chatID] = s
	c.mu.Unlock()
	c.notify(chatID)

	if err := c.client.RenameThread(ctx, chatID, title); err != nil {
		c.mu.Lock()
		t := c.threads[chatID]
		t.Title = prevTitle
		c.threads[chatID] = t
		s := c.summaries[chatID]
		s.Title = prevTitle
		c.summaries[chatID] = s
		c.mu.Unlock()
		c.notify(chatID)
		return fmt.Errorf("rename thread: %w", err)
	}

	if err := c.setTitleOverride(ctx, chatID, title); err != nil {
		c.logger.Warn("persist title override failed", "chat_id", chatID, "error", err)
	}
	return nil
}

// ArchiveThread archives chatID and drops its in-memory state.
func (c *Coordinator) ArchiveThread(ctx context.Context, chatID string) error {
	if err := c.client.ArchiveThread(ctx, chatID); err != nil {
		return fmt.Errorf("archive thread: %w", err)
	}
	c.mu.Lock()
	delete(c.threads, chatID)
	delete(c.summaries, chatID)
	c.clearQueuedLocked(chatID)
	c.mu.Unlock()
	c.notify(chatID)
	return nil
}

// UpdateSettings persists per-chat settings overrides via
// chat.settings.update, mirroring the teacher's chat wrapper error
// convention.
func (c *Coordinator) UpdateSettings(ctx context.Context, req rpc.SettingsUpdate) error {
	if err := c.client.UpdateSettings(ctx, req); err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	if err := c.setChatSettings(ctx, req); err != nil {
		c.logger.Warn("persist chat settings failed", "chat_id", req.ChatID, "error", err)
	}
	return nil
}

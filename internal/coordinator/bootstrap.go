package coordinator

import (
	"context"
	"fmt"

	"github.com/ashureev/gatewayrt/internal/kvstore"
)

// bootstrap runs exactly once per connection edge (spec §4.7 step 2):
// subscribe to chat.* events, list threads, hydrate each one, then discover
// the gateway's capability surface. Failure of any hydration step is logged
// and skipped rather than aborting the whole sequence, so a single bad
// thread never blocks the rest of the session from loading.
func (c *Coordinator) bootstrap(ctx context.Context) error {
	if err := c.client.SubscribeChatEvents(ctx); err != nil {
		return fmt.Errorf("subscribe chat events: %w", err)
	}

	summaries, err := c.client.List(ctx)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	c.mu.Lock()
	for _, s := range summaries {
		c.summaries[s.ChatID] = s
		if s.ThreadID != "" {
			c.threadIDLookup[s.ThreadID] = s.ChatID
		}
	}
	c.mu.Unlock()
	c.notifyAll()

	for _, s := range summaries {
		thread, err := c.client.ReadThread(ctx, s.ChatID, s.ThreadID, true)
		if err != nil {
			c.logger.Warn("hydrate thread failed", "chat_id", s.ChatID, "error", err)
			continue
		}
		c.mu.Lock()
		c.threads[s.ChatID] = thread
		if thread.ThreadID != "" {
			c.threadIDLookup[thread.ThreadID] = s.ChatID
		}
		c.mu.Unlock()
		c.notify(s.ChatID)
	}

	c.discoverCapabilities(ctx)
	c.restoreLastActiveChat(ctx)
	return nil
}

// discoverCapabilities fetches models, collaboration modes, skills, tools
// and accounts. Each call is independent; a failure only drops that one
// facet of the capability surface.
func (c *Coordinator) discoverCapabilities(ctx context.Context) {
	var caps Capabilities

	if models, err := c.client.ListModels(ctx); err != nil {
		c.logger.Warn("list models failed", "error", err)
	} else {
		caps.Models = models
	}

	if modes, err := c.client.ListCollaborationModes(ctx); err != nil {
		c.logger.Warn("list collaboration modes failed", "error", err)
	} else {
		caps.CollaborationModes = modes
	}

	if skills, err := c.client.ListSkills(ctx); err != nil {
		c.logger.Warn("list skills failed", "error", err)
	} else {
		caps.Skills = skills
	}

	if tools, err := c.client.ListTools(ctx); err != nil {
		c.logger.Warn("list tools failed", "error", err)
	} else {
		caps.Tools = tools
	}

	if accounts, err := c.client.ListAccounts(ctx); err != nil {
		c.logger.Warn("list accounts failed", "error", err)
	} else {
		caps.Accounts = accounts
	}

	c.mu.Lock()
	c.caps = caps
	c.mu.Unlock()
	c.notifyAll()
}

// restoreLastActiveChat reads the persisted last-active-chat key for the
// current URL, confirming the referenced chat still exists before exposing
// it (spec §4.7 "State restoration").
func (c *Coordinator) restoreLastActiveChat(ctx context.Context) {
	c.mu.Lock()
	url := c.url
	c.mu.Unlock()
	if url == "" || c.kv == nil {
		return
	}

	chatID, ok, err := c.kv.GetItem(ctx, kvstore.LastActiveChatKey(urlencode(url)))
	if err != nil || !ok {
		return
	}

	c.mu.Lock()
	_, exists := c.summaries[chatID]
	c.mu.Unlock()
	if !exists {
		return
	}
	c.notify(chatID)
}

package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashureev/gatewayrt/internal/kvstore"
	"github.com/ashureev/gatewayrt/internal/rpc"
)

// chatSettings is the persisted shape of one chat's settings override,
// mirroring rpc.SettingsUpdate minus its ChatID (the map key already
// carries that).
type chatSettings struct {
	Model             string `json:"model,omitempty"`
	Effort            string `json:"effort,omitempty"`
	ApprovalPolicy    string `json:"approval_policy,omitempty"`
	CollaborationMode string `json:"collaboration_mode,omitempty"`
	AttachedFolder    string `json:"attached_folder,omitempty"`
}

func (c *Coordinator) namespace() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return urlencode(c.url)
}

// SetLastActiveChatID persists chatID as the last active chat for the
// current gateway URL (spec §4.7 "State restoration").
func (c *Coordinator) SetLastActiveChatID(ctx context.Context, chatID string) error {
	if c.kv == nil {
		return nil
	}
	c.mu.Lock()
	url := c.url
	c.mu.Unlock()
	if url == "" {
		return nil
	}
	if err := c.kv.SetItem(ctx, kvstore.LastActiveChatKey(urlencode(url)), chatID); err != nil {
		return fmt.Errorf("persist last active chat: %w", err)
	}
	return nil
}

// LastActiveChatID returns the previously persisted last active chat for
// the current gateway URL, if any.
func (c *Coordinator) LastActiveChatID(ctx context.Context) (string, bool, error) {
	if c.kv == nil {
		return "", false, nil
	}
	c.mu.Lock()
	url := c.url
	c.mu.Unlock()
	if url == "" {
		return "", false, nil
	}
	value, ok, err := c.kv.GetItem(ctx, kvstore.LastActiveChatKey(urlencode(url)))
	if err != nil {
		return "", false, fmt.Errorf("read last active chat: %w", err)
	}
	return value, ok, nil
}

func (c *Coordinator) loadOverrides(ctx context.Context) (map[string]string, error) {
	overrides := make(map[string]string)
	if c.kv == nil {
		return overrides, nil
	}
	raw, ok, err := c.kv.GetItem(ctx, kvstore.OverridesKey(c.namespace()))
	if err != nil {
		return nil, fmt.Errorf("read title overrides: %w", err)
	}
	if !ok {
		return overrides, nil
	}
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return nil, fmt.Errorf("decode title overrides: %w", err)
	}
	return overrides, nil
}

// setTitleOverride persists chatID's user-edited title for the current
// gateway URL namespace.
func (c *Coordinator) setTitleOverride(ctx context.Context, chatID, title string) error {
	if c.kv == nil {
		return nil
	}
	overrides, err := c.loadOverrides(ctx)
	if err != nil {
		return err
	}
	overrides[chatID] = title
	encoded, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("encode title overrides: %w", err)
	}
	if err := c.kv.SetItem(ctx, kvstore.OverridesKey(c.namespace()), string(encoded)); err != nil {
		return fmt.Errorf("persist title overrides: %w", err)
	}
	return nil
}

// TitleOverride returns the persisted title override for chatID, if any.
func (c *Coordinator) TitleOverride(ctx context.Context, chatID string) (string, bool, error) {
	overrides, err := c.loadOverrides(ctx)
	if err != nil {
		return "", false, err
	}
	title, ok := overrides[chatID]
	return title, ok, nil
}

func (c *Coordinator) loadSettings(ctx context.Context) (map[string]chatSettings, error) {
	all := make(map[string]chatSettings)
	if c.kv == nil {
		return all, nil
	}
	raw, ok, err := c.kv.GetItem(ctx, kvstore.SettingsKey(c.namespace()))
	if err != nil {
		return nil, fmt.Errorf("read chat settings: %w", err)
	}
	if !ok {
		return all, nil
	}
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		return nil, fmt.Errorf("decode chat settings: %w", err)
	}
	return all, nil
}

// setChatSettings persists req as the settings override for req.ChatID.
func (c *Coordinator) setChatSettings(ctx context.Context, req rpc.SettingsUpdate) error {
	if c.kv == nil {
		return nil
	}
	all, err := c.loadSettings(ctx)
	if err != nil {
		return err
	}
	all[req.ChatID] = chatSettings{
		Model:             req.Model,
		Effort:            req.Effort,
		ApprovalPolicy:    req.ApprovalPolicy,
		CollaborationMode: req.CollaborationMode,
		AttachedFolder:    req.AttachedFolder,
	}
	encoded, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("encode chat settings: %w", err)
	}
	if err := c.kv.SetItem(ctx, kvstore.SettingsKey(c.namespace()), string(encoded)); err != nil {
		return fmt.Errorf("persist chat settings: %w", err)
	}
	return nil
}

// ChatSettings returns the persisted settings override for chatID, if any.
func (c *Coordinator) ChatSettings(ctx context.Context, chatID string) (rpc.SettingsUpdate, bool, error) {
	all, err := c.loadSettings(ctx)
	if err != nil {
		return rpc.SettingsUpdate{}, false, err
	}
	s, ok := all[chatID]
	if !ok {
		return rpc.SettingsUpdate{}, false, nil
	}
	return rpc.SettingsUpdate{
		ChatID:            chatID,
		Model:             s.Model,
		Effort:            s.Effort,
		ApprovalPolicy:    s.ApprovalPolicy,
		CollaborationMode: s.CollaborationMode,
		AttachedFolder:    s.AttachedFolder,
	}, true, nil
}

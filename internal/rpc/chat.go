package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashureev/gatewayrt/internal/domain"
)

// SubscribeChatEvents issues events.subscribe for the chat.* topic family.
// Call once per connection edge (spec §4.7 step 2).
func (c *Client) SubscribeChatEvents(ctx context.Context) error {
	_, err := c.Call(ctx, "events.subscribe", struct {
		Topics []string `json:"topics"`
	}{Topics: []string{"chat.*"}})
	return err
}

// List returns the thread summaries visible to this session (chat.list).
func (c *Client) List(ctx context.Context) ([]domain.ThreadSummary, error) {
	result, err := c.Call(ctx, "chat.list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Chats []domain.ThreadSummary `json:"chats"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("rpc: decode chat.list result: %w", err)
	}
	return out.Chats, nil
}

// CreateChatRequest is the optional payload for chat.create.
type CreateChatRequest struct {
	Title string `json:"title,omitempty"`
	Model string `json:"model,omitempty"`
}

// Create opens a new chat (chat.create).
func (c *Client) Create(ctx context.Context, req CreateChatRequest) (domain.ActiveThread, error) {
	result, err := c.Call(ctx, "chat.create", req)
	if err != nil {
		return domain.ActiveThread{}, err
	}
	var thread domain.ActiveThread
	if err := json.Unmarshal(result, &thread); err != nil {
		return domain.ActiveThread{}, fmt.Errorf("rpc: decode chat.create result: %w", err)
	}
	return thread, nil
}

// ReadThread hydrates a thread's items (chat.thread.read).
func (c *Client) ReadThread(ctx context.Context, chatID, threadID string, includeTurns bool) (domain.ActiveThread, error) {
	result, err := c.Call(ctx, "chat.thread.read", struct {
		ChatID       string `json:"chat_id"`
		ThreadID     string `json:"thread_id,omitempty"`
		IncludeTurns bool   `json:"include_turns"`
	}{ChatID: chatID, ThreadID: threadID, IncludeTurns: includeTurns})
	if err != nil {
		return domain.ActiveThread{}, err
	}
	var thread domain.ActiveThread
	if err := json.Unmarshal(result, &thread); err != nil {
		return domain.ActiveThread{}, fmt.Errorf("rpc: decode chat.thread.read result: %w", err)
	}
	return thread, nil
}

// SendMessageRequest is the chat.message.send payload (spec §4.4, §4.7).
type SendMessageRequest struct {
	ChatID            string `json:"chat_id"`
	Message           string `json:"message"`
	Model             string `json:"model,omitempty"`
	Effort            string `json:"effort,omitempty"`
	ApprovalPolicy    string `json:"approval_policy,omitempty"`
	CollaborationMode string `json:"collaboration_mode,omitempty"`
	Inject            bool   `json:"inject,omitempty"`
}

// SendMessageResult is the response to chat.message.send.
type SendMessageResult struct {
	TurnID string `json:"turn_id"`
}

// SendMessage sends a chat message, optionally queued (inject=true) if a
// turn is already running for this chat (spec §4.7 "Queued-while-running").
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (SendMessageResult, error) {
	result, err := c.Call(ctx, "chat.message.send", req)
	if err != nil {
		return SendMessageResult{}, err
	}
	var out SendMessageResult
	if err := json.Unmarshal(result, &out); err != nil {
		return SendMessageResult{}, fmt.Errorf("rpc: decode chat.message.send result: %w", err)
	}
	return out, nil
}

// Cancel best-effort cancels the active turn (chat.cancel). The server
// confirms by emitting turn.completed; this call does not wait for it.
func (c *Client) Cancel(ctx context.Context, chatID, turnID string) error {
	_, err := c.Call(ctx, "chat.cancel", struct {
		ChatID string `json:"chat_id"`
		TurnID string `json:"turn_id"`
	}{ChatID: chatID, TurnID: turnID})
	return err
}

// RenameThread updates a chat's title (chat.thread.rename).
func (c *Client) RenameThread(ctx context.Context, chatID, title string) error {
	_, err := c.Call(ctx, "chat.thread.rename", struct {
		ChatID string `json:"chat_id"`
		Title  string `json:"title"`
	}{ChatID: chatID, Title: title})
	return err
}

// ArchiveThread archives a chat (chat.thread.archive).
func (c *Client) ArchiveThread(ctx context.Context, chatID string) error {
	_, err := c.Call(ctx, "chat.thread.archive", struct {
		ChatID string `json:"chat_id"`
	}{ChatID: chatID})
	return err
}

// RespondApprovalRequest is the chat.approval.respond payload.
type RespondApprovalRequest struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
}

// RespondApproval answers a pending approval request (chat.approval.respond).
func (c *Client) RespondApproval(ctx context.Context, req RespondApprovalRequest) error {
	_, err := c.Call(ctx, "chat.approval.respond", req)
	return err
}

// Model describes one gateway-advertised language model.
type Model struct {
	ID                 string `json:"id"`
	DisplayName        string `json:"display_name"`
	ModelContextWindow *int64 `json:"model_context_window,omitempty"`
}

// ListModels returns the models the gateway can route to (chat.model.list).
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	result, err := c.Call(ctx, "chat.model.list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Models []Model `json:"models"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("rpc: decode chat.model.list result: %w", err)
	}
	return out.Models, nil
}

// CollaborationMode describes one selectable agent/permission mode.
type CollaborationMode struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// ListCollaborationModes returns the available modes
// (chat.collaboration.mode.list).
func (c *Client) ListCollaborationModes(ctx context.Context) ([]CollaborationMode, error) {
	result, err := c.Call(ctx, "chat.collaboration.mode.list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Modes []CollaborationMode `json:"modes"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("rpc: decode chat.collaboration.mode.list result: %w", err)
	}
	return out.Modes, nil
}

// Skill describes one gateway-advertised skill available to the agent.
type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ListSkills returns the configured skills (chat.skills.list).
func (c *Client) ListSkills(ctx context.Context) ([]Skill, error) {
	result, err := c.Call(ctx, "chat.skills.list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Skills []Skill `json:"skills"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("rpc: decode chat.skills.list result: %w", err)
	}
	return out.Skills, nil
}

// Account describes one authenticated provider account known to the
// gateway.
type Account struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Label    string `json:"label,omitempty"`
	Status   string `json:"status"`
}

// ListAccounts returns the accounts known to the gateway (chat.account.list).
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	result, err := c.Call(ctx, "chat.account.list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Accounts []Account `json:"accounts"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("rpc: decode chat.account.list result: %w", err)
	}
	return out.Accounts, nil
}

// ReadAccount fetches one account's detail (chat.account.read).
func (c *Client) ReadAccount(ctx context.Context, accountID string) (Account, error) {
	result, err := c.Call(ctx, "chat.account.read", struct {
		AccountID string `json:"account_id"`
	}{AccountID: accountID})
	if err != nil {
		return Account{}, err
	}
	var out Account
	if err := json.Unmarshal(result, &out); err != nil {
		return Account{}, fmt.Errorf("rpc: decode chat.account.read result: %w", err)
	}
	return out, nil
}

// AccountLoginSession is returned when an interactive login is started.
type AccountLoginSession struct {
	LoginID string `json:"login_id"`
	AuthURL string `json:"auth_url,omitempty"`
}

// StartAccountLogin begins an interactive login for provider
// (chat.account.login.start, reusing the account namespace's naming
// convention since the spec names only the wrapper, not the wire method).
func (c *Client) StartAccountLogin(ctx context.Context, provider string) (AccountLoginSession, error) {
	result, err := c.Call(ctx, "chat.account.login.start", struct {
		Provider string `json:"provider"`
	}{Provider: provider})
	if err != nil {
		return AccountLoginSession{}, err
	}
	var out AccountLoginSession
	if err := json.Unmarshal(result, &out); err != nil {
		return AccountLoginSession{}, fmt.Errorf("rpc: decode login start result: %w", err)
	}
	return out, nil
}

// AccountLoginStatus is the poll result for an in-progress login.
type AccountLoginStatus struct {
	Status  string `json:"status"`
	Account *Account `json:"account,omitempty"`
}

// PollAccountLogin polls the status of a login started with
// StartAccountLogin (chat.account.login.poll).
func (c *Client) PollAccountLogin(ctx context.Context, loginID string) (AccountLoginStatus, error) {
	result, err := c.Call(ctx, "chat.account.login.poll", struct {
		LoginID string `json:"login_id"`
	}{LoginID: loginID})
	if err != nil {
		return AccountLoginStatus{}, err
	}
	var out AccountLoginStatus
	if err := json.Unmarshal(result, &out); err != nil {
		return AccountLoginStatus{}, fmt.Errorf("rpc: decode login poll result: %w", err)
	}
	return out, nil
}

// SettingsUpdate is the chat.settings.update payload: per-chat overrides
// for model, effort, approval policy, collaboration mode, and attached
// folder (spec §4.7 "per-chat settings").
type SettingsUpdate struct {
	ChatID            string `json:"chat_id"`
	Model             string `json:"model,omitempty"`
	Effort            string `json:"effort,omitempty"`
	ApprovalPolicy    string `json:"approval_policy,omitempty"`
	CollaborationMode string `json:"collaboration_mode,omitempty"`
	AttachedFolder    string `json:"attached_folder,omitempty"`
}

// UpdateSettings persists per-chat settings overrides on the gateway
// (chat.settings.update).
func (c *Client) UpdateSettings(ctx context.Context, req SettingsUpdate) error {
	_, err := c.Call(ctx, "chat.settings.update", req)
	return err
}

// FileSearchResult is one match returned by SearchFiles.
type FileSearchResult struct {
	Path string `json:"path"`
}

// SearchFiles searches the attached workspace for files matching query
// (chat.files.search).
func (c *Client) SearchFiles(ctx context.Context, chatID, query string) ([]FileSearchResult, error) {
	result, err := c.Call(ctx, "chat.files.search", struct {
		ChatID string `json:"chat_id"`
		Query  string `json:"query"`
	}{ChatID: chatID, Query: query})
	if err != nil {
		return nil, err
	}
	var out struct {
		Files []FileSearchResult `json:"files"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("rpc: decode chat.files.search result: %w", err)
	}
	return out.Files, nil
}

// ToolDescriptor describes one gateway-exposed tool the agent can invoke.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ListTools returns the tools available to the agent (chat.tools.list).
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	result, err := c.Call(ctx, "chat.tools.list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("rpc: decode chat.tools.list result: %w", err)
	}
	return out.Tools, nil
}

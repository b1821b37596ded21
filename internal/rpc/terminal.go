package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashureev/gatewayrt/internal/gatewayerr"
)

// IsUnsupported reports whether err is the reserved "method not found" RPC
// error, meaning the gateway build does not carry this optional capability
// (e.g. tmux support) rather than having failed the call outright.
func IsUnsupported(err error) bool {
	return gatewayerr.IsUnsupported(err)
}

// TerminalSessionInfo describes one terminal.session.* PTY session.
type TerminalSessionInfo struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd,omitempty"`
}

// OpenTerminalSession starts a PTY session attached to chatID
// (terminal.session.open).
func (c *Client) OpenTerminalSession(ctx context.Context, chatID, cwd string) (TerminalSessionInfo, error) {
	result, err := c.Call(ctx, "terminal.session.open", struct {
		ChatID string `json:"chat_id"`
		Cwd    string `json:"cwd,omitempty"`
	}{ChatID: chatID, Cwd: cwd})
	if err != nil {
		return TerminalSessionInfo{}, err
	}
	var out TerminalSessionInfo
	if err := json.Unmarshal(result, &out); err != nil {
		return TerminalSessionInfo{}, fmt.Errorf("rpc: decode terminal.session.open result: %w", err)
	}
	return out, nil
}

// CloseTerminalSession ends a PTY session (terminal.session.close).
func (c *Client) CloseTerminalSession(ctx context.Context, sessionID string) error {
	_, err := c.Call(ctx, "terminal.session.close", struct {
		SessionID string `json:"session_id"`
	}{SessionID: sessionID})
	return err
}

// ResizeTerminalSession resizes a PTY's window (terminal.session.resize).
func (c *Client) ResizeTerminalSession(ctx context.Context, sessionID string, cols, rows int) error {
	_, err := c.Call(ctx, "terminal.session.resize", struct {
		SessionID string `json:"session_id"`
		Cols      int    `json:"cols"`
		Rows      int    `json:"rows"`
	}{SessionID: sessionID, Cols: cols, Rows: rows})
	return err
}

// ListTerminalSessions lists the PTY sessions open for chatID
// (terminal.session.list).
func (c *Client) ListTerminalSessions(ctx context.Context, chatID string) ([]TerminalSessionInfo, error) {
	result, err := c.Call(ctx, "terminal.session.list", struct {
		ChatID string `json:"chat_id"`
	}{ChatID: chatID})
	if err != nil {
		return nil, err
	}
	var out struct {
		Sessions []TerminalSessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("rpc: decode terminal.session.list result: %w", err)
	}
	return out.Sessions, nil
}

// TmuxSession describes one server-side tmux session.
type TmuxSession struct {
	Name string `json:"name"`
}

// ListTmuxSessions lists tmux sessions (terminal.tmux.list). Per the open
// question on this capability: a result carrying neither "supported" nor
// "sessions" is treated as the capability being absent, not as an error —
// this mirrors the one case the source left ambiguous.
func (c *Client) ListTmuxSessions(ctx context.Context) (sessions []TmuxSession, supported bool, err error) {
	result, err := c.Call(ctx, "terminal.tmux.list", nil)
	if err != nil {
		if IsUnsupported(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var out struct {
		Supported *bool         `json:"supported"`
		Sessions  []TmuxSession `json:"sessions"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, false, fmt.Errorf("rpc: decode terminal.tmux.list result: %w", err)
	}
	if out.Supported == nil && out.Sessions == nil {
		return nil, false, nil
	}
	supported = out.Supported == nil || *out.Supported
	return out.Sessions, supported, nil
}

// AttachTmuxSession attaches to (creating if needed) a tmux session
// (terminal.tmux.attach).
func (c *Client) AttachTmuxSession(ctx context.Context, name string) (TerminalSessionInfo, error) {
	result, err := c.Call(ctx, "terminal.tmux.attach", struct {
		Name string `json:"name"`
	}{Name: name})
	if err != nil {
		return TerminalSessionInfo{}, err
	}
	var out TerminalSessionInfo
	if err := json.Unmarshal(result, &out); err != nil {
		return TerminalSessionInfo{}, fmt.Errorf("rpc: decode terminal.tmux.attach result: %w", err)
	}
	return out, nil
}

// KillTmuxSession terminates a tmux session (terminal.tmux.kill).
func (c *Client) KillTmuxSession(ctx context.Context, name string) error {
	_, err := c.Call(ctx, "terminal.tmux.kill", struct {
		Name string `json:"name"`
	}{Name: name})
	return err
}

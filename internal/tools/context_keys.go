package tools

import (
	"context"
)

// Tool execution context keys.
// These replace mutable setter fields on tool instances, making tools thread-safe
// for concurrent execution. Values are injected into context by the runner
// (Runner.withToolContext) and read by individual tools during Execute().

type toolContextKey string

const (
	ctxChannel    toolContextKey = "tool_channel"
	ctxChatID     toolContextKey = "tool_chat_id"
	ctxPeerKind   toolContextKey = "tool_peer_kind"
	ctxSandboxKey toolContextKey = "tool_sandbox_key"
	ctxAsyncCB    toolContextKey = "tool_async_cb"
	ctxWorkspace  toolContextKey = "tool_workspace"
	ctxSessionID  toolContextKey = "tool_session_id"
	ctxAgentID    toolContextKey = "tool_agent_id"
	ctxCallbackCB toolContextKey = "tool_callback_cb"
	ctxProgressCB toolContextKey = "tool_progress_cb"
)

func WithToolChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ctxChannel, channel)
}

func ToolChannelFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxChannel).(string)
	return v
}

func WithToolChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, ctxChatID, chatID)
}

func ToolChatIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxChatID).(string)
	return v
}

func WithToolPeerKind(ctx context.Context, peerKind string) context.Context {
	return context.WithValue(ctx, ctxPeerKind, peerKind)
}

func ToolPeerKindFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxPeerKind).(string)
	return v
}

func WithToolSandboxKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxSandboxKey, key)
}

func ToolSandboxKeyFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxSandboxKey).(string)
	return v
}

func WithToolAsyncCB(ctx context.Context, cb AsyncCallback) context.Context {
	return context.WithValue(ctx, ctxAsyncCB, cb)
}

func ToolAsyncCBFromCtx(ctx context.Context) AsyncCallback {
	v, _ := ctx.Value(ctxAsyncCB).(AsyncCallback)
	return v
}

// WithToolSessionID/ToolSessionIDFromCtx carry the id of the session a tool
// call is executing within, for tools (session_status) that default
// to acting on "the current session" when no explicit target is given.
func WithToolSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxSessionID, id)
}

func ToolSessionIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxSessionID).(string)
	return v
}

// WithToolAgentID/ToolAgentIDFromCtx carry the agent slug a session is bound
// to, used to scope sessions_list/sessions_send to sessions owned by the
// same agent.
func WithToolAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, ctxAgentID, agentID)
}

func ToolAgentIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxAgentID).(string)
	return v
}

// WithToolCallbackCB/ToolCallbackCBFromCtx carry the subagent_callback
// handler, present only in a subagent session's tool context.
func WithToolCallbackCB(ctx context.Context, cb CallbackFunc) context.Context {
	return context.WithValue(ctx, ctxCallbackCB, cb)
}

func ToolCallbackCBFromCtx(ctx context.Context) CallbackFunc {
	v, _ := ctx.Value(ctxCallbackCB).(CallbackFunc)
	return v
}

// WithToolProgressCB/ToolProgressCBFromCtx carry the subagent_progress
// handler, present only in a subagent session's tool context.
func WithToolProgressCB(ctx context.Context, cb ProgressFunc) context.Context {
	return context.WithValue(ctx, ctxProgressCB, cb)
}

func ToolProgressCBFromCtx(ctx context.Context) ProgressFunc {
	v, _ := ctx.Value(ctxProgressCB).(ProgressFunc)
	return v
}

func WithToolWorkspace(ctx context.Context, ws string) context.Context {
	return context.WithValue(ctx, ctxWorkspace, ws)
}

func ToolWorkspaceFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxWorkspace).(string)
	return v
}

// --- Per-agent vision/image-generation provider overrides ---

const (
	ctxVisionConfig   toolContextKey = "tool_vision_config"
	ctxImageGenConfig toolContextKey = "tool_imagegen_config"
)

// VisionConfig overrides which provider/model read_image uses when one is
// present in the tool context. The runner does not attach one, so read_image
// falls through to its other sources.
type VisionConfig struct {
	Provider string
	Model    string
}

func WithVisionConfig(ctx context.Context, cfg *VisionConfig) context.Context {
	return context.WithValue(ctx, ctxVisionConfig, cfg)
}

func VisionConfigFromCtx(ctx context.Context) *VisionConfig {
	v, _ := ctx.Value(ctxVisionConfig).(*VisionConfig)
	return v
}

// ImageGenConfig overrides which provider/model create_image uses when one
// is present in the tool context. The runner does not attach one, so
// create_image falls through to its other sources.
type ImageGenConfig struct {
	Provider string
	Model    string
}

func WithImageGenConfig(ctx context.Context, cfg *ImageGenConfig) context.Context {
	return context.WithValue(ctx, ctxImageGenConfig, cfg)
}

func ImageGenConfigFromCtx(ctx context.Context) *ImageGenConfig {
	v, _ := ctx.Value(ctxImageGenConfig).(*ImageGenConfig)
	return v
}

// --- Builtin tool settings (per-tool overrides carried in the context) ---
// The runner does not attach these settings; read_image and create_image
// read them when present.

const ctxBuiltinToolSettings toolContextKey = "tool_builtin_settings"

// BuiltinToolSettings maps tool name â†’ settings JSON bytes.
type BuiltinToolSettings map[string][]byte

func WithBuiltinToolSettings(ctx context.Context, settings BuiltinToolSettings) context.Context {
	return context.WithValue(ctx, ctxBuiltinToolSettings, settings)
}

func BuiltinToolSettingsFromCtx(ctx context.Context) BuiltinToolSettings {
	v, _ := ctx.Value(ctxBuiltinToolSettings).(BuiltinToolSettings)
	return v
}

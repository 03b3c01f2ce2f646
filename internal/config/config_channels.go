package config

// BridgesConfig contains per-bridge-type configuration. Each map is keyed by
// an arbitrary instance name so the same bridge type can run more than once
// (e.g. two Discord bots for two guilds).
type BridgesConfig struct {
	Terminal *TerminalBridgeConfig           `json:"terminal,omitempty"`
	Discord  map[string]DiscordBridgeConfig  `json:"discord,omitempty"`
	Telegram map[string]TelegramBridgeConfig `json:"telegram,omitempty"`
	WhatsApp map[string]WhatsAppBridgeConfig `json:"whatsapp,omitempty"`
}

// bridgeCommon is the shared shape every bridge instance config embeds:
// {enabled, envKeyName, allowedChannels[]/allowedChats[], mode}.
type bridgeCommon struct {
	Enabled         bool                `json:"enabled"`
	EnvKeyName      string              `json:"envKeyName,omitempty"`
	AllowedChannels FlexibleStringSlice `json:"allowedChannels,omitempty"`
	Mode            string              `json:"mode,omitempty"` // "full" (default), "mention-only", "listen-only"
}

// TerminalBridgeConfig configures the interactive stdin/stdout bridge. It has
// no credentials and is always single-instance.
type TerminalBridgeConfig struct {
	Enabled bool   `json:"enabled"`
	Debug   bool   `json:"debug,omitempty"` // render tool calls/results inline
	AgentID string `json:"agentId,omitempty"`
}

// DiscordBridgeConfig configures one Discord bot connection.
type DiscordBridgeConfig struct {
	bridgeCommon
	RequireMention bool `json:"requireMention,omitempty"` // require @bot mention outside DMs (default true)
	HistoryLimit   int  `json:"historyLimit,omitempty"`   // max pending messages buffered while a turn is in flight (default 50)
}

// TelegramBridgeConfig configures one Telegram bot connection.
type TelegramBridgeConfig struct {
	bridgeCommon
	RequireMention bool   `json:"requireMention,omitempty"`
	HistoryLimit   int    `json:"historyLimit,omitempty"`
	StreamMode     string `json:"streamMode,omitempty"` // "off" (default), "partial" — edit-in-place streaming preview
	MediaMaxBytes  int64  `json:"mediaMaxBytes,omitempty"`
}

// WhatsAppBridgeConfig configures one WhatsApp bridge connection via an
// external bridge webhook.
type WhatsAppBridgeConfig struct {
	bridgeCommon
	WebhookURL    string `json:"webhookUrl,omitempty"`
	WebhookSecret string `json:"-"` // from env only, never persisted
}

// Package bus defines the transport-agnostic event and message shapes that
// flow between bridges, the session store, and the session runner.
package bus

// InboundMessage is the normalized shape every bridge produces from a
// platform-native event before handing it to the session store.
type InboundMessage struct {
	ChannelID     string            `json:"channelId"`
	ChannelUserID string            `json:"channelUserId"`
	ChannelName   string            `json:"channelName,omitempty"`
	AuthorID      string            `json:"authorId,omitempty"`
	AuthorName    string            `json:"authorName,omitempty"`
	Content       string            `json:"content"`
	Attachments   []Attachment      `json:"attachments,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Attachment is a media file referenced by an inbound or outbound message.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// EventType tags the shape of a DaemonEvent.
type EventType string

const (
	EventStart          EventType = "start"
	EventChunk          EventType = "chunk"
	EventToolCall       EventType = "tool_call"
	EventToolResult     EventType = "tool_result"
	EventDone           EventType = "done"
	EventError          EventType = "error"
	EventFile           EventType = "file"
	EventSubagentStatus EventType = "subagent-status"
	EventAgentHandoff   EventType = "agent-handoff"
)

// DaemonEvent is the canonical, transport-agnostic event a session emits.
// Exactly one group of payload fields is meaningful per Type; dispatch sites
// must switch exhaustively on Type rather than probe fields.
type DaemonEvent struct {
	Type EventType `json:"type"`

	// start / done
	SessionID  string `json:"sessionId,omitempty"`
	Suppressed bool   `json:"suppressed,omitempty"`

	// chunk
	Text string `json:"text,omitempty"`

	// tool_call / tool_result
	ToolName   string `json:"name,omitempty"`
	ToolInput  string `json:"input,omitempty"`
	ToolOutput string `json:"output,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// file
	FileName string `json:"fileName,omitempty"`
	Buffer   []byte `json:"buffer,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// subagent-status
	SubagentID      string `json:"subagentId,omitempty"`
	ParentSessionID string `json:"parentSessionId,omitempty"`
	Task            string `json:"task,omitempty"`
	TaskSlug        string `json:"taskSlug,omitempty"`
	Status          string `json:"status,omitempty"`

	// agent-handoff
	FromAgent string `json:"fromAgent,omitempty"`
	ToAgent   string `json:"toAgent,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func StartEvent(sessionID string) DaemonEvent {
	return DaemonEvent{Type: EventStart, SessionID: sessionID}
}

func ChunkEvent(text string) DaemonEvent {
	return DaemonEvent{Type: EventChunk, Text: text}
}

func ToolCallEvent(name, input string) DaemonEvent {
	return DaemonEvent{Type: EventToolCall, ToolName: name, ToolInput: input}
}

func ToolResultEvent(name, output string) DaemonEvent {
	return DaemonEvent{Type: EventToolResult, ToolName: name, ToolOutput: output}
}

func DoneEvent(sessionID string, suppressed bool) DaemonEvent {
	return DaemonEvent{Type: EventDone, SessionID: sessionID, Suppressed: suppressed}
}

func ErrorEvent(message string) DaemonEvent {
	return DaemonEvent{Type: EventError, Message: message}
}

func FileEvent(name string, buf []byte, mimeType string) DaemonEvent {
	return DaemonEvent{Type: EventFile, FileName: name, Buffer: buf, MimeType: mimeType}
}

func SubagentStatusEvent(subagentID, parentSessionID, task, taskSlug, status, message string) DaemonEvent {
	return DaemonEvent{
		Type: EventSubagentStatus, SubagentID: subagentID, ParentSessionID: parentSessionID,
		Task: task, TaskSlug: taskSlug, Status: status, Message: message,
	}
}

func AgentHandoffEvent(from, to, reason string) DaemonEvent {
	return DaemonEvent{Type: EventAgentHandoff, FromAgent: from, ToAgent: to, Reason: reason}
}

package anthropic

// Stream event names.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
	EventPing              = "ping"
)

// StreamEvent is one event of the Messages streaming format. The SSE event
// name and the payload "type" field are both EventType().
type StreamEvent interface {
	EventType() string
}

// MessageStartEvent is sent at the start of a message.
type MessageStartEvent struct {
	Type    string           `json:"type"`
	Message MessagesResponse `json:"message"`
}

func (MessageStartEvent) EventType() string { return EventMessageStart }

// NewMessageStart returns the opening event for a message with no content yet.
func NewMessageStart(id, model string) MessageStartEvent {
	return MessageStartEvent{
		Type: EventMessageStart,
		Message: MessagesResponse{
			ID:      id,
			Type:    "message",
			Role:    "assistant",
			Content: []ResponseContent{},
			Model:   model,
		},
	}
}

// ContentBlockStartEvent is sent at the start of a content block.
type ContentBlockStartEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	ContentBlock ResponseContent `json:"content_block"`
}

func (ContentBlockStartEvent) EventType() string { return EventContentBlockStart }

// NewContentBlockStart opens block index.
func NewContentBlockStart(index int, block ResponseContent) ContentBlockStartEvent {
	return ContentBlockStartEvent{Type: EventContentBlockStart, Index: index, ContentBlock: block}
}

// Delta types.
const (
	DeltaTypeText      = "text_delta"
	DeltaTypeInputJSON = "input_json_delta"
)

// ContentBlockDeltaEvent is sent for content block updates.
type ContentBlockDeltaEvent struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

func (ContentBlockDeltaEvent) EventType() string { return EventContentBlockDelta }

// BlockDelta represents the delta in a content block.
type BlockDelta struct {
	Type        string  `json:"type"`
	Text        *string `json:"text,omitempty"`
	PartialJSON *string `json:"partial_json,omitempty"`
}

// NewTextDelta returns a text fragment for block index.
func NewTextDelta(index int, text string) ContentBlockDeltaEvent {
	return ContentBlockDeltaEvent{
		Type:  EventContentBlockDelta,
		Index: index,
		Delta: BlockDelta{Type: DeltaTypeText, Text: &text},
	}
}

// NewInputJSONDelta returns a tool input fragment for block index.
func NewInputJSONDelta(index int, partial string) ContentBlockDeltaEvent {
	return ContentBlockDeltaEvent{
		Type:  EventContentBlockDelta,
		Index: index,
		Delta: BlockDelta{Type: DeltaTypeInputJSON, PartialJSON: &partial},
	}
}

// ContentBlockStopEvent is sent at the end of a content block.
type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

func (ContentBlockStopEvent) EventType() string { return EventContentBlockStop }

// NewContentBlockStop closes block index.
func NewContentBlockStop(index int) ContentBlockStopEvent {
	return ContentBlockStopEvent{Type: EventContentBlockStop, Index: index}
}

// MessageDeltaEvent carries the stop reason and final usage.
type MessageDeltaEvent struct {
	Type  string       `json:"type"`
	Delta MessageDelta `json:"delta"`
	Usage DeltaUsage   `json:"usage"`
}

func (MessageDeltaEvent) EventType() string { return EventMessageDelta }

// MessageDelta represents updates to the message.
type MessageDelta struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// DeltaUsage represents usage in delta events.
type DeltaUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewMessageDelta returns the closing delta for a message.
func NewMessageDelta(stopReason string, usage MessagesUsage) MessageDeltaEvent {
	return MessageDeltaEvent{
		Type:  EventMessageDelta,
		Delta: MessageDelta{StopReason: stopReason},
		Usage: DeltaUsage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens},
	}
}

// MessageStopEvent is sent at the end of a message.
type MessageStopEvent struct {
	Type string `json:"type"`
}

func (MessageStopEvent) EventType() string { return EventMessageStop }

// NewMessageStop returns the final event of a message.
func NewMessageStop() MessageStopEvent {
	return MessageStopEvent{Type: EventMessageStop}
}

// ErrorEvent terminates a stream with a classified failure. Its payload is
// the same as a unary error body.
type ErrorEvent ErrorResponse

func (ErrorEvent) EventType() string { return EventError }

// NewErrorEvent returns the stream form of an error.
func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent(NewErrorResponse(message))
}

// PingEvent is sent periodically to keep connection alive.
type PingEvent struct {
	Type string `json:"type"`
}

func (PingEvent) EventType() string { return EventPing }

// NewPing returns a keep-alive event.
func NewPing() PingEvent {
	return PingEvent{Type: EventPing}
}

package anthropic

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestContentUnmarshal(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantKind   ContentKind
		wantText   string
		wantBlocks []string
		wantErr    bool
	}{
		{name: "string", input: `"hello"`, wantKind: ContentText, wantText: "hello"},
		{name: "null", input: `null`, wantKind: ContentText},
		{name: "empty array", input: `[]`, wantKind: ContentBlocks, wantBlocks: []string{}},
		{
			name:       "mixed blocks",
			input:      `[{"type":"text","text":"a"},{"type":"image","source":{"type":"base64","media_type":"image/png","data":"AA=="}},{"type":"tool_use","id":"toolu_1","name":"f","input":{}},{"type":"tool_result","tool_use_id":"toolu_1","content":"ok"}]`,
			wantKind:   ContentBlocks,
			wantBlocks: []string{BlockTypeText, BlockTypeImage, BlockTypeToolUse, BlockTypeToolResult},
		},
		{name: "number", input: `42`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Content
			err := json.Unmarshal([]byte(tt.input), &c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if c.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", c.Kind, tt.wantKind)
			}
			if c.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", c.Text, tt.wantText)
			}
			if tt.wantBlocks != nil {
				if len(c.Blocks) != len(tt.wantBlocks) {
					t.Fatalf("len(Blocks) = %d, want %d", len(c.Blocks), len(tt.wantBlocks))
				}
				for i, typ := range tt.wantBlocks {
					if c.Blocks[i].Type != typ {
						t.Errorf("Blocks[%d].Type = %q, want %q", i, c.Blocks[i].Type, typ)
					}
				}
			}
		})
	}
}

func TestContentMarshalKeepsForm(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		want    string
	}{
		{"text", TextContent("hi"), `"hi"`},
		{"blocks", BlockContent(ContentBlock{Type: BlockTypeText, Text: "hi"}), `[{"type":"text","text":"hi"}]`},
		{"no blocks", BlockContent(), `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.content)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestToolResultContentString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"string", `"42"`, "42"},
		{"text blocks", `[{"type":"text","text":"a"},{"type":"text","text":"b"}]`, "a\nb"},
		{"image block kept as json", `[{"type":"image","source":{"type":"url","url":"https://x/y.png"}}]`, `{"type":"image","source":{"type":"url","url":"https://x/y.png"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c ToolResultContent
			if err := json.Unmarshal([]byte(tt.input), &c); err != nil {
				t.Fatal(err)
			}
			if got := c.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}

	var nilResult *ToolResultContent
	if got := nilResult.String(); got != "" {
		t.Errorf("nil String() = %q, want empty", got)
	}
}

func TestSystemMessages(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "string", input: `"be brief"`, want: "be brief"},
		{name: "blocks", input: `[{"type":"text","text":"one"},{"type":"text","text":"two","cache_control":{"type":"ephemeral"}}]`, want: "one\n\ntwo"},
		{name: "invalid", input: `{"text":"x"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s SystemMessages
			err := json.Unmarshal([]byte(tt.input), &s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := s.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEventPayloads(t *testing.T) {
	tests := []struct {
		name  string
		event StreamEvent
		want  []string
	}{
		{
			name:  "message_start",
			event: NewMessageStart("msg_1", "claude-3-5-haiku"),
			want:  []string{`"type":"message_start"`, `"id":"msg_1"`, `"content":[]`, `"stop_reason":null`},
		},
		{
			name:  "text block start",
			event: NewContentBlockStart(0, TextBlock("")),
			want:  []string{`"type":"content_block_start"`, `"index":0`, `"text":""`},
		},
		{
			name:  "input json delta",
			event: NewInputJSONDelta(1, `{"a":`),
			want:  []string{`"type":"input_json_delta"`, `"partial_json":"{\"a\":"`},
		},
		{
			name:  "message_delta",
			event: NewMessageDelta(StopReasonToolUse, MessagesUsage{InputTokens: 3, OutputTokens: 4}),
			want:  []string{`"stop_reason":"tool_use"`, `"output_tokens":4`},
		},
		{
			name:  "error",
			event: NewErrorEvent("boom"),
			want:  []string{`"type":"error"`, `"error":{"type":"api_error","message":"boom"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatal(err)
			}
			for _, want := range tt.want {
				if !strings.Contains(string(raw), want) {
					t.Errorf("%s payload %s lacks %s", tt.event.EventType(), raw, want)
				}
			}
		})
	}
}

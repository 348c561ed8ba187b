// Package streaming turns an upstream chat-completions chunk stream into the
// ordered Messages event stream.
package streaming

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tjfontaine/messages-bridge/internal/api/anthropic"
	"github.com/tjfontaine/messages-bridge/internal/api/openai"
	"github.com/tjfontaine/messages-bridge/internal/codec"
	"github.com/tjfontaine/messages-bridge/internal/domain"
)

// Sink receives events in order. A Send error means the client is gone.
type Sink interface {
	Send(event anthropic.StreamEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(anthropic.StreamEvent) error

func (f SinkFunc) Send(event anthropic.StreamEvent) error { return f(event) }

// Outcome is how a stream ended.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeFailed       Outcome = "failed"
	OutcomeDisconnected Outcome = "disconnected"
)

// Result summarizes a finished stream.
type Result struct {
	Outcome    Outcome
	StopReason string
	Usage      anthropic.MessagesUsage
	Events     int
	Err        error
}

// Translator converts one upstream stream. It is not reusable.
type Translator struct {
	// Model is reported in message_start; it is the name the client asked for.
	Model string
	// PingInterval between keep-alive events. Zero disables pings.
	PingInterval time.Duration
	Logger       *slog.Logger
}

type state int

const (
	stateNotStarted state = iota
	stateOpen
	stateClosing
	stateTerminated
)

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockTool
)

// run holds the per-stream state machine.
type run struct {
	t      *Translator
	ctx    context.Context
	sink   Sink
	logger *slog.Logger

	state      state
	nextIndex  int
	openIndex  int
	openKind   blockKind
	openTool   int
	toolBlocks map[int]int
	toolIDs    map[string]bool
	stopReason string
	usage      anthropic.MessagesUsage
	haveUsage  bool

	events       int
	disconnected bool
}

// Run consumes chunks until the upstream finishes, fails, or ctx is done, and
// writes the resulting events to sink. cancelUpstream is called exactly once
// before Run returns.
func (t *Translator) Run(ctx context.Context, chunks <-chan openai.StreamResult, cancelUpstream context.CancelFunc, sink Sink) Result {
	var once sync.Once
	cancel := func() { once.Do(cancelUpstream) }
	defer cancel()

	r := &run{
		t:          t,
		ctx:        ctx,
		sink:       sink,
		logger:     t.Logger,
		toolBlocks: make(map[int]int),
		toolIDs:    make(map[string]bool),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	var (
		ticker *time.Ticker
		pings  <-chan time.Time
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for r.state != stateTerminated {
		if r.state != stateNotStarted && pings == nil && t.PingInterval > 0 {
			ticker = time.NewTicker(t.PingInterval)
			pings = ticker.C
		}

		select {
		case <-ctx.Done():
			return r.disconnect(cancel)

		case <-pings:
			r.emit(anthropic.NewPing())

		case res, ok := <-chunks:
			if ctx.Err() != nil {
				return r.disconnect(cancel)
			}
			switch {
			case !ok:
				r.complete()
			case res.Err != nil:
				r.fail(res.Err)
				if !r.disconnected {
					return r.result(OutcomeFailed, res.Err)
				}
			default:
				r.handleChunk(res.Chunk)
			}
		}

		if r.disconnected {
			return r.disconnect(cancel)
		}
	}

	return r.result(OutcomeCompleted, nil)
}

func (r *run) disconnect(cancel func()) Result {
	cancel()
	r.state = stateTerminated
	r.logger.Debug("stream client disconnected",
		slog.Int("events_sent", r.events),
	)
	return r.result(OutcomeDisconnected, r.ctx.Err())
}

func (r *run) result(outcome Outcome, err error) Result {
	return Result{
		Outcome:    outcome,
		StopReason: r.stopReason,
		Usage:      r.usage,
		Events:     r.events,
		Err:        err,
	}
}

// emit writes one event unless the client is already gone.
func (r *run) emit(event anthropic.StreamEvent) {
	if r.disconnected {
		return
	}
	if r.ctx.Err() != nil {
		r.disconnected = true
		return
	}
	if err := r.sink.Send(event); err != nil {
		r.disconnected = true
		return
	}
	r.events++
}

func (r *run) start() {
	if r.state != stateNotStarted {
		return
	}
	r.emit(anthropic.NewMessageStart(codec.NewMessageID(), r.t.Model))
	r.state = stateOpen
}

func (r *run) handleChunk(chunk *openai.ChatCompletionChunk) {
	if chunk == nil {
		return
	}
	r.start()

	if chunk.Usage != nil {
		r.usage = anthropic.MessagesUsage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}
		r.haveUsage = true
	}

	if r.state == stateClosing {
		if r.haveUsage {
			r.complete()
		}
		return
	}

	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		r.text(choice.Delta.Content)
	}
	for _, tc := range choice.Delta.ToolCalls {
		r.toolCall(tc)
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		r.closeBlock()
		r.stopReason = codec.StopReason(*choice.FinishReason)
		r.state = stateClosing
		// Usage seen before the finish chunk may be a running total.
		r.haveUsage = chunk.Usage != nil
		if r.haveUsage {
			r.complete()
		}
	}
}

func (r *run) text(fragment string) {
	if r.openKind != blockText {
		r.closeBlock()
		r.openBlock(blockText, anthropic.TextBlock(""))
	}
	r.emit(anthropic.NewTextDelta(r.openIndex, fragment))
}

func (r *run) toolCall(tc openai.ToolCallChunk) {
	var name, args string
	if tc.Function != nil {
		name = tc.Function.Name
		args = tc.Function.Arguments
	}

	// Some upstreams reuse index 0 for every call and tell them apart by id.
	newCall := tc.ID != "" && !r.toolIDs[tc.ID]
	if r.openKind != blockTool || r.openTool != tc.Index || newCall {
		if _, seen := r.toolBlocks[tc.Index]; seen && !newCall {
			r.logger.Warn("dropping fragment for closed tool call",
				slog.Int("tool_index", tc.Index),
			)
			return
		}
		r.closeBlock()
		r.openBlock(blockTool, anthropic.ToolUseBlock(codec.NewToolUseID(), name, nil))
		r.openTool = tc.Index
		r.toolBlocks[tc.Index] = r.openIndex
		if tc.ID != "" {
			r.toolIDs[tc.ID] = true
		}
	}

	if args != "" {
		r.emit(anthropic.NewInputJSONDelta(r.openIndex, args))
	}
}

func (r *run) openBlock(kind blockKind, block anthropic.ResponseContent) {
	r.openIndex = r.nextIndex
	r.nextIndex++
	r.openKind = kind
	r.emit(anthropic.NewContentBlockStart(r.openIndex, block))
}

func (r *run) closeBlock() {
	if r.openKind == blockNone {
		return
	}
	r.emit(anthropic.NewContentBlockStop(r.openIndex))
	r.openKind = blockNone
}

func (r *run) complete() {
	r.start()
	r.closeBlock()
	if r.stopReason == "" {
		r.stopReason = anthropic.StopReasonEndTurn
	}
	r.emit(anthropic.NewMessageDelta(r.stopReason, r.usage))
	r.emit(anthropic.NewMessageStop())
	r.state = stateTerminated
}

func (r *run) fail(err error) {
	apiErr := domain.Classify(err)
	r.logger.Error("upstream stream failed",
		slog.String("error_type", string(apiErr.Type)),
		slog.String("error", err.Error()),
	)
	r.start()
	r.closeBlock()
	r.emit(anthropic.NewErrorEvent(apiErr.Message))
	r.state = stateTerminated
}

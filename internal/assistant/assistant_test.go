package assistant

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/detect"
	"github.com/MrWong99/hark/internal/journal"
	pbmock "github.com/MrWong99/hark/internal/playback/mock"
	"github.com/MrWong99/hark/internal/segment"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/llm"
	llmmock "github.com/MrWong99/hark/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/hark/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/hark/pkg/provider/tts/mock"
	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/types"
)

// fakeListener returns a fixed span or error. When gate is set it blocks
// until gate is closed.
type fakeListener struct {
	mu    sync.Mutex
	err   error
	gate  chan struct{}
	calls int
}

func (f *fakeListener) ListenUtterance(ctx context.Context) (*segment.Span, error) {
	f.mu.Lock()
	f.calls++
	gate, err := f.gate, f.err
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &segment.Span{Frames: []audio.Frame{{Seq: 1, Data: make([]byte, 960)}}}, nil
}

func (f *fakeListener) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTools struct {
	mu    sync.Mutex
	calls []types.ToolCall
	err   error
}

func (f *fakeTools) Schemas() []types.ToolDefinition {
	return []types.ToolDefinition{{Name: "current_time", Description: "time"}}
}

func (f *fakeTools) Execute(_ context.Context, name, args string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, types.ToolCall{Name: name, Arguments: args})
	if f.err != nil {
		return "", f.err
	}
	return `{"time":"15:00"}`, nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (f *fakeJournal) Record(_ context.Context, e *journal.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

type fixture struct {
	listener *fakeListener
	stt      *sttmock.Transcriber
	llm      *llmmock.Provider
	tts      *ttsmock.Synthesizer
	player   *pbmock.Player
	tools    *fakeTools
	journal  *fakeJournal
	a        *Assistant
}

func newFixture(t *testing.T, cfg config.AssistantConfig, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		listener: &fakeListener{},
		stt:      &sttmock.Transcriber{Text: "what time is it"},
		llm: &llmmock.Provider{
			StreamChunks: []llm.Chunk{
				{Text: "It is noon. "},
				{Text: "Enjoy"},
				{FinishReason: llm.FinishStop},
			},
			ModelCapabilities: types.ModelCapabilities{SupportsToolCalling: true},
		},
		tts:     &ttsmock.Synthesizer{},
		player:  &pbmock.Player{},
		tools:   &fakeTools{},
		journal: &fakeJournal{},
	}
	opts = append([]Option{
		WithSynthesizer(f.tts),
		WithPlayer(f.player),
		WithTools(f.tools),
		WithJournal(f.journal),
		WithVocabulary([]string{"computer"}),
	}, opts...)
	a, err := New(f.listener, f.stt, f.llm, cfg, opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.a = a
	return f
}

func defaultCfg() config.AssistantConfig {
	return config.AssistantConfig{
		SystemPrompt:  "You are terse.",
		MaxToolRounds: 2,
		HistoryTurns:  2,
		Language:      "en",
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, &sttmock.Transcriber{}, &llmmock.Provider{}, defaultCfg()); err == nil {
		t.Error("expected error for nil listener")
	}
}

func TestOnWake_SpeaksReplyBySentence(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultCfg())

	if err := f.a.OnWake(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got, want := f.tts.Texts(), []string{"It is noon.", "Enjoy"}; !slices.Equal(got, want) {
		t.Errorf("synthesized = %q, want %q", got, want)
	}
	if n := f.player.CallCount(); n != 2 {
		t.Errorf("played %d clips, want 2", n)
	}

	call := f.stt.TranscribeCalls[0]
	if call.Cfg.Language != "en" || call.Cfg.Prompt != "computer" || call.Cfg.SampleRate != 16000 {
		t.Errorf("stt config = %+v", call.Cfg)
	}

	req := f.llm.Requests()[0]
	if req.SystemPrompt != "You are terse." {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Tools) != 1 {
		t.Errorf("offered %d tools, want 1", len(req.Tools))
	}

	hist := f.a.History()
	if len(hist) != 2 || hist[0].Content != "what time is it" || hist[1].Content != "It is noon. Enjoy" {
		t.Errorf("history = %+v", hist)
	}

	if len(f.journal.entries) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(f.journal.entries))
	}
	e := f.journal.entries[0]
	if e.Transcript != "what time is it" || e.Reply != "It is noon. Enjoy" || e.Error != "" {
		t.Errorf("journal entry = %+v", e)
	}
}

func TestOnWake_ToolRound(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultCfg())
	f.llm.StreamScript = [][]llm.Chunk{
		{{FinishReason: llm.FinishToolCalls, ToolCalls: []types.ToolCall{{ID: "c1", Name: "current_time", Arguments: "{}"}}}},
		{{Text: "It is three."}, {FinishReason: llm.FinishStop}},
	}

	if err := f.a.OnWake(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.tools.calls) != 1 || f.tools.calls[0].Name != "current_time" {
		t.Fatalf("tool calls = %+v", f.tools.calls)
	}
	reqs := f.llm.Requests()
	if len(reqs) != 2 {
		t.Fatalf("completions = %d, want 2", len(reqs))
	}
	msgs := reqs[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != types.RoleTool || last.ToolCallID != "c1" || !strings.Contains(last.Content, "15:00") {
		t.Errorf("tool result message = %+v", last)
	}
	if prev := msgs[len(msgs)-2]; prev.Role != types.RoleAssistant || len(prev.ToolCalls) != 1 {
		t.Errorf("assistant tool call message = %+v", prev)
	}
	if got := f.tts.Texts(); !slices.Equal(got, []string{"It is three."}) {
		t.Errorf("synthesized = %q", got)
	}
}

func TestOnWake_ReplyJoinsToolRounds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultCfg())
	f.llm.StreamScript = [][]llm.Chunk{
		{
			{Text: "Let me check."},
			{FinishReason: llm.FinishToolCalls, ToolCalls: []types.ToolCall{{ID: "c1", Name: "current_time", Arguments: "{}"}}},
		},
		{{Text: "It is noon."}, {FinishReason: llm.FinishStop}},
	}

	if err := f.a.OnWake(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const want = "Let me check. It is noon."
	if len(f.journal.entries) != 1 || f.journal.entries[0].Reply != want {
		t.Fatalf("journal = %+v, want reply %q", f.journal.entries, want)
	}
	hist := f.a.History()
	if len(hist) != 2 || hist[1].Content != want {
		t.Errorf("history = %+v, want reply %q", hist, want)
	}
}

func TestOnWake_ToolFailureIsReportedToModel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultCfg())
	f.tools.err = errors.New("clock unplugged")
	f.llm.StreamScript = [][]llm.Chunk{
		{{FinishReason: llm.FinishToolCalls, ToolCalls: []types.ToolCall{{ID: "c1", Name: "current_time"}}}},
		{{Text: "Sorry."}, {FinishReason: llm.FinishStop}},
	}

	if err := f.a.OnWake(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs := f.llm.Requests()[1].Messages
	if last := msgs[len(msgs)-1]; !strings.HasPrefix(last.Content, "error: ") {
		t.Errorf("tool message = %q, want error text", last.Content)
	}
}

func TestOnWake_ToolRoundLimit(t *testing.T) {
	t.Parallel()
	cfg := defaultCfg()
	cfg.MaxToolRounds = 1
	f := newFixture(t, cfg)
	toolCall := []llm.Chunk{{FinishReason: llm.FinishToolCalls, ToolCalls: []types.ToolCall{{ID: "c", Name: "current_time"}}}}
	f.llm.StreamScript = [][]llm.Chunk{toolCall, toolCall, toolCall}

	if err := f.a.OnWake(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs := f.llm.Requests()
	if len(reqs) != 2 {
		t.Fatalf("completions = %d, want 2", len(reqs))
	}
	if len(reqs[1].Tools) != 0 {
		t.Error("tools offered past the round limit")
	}
	if len(f.tools.calls) != 1 {
		t.Errorf("tool executions = %d, want 1", len(f.tools.calls))
	}
}

func TestOnWake_NoToolsForModelsWithoutToolCalling(t *testing.T) {
	t.Parallel()
	f := &fixture{llm: &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Noon."}, {FinishReason: llm.FinishStop}}}}
	a, err := New(&fakeListener{}, &sttmock.Transcriber{Text: "time?"}, f.llm, defaultCfg(), WithTools(&fakeTools{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.OnWake(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reqs := f.llm.Requests(); len(reqs) != 1 || len(reqs[0].Tools) != 0 {
		t.Errorf("requests = %+v, want one request without tools", reqs)
	}
}

func TestOnWake_NoSpeech(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultCfg())
	f.listener.err = detect.ErrNoSpeech

	if err := f.a.OnWake(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.stt.CallCount() != 0 {
		t.Error("transcriber called without a command")
	}
	if len(f.journal.entries) != 0 {
		t.Error("journal written without a transcript")
	}
}

func TestOnWake_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		setup       func(f *fixture)
		wantJournal bool
	}{
		{
			name:  "listen fails",
			setup: func(f *fixture) { f.listener.err = detect.ErrSourceEnded },
		},
		{
			name:  "transcription fails",
			setup: func(f *fixture) { f.stt.Err = errors.New("stt down") },
		},
		{
			name:        "completion fails to start",
			setup:       func(f *fixture) { f.llm.StreamErr = errors.New("401") },
			wantJournal: true,
		},
		{
			name: "completion stream fails",
			setup: func(f *fixture) {
				f.llm.StreamChunks = []llm.Chunk{{Text: "Part"}, {FinishReason: llm.FinishError, Err: errors.New("reset")}}
			},
			wantJournal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, defaultCfg())
			tt.setup(f)

			if err := f.a.OnWake(context.Background()); err == nil {
				t.Fatal("expected error")
			}
			if f.a.Listening() {
				t.Error("still listening after a failed interaction")
			}
			if len(f.a.History()) != 0 {
				t.Error("failed interaction was added to history")
			}
			if got := len(f.journal.entries) == 1; got != tt.wantJournal {
				t.Fatalf("journal written = %v, want %v", got, tt.wantJournal)
			}
			if tt.wantJournal && f.journal.entries[0].Error == "" {
				t.Error("journal entry has no error")
			}
		})
	}
}

func TestOnWake_IgnoresOverlappingWake(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultCfg())
	f.listener.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.a.OnWake(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !f.a.Listening() {
		if time.Now().After(deadline) {
			t.Fatal("first wake never started listening")
		}
		time.Sleep(time.Millisecond)
	}

	if err := f.a.OnWake(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(f.listener.gate)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := f.listener.callCount(); n != 1 {
		t.Errorf("listen calls = %d, want 1", n)
	}
}

func TestOnWake_HistoryIsBounded(t *testing.T) {
	t.Parallel()
	cfg := defaultCfg()
	cfg.HistoryTurns = 1
	f := newFixture(t, cfg)
	f.stt.Texts = []string{"first", "second"}

	for range 2 {
		if err := f.a.OnWake(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	hist := f.a.History()
	if len(hist) != 2 || hist[0].Content != "second" {
		t.Errorf("history = %+v, want only the second exchange", hist)
	}
	msgs := f.llm.Requests()[1].Messages
	if len(msgs) != 3 || msgs[0].Content != "first" {
		t.Errorf("second request messages = %+v, want first exchange then command", msgs)
	}
}

func TestOnWake_HistoryFitsContextWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		tokens   int
		wantMsgs int
	}{
		{"fits", 40, 3},
		{"too long", 60, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, defaultCfg())
			f.llm.TokenCount = tt.tokens
			f.llm.ModelCapabilities.ContextWindow = 100
			f.llm.ModelCapabilities.MaxOutputTokens = 50
			// Rebuild so the assistant sees the new capabilities.
			a, err := New(f.listener, f.stt, f.llm, defaultCfg(), WithTools(f.tools))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			f.stt.Texts = []string{"first", "second"}
			for range 2 {
				if err := a.OnWake(context.Background()); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if got := len(f.llm.Requests()[1].Messages); got != tt.wantMsgs {
				t.Errorf("second request has %d messages, want %d", got, tt.wantMsgs)
			}
		})
	}
}

func TestOnWake_Earcon(t *testing.T) {
	t.Parallel()
	earcon := tts.Audio{Data: []byte("ding"), Format: tts.PCM, SampleRate: 16000}
	f := newFixture(t, defaultCfg(), WithEarcon(earcon))

	if err := f.a.OnWake(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	played := f.player.Played()
	if len(played) != 3 || string(played[0].Data) != "ding" {
		t.Errorf("played = %d clips, want earcon first then 2 sentences", len(played))
	}
}

func TestUpdateConfig(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultCfg(), WithEarcon(tts.Audio{Data: []byte("ding"), Format: tts.PCM, SampleRate: 16000}))

	cfg := defaultCfg()
	cfg.SystemPrompt = "You are verbose."
	f.a.UpdateConfig(cfg, nil)

	if err := f.a.OnWake(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.llm.Requests()[0].SystemPrompt; got != "You are verbose." {
		t.Errorf("system prompt = %q, want updated prompt", got)
	}
	for _, c := range f.player.Played() {
		if string(c.Data) == "ding" {
			t.Error("earcon played after it was removed")
		}
	}
}

func TestOnWake_WithoutSynthesizerOnlyLogs(t *testing.T) {
	t.Parallel()
	player := &pbmock.Player{}
	a, err := New(&fakeListener{}, &sttmock.Transcriber{Text: "hi"},
		&llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Hello."}, {FinishReason: llm.FinishStop}}},
		defaultCfg(), WithPlayer(player))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.OnWake(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if player.CallCount() != 0 {
		t.Error("played audio without a synthesizer")
	}
	if h := a.History(); len(h) != 2 || h[1].Content != "Hello." {
		t.Errorf("history = %+v", h)
	}
}

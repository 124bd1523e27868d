// Package assistant runs the conversation that follows a wake word.
//
// On every wake the [Assistant] captures the spoken command from the
// detector, transcribes it, streams a completion from the language model and
// speaks the reply sentence by sentence while the model is still generating.
// Tool calls requested by the model are executed through the tool registry
// and their results fed back for a bounded number of rounds.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/detect"
	"github.com/MrWong99/hark/internal/journal"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/playback"
	"github.com/MrWong99/hark/internal/segment"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/llm"
	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/types"
)

// Listener captures the command that follows a wake word.
// [*detect.Detector] satisfies it.
type Listener interface {
	ListenUtterance(ctx context.Context) (*segment.Span, error)
}

// Tools is the tool surface offered to the model. [*tools.Registry]
// satisfies it.
type Tools interface {
	Schemas() []types.ToolDefinition
	Execute(ctx context.Context, name, args string) (string, error)
}

// sentenceQueue bounds the sentences waiting for speech.
const sentenceQueue = 8

// Assistant handles wake events. Create instances with [New] and pass
// [Assistant.OnWake] to [detect.Detector.Start].
type Assistant struct {
	listener Listener
	stt      stt.Transcriber
	llm      llm.Provider
	tts      tts.Synthesizer
	player   playback.Player
	tools    Tools
	journal  journal.Recorder
	format   audio.Format
	prompt   string
	caps     types.ModelCapabilities
	metrics  *observe.Metrics
	log      *slog.Logger

	// listening guards OnWake against concurrent callers. The detector
	// delivers wakes one at a time, so only callers on other goroutines,
	// such as a manual trigger, can overlap a running interaction.
	listening atomic.Bool

	mu      sync.Mutex
	cfg     config.AssistantConfig
	earcon  *tts.Audio
	history []types.Message
}

// Option configures an [Assistant].
type Option func(*Assistant)

// WithSynthesizer enables spoken replies. Without it replies are only logged.
func WithSynthesizer(s tts.Synthesizer) Option {
	return func(a *Assistant) { a.tts = s }
}

// WithPlayer sets the output for replies and the earcon. Default:
// [playback.Discard].
func WithPlayer(p playback.Player) Option {
	return func(a *Assistant) { a.player = p }
}

// WithTools offers the tools in t to the model.
func WithTools(t Tools) Option {
	return func(a *Assistant) { a.tools = t }
}

// WithJournal records every interaction in j.
func WithJournal(j journal.Recorder) Option {
	return func(a *Assistant) { a.journal = j }
}

// WithFormat sets the format of captured commands. Default:
// [audio.DefaultFormat].
func WithFormat(f audio.Format) Option {
	return func(a *Assistant) { a.format = f }
}

// WithVocabulary passes words, typically the wake keywords, to speech
// recognition as a prompt.
func WithVocabulary(words []string) Option {
	return func(a *Assistant) { a.prompt = strings.Join(words, ", ") }
}

// WithEarcon plays clip whenever the wake word is heard.
func WithEarcon(clip tts.Audio) Option {
	return func(a *Assistant) { a.earcon = &clip }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) { a.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) { a.log = l }
}

// New returns an assistant that listens through l, transcribes with s and
// answers with p.
func New(l Listener, s stt.Transcriber, p llm.Provider, cfg config.AssistantConfig, opts ...Option) (*Assistant, error) {
	if l == nil || s == nil || p == nil {
		return nil, errors.New("assistant: listener, transcriber and llm must not be nil")
	}
	a := &Assistant{
		listener: l,
		stt:      s,
		llm:      p,
		format:   audio.DefaultFormat,
		cfg:      cfg,
	}
	for _, o := range opts {
		o(a)
	}
	a.caps = p.Capabilities()
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.player == nil {
		a.player = playback.Discard{Log: a.log}
	}
	return a, nil
}

// UpdateConfig applies a reloaded assistant section. It takes effect from the
// next wake. The earcon is replaced by clip, or removed when clip is nil.
func (a *Assistant) UpdateConfig(cfg config.AssistantConfig, clip *tts.Audio) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	a.earcon = clip
	if turns := cfg.HistoryTurns; len(a.history) > 2*turns {
		a.history = a.history[len(a.history)-2*turns:]
	}
}

// History returns a copy of the remembered user and assistant messages.
func (a *Assistant) History() []types.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Message, len(a.history))
	copy(out, a.history)
	return out
}

// Listening reports whether an interaction is in progress.
func (a *Assistant) Listening() bool { return a.listening.Load() }

// OnWake is a [detect.WakeFunc]. The detector calls it synchronously, so its
// own wakes never overlap. A call from another goroutine that arrives while an
// interaction is in progress is ignored.
func (a *Assistant) OnWake(ctx context.Context) error {
	if !a.listening.CompareAndSwap(false, true) {
		a.log.Info("assistant: already listening, ignoring wake")
		return nil
	}
	defer a.listening.Store(false)

	a.mu.Lock()
	cfg := a.cfg
	earcon := a.earcon
	history := make([]types.Message, len(a.history))
	copy(history, a.history)
	a.mu.Unlock()

	entry := &journal.Entry{Keyword: "unknown"}
	if w, ok := detect.WakeFromContext(ctx); ok {
		entry.Keyword = w.Keyword
		entry.SpanFrames = w.Frames
		entry.VerifyLatency = w.VerifyLatency
		entry.At = w.At
	}
	ctx, span := observe.StartInteraction(ctx, entry.Keyword)
	log := observe.WithTrace(ctx, a.log.With("keyword", entry.Keyword))

	err := a.interact(ctx, log, cfg, earcon, history, entry)
	if err != nil {
		entry.Error = err.Error()
	}
	observe.EndSpan(span, err)
	if a.journal != nil && entry.Transcript != "" {
		if jerr := a.journal.Record(context.WithoutCancel(ctx), entry); jerr != nil {
			log.Warn("assistant: journal write failed", "err", jerr)
		}
	}
	return err
}

func (a *Assistant) interact(ctx context.Context, log *slog.Logger, cfg config.AssistantConfig,
	earcon *tts.Audio, history []types.Message, entry *journal.Entry) error {
	if earcon != nil {
		if err := a.player.Play(ctx, *earcon); err != nil {
			log.Warn("assistant: earcon playback failed", "err", err)
		}
	}

	span, err := a.listener.ListenUtterance(ctx)
	switch {
	case errors.Is(err, detect.ErrNoSpeech):
		log.Info("assistant: no command followed the wake word")
		return nil
	case err != nil:
		return fmt.Errorf("assistant: listen: %w", err)
	}

	start := time.Now()
	sttCtx, sttSpan := observe.StartStage(ctx, observe.StageSTT, attribute.Int("hark.frames", span.Len()))
	text, err := a.stt.Transcribe(sttCtx, span.PCM(), stt.Config{
		SampleRate: a.format.SampleRate,
		Channels:   a.format.Channels,
		Language:   cfg.Language,
		Prompt:     a.prompt,
	})
	observe.EndSpan(sttSpan, err)
	a.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("assistant: transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Info("assistant: command was empty", "frames", span.Len())
		return nil
	}
	entry.Transcript = text
	log.Info("assistant: command", "text", text)

	user := types.Message{Role: types.RoleUser, Content: text}
	history = a.fitContext(log, cfg, history, user)
	reply, err := a.respond(ctx, log, cfg, append(history, user))
	entry.Reply = reply
	if err != nil {
		return err
	}

	if reply != "" {
		a.remember(cfg.HistoryTurns, user, types.Message{Role: types.RoleAssistant, Content: reply})
	}
	return nil
}

// fitContext drops the oldest exchanges from history until the prompt leaves
// room for the reply in the model's context window. Models that do not report
// a window are not trimmed.
func (a *Assistant) fitContext(log *slog.Logger, cfg config.AssistantConfig, history []types.Message, user types.Message) []types.Message {
	if a.caps.ContextWindow <= 0 {
		return history
	}
	reserve := cfg.MaxTokens
	if reserve <= 0 {
		reserve = a.caps.MaxOutputTokens
	}
	budget := a.caps.ContextWindow - reserve
	system := types.Message{Role: types.RoleSystem, Content: cfg.SystemPrompt}
	for len(history) > 0 {
		n, err := a.llm.CountTokens(slices.Concat([]types.Message{system}, history, []types.Message{user}))
		if err != nil || n <= budget {
			break
		}
		history = history[min(2, len(history)):]
		log.Debug("assistant: dropped oldest exchange to fit the context window", "tokens", n, "budget", budget)
	}
	return history
}

// remember appends one exchange and keeps the last turns exchanges.
func (a *Assistant) remember(turns int, msgs ...types.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, msgs...)
	if keep := 2 * turns; len(a.history) > keep {
		a.history = append([]types.Message(nil), a.history[len(a.history)-keep:]...)
	}
}

// respond runs completion rounds until the model stops calling tools or the
// round limit is reached. Reply text is spoken as it streams.
func (a *Assistant) respond(ctx context.Context, log *slog.Logger, cfg config.AssistantConfig, msgs []types.Message) (string, error) {
	sentences := make(chan string, sentenceQueue)
	var g errgroup.Group
	g.Go(func() error {
		a.speak(ctx, log, sentences)
		return nil
	})

	var (
		reply  strings.Builder
		split  splitter
		result error
	)
	for round := 0; ; round++ {
		req := llm.CompletionRequest{
			Messages:     msgs,
			SystemPrompt: cfg.SystemPrompt,
			Temperature:  cfg.Temperature,
			MaxTokens:    cfg.MaxTokens,
		}
		offerTools := a.tools != nil && a.caps.SupportsToolCalling && round < cfg.MaxToolRounds
		if offerTools {
			req.Tools = a.tools.Schemas()
		}

		text, calls, err := a.stream(ctx, req, func(s string) {
			for _, sentence := range split.push(s) {
				sentences <- sentence
			}
		})
		if text = strings.TrimSpace(text); text != "" {
			if reply.Len() > 0 {
				reply.WriteByte(' ')
			}
			reply.WriteString(text)
		}
		if err != nil {
			result = err
			break
		}
		if len(calls) == 0 || !offerTools {
			break
		}

		msgs = append(msgs, types.Message{Role: types.RoleAssistant, Content: text, ToolCalls: calls})
		for _, call := range calls {
			msgs = append(msgs, a.runTool(ctx, log, call))
		}
	}

	if rest := split.flush(); rest != "" {
		sentences <- rest
	}
	close(sentences)
	_ = g.Wait()
	return strings.TrimSpace(reply.String()), result
}

// stream runs one completion, passing text to emit as it arrives, and
// returns the full text and the requested tool calls.
func (a *Assistant) stream(ctx context.Context, req llm.CompletionRequest, emit func(string)) (_ string, _ []types.ToolCall, err error) {
	start := time.Now()
	ctx, span := observe.StartStage(ctx, observe.StageLLM, attribute.Int("hark.tools", len(req.Tools)))
	defer func() { observe.EndSpan(span, err) }()

	ch, err := a.llm.StreamCompletion(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("assistant: completion: %w", err)
	}

	var (
		text  strings.Builder
		calls []types.ToolCall
		first = true
	)
	for chunk := range ch {
		if first && (chunk.Text != "" || chunk.FinishReason != "") {
			a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
			first = false
		}
		if chunk.FinishReason == llm.FinishError {
			llm.Discard(ch)
			return text.String(), nil, fmt.Errorf("assistant: completion stream: %w", chunk.Err)
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			emit(chunk.Text)
		}
		calls = append(calls, chunk.ToolCalls...)
	}
	if err := ctx.Err(); err != nil {
		return text.String(), nil, err
	}
	return text.String(), calls, nil
}

// runTool executes call and returns the tool message for the model. Failures
// are reported to the model as text so it can recover.
func (a *Assistant) runTool(ctx context.Context, log *slog.Logger, call types.ToolCall) types.Message {
	ctx, span := observe.StartStage(ctx, observe.StageTool, attribute.String("hark.tool", call.Name))
	out, err := a.tools.Execute(ctx, call.Name, call.Arguments)
	observe.EndSpan(span, err)
	if err != nil {
		log.Warn("assistant: tool failed", "tool", call.Name, "err", err)
		out = "error: " + err.Error()
	}
	return types.Message{Role: types.RoleTool, Content: out, ToolCallID: call.ID, Name: call.Name}
}

// speak synthesizes and plays sentences in order until the channel closes.
// After ctx is cancelled remaining sentences are drained unspoken.
func (a *Assistant) speak(ctx context.Context, log *slog.Logger, sentences <-chan string) {
	for s := range sentences {
		if ctx.Err() != nil {
			continue
		}
		log.Info("assistant: reply", "sentence", s)
		if a.tts == nil {
			continue
		}
		start := time.Now()
		ttsCtx, span := observe.StartStage(ctx, observe.StageTTS)
		clip, err := a.tts.Synthesize(ttsCtx, s)
		observe.EndSpan(span, err)
		a.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			log.Warn("assistant: synthesis failed", "err", err)
			continue
		}
		if err := a.player.Play(ctx, clip); err != nil && ctx.Err() == nil {
			log.Warn("assistant: playback failed", "err", err)
		}
	}
}

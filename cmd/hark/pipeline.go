package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/hark/internal/assistant"
	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/detect"
	"github.com/MrWong99/hark/internal/health"
	"github.com/MrWong99/hark/internal/journal"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/playback"
	"github.com/MrWong99/hark/internal/segment"
	"github.com/MrWong99/hark/internal/tools"
	"github.com/MrWong99/hark/internal/tools/builtin"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/provider/vad"
)

// pipeline holds every component built from the config so that they can be
// released in reverse order on shutdown.
type pipeline struct {
	detector  *detect.Detector
	assistant *assistant.Assistant
	tools     *tools.Registry
	journal   *journal.Journal
	checks    []health.Check

	closers []io.Closer
}

// options are the command line switches that affect the pipeline.
type options struct {
	headless bool
}

// ms converts a millisecond config value.
func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// audioFormat returns the frame format described by the audio section.
func audioFormat(a config.AudioConfig) audio.Format {
	return audio.Format{
		SampleRate:    a.SampleRate,
		Channels:      a.Channels,
		BitDepth:      16,
		FrameDuration: ms(a.FrameMs),
	}
}

// detectConfig converts the wake word and command sections.
func detectConfig(cfg *config.Config) detect.Config {
	f := audioFormat(cfg.Audio)
	w := cfg.WakeWord
	sensitivity := config.DefaultSensitivity
	if w.VAD.Sensitivity != nil {
		sensitivity = *w.VAD.Sensitivity
	}
	return detect.Config{
		Segment: segment.Config{
			FrameDuration: f.FrameDuration,
			MinSpeech:     ms(w.MinSpeechMs),
			Pad:           ms(w.PadMs),
			BufferCap:     w.BufferFrames,
		},
		VAD: vad.Config{
			SampleRate:      f.SampleRate,
			FrameDurationMs: cfg.Audio.FrameMs,
			Sensitivity:     sensitivity,
		},
		Utterance: detect.UtteranceConfig{
			MinSpeech:       ms(cfg.Command.MinSpeechMs),
			Pad:             ms(cfg.Command.PadMs),
			MaxDuration:     ms(cfg.Command.MaxMs),
			NoSpeechTimeout: ms(cfg.Command.NoSpeechMs),
		},
	}
}

// loadEarcon decodes the configured earcon, or returns nil when none is set.
func loadEarcon(path string) (*tts.Audio, error) {
	if path == "" {
		return nil, nil
	}
	clip, err := playback.LoadClip(path)
	if err != nil {
		return nil, fmt.Errorf("load earcon %q: %w", path, err)
	}
	return &clip, nil
}

// buildPipeline instantiates all components described by cfg. On error every
// component built so far is closed.
func buildPipeline(ctx context.Context, cfg *config.Config, reg *config.Registry, mux *http.ServeMux, opts options) (p *pipeline, err error) {
	p = &pipeline{}
	defer func() {
		if err != nil {
			p.close(context.Background())
			p = nil
		}
	}()

	metrics := observe.DefaultMetrics()
	d := &deps{mux: mux}
	registerBuiltinProviders(reg, d)
	slog.Debug("providers registered",
		"source", reg.Names("source"),
		"vad", reg.Names("vad"),
		"kws", reg.Names("kws"),
		"stt", reg.Names("stt"),
		"llm", reg.Names("llm"),
		"tts", reg.Names("tts"),
	)

	// ── Downstream providers ─────────────────────────────────────────────────
	// STT comes first: the transcript verifier reuses it.
	transcriber, err := buildSTT(reg, cfg.Providers.STT)
	if err != nil {
		return p, err
	}
	d.stt = transcriber
	p.track(transcriber)

	model, err := buildLLM(reg, cfg.Providers.LLM)
	if err != nil {
		return p, err
	}
	synth, err := buildTTS(reg, cfg.Providers.TTS)
	if err != nil {
		return p, err
	}

	// ── Detection ────────────────────────────────────────────────────────────
	format := audioFormat(cfg.Audio)
	dcfg := detectConfig(cfg)

	engine, err := reg.CreateVAD(cfg.WakeWord.VAD.ProviderEntry)
	if err != nil {
		return p, fmt.Errorf("create vad %q: %w", cfg.WakeWord.VAD.Name, err)
	}
	gate, err := engine.NewGate(dcfg.VAD)
	if err != nil {
		return p, fmt.Errorf("create vad gate: %w", err)
	}
	p.track(gate)

	verifier, err := reg.CreateKWS(cfg.WakeWord.KWS)
	if err != nil {
		return p, fmt.Errorf("create kws %q: %w", cfg.WakeWord.KWS.Name, err)
	}
	p.track(verifier)

	// The detector owns the source from here on and closes it when it stops.
	src, err := reg.CreateSource(cfg.Audio.Source, format, cfg.Audio.QueueFrames)
	if err != nil {
		return p, fmt.Errorf("create source %q: %w", cfg.Audio.Source.Name, err)
	}
	p.detector, err = detect.New(src, gate, verifier, dcfg,
		detect.WithLogger(slog.Default().With("component", "detect")),
		detect.WithMetrics(metrics),
	)
	if err != nil {
		_ = src.Close()
		return p, err
	}
	p.checks = append(p.checks, health.Flag("detector", p.detector.Running))

	// ── Tools ────────────────────────────────────────────────────────────────
	p.tools = tools.New(tools.WithMetrics(metrics), tools.WithLogger(slog.Default().With("component", "tools")))
	if err := builtin.Register(p.tools, cfg.Tools.Builtin, nil); err != nil {
		return p, err
	}
	for _, srv := range cfg.Tools.MCP {
		if err := p.tools.ConnectServer(ctx, srv); err != nil {
			// A missing tool server degrades the assistant but does not stop
			// detection.
			slog.Warn("mcp server unavailable", "server", srv.Name, "err", err)
		}
	}

	// ── Journal ──────────────────────────────────────────────────────────────
	if cfg.Journal.PostgresDSN != "" {
		p.journal, err = journal.Open(ctx, cfg.Journal.PostgresDSN)
		if err != nil {
			return p, err
		}
		p.checks = append(p.checks, health.Check{Name: "journal", Probe: p.journal.Ping, Optional: true})
	}

	// ── Assistant ────────────────────────────────────────────────────────────
	if transcriber == nil || model == nil {
		return p, nil
	}

	var player playback.Player = playback.Discard{Log: slog.Default()}
	if !opts.headless && synth != nil {
		dev, err := playback.NewDevice(playback.DefaultDeviceRate)
		if err != nil {
			return p, fmt.Errorf("open playback device: %w", err)
		}
		p.track(dev)
		player = dev
	}

	aopts := []assistant.Option{
		assistant.WithPlayer(player),
		assistant.WithTools(p.tools),
		assistant.WithFormat(format),
		assistant.WithVocabulary(cfg.WakeWord.KWS.Keywords),
		assistant.WithMetrics(metrics),
		assistant.WithLogger(slog.Default().With("component", "assistant")),
	}
	if synth != nil {
		aopts = append(aopts, assistant.WithSynthesizer(synth))
	}
	if p.journal != nil {
		aopts = append(aopts, assistant.WithJournal(p.journal))
	}
	earcon, err := loadEarcon(cfg.Assistant.Earcon)
	if err != nil {
		return p, err
	}
	if earcon != nil {
		aopts = append(aopts, assistant.WithEarcon(*earcon))
	}

	p.assistant, err = assistant.New(p.detector, transcriber, model, cfg.Assistant, aopts...)
	if err != nil {
		return p, err
	}
	return p, nil
}

// track remembers v for release on shutdown when it has a Close method.
func (p *pipeline) track(v any) {
	if c, ok := v.(io.Closer); ok && c != nil {
		p.closers = append(p.closers, c)
	}
}

// onWake is the callback handed to the detector. Without an assistant a
// wake is only logged.
func (p *pipeline) onWake(ctx context.Context) error {
	if p.assistant != nil {
		return p.assistant.OnWake(ctx)
	}
	if w, ok := detect.WakeFromContext(ctx); ok {
		slog.Info("wake word detected", "keyword", w.Keyword, "frames", w.Frames)
	}
	return nil
}

// close stops the detector and releases every component.
func (p *pipeline) close(ctx context.Context) error {
	var errs []error
	if p.detector != nil {
		if err := p.detector.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop detector: %w", err))
		}
	}
	if p.tools != nil {
		if err := p.tools.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tools: %w", err))
		}
	}
	if p.journal != nil {
		p.journal.Close()
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
